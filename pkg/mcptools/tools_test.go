package mcptools

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixperk/stompguard/pkg/coord"
	"github.com/pixperk/stompguard/pkg/introspect"
	"github.com/pixperk/stompguard/pkg/lockmgr"
	"github.com/pixperk/stompguard/pkg/policy"
	"github.com/pixperk/stompguard/pkg/telemetry"
	"github.com/pixperk/stompguard/pkg/types"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newSource() introspect.Source {
	return introspect.Source{
		Manager:  lockmgr.New(lockmgr.WithLogger(discard)),
		Registry: policy.Default(),
		Stats:    telemetry.NewStats(),
	}
}

func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestDefinitions(t *testing.T) {
	src := newSource()

	assert.Equal(t, "coord_list_locks", NewListLocksTool(src).Definition().Name)
	assert.Equal(t, "coord_contention_stats", NewContentionStatsTool(src).Definition().Name)
	assert.Equal(t, "coord_policies", NewPoliciesTool(src).Definition().Name)

	def := NewResolveKeyTool(src).Definition()
	assert.Equal(t, "coord_resolve_key", def.Name)
	assert.ElementsMatch(t, []string{"class", "scope"}, def.InputSchema.Required)
}

func TestListLocksTool(t *testing.T) {
	src := newSource()
	tool := NewListLocksTool(src)
	ctx := context.Background()

	res, err := tool.Handle(ctx, makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(res), "No locks are held")

	_, err = src.Manager.Acquire(ctx, "graph:main", types.NewHolder("enricher"), time.Minute, 0)
	require.NoError(t, err)

	res, err = tool.Handle(ctx, makeReq(nil))
	require.NoError(t, err)
	text := resultText(res)
	assert.Contains(t, text, "**graph:main** held by enricher")
	assert.Contains(t, text, "token 1")
}

func TestContentionStatsTool(t *testing.T) {
	src := newSource()
	c := coord.New(src.Registry, src.Manager, coord.WithSink(src.Stats), coord.WithLogger(discard))
	tool := NewContentionStatsTool(src)
	ctx := context.Background()

	res, err := tool.Handle(ctx, makeReq(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(res), "No guarded runs")

	for _, db := range []string{"rag", "meta"} {
		err := c.Run(ctx, coord.Request{
			Resources: []types.ResourceDescriptor{types.Database(db)},
			Holder:    types.NewHolder("indexer"),
		}, func(ctx context.Context, held []types.LockHandle) error { return nil })
		require.NoError(t, err)
	}

	res, err = tool.Handle(ctx, makeReq(map[string]interface{}{"limit": float64(1)}))
	require.NoError(t, err)
	text := resultText(res)
	assert.Contains(t, text, "| Resource |")
	assert.Contains(t, text, "1 more not shown")

	res, err = tool.Handle(ctx, makeReq(map[string]interface{}{"limit": float64(0)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestPoliciesTool(t *testing.T) {
	res, err := NewPoliciesTool(newSource()).Handle(context.Background(), makeReq(nil))
	require.NoError(t, err)

	text := resultText(res)
	for _, class := range []string{"file-mutex", "db-single-writer", "graph-merge", "docgen-idempotent"} {
		assert.Contains(t, text, class)
	}
	assert.Contains(t, text, "fail_open_merge")
}

func TestResolveKeyTool(t *testing.T) {
	src := newSource()
	tool := NewResolveKeyTool(src)
	ctx := context.Background()

	res, err := tool.Handle(ctx, makeReq(map[string]interface{}{"class": "db-single-writer", "scope": "rag"}))
	require.NoError(t, err)
	assert.Equal(t, "**db:rag** (db-single-writer): free\n", resultText(res))

	res, err = tool.Handle(ctx, makeReq(map[string]interface{}{"class": "db-single-writer"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tool.Handle(ctx, makeReq(map[string]interface{}{"class": "queue", "scope": "q"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "unknown resource class")
}

func TestNewServerRegistersTools(t *testing.T) {
	s := NewServer(newSource())
	require.NotNil(t, s)
}
