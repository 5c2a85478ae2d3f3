package introspect

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixperk/stompguard/pkg/lockmgr"
	"github.com/pixperk/stompguard/pkg/policy"
	"github.com/pixperk/stompguard/pkg/telemetry"
	"github.com/pixperk/stompguard/pkg/types"
)

func newSource() Source {
	return Source{
		Manager:  lockmgr.New(lockmgr.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))),
		Registry: policy.Default(),
		Stats:    telemetry.NewStats(),
	}
}

func TestLocksReport(t *testing.T) {
	src := newSource()
	holder := types.Holder{AgentID: "indexer", SessionID: "s1"}

	_, err := src.Manager.Acquire(context.Background(), "db:rag", holder, time.Minute, 0)
	require.NoError(t, err)

	report := src.Locks()
	require.Len(t, report.Locks, 1)
	l := report.Locks[0]
	assert.Equal(t, "db:rag", l.Key)
	assert.Equal(t, "indexer", l.Agent)
	assert.Equal(t, "s1", l.Session)
	assert.Equal(t, uint64(1), l.Token)
	assert.Equal(t, int64(60000), l.LeaseTTLMs)
	assert.InDelta(t, 60000, l.RemainingMs, 1000)
	assert.Equal(t, uint64(1), report.FencingCounter)
}

func TestContentionWithoutStats(t *testing.T) {
	src := newSource()
	src.Stats = nil
	assert.Empty(t, src.Contention().Keys)
}

func TestPoliciesReport(t *testing.T) {
	report := newSource().Policies()
	require.Len(t, report.Classes, 4)

	byClass := map[string]PolicyView{}
	for _, c := range report.Classes {
		byClass[c.Class] = c
	}
	assert.Equal(t, "fail_open_merge", byClass["graph-merge"].ConflictStrategy)
	assert.Equal(t, "single_writer", byClass["db-single-writer"].Mode)
}

func TestResolveKey(t *testing.T) {
	src := newSource()

	view, err := src.ResolveKey("graph-merge", "main")
	require.NoError(t, err)
	assert.Equal(t, KeyView{Class: "graph-merge", Scope: "main", Key: "graph:main"}, view)

	_, err = src.Manager.Acquire(context.Background(), "graph:main", types.Holder{AgentID: "enricher"}, time.Minute, 0)
	require.NoError(t, err)
	view, err = src.ResolveKey("graph-merge", "main")
	require.NoError(t, err)
	assert.Equal(t, "enricher", view.HeldBy)

	_, err = src.ResolveKey("queue", "q")
	assert.ErrorIs(t, err, types.ErrUnknownResourceClass)
}

func TestStructRoundTrip(t *testing.T) {
	in := KeyView{Class: "db-single-writer", Scope: "rag", Key: "db:rag", HeldBy: "indexer"}

	st, err := ToStruct(in)
	require.NoError(t, err)
	assert.Equal(t, "db:rag", st.Fields["key"].GetStringValue())

	var out KeyView
	require.NoError(t, FromStruct(st, &out))
	assert.Equal(t, in, out)
}
