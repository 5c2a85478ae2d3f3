package workspace

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixperk/stompguard/pkg/docgen"
	"github.com/pixperk/stompguard/pkg/graph"
	"github.com/pixperk/stompguard/pkg/types"
)

func openTestWorkspace(t *testing.T, cfg Config) *Workspace {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.PollInterval = time.Millisecond

	w, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestIndexThenGenerate(t *testing.T) {
	w := openTestWorkspace(t, Config{})
	ctx := context.Background()
	holder := types.NewHolder("doc-agent")
	source := []byte("package widgets\n")

	var calls int32
	gen := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("# widgets\n"), nil
	}

	res, err := w.GenerateDoc(ctx, holder, types.Batch, "acme/widgets", "widgets.go", source, gen)
	require.NoError(t, err)
	assert.Equal(t, docgen.OutcomeSkipped, res.Outcome)
	assert.Equal(t, docgen.ReasonNotIndexed, res.Reason)

	require.NoError(t, w.IndexFile(ctx, holder, types.Batch, "acme/widgets", "widgets.go", []byte("package old\n")))
	res, err = w.GenerateDoc(ctx, holder, types.Batch, "acme/widgets", "widgets.go", source, gen)
	require.NoError(t, err)
	assert.Equal(t, docgen.ReasonIndexStale, res.Reason)

	require.NoError(t, w.IndexFile(ctx, holder, types.Batch, "acme/widgets", "widgets.go", source))
	res, err = w.GenerateDoc(ctx, holder, types.Batch, "acme/widgets", "widgets.go", source, gen)
	require.NoError(t, err)
	assert.Equal(t, docgen.OutcomeGenerated, res.Outcome)

	res, err = w.GenerateDoc(ctx, holder, types.Batch, "acme/widgets", "widgets.go", source, gen)
	require.NoError(t, err)
	assert.Equal(t, docgen.OutcomeNoop, res.Outcome)
	assert.Equal(t, int32(1), calls)

	_, err = os.Stat(filepath.Join(w.cfg.DataDir, "docs", "acme", "widgets", "widgets.go.md"))
	assert.NoError(t, err)

	assert.Empty(t, w.Locks.Snapshot(), "no lock outlives its run")
}

func TestGraphMergeIsPersisted(t *testing.T) {
	dir := t.TempDir()
	w := openTestWorkspace(t, Config{DataDir: dir})
	ctx := context.Background()
	target := graph.Target{Kind: graph.KindEntity, ID: "widgets"}

	_, err := w.Graph.Apply(ctx, "main", types.NewHolder("enricher"), types.Batch, []graph.GraphPatch{
		graph.Upsert(target, json.RawMessage(`{"summary":"widgets"}`), time.Now(), "enricher"),
	})
	require.NoError(t, err)

	state, err := w.Graphs.Load(ctx, "main")
	require.NoError(t, err)
	_, ok := state.Get(target)
	assert.True(t, ok)
}

func TestPolicyOverridesAndMetrics(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte("classes:\n  db-single-writer:\n    lease_ttl: 2m\n"), 0644))

	reg := prometheus.NewRegistry()
	w := openTestWorkspace(t, Config{DataDir: dir, PolicyPath: policyPath, Registerer: reg})

	class, err := w.Registry.Resolve(types.ClassDBSingleWriter)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, class.LeaseTTL)

	require.NoError(t, w.IndexFile(context.Background(), types.NewHolder("indexer"), types.Batch, "r", "a.go", []byte("x")))

	count, err := testutil.GatherAndCount(reg, "stompguard_guarded_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	report := w.Source().Contention()
	require.Len(t, report.Keys, 1)
	assert.Equal(t, "db:rag", report.Keys[0].Key)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)

	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte("classes:\n  queue-fifo:\n    lease_ttl: 1s\n"), 0644))
	_, err = Open(Config{DataDir: dir, PolicyPath: policyPath})
	assert.ErrorIs(t, err, types.ErrUnknownResourceClass)
}

func TestReaperRunsInBackground(t *testing.T) {
	w := openTestWorkspace(t, Config{ReapInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := w.Locks.Acquire(ctx, "docgen:r", types.NewHolder("crashed"), 10*time.Millisecond, 0)
	require.NoError(t, err)

	w.Start(ctx)
	require.Eventually(t, func() bool {
		s := w.Locks.Stats()
		return s.Locks == 0 && s.Expired == 0
	}, time.Second, 5*time.Millisecond)
}
