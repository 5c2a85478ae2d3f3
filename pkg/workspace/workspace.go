// Package workspace is the composition root: it builds one registry, one
// lock manager and one coordinator per workspace and hands them to every
// guard, engine and surface that needs them.
package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pixperk/stompguard/pkg/coord"
	"github.com/pixperk/stompguard/pkg/docgen"
	"github.com/pixperk/stompguard/pkg/graph"
	"github.com/pixperk/stompguard/pkg/introspect"
	"github.com/pixperk/stompguard/pkg/lockmgr"
	"github.com/pixperk/stompguard/pkg/policy"
	"github.com/pixperk/stompguard/pkg/storage"
	"github.com/pixperk/stompguard/pkg/telemetry"
	"github.com/pixperk/stompguard/pkg/txguard"
	"github.com/pixperk/stompguard/pkg/types"
)

// IndexDatabase is the scope of the index database lock.
const IndexDatabase = "rag"

type Config struct {
	// optional YAML policy overrides
	PolicyPath string
	DataDir    string

	PollInterval time.Duration
	// zero disables the background reaper
	ReapInterval time.Duration
	KeepAlive    bool

	// nil skips prometheus metrics
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

type Workspace struct {
	Registry *policy.Registry
	Locks    *lockmgr.Manager
	Stats    *telemetry.Stats
	Coord    *coord.Coordinator

	Index  *storage.IndexStore
	Graphs *storage.BoltGraphStore

	Writer *txguard.Guard[*sql.Tx]
	Graph  *graph.Service
	Docs   *docgen.Coordinator

	cfg    Config
	logger *slog.Logger
}

func Open(cfg Config) (*Workspace, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DataDir == "" {
		return nil, errors.New("workspace: data dir required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, err
	}

	policyCfg, err := policy.LoadConfig(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	registry, err := policy.New(policyCfg)
	if err != nil {
		return nil, err
	}

	locks := lockmgr.New(
		lockmgr.WithPollInterval(cfg.PollInterval),
		lockmgr.WithLogger(logger.With(slog.String("component", "lockmgr"))),
	)

	stats := telemetry.NewStats()
	sinks := telemetry.Multi{stats, telemetry.NewLogSink(logger)}
	if cfg.Registerer != nil {
		sinks = append(sinks, telemetry.NewMetricsSink(cfg.Registerer))
	}

	opts := []coord.Option{
		coord.WithSink(sinks),
		coord.WithLogger(logger.With(slog.String("component", "coord"))),
	}
	if cfg.KeepAlive {
		opts = append(opts, coord.WithKeepAlive())
	}
	c := coord.New(registry, locks, opts...)

	index, err := storage.OpenIndex(filepath.Join(cfg.DataDir, "index.db"))
	if err != nil {
		return nil, err
	}
	graphs, err := storage.NewBoltGraphStore(cfg.DataDir)
	if err != nil {
		index.Close()
		return nil, err
	}

	w := &Workspace{
		Registry: registry,
		Locks:    locks,
		Stats:    stats,
		Coord:    c,
		Index:    index,
		Graphs:   graphs,
		Writer:   txguard.New(c, txguard.SQL(index.DB()), types.Database(IndexDatabase), logger),
		Graph:    graph.NewService(c, graphs, logger),
		Docs:     docgen.New(c, docgen.NewFileStore(filepath.Join(cfg.DataDir, "docs")), logger),
		cfg:      cfg,
		logger:   logger,
	}

	logger.Info("workspace opened",
		slog.String("data_dir", cfg.DataDir),
		slog.Int("classes", len(registry.Classes())),
	)
	return w, nil
}

// Source is what the admin surfaces read.
func (w *Workspace) Source() introspect.Source {
	return introspect.Source{Manager: w.Locks, Registry: w.Registry, Stats: w.Stats}
}

// Start launches background upkeep; it stops with ctx.
func (w *Workspace) Start(ctx context.Context) {
	if w.cfg.ReapInterval > 0 {
		go w.Locks.RunReaper(ctx, w.cfg.ReapInterval)
	}
}

// IndexFile records path of repo in the index database under the
// single-writer lock.
func (w *Workspace) IndexFile(ctx context.Context, holder types.Holder, mode types.WaitMode, repo, path string, content []byte) error {
	return w.Writer.Write(ctx, holder, mode, func(ctx context.Context, tx *sql.Tx) error {
		return storage.UpsertFile(ctx, tx, storage.FileRecord{
			Repo:        repo,
			Path:        path,
			ContentHash: docgen.HashContent(content),
			IndexedBy:   holder.AgentID,
		})
	})
}

// GenerateDoc regenerates the document for repo/file unless it is already
// current, and only once the index has seen this exact source.
func (w *Workspace) GenerateDoc(ctx context.Context, holder types.Holder, mode types.WaitMode, repo, file string, source []byte, generate func(ctx context.Context) ([]byte, error)) (docgen.Result, error) {
	return w.Docs.GenerateIfNeeded(ctx, docgen.Request{
		Repo:         repo,
		File:         file,
		Source:       source,
		Holder:       holder,
		Mode:         mode,
		Precondition: docgen.IndexedAt(w.Index),
		Generate:     generate,
	})
}

func (w *Workspace) Close() error {
	var errs []error
	if err := w.Graphs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close graph store: %w", err))
	}
	if err := w.Index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index: %w", err))
	}
	return errors.Join(errs...)
}
