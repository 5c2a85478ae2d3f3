// Package docgen gates documentation generation behind a content hash and
// an index freshness check, under one lock per repository, so that the
// same source is never synthesised twice.
package docgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pixperk/stompguard/pkg/coord"
	"github.com/pixperk/stompguard/pkg/types"
)

type Outcome string

const (
	OutcomeGenerated Outcome = "generated"
	OutcomeNoop      Outcome = "noop"
	OutcomeSkipped   Outcome = "skipped"
)

// reason codes reported with OutcomeSkipped
const (
	ReasonNotIndexed = "not_indexed"
	ReasonIndexStale = "index_stale"
)

// Precondition reports whether generation may proceed. A false result
// carries a reason code for the caller.
type Precondition func(ctx context.Context, repo, file, sourceHash string) (ok bool, reason string, err error)

// Request describes one document. Source is hashed unless SourceHash is
// already known.
type Request struct {
	Repo         string
	File         string
	Source       []byte
	SourceHash   string
	Holder       types.Holder
	Mode         types.WaitMode
	Precondition Precondition
	Generate     func(ctx context.Context) ([]byte, error)
}

type Result struct {
	Outcome    Outcome
	Reason     string
	SourceHash string
	Content    []byte
}

// FreshnessState is recomputed on every call and never cached.
type FreshnessState struct {
	SourceHash      string
	ExistingDocHash string
	HasExisting     bool
}

func (f FreshnessState) UpToDate() bool {
	return f.HasExisting && f.ExistingDocHash == f.SourceHash
}

type Coordinator struct {
	coord  *coord.Coordinator
	store  Store
	logger *slog.Logger
}

func New(c *coord.Coordinator, store Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		coord:  c,
		store:  store,
		logger: logger.With(slog.String("component", "docgen")),
	}
}

// GenerateIfNeeded runs under the repository's docgen lock:
//  1. an existing document whose header matches the source hash is a noop
//  2. an unmet precondition skips with its reason code
//  3. otherwise Generate runs and its output is stored
//
// Errors from Generate or the store propagate; nothing is written then.
func (g *Coordinator) GenerateIfNeeded(ctx context.Context, req Request) (Result, error) {
	if req.Repo == "" || req.File == "" {
		return Result{}, fmt.Errorf("%w: docgen needs repo and file", types.ErrInvalidDescriptor)
	}
	if req.Generate == nil {
		return Result{}, errors.New("docgen: no generate function")
	}

	sourceHash := req.SourceHash
	if sourceHash == "" {
		sourceHash = HashContent(req.Source)
	}

	creq := coord.Request{
		Resources: []types.ResourceDescriptor{types.Docgen(req.Repo)},
		Holder:    req.Holder,
		Mode:      req.Mode,
		Name:      "docgen",
	}

	return coord.Guarded(ctx, g.coord, creq, func(ctx context.Context, _ []types.LockHandle) (Result, error) {
		fresh, err := g.freshness(ctx, req.Repo, req.File, sourceHash)
		if err != nil {
			return Result{}, err
		}
		if fresh.UpToDate() {
			g.logger.Debug("document up to date", slog.String("repo", req.Repo), slog.String("file", req.File))
			return Result{Outcome: OutcomeNoop, SourceHash: sourceHash}, nil
		}

		if req.Precondition != nil {
			ok, reason, err := req.Precondition(ctx, req.Repo, req.File, sourceHash)
			if err != nil {
				return Result{}, fmt.Errorf("docgen precondition: %w", err)
			}
			if !ok {
				g.logger.Info("generation skipped",
					slog.String("repo", req.Repo),
					slog.String("file", req.File),
					slog.String("reason", reason),
				)
				return Result{Outcome: OutcomeSkipped, Reason: reason, SourceHash: sourceHash}, nil
			}
		}

		content, err := req.Generate(ctx)
		if err != nil {
			return Result{}, err
		}
		if err := g.store.Write(ctx, req.Repo, req.File, sourceHash, content); err != nil {
			return Result{}, fmt.Errorf("store document: %w", err)
		}

		g.logger.Info("document generated",
			slog.String("repo", req.Repo),
			slog.String("file", req.File),
			slog.Int("bytes", len(content)),
		)
		return Result{Outcome: OutcomeGenerated, SourceHash: sourceHash, Content: content}, nil
	})
}

func (g *Coordinator) freshness(ctx context.Context, repo, file, sourceHash string) (FreshnessState, error) {
	existing, ok, err := g.store.ExistingHash(ctx, repo, file)
	if err != nil {
		return FreshnessState{}, fmt.Errorf("read existing document: %w", err)
	}
	return FreshnessState{SourceHash: sourceHash, ExistingDocHash: existing, HasExisting: ok}, nil
}

// HashLookup finds the content hash the index recorded for a file.
type HashLookup interface {
	LookupHash(ctx context.Context, repo, path string) (string, bool, error)
}

// IndexedAt requires the index to hold the file at exactly sourceHash.
func IndexedAt(index HashLookup) Precondition {
	return func(ctx context.Context, repo, file, sourceHash string) (bool, string, error) {
		hash, ok, err := index.LookupHash(ctx, repo, file)
		if err != nil {
			return false, "", err
		}
		if !ok {
			return false, ReasonNotIndexed, nil
		}
		if hash != sourceHash {
			return false, ReasonIndexStale, nil
		}
		return true, "", nil
	}
}
