package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pixperk/stompguard/pkg/coord"
	"github.com/pixperk/stompguard/pkg/types"
)

// StateStore persists merged graph states by graph id.
type StateStore interface {
	Load(ctx context.Context, graphID string) (State, error)
	Save(ctx context.Context, graphID string, state State) error
}

// MergeConflictError is returned under fail_closed when a batch contains
// writes that lost to newer ones. Nothing from the batch was persisted.
type MergeConflictError struct {
	GraphID   string
	Conflicts []ConflictRecord
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("graph %s: %d conflicting patches rejected, first: %s", e.GraphID, len(e.Conflicts), e.Conflicts[0])
}

// Result is what a patch batch did to the graph.
type Result struct {
	State     State
	Conflicts []ConflictRecord
	Persisted bool
}

// Service applies patch batches under the graph-merge lock:
// load, merge and save happen while the lock is held.
type Service struct {
	coord  *coord.Coordinator
	store  StateStore
	logger *slog.Logger
}

func NewService(c *coord.Coordinator, store StateStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		coord:  c,
		store:  store,
		logger: logger.With(slog.String("component", "graph")),
	}
}

// Apply merges patches into graphID. With fail_open_merge the merged state
// is always saved and conflicts come back as data. With fail_closed any
// conflict rejects the whole batch with *MergeConflictError.
func (s *Service) Apply(ctx context.Context, graphID string, holder types.Holder, mode types.WaitMode, patches []GraphPatch) (Result, error) {
	for _, p := range patches {
		if err := p.Validate(); err != nil {
			return Result{}, err
		}
	}

	class, err := s.coord.Registry().Resolve(types.ClassGraphMerge)
	if err != nil {
		return Result{}, err
	}

	req := coord.Request{
		Resources: []types.ResourceDescriptor{types.Graph(graphID)},
		Holder:    holder,
		Mode:      mode,
		Name:      "graph_merge",
	}

	return coord.Guarded(ctx, s.coord, req, func(ctx context.Context, _ []types.LockHandle) (Result, error) {
		current, err := s.store.Load(ctx, graphID)
		if err != nil {
			return Result{}, fmt.Errorf("load graph %s: %w", graphID, err)
		}

		next, conflicts := Merge(current, patches)

		if len(conflicts) > 0 {
			s.logger.Warn("merge conflicts",
				slog.String("graph", graphID),
				slog.Int("conflicts", len(conflicts)),
				slog.String("strategy", class.ConflictStrategy.String()),
			)
			if class.ConflictStrategy == types.FailClosed {
				return Result{}, &MergeConflictError{GraphID: graphID, Conflicts: conflicts}
			}
		}

		if err := s.store.Save(ctx, graphID, next); err != nil {
			return Result{}, fmt.Errorf("save graph %s: %w", graphID, err)
		}

		s.logger.Debug("patches merged",
			slog.String("graph", graphID),
			slog.Int("patches", len(patches)),
			slog.Int("entries", len(next)),
		)
		return Result{State: next, Conflicts: conflicts, Persisted: true}, nil
	})
}

// MemoryStore keeps states in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Load(_ context.Context, graphID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[graphID].clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, graphID string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[graphID] = state.clone()
	return nil
}
