// Package lockmgr is the only component that touches lock state. It wraps
// the lock state machine with a polling acquire, token-checked release and
// renew, lease keep-alive, and a reaper for expired entries.
package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixperk/stompguard/pkg/fsm"
	"github.com/pixperk/stompguard/pkg/types"
)

// DefaultPollInterval is how often a waiting acquirer re-checks the key.
const DefaultPollInterval = 25 * time.Millisecond

// wraps the fsm and provides a clean api
type Manager struct {
	fsm          *fsm.FSM
	pollInterval time.Duration
	logger       *slog.Logger
}

type Option func(*Manager)

func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func New(opts ...Option) *Manager {
	m := &Manager{
		fsm:          fsm.NewFSM(),
		pollInterval: DefaultPollInterval,
		logger:       slog.Default().With(slog.String("component", "lockmgr")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire blocks until key is granted to holder, maxWait elapses or ctx is
// done. A maxWait of zero makes a single attempt. The state machine mutex is
// taken once per attempt, never across the wait.
func (m *Manager) Acquire(ctx context.Context, key string, holder types.Holder, ttl, maxWait time.Duration) (types.LockHandle, error) {
	start := time.Now()
	deadline := start.Add(maxWait)

	var ticker *time.Ticker

	for {
		result, err := m.fsm.Apply(types.TryAcquireCmd{Key: key, Holder: holder, TTL: ttl})
		if err == nil {
			h := result.(fsm.AcquireResponse).Handle
			m.logger.Debug("lock acquired",
				slog.String("key", key),
				slog.String("holder", holder.String()),
				slog.Uint64("token", h.Token),
				slog.Duration("waited", time.Since(start)),
			)
			return h, nil
		}

		var held *types.HeldError
		if !errors.As(err, &held) {
			return types.LockHandle{}, err
		}

		if !time.Now().Before(deadline) {
			return types.LockHandle{}, &types.ResourceBusyError{
				Key:    key,
				Holder: held.Holder,
				Waited: time.Since(start),
			}
		}

		if ticker == nil {
			ticker = time.NewTicker(m.pollInterval)
			defer ticker.Stop()
		}

		select {
		case <-ctx.Done():
			return types.LockHandle{}, fmt.Errorf("acquire %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release frees the lock named by h. It is a no-op when the key is already
// free and fails with ErrInvalidHandle when h is stale.
func (m *Manager) Release(h types.LockHandle) error {
	result, err := m.fsm.Apply(types.ReleaseCmd{Handle: h})
	if err != nil {
		m.logger.Error("release rejected",
			slog.String("handle", h.String()),
			slog.String("holder", h.Holder.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if result.(fsm.ReleaseResponse).Released {
		m.logger.Debug("lock released", slog.String("handle", h.String()))
	}
	return nil
}

// Renew extends the lease behind h. A ttl of zero reuses the handle's TTL.
// The returned handle carries the same token.
func (m *Manager) Renew(h types.LockHandle, ttl time.Duration) (types.LockHandle, error) {
	result, err := m.fsm.Apply(types.RenewCmd{Handle: h, TTL: ttl})
	if err != nil {
		return types.LockHandle{}, err
	}
	return result.(fsm.RenewResponse).Handle, nil
}

// Snapshot returns the live locks sorted by key. It never takes the
// acquisition path.
func (m *Manager) Snapshot() []types.LockState {
	return m.fsm.Snapshot()
}

// Holder reports who currently holds key, if anyone.
func (m *Manager) Holder(key string) (types.LockState, bool) {
	return m.fsm.GetLock(key)
}

// returns state machine statistics
func (m *Manager) Stats() fsm.Stats {
	return m.fsm.Stats()
}
