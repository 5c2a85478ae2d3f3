package lockmgr

import (
	"context"
	"log/slog"
	"time"

	"github.com/pixperk/stompguard/pkg/fsm"
	"github.com/pixperk/stompguard/pkg/types"
)

// Reap drops every entry whose lease has expired and returns how many were
// removed. Acquisition already treats expired entries as free; reaping only
// keeps the state map and diagnostics tidy.
func (m *Manager) Reap() int {
	removed := 0
	for _, key := range m.fsm.ExpiredKeys(m.fsm.CurrentTime()) {
		result, err := m.fsm.Apply(types.ExpireCmd{Key: key})
		if err != nil {
			continue
		}
		if result.(fsm.ExpireResponse).Expired {
			removed++
		}
	}
	return removed
}

// RunReaper calls Reap every interval until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				m.logger.Info("expired leases reaped", slog.Int("count", n))
			}
		}
	}
}
