package lockmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pixperk/stompguard/pkg/types"
)

// KeepAlive renews the lease behind h every TTL/3 until stop is called or
// ctx is done. It stops on its own once the handle turns stale, since a
// lost lease cannot be won back by renewing.
func (m *Manager) KeepAlive(ctx context.Context, h types.LockHandle) (stop func()) {
	interval := h.TTL / 3
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		m.keepAliveLoop(ctx, h, interval)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (m *Manager) keepAliveLoop(ctx context.Context, h types.LockHandle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failureCount int

	for {
		select {
		case <-ticker.C:
			renewed, err := m.Renew(h, h.TTL)
			if err != nil {
				failureCount++
				m.logger.Warn("lease renew failed",
					slog.String("handle", h.String()),
					slog.Int("attempt", failureCount),
					slog.String("error", err.Error()),
				)
				if failureCount >= 2 {
					m.logger.Error("lease lost, stopping keep-alive", slog.String("handle", h.String()))
					return
				}
				continue
			}

			if failureCount > 0 {
				m.logger.Info("lease renew recovered", slog.Int("failures", failureCount))
				failureCount = 0
			}
			h = renewed

		case <-ctx.Done():
			return
		}
	}
}
