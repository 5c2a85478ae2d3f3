package lockmgr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pixperk/stompguard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return New(
		WithPollInterval(5*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestConcurrentLockAcquisition(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	//all 3 holders try to acquire the same lock at once without waiting
	key := "code:/contended"
	var wg sync.WaitGroup
	results := make([]struct {
		success bool
		token   uint64
		err     error
	}, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			h, err := m.Acquire(ctx, key, types.NewHolder(fmt.Sprintf("agent-%d", idx)), 10*time.Second, 0)
			if err != nil {
				results[idx].err = err
				return
			}
			results[idx].success = true
			results[idx].token = h.Token
		}(i)
	}

	wg.Wait()

	//verify only one succeeded
	successCount := 0
	var winnerToken uint64
	for _, r := range results {
		if r.success {
			successCount++
			winnerToken = r.token
		}
	}

	assert.Equal(t, 1, successCount, "only one holder should acquire the lock")
	assert.Greater(t, winnerToken, uint64(0), "winner should have a fencing token")

	//verify the other two got a busy error
	failedCount := 0
	for _, r := range results {
		if !r.success && assert.ErrorIs(t, r.err, types.ErrResourceBusy) {
			failedCount++
		}
	}
	assert.Equal(t, 2, failedCount, "two holders should be told the resource is busy")
}

func TestMutualExclusionUnderContention(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	var inside, maxInside, total int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			holder := types.NewHolder(fmt.Sprintf("agent-%d", idx))
			for j := 0; j < 5; j++ {
				h, err := m.Acquire(ctx, "db:rag", holder, 10*time.Second, 5*time.Second)
				if !assert.NoError(t, err) {
					return
				}

				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				atomic.AddInt32(&total, 1)

				assert.NoError(t, m.Release(h))
			}
		}(i)
	}

	wg.Wait()
	assert.Equal(t, int32(1), maxInside, "two holders were inside the critical section at once")
	assert.Equal(t, int32(40), total)
}

func TestTwoWritersOneFile(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	key := "code:/repo/main.go"

	first, err := m.Acquire(ctx, key, types.NewHolder("writer-1"), 10*time.Second, 500*time.Millisecond)
	require.NoError(t, err)

	//first releases well within the second's wait
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = m.Release(first)
	}()

	start := time.Now()
	second, err := m.Acquire(ctx, key, types.NewHolder("writer-2"), 10*time.Second, 500*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Greater(t, second.Token, first.Token)
}

func TestAcquireTimesOutWithHolder(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	key := "code:/repo/main.go"
	owner := types.NewHolder("writer-1")

	_, err := m.Acquire(ctx, key, owner, 10*time.Second, 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = m.Acquire(ctx, key, types.NewHolder("writer-2"), 10*time.Second, 100*time.Millisecond)
	elapsed := time.Since(start)

	var busy *types.ResourceBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, key, busy.Key)
	assert.Equal(t, owner, busy.Holder)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestAcquireClaimsExpiredLeaseMidWait(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	//create lock with very short TTL and never release it
	stale, err := m.Acquire(ctx, "graph:main", types.NewHolder("crashed"), 100*time.Millisecond, 0)
	require.NoError(t, err)

	h, err := m.Acquire(ctx, "graph:main", types.NewHolder("survivor"), time.Second, time.Second)
	require.NoError(t, err)
	assert.Greater(t, h.Token, stale.Token)
}

func TestAcquireHonoursContext(t *testing.T) {
	m := newTestManager()

	_, err := m.Acquire(context.Background(), "k", types.NewHolder("a"), 10*time.Second, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, "k", types.NewHolder("b"), 10*time.Second, 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStaleHandleReuse(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	key := "code:/a/foo"

	stale, err := m.Acquire(ctx, key, types.NewHolder("slow"), 50*time.Millisecond, 0)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	fresh, err := m.Acquire(ctx, key, types.NewHolder("fast"), 10*time.Second, 0)
	require.NoError(t, err)

	err = m.Release(stale)
	require.ErrorIs(t, err, types.ErrInvalidHandle)

	_, err = m.Renew(stale, time.Minute)
	require.ErrorIs(t, err, types.ErrInvalidHandle)

	//the second holder is untouched
	state, ok := m.Holder(key)
	require.True(t, ok)
	assert.Equal(t, fresh.Token, state.FencingToken)
	assert.Equal(t, fresh.Holder, state.Holder)

	require.NoError(t, m.Release(fresh))
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := newTestManager()

	h, err := m.Acquire(context.Background(), "k", types.NewHolder("a"), time.Second, 0)
	require.NoError(t, err)

	require.NoError(t, m.Release(h))
	require.NoError(t, m.Release(h))
	assert.Empty(t, m.Snapshot())
}

func TestRenewKeepsToken(t *testing.T) {
	m := newTestManager()

	h, err := m.Acquire(context.Background(), "k", types.NewHolder("a"), 200*time.Millisecond, 0)
	require.NoError(t, err)

	renewed, err := m.Renew(h, 0)
	require.NoError(t, err)
	assert.Equal(t, h.Token, renewed.Token)
	assert.Equal(t, h.TTL, renewed.TTL)
	assert.Equal(t, uint64(1), m.Stats().FencingCounter)
}

func TestKeepAliveOutlivesTTL(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	h, err := m.Acquire(ctx, "docgen:repo", types.NewHolder("generator"), 60*time.Millisecond, 0)
	require.NoError(t, err)

	stop := m.KeepAlive(ctx, h)

	//well past the original TTL
	time.Sleep(200 * time.Millisecond)

	_, err = m.Acquire(ctx, "docgen:repo", types.NewHolder("other"), time.Second, 0)
	assert.ErrorIs(t, err, types.ErrResourceBusy, "keep-alive should have kept the lease")

	stop()
	stop() // safe to call twice

	require.NoError(t, m.Release(h))
}

func TestReap(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	_, err := m.Acquire(ctx, "short", types.NewHolder("a"), 20*time.Millisecond, 0)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "long", types.NewHolder("b"), 10*time.Second, 0)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, 1, m.Reap())
	assert.Equal(t, 0, m.Stats().Expired)
	assert.Equal(t, 1, m.Stats().Locks)
}

func TestRunReaperStopsWithContext(t *testing.T) {
	m := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := m.Acquire(ctx, "short", types.NewHolder("a"), 10*time.Millisecond, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		m.RunReaper(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s := m.Stats()
		return s.Locks == 0 && s.Expired == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
