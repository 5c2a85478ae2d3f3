package fsm

import (
	"fmt"
	"sort"
	"sync"

	tm "time"

	"github.com/pixperk/stompguard/pkg/time"
	"github.com/pixperk/stompguard/pkg/types"
)

// manages core lock state
// critical :
// - fencing tokens must be strictly monotonic across all keys
// - at most one entry per key, an expired entry counts as free
// - the mutex is held for exactly one command, never across a wait
type FSM struct {
	mu sync.RWMutex

	locks map[string]*entry // resource key -> current holder

	fencingCounter uint64 // global fencing token counter (monotonic)

	clock *time.Clock // monotonic clock
}

// lock state with monotonic offsets instead of wall time
type entry struct {
	key        string
	holder     types.Holder
	token      uint64
	acquiredAt tm.Duration
	expiresAt  tm.Duration
	ttl        tm.Duration
}

func (e *entry) isExpired(now tm.Duration) bool {
	return now >= e.expiresAt
}

func NewFSM() *FSM {
	return &FSM{
		locks:          make(map[string]*entry),
		fencingCounter: 0,
		clock:          time.NewClock(),
	}
}

// applies a command to the FSM and returns the result or error
func (f *FSM) Apply(cmd types.Command) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch c := cmd.(type) {
	case types.TryAcquireCmd:
		return f.applyTryAcquire(c)
	case types.ReleaseCmd:
		return f.applyRelease(c)
	case types.RenewCmd:
		return f.applyRenew(c)
	case types.ExpireCmd:
		return f.applyExpire(c)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// returned when a lock is acquired
type AcquireResponse struct {
	Handle types.LockHandle
}

func (f *FSM) applyTryAcquire(cmd types.TryAcquireCmd) (any, error) {
	if cmd.TTL <= 0 {
		return nil, types.ErrInvalidLeaseTTL
	}

	now := f.clock.Elapsed()

	//an expired holder is treated as gone regardless of its bookkeeping
	if existing, held := f.locks[cmd.Key]; held && !existing.isExpired(now) {
		return nil, &types.HeldError{Key: cmd.Key, Holder: existing.holder}
	}

	//increment global fencing counter
	f.fencingCounter++

	e := &entry{
		key:        cmd.Key,
		holder:     cmd.Holder,
		token:      f.fencingCounter,
		acquiredAt: now,
		expiresAt:  now + cmd.TTL,
		ttl:        cmd.TTL,
	}
	f.locks[cmd.Key] = e

	return AcquireResponse{Handle: f.handleFor(e)}, nil
}

// returned when a lock is released
type ReleaseResponse struct {
	Released bool
}

func (f *FSM) applyRelease(cmd types.ReleaseCmd) (any, error) {
	e, held := f.locks[cmd.Handle.Key]
	if !held {
		//already free, release is idempotent
		return ReleaseResponse{Released: false}, nil
	}

	if e.token != cmd.Handle.Token {
		return nil, staleHandle(cmd.Handle, e.token)
	}

	delete(f.locks, cmd.Handle.Key)

	return ReleaseResponse{Released: true}, nil
}

// returned when a lease is renewed
type RenewResponse struct {
	Handle types.LockHandle
}

func (f *FSM) applyRenew(cmd types.RenewCmd) (any, error) {
	ttl := cmd.TTL
	if ttl < 0 {
		return nil, types.ErrInvalidLeaseTTL
	}

	e, held := f.locks[cmd.Handle.Key]
	if !held {
		return nil, fmt.Errorf("%w: %s is not held", types.ErrInvalidHandle, cmd.Handle)
	}

	if e.token != cmd.Handle.Token {
		return nil, staleHandle(cmd.Handle, e.token)
	}

	now := f.clock.Elapsed()

	//if already expired, the lease is lost even if nobody took it yet
	if e.isExpired(now) {
		return nil, fmt.Errorf("%w: lease on %s already expired", types.ErrInvalidHandle, cmd.Handle)
	}

	if ttl == 0 {
		ttl = e.ttl
	}
	e.ttl = ttl
	e.expiresAt = now + ttl

	//token only changes on fresh acquisition
	return RenewResponse{Handle: f.handleFor(e)}, nil
}

// returned when an expired key is dropped
type ExpireResponse struct {
	Expired bool
}

func (f *FSM) applyExpire(cmd types.ExpireCmd) (any, error) {
	e, held := f.locks[cmd.Key]
	if !held || !e.isExpired(f.clock.Elapsed()) {
		return ExpireResponse{Expired: false}, nil
	}

	delete(f.locks, cmd.Key)

	return ExpireResponse{Expired: true}, nil
}

func (f *FSM) handleFor(e *entry) types.LockHandle {
	return types.LockHandle{
		Key:       e.key,
		Token:     e.token,
		Holder:    e.holder,
		TTL:       e.ttl,
		ExpiresAt: f.clock.WallTime(e.expiresAt),
	}
}

func (f *FSM) stateFor(e *entry) types.LockState {
	return types.LockState{
		Key:            e.key,
		Holder:         e.holder,
		FencingToken:   e.token,
		AcquiredAt:     f.clock.WallTime(e.acquiredAt),
		LeaseExpiresAt: f.clock.WallTime(e.expiresAt),
		LeaseTTL:       e.ttl,
	}
}

func staleHandle(h types.LockHandle, current uint64) error {
	return fmt.Errorf("%w: %s presented token %d, current token is %d",
		types.ErrInvalidHandle, h.Key, h.Token, current)
}

// returns the live lock for a key, expired entries are reported as absent
func (f *FSM) GetLock(key string) (types.LockState, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	e, exists := f.locks[key]
	if !exists || e.isExpired(f.clock.Elapsed()) {
		return types.LockState{}, false
	}
	return f.stateFor(e), true
}

// point-in-time copy of all live locks sorted by key
func (f *FSM) Snapshot() []types.LockState {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := f.clock.Elapsed()
	out := make([]types.LockState, 0, len(f.locks))
	for _, e := range f.locks {
		if e.isExpired(now) {
			continue
		}
		out = append(out, f.stateFor(e))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// current fsm stats
type Stats struct {
	Locks          int
	Expired        int
	FencingCounter uint64
}

func (f *FSM) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := f.clock.Elapsed()
	stats := Stats{FencingCounter: f.fencingCounter}
	for _, e := range f.locks {
		if e.isExpired(now) {
			stats.Expired++
			continue
		}
		stats.Locks++
	}
	return stats
}

// returns all keys whose lease has expired
func (f *FSM) ExpiredKeys(now tm.Duration) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var expired []string
	for key, e := range f.locks {
		if e.isExpired(now) {
			expired = append(expired, key)
		}
	}

	sort.Strings(expired)
	return expired
}

func (f *FSM) CurrentTime() tm.Duration {
	return f.clock.Elapsed()
}
