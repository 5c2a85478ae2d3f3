package types

import (
	"fmt"
	"time"
)

// lock state held only inside the lock state machine
// fencing token is strictly monotonic and incremented on each successful acquisition
// at most one LockState exists per key; an expired one is the same as free
type LockState struct {
	Key            string
	Holder         Holder
	FencingToken   uint64
	AcquiredAt     time.Time
	LeaseExpiresAt time.Time
	LeaseTTL       time.Duration
}

// LockHandle is the capability returned on acquisition.
// Release and renew must present a handle whose token still matches the
// stored state, otherwise they fail with ErrInvalidHandle.
type LockHandle struct {
	Key       string
	Token     uint64
	Holder    Holder
	TTL       time.Duration
	ExpiresAt time.Time
}

func (h LockHandle) String() string {
	return fmt.Sprintf("%s#%d", h.Key, h.Token)
}
