package types

import "time"

// type of FSM command
type CommandType uint

const (
	CommandTypeTryAcquire CommandType = iota + 1
	CommandTypeRelease
	CommandTypeRenew
	CommandTypeExpire
)

// interface all FSM commands implement
type Command interface {
	Type() CommandType
}

// single non-blocking acquisition attempt
type TryAcquireCmd struct {
	Key    string
	Holder Holder
	TTL    time.Duration
}

func (c TryAcquireCmd) Type() CommandType { return CommandTypeTryAcquire }

// releases a lock, the handle token must match
type ReleaseCmd struct {
	Handle LockHandle
}

func (c ReleaseCmd) Type() CommandType { return CommandTypeRelease }

// extends a lease, the handle token must match
type RenewCmd struct {
	Handle LockHandle
	TTL    time.Duration
}

func (c RenewCmd) Type() CommandType { return CommandTypeRenew }

// drops a key whose lease has expired (internal, used by the reaper)
type ExpireCmd struct {
	Key string
}

func (c ExpireCmd) Type() CommandType { return CommandTypeExpire }
