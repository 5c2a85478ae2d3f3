package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	// lease errors
	ErrInvalidLeaseTTL = errors.New("invalid lease TTL")

	// lock errors
	ErrLockHeld      = errors.New("lock is held by another holder")
	ErrResourceBusy  = errors.New("resource busy")
	ErrInvalidHandle = errors.New("invalid lock handle: fencing token is stale or mismatched")

	// policy errors
	ErrUnknownResourceClass = errors.New("unknown resource class")
	ErrInvalidDescriptor    = errors.New("invalid resource descriptor")
	ErrInvalidConfig        = errors.New("invalid policy configuration")
)

// returned when a key could not be acquired within the allowed wait
// carries the current holder so callers can report who is in the way
type ResourceBusyError struct {
	Key         string
	Holder      Holder
	Waited      time.Duration
	Interactive bool
}

func (e *ResourceBusyError) Error() string {
	msg := fmt.Sprintf("resource %s busy: held by %s (waited %s)", e.Key, e.Holder, e.Waited.Round(time.Millisecond))
	if e.Interactive {
		return msg + ", retry shortly"
	}
	return msg
}

func (e *ResourceBusyError) Is(target error) bool {
	return target == ErrResourceBusy
}

// returned by the state machine when a key is held by someone else
type HeldError struct {
	Key    string
	Holder Holder
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("lock %s is held by %s", e.Key, e.Holder)
}

func (e *HeldError) Is(target error) bool {
	return target == ErrLockHeld
}
