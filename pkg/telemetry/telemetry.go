// Package telemetry defines the one-way event sink the coordination layer
// reports to, plus the sinks the server wires in: structured logs,
// prometheus metrics and an in-memory contention table.
package telemetry

import (
	"context"
	"time"

	"github.com/pixperk/stompguard/pkg/types"
)

// Outcome summarises how a guarded run ended.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeBusy  Outcome = "busy"
	OutcomeError Outcome = "error"
	OutcomePanic Outcome = "panic"
)

// Event is emitted once per guarded run.
type Event struct {
	Name     string
	Keys     []string
	Holder   types.Holder
	Mode     types.WaitMode
	Wait     time.Duration
	Duration time.Duration
	Outcome  Outcome
	// key that could not be acquired when Outcome is busy
	BusyKey string
	Err     error
}

// Sink receives events. Implementations must not block for long; the
// coordinator recovers panics from Emit and never lets a sink failure reach
// the guarded operation.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Bracketer is implemented by sinks that track operations in flight.
type Bracketer interface {
	Enter()
	Leave()
}

func (m Multi) Enter() {
	for _, s := range m {
		if b, ok := s.(Bracketer); ok {
			b.Enter()
		}
	}
}

func (m Multi) Leave() {
	for _, s := range m {
		if b, ok := s.(Bracketer); ok {
			b.Leave()
		}
	}
}
