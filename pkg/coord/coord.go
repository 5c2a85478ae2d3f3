// Package coord is the public entry point of the coordination layer. Run
// resolves resource descriptors to keys, acquires them in one global order,
// executes the caller's operation and always releases what it acquired.
package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pixperk/stompguard/pkg/lockmgr"
	"github.com/pixperk/stompguard/pkg/policy"
	"github.com/pixperk/stompguard/pkg/telemetry"
	"github.com/pixperk/stompguard/pkg/types"
)

// Request names the resources a guarded operation touches and who runs it.
type Request struct {
	Resources []types.ResourceDescriptor
	Holder    types.Holder
	Mode      types.WaitMode
	// free-form label for telemetry, e.g. "move_file"
	Name string
}

// Operation runs while every requested lock is held. held is in acquisition
// order and carries the fencing tokens valid for this run.
type Operation func(ctx context.Context, held []types.LockHandle) error

// Coordinator is safe for concurrent use.
type Coordinator struct {
	registry  *policy.Registry
	locks     *lockmgr.Manager
	sink      telemetry.Sink
	logger    *slog.Logger
	tracer    trace.Tracer
	keepAlive bool
}

type Option func(*Coordinator)

func WithSink(s telemetry.Sink) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.sink = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithKeepAlive renews every held lease at TTL/3 while the operation runs.
func WithKeepAlive() Option {
	return func(c *Coordinator) { c.keepAlive = true }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

func New(registry *policy.Registry, locks *lockmgr.Manager, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: registry,
		locks:    locks,
		sink:     telemetry.Nop{},
		logger:   slog.Default().With(slog.String("component", "coord")),
		tracer:   otel.Tracer("stompguard/coord"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry exposes the policy registry the coordinator resolves against.
func (c *Coordinator) Registry() *policy.Registry { return c.registry }

// Locks exposes the lock manager for introspection.
func (c *Coordinator) Locks() *lockmgr.Manager { return c.locks }

type target struct {
	key   string
	class types.ResourceClass
}

// resolve maps descriptors to keys, drops duplicates and sorts by key.
// The lexicographic order is the same for every caller and is what keeps
// multi-resource runs from deadlocking.
func (c *Coordinator) resolve(descs []types.ResourceDescriptor) ([]target, error) {
	seen := make(map[string]bool, len(descs))
	targets := make([]target, 0, len(descs))

	for _, d := range descs {
		key, class, err := c.registry.ResolveDescriptor(d)
		if err != nil {
			return nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		targets = append(targets, target{key: key, class: class})
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].key < targets[j].key })
	return targets, nil
}

// Keys returns the sorted, de-duplicated keys Run would acquire for descs.
func (c *Coordinator) Keys(descs []types.ResourceDescriptor) ([]string, error) {
	targets, err := c.resolve(descs)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(targets))
	for i, t := range targets {
		keys[i] = t.key
	}
	return keys, nil
}

// Run acquires every resource in req, runs op and releases in reverse
// order whether op returns, fails or panics. Errors from op are returned
// unchanged; a panic is re-raised after release.
func (c *Coordinator) Run(ctx context.Context, req Request, op Operation) (err error) {
	if len(req.Resources) == 0 {
		return fmt.Errorf("%w: no resources requested", types.ErrInvalidDescriptor)
	}
	mode := req.Mode
	if mode == 0 {
		mode = types.Interactive
	}

	targets, err := c.resolve(req.Resources)
	if err != nil {
		return err
	}

	keys := make([]string, len(targets))
	for i, t := range targets {
		keys[i] = t.key
	}

	ctx, span := c.tracer.Start(ctx, "coord.Run",
		trace.WithAttributes(
			attribute.String("coord.name", req.Name),
			attribute.StringSlice("coord.keys", keys),
			attribute.String("coord.holder", req.Holder.String()),
			attribute.String("coord.mode", mode.String()),
		),
	)
	defer span.End()

	start := time.Now()
	ev := telemetry.Event{
		Name:   req.Name,
		Keys:   keys,
		Holder: req.Holder,
		Mode:   mode,
	}

	held := make([]types.LockHandle, 0, len(targets))
	for _, t := range targets {
		h, acqErr := c.locks.Acquire(ctx, t.key, req.Holder, t.class.LeaseTTL, c.registry.MaxWait(t.class, mode))
		if acqErr != nil {
			c.releaseAll(held)

			var busy *types.ResourceBusyError
			if errors.As(acqErr, &busy) {
				busy.Interactive = mode == types.Interactive
				ev.Outcome = telemetry.OutcomeBusy
				ev.BusyKey = t.key
			} else {
				ev.Outcome = telemetry.OutcomeError
			}
			ev.Err = acqErr
			ev.Wait = time.Since(start)
			ev.Duration = ev.Wait

			span.RecordError(acqErr)
			span.SetStatus(codes.Error, "acquire failed")
			c.emit(ctx, ev)
			return acqErr
		}
		held = append(held, h)
	}
	ev.Wait = time.Since(start)

	stopKeepAlive := c.startKeepAlive(ctx, held)

	defer func() {
		stopKeepAlive()
		releaseErr := c.releaseAll(held)

		ev.Duration = time.Since(start)
		if r := recover(); r != nil {
			ev.Outcome = telemetry.OutcomePanic
			ev.Err = fmt.Errorf("panic: %v", r)
			span.SetStatus(codes.Error, "operation panicked")
			c.emit(ctx, ev)
			panic(r)
		}

		switch {
		case err != nil:
			ev.Outcome = telemetry.OutcomeError
			ev.Err = err
			span.RecordError(err)
			span.SetStatus(codes.Error, "operation failed")
		case releaseErr != nil:
			err = releaseErr
			ev.Outcome = telemetry.OutcomeError
			ev.Err = releaseErr
			span.SetStatus(codes.Error, "release failed")
		default:
			ev.Outcome = telemetry.OutcomeOK
		}
		span.SetAttributes(attribute.String("coord.outcome", string(ev.Outcome)))
		c.emit(ctx, ev)
	}()

	c.enter(keys)
	defer c.leave(keys)

	return op(ctx, held)
}

// releaseAll releases in reverse acquisition order and keeps going past
// failures so no lock is left behind.
func (c *Coordinator) releaseAll(held []types.LockHandle) error {
	var errs []error
	for i := len(held) - 1; i >= 0; i-- {
		if err := c.locks.Release(held[i]); err != nil {
			c.logger.Error("release failed",
				slog.String("handle", held[i].String()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) startKeepAlive(ctx context.Context, held []types.LockHandle) func() {
	if !c.keepAlive {
		return func() {}
	}

	stops := make([]func(), 0, len(held))
	for _, h := range held {
		stops = append(stops, c.locks.KeepAlive(ctx, h))
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

// emit never lets a sink failure escape into the guarded run.
func (c *Coordinator) emit(ctx context.Context, ev telemetry.Event) {
	c.isolate("emit", ev.Keys, func() { c.sink.Emit(ctx, ev) })
}

func (c *Coordinator) enter(keys []string) {
	if b, ok := c.sink.(telemetry.Bracketer); ok {
		c.isolate("enter", keys, b.Enter)
	}
}

func (c *Coordinator) leave(keys []string) {
	if b, ok := c.sink.(telemetry.Bracketer); ok {
		c.isolate("leave", keys, b.Leave)
	}
}

// isolate runs a sink call and swallows its panic.
func (c *Coordinator) isolate(call string, keys []string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("telemetry sink panicked",
				slog.String("call", call),
				slog.String("keys", strings.Join(keys, ",")),
				slog.Any("panic", r),
			)
		}
	}()
	fn()
}

// Guarded is Run for operations that produce a value.
func Guarded[T any](ctx context.Context, c *Coordinator, req Request, op func(ctx context.Context, held []types.LockHandle) (T, error)) (T, error) {
	var out T
	err := c.Run(ctx, req, func(ctx context.Context, held []types.LockHandle) error {
		v, err := op(ctx, held)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
