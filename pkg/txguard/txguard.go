// Package txguard runs database transactions under a single-writer lock whose
// scope strictly contains the transaction: begin, body and commit (or
// rollback) all happen before the lock is released.
package txguard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pixperk/stompguard/pkg/coord"
	"github.com/pixperk/stompguard/pkg/types"
)

// Tx is the opaque transactional handle of the storage engine.
type Tx interface {
	Commit() error
	Rollback() error
}

// Beginner starts transactions of type T.
type Beginner[T Tx] interface {
	Begin(ctx context.Context) (T, error)
}

// Guard serialises writers of one database resource.
type Guard[T Tx] struct {
	coord    *coord.Coordinator
	db       Beginner[T]
	resource types.ResourceDescriptor
	logger   *slog.Logger
}

func New[T Tx](c *coord.Coordinator, db Beginner[T], resource types.ResourceDescriptor, logger *slog.Logger) *Guard[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard[T]{
		coord:    c,
		db:       db,
		resource: resource,
		logger:   logger.With(slog.String("component", "txguard"), slog.String("resource", resource.Scope)),
	}
}

// Resource returns the descriptor every write is serialised on.
func (g *Guard[T]) Resource() types.ResourceDescriptor { return g.resource }

// Write runs body inside a transaction while holding the resource lock.
// The lock is released only after Commit returns. When body fails or
// panics the transaction is rolled back first, and the body's error (or
// panic) reaches the caller unchanged.
func (g *Guard[T]) Write(ctx context.Context, holder types.Holder, mode types.WaitMode, body func(ctx context.Context, tx T) error) error {
	req := coord.Request{
		Resources: []types.ResourceDescriptor{g.resource},
		Holder:    holder,
		Mode:      mode,
		Name:      "write_transaction",
	}
	return g.coord.Run(ctx, req, func(ctx context.Context, _ []types.LockHandle) error {
		return g.inTx(ctx, body)
	})
}

func (g *Guard[T]) inTx(ctx context.Context, body func(ctx context.Context, tx T) error) (err error) {
	tx, err := g.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			g.logger.Error("rollback failed", slog.String("error", rbErr.Error()))
			if err != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err := body(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// WriteValue is Write for bodies that produce a value.
func WriteValue[T Tx, V any](ctx context.Context, g *Guard[T], holder types.Holder, mode types.WaitMode, body func(ctx context.Context, tx T) (V, error)) (V, error) {
	var out V
	err := g.Write(ctx, holder, mode, func(ctx context.Context, tx T) error {
		v, err := body(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return out, nil
}

type sqlBeginner struct {
	db *sql.DB
}

// SQL adapts a database/sql handle.
func SQL(db *sql.DB) Beginner[*sql.Tx] {
	return sqlBeginner{db: db}
}

func (s sqlBeginner) Begin(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}
