package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoTransaction is returned when commit or rollback is called with
// no transaction open.
var ErrNoTransaction = errors.New("no open transaction")

// Querier is the subset of pgx needed by the stores. Both pgx.Tx and
// *pgxpool.Pool satisfy it, so statements run on the session's current
// transaction when one is open and in autocommit mode otherwise.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDriver manages the underlying transaction stack for a session.
// Begin at depth zero opens a real transaction; deeper Begins open
// savepoints. The session tracks depth, the driver tracks handles.
type TxDriver interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Querier() Querier
}

// Hooks are lifecycle callbacks observers can install on a session.
// They are the interception points temporal tracking builds on: nothing
// else in this package knows history exists.
type Hooks struct {
	// BeforeFlush runs at every flush, before any observer work.
	BeforeFlush func(ctx context.Context, s *Session) error
	// BeforeCommit runs once per outermost commit, before the final
	// flush.
	BeforeCommit func(ctx context.Context, s *Session) error
	// AfterBegin runs after a transaction or savepoint opens.
	AfterBegin func(s *Session)
	// AfterEnd runs after a transaction or savepoint ends; committed
	// is false on rollback. Depth has already been decremented.
	AfterEnd func(s *Session, committed bool)
}

// Session is a storage session: a stack of transactions (one real
// transaction plus savepoints) with observer hooks on its lifecycle.
// Sessions are single-threaded by design; each owns its own state and
// nothing here is shared across sessions.
type Session struct {
	driver TxDriver
	depth  int

	hookOrder []string
	hooks     map[string]Hooks

	ext any
}

// NewSession creates a session over a transaction driver.
func NewSession(driver TxDriver) *Session {
	return &Session{
		driver: driver,
		hooks:  make(map[string]Hooks),
	}
}

// NewPoolSession creates a session backed by a pgx connection pool.
func NewPoolSession(pool *pgxpool.Pool) *Session {
	return NewSession(&poolDriver{pool: pool})
}

// RegisterHooks installs (or replaces) the named hook set. Registering
// under an existing name swaps the callbacks without duplicating them,
// which is what makes re-attaching an observer idempotent.
func (s *Session) RegisterHooks(name string, h Hooks) {
	if _, ok := s.hooks[name]; !ok {
		s.hookOrder = append(s.hookOrder, name)
	}
	s.hooks[name] = h
}

// HasHooks reports whether a hook set is installed under name.
func (s *Session) HasHooks(name string) bool {
	_, ok := s.hooks[name]
	return ok
}

// SetExtension attaches observer-owned state to the session.
func (s *Session) SetExtension(ext any) { s.ext = ext }

// Extension returns the attached observer state, nil when absent.
func (s *Session) Extension() any { return s.ext }

// Depth returns the current transaction nesting depth.
func (s *Session) Depth() int { return s.depth }

// Querier returns the handle bound to the innermost open transaction.
func (s *Session) Querier() Querier { return s.driver.Querier() }

// Begin opens a transaction, or a savepoint when one is already open.
func (s *Session) Begin(ctx context.Context) error {
	if err := s.driver.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.depth++
	for _, name := range s.hookOrder {
		if h := s.hooks[name].AfterBegin; h != nil {
			h(s)
		}
	}
	return nil
}

// Flush pushes pending observer work to storage without ending the
// transaction. Safe to call multiple times per transaction.
func (s *Session) Flush(ctx context.Context) error {
	for _, name := range s.hookOrder {
		if h := s.hooks[name].BeforeFlush; h != nil {
			if err := h(ctx, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// Commit flushes and commits the innermost transaction. Committing the
// outermost transaction additionally fires the before-commit hooks
// first, mirroring the flush-on-commit behavior of ORM sessions.
func (s *Session) Commit(ctx context.Context) error {
	if s.depth == 0 {
		return ErrNoTransaction
	}

	if s.depth == 1 {
		for _, name := range s.hookOrder {
			if h := s.hooks[name].BeforeCommit; h != nil {
				if err := h(ctx, s); err != nil {
					return err
				}
			}
		}
	}

	if err := s.Flush(ctx); err != nil {
		return err
	}

	if err := s.driver.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.depth--
	s.fireAfterEnd(true)
	return nil
}

// Rollback discards the innermost transaction. Observer state scoped to
// the rolled back level is discarded by the AfterEnd hooks.
func (s *Session) Rollback(ctx context.Context) error {
	if s.depth == 0 {
		return ErrNoTransaction
	}
	if err := s.driver.Rollback(ctx); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	s.depth--
	s.fireAfterEnd(false)
	return nil
}

func (s *Session) fireAfterEnd(committed bool) {
	for _, name := range s.hookOrder {
		if h := s.hooks[name].AfterEnd; h != nil {
			h(s, committed)
		}
	}
}

// poolDriver implements TxDriver over pgx: a real transaction at depth
// one, pgx savepoints below it.
type poolDriver struct {
	pool *pgxpool.Pool
	txs  []pgx.Tx
}

func (d *poolDriver) Begin(ctx context.Context) error {
	if len(d.txs) == 0 {
		tx, err := d.pool.Begin(ctx)
		if err != nil {
			return err
		}
		d.txs = append(d.txs, tx)
		return nil
	}
	tx, err := d.txs[len(d.txs)-1].Begin(ctx)
	if err != nil {
		return err
	}
	d.txs = append(d.txs, tx)
	return nil
}

func (d *poolDriver) Commit(ctx context.Context) error {
	tx := d.txs[len(d.txs)-1]
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	d.txs = d.txs[:len(d.txs)-1]
	return nil
}

func (d *poolDriver) Rollback(ctx context.Context) error {
	tx := d.txs[len(d.txs)-1]
	if err := tx.Rollback(ctx); err != nil {
		return err
	}
	d.txs = d.txs[:len(d.txs)-1]
	return nil
}

func (d *poolDriver) Querier() Querier {
	if len(d.txs) == 0 {
		return d.pool
	}
	return d.txs[len(d.txs)-1]
}
