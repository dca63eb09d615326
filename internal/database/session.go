package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Session is one unit of work. It is owned by a single goroutine and must not
// be retained after StartSession returns.
type Session struct {
	tx      *sql.Tx
	dialect Dialect

	retried    bool
	savepoints int
	deferred   []func(ctx context.Context) error
	hooks      []func()
	touched    map[string]bool
	closed     bool
}

func newSession(tx *sql.Tx, dialect Dialect) *Session {
	return &Session{tx: tx, dialect: dialect}
}

// Dialect returns the dialect of the store behind the session.
func (s *Session) Dialect() Dialect {
	return s.dialect
}

// Check returns ErrNoActiveSession when s is nil or already closed.
func (s *Session) Check() error {
	if s == nil || s.closed || s.tx == nil {
		return ErrNoActiveSession
	}
	return nil
}

// ExecContext runs a statement, retrying once on a transient failure.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}
	var res sql.Result
	err := retryOnce(ctx, s, query, func() error {
		var err error
		res, err = s.tx.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// QueryContext runs a query, retrying once on a transient failure.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := s.Check(); err != nil {
		return nil, err
	}
	var rows *sql.Rows
	err := retryOnce(ctx, s, query, func() error {
		var err error
		rows, err = s.tx.QueryContext(ctx, query, args...)
		return err
	})
	return rows, err
}

// ScanRow runs a single-row query and scans it into dest. sql.ErrNoRows is
// returned unchanged.
func (s *Session) ScanRow(ctx context.Context, query string, args []any, dest ...any) error {
	if err := s.Check(); err != nil {
		return err
	}
	return retryOnce(ctx, s, query, func() error {
		return s.tx.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

// Savepoint runs fn inside a named savepoint. When fn fails the work done
// since the savepoint is rolled back and the transaction stays usable.
func (s *Session) Savepoint(ctx context.Context, name string, fn func() error) error {
	if err := s.Check(); err != nil {
		return err
	}
	s.savepoints++
	sp := s.dialect.Quote(fmt.Sprintf("%s_%d", name, s.savepoints))

	if _, err := s.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := s.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to rollback savepoint: %w", rbErr))
		}
		if _, relErr := s.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); relErr != nil {
			return errors.Join(err, fmt.Errorf("failed to release savepoint: %w", relErr))
		}
		return err
	}

	if _, err := s.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// Defer queues a write that is executed by Flush, at the latest right before
// commit.
func (s *Session) Defer(fn func(ctx context.Context) error) error {
	if err := s.Check(); err != nil {
		return err
	}
	s.deferred = append(s.deferred, fn)
	return nil
}

// Pending returns the number of queued writes.
func (s *Session) Pending() int {
	return len(s.deferred)
}

// Flush executes queued writes in order.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.Check(); err != nil {
		return err
	}
	for len(s.deferred) > 0 {
		fn := s.deferred[0]
		s.deferred = s.deferred[1:]
		if err := fn(ctx); err != nil {
			s.deferred = nil
			return err
		}
	}
	return nil
}

// AfterCommit registers fn to run once the session has committed. Hooks are
// discarded on rollback.
func (s *Session) AfterCommit(fn func()) {
	if s == nil || s.closed {
		return
	}
	s.hooks = append(s.hooks, fn)
}

// Touch records that the session changed data under key. Shared read models
// use it to avoid caching state that is not committed yet.
func (s *Session) Touch(key string) {
	if s == nil || s.closed {
		return
	}
	if s.touched == nil {
		s.touched = make(map[string]bool)
	}
	s.touched[key] = true
}

// Touched reports whether Touch was called with key.
func (s *Session) Touched(key string) bool {
	return s != nil && s.touched[key]
}

func (s *Session) commit() error {
	return s.tx.Commit()
}

func (s *Session) rollback() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (s *Session) runAfterCommit() {
	hooks := s.hooks
	s.hooks = nil
	for _, fn := range hooks {
		fn()
	}
}

func (s *Session) close() {
	if n := len(s.deferred); n > 0 {
		log.Debug().Int("pending", n).Msg("Discarding queued writes of closed session")
	}
	s.deferred = nil
	s.hooks = nil
	s.touched = nil
	s.closed = true
}
