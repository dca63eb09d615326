package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/quicksell/internal/config"
)

// Manager is the approved entrypoint for database access across the app.
// It owns the process-wide pool and hands out one Session per unit of work.
type Manager struct {
	mu  sync.Mutex
	cfg config.DatabaseConfig
	db  *DB
}

// NewManager returns an unconnected manager for cfg.
func NewManager(cfg config.DatabaseConfig) *Manager {
	return &Manager{cfg: cfg}
}

// Connect opens the pool. Calling it on a connected manager is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.db != nil {
		return nil
	}
	db, err := Open(ctx, m.cfg)
	if err != nil {
		return err
	}
	m.db = db
	log.Info().Str("driver", db.Dialect().Name()).Msg("Database connected")
	return nil
}

// Close releases the pool. A later Connect opens a new one.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// DB returns the connected handle, or nil before Connect.
func (m *Manager) DB() *DB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db
}

// Dialect returns the dialect configured for this manager.
func (m *Manager) Dialect() Dialect {
	if db := m.DB(); db != nil {
		return db.Dialect()
	}
	d, err := DialectFor(m.cfg.Driver)
	if err != nil {
		return nil
	}
	return d
}

// handle returns the pool, connecting lazily on first use.
func (m *Manager) handle(ctx context.Context) (*DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.connectLocked(ctx); err != nil {
		return nil, err
	}
	return m.db, nil
}

// StartSession runs fn inside one unit of work. The session is bound into the
// context passed to fn. A nil return flushes deferred writes and commits; an
// error, a panic or a cancelled context rolls back. The session is closed
// before StartSession returns in every case and panics are re-raised.
func (m *Manager) StartSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	db, err := m.handle(ctx)
	if err != nil {
		return err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin session: %w", err)
	}
	tx, err := conn.BeginTx(ctx, db.Dialect().TxOptions())
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to begin session: %w", err)
	}

	s := newSession(tx, db.Dialect())
	sctx := WithSession(ctx, s)
	committed := false
	// A connection whose transaction ended in an unknown state is not
	// returned to the pool.
	broken := false

	defer func() {
		r := recover()
		if !committed {
			if rbErr := s.rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback session")
				broken = true
				if r == nil {
					err = errors.Join(err, rbErr)
				}
			}
		}
		s.close()
		if broken {
			discard(conn)
		}
		_ = conn.Close()
		if r != nil {
			panic(r)
		}
	}()

	if err = fn(sctx, s); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = s.Flush(sctx); err != nil {
		return fmt.Errorf("failed to flush session: %w", err)
	}
	if err = s.commit(); err != nil {
		// SQLite keeps the transaction open when COMMIT fails on a deferred
		// constraint.
		broken = true
		return fmt.Errorf("failed to commit session: %w", err)
	}
	committed = true

	s.runAfterCommit()
	return nil
}

// discard closes the driver connection behind conn instead of returning it
// to the pool.
func discard(conn *sql.Conn) {
	if err := conn.Raw(func(any) error { return driver.ErrBadConn }); err != nil && !errors.Is(err, driver.ErrBadConn) {
		log.Warn().Err(err).Msg("Failed to discard database connection")
	}
}
