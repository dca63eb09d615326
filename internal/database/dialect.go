package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"syscall"
)

// ColumnKind is the storage class of a declared column, independent of the store.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInt
	KindBool
	KindFloat
	KindTime
	KindUUID
	KindJSON
)

// Queryer is satisfied by *sql.DB, *sql.Tx and *Session.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Dialect hides the differences between the supported relational stores.
type Dialect interface {
	// Name is the short name used in configuration ("postgres", "sqlite").
	Name() string
	// DriverName is the database/sql driver registered for this dialect.
	DriverName() string
	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder(n int) string
	// Quote quotes an identifier.
	Quote(ident string) string
	// ColumnType maps a column kind to the store's type name.
	ColumnType(kind ColumnKind) string
	// LikeOperator is the case-insensitive pattern match operator.
	LikeOperator() string
	// PrimaryKey is the column definition of an auto-incrementing integer key.
	PrimaryKey() string
	// TxOptions are used for every unit of work.
	TxOptions() *sql.TxOptions
	// IsTransient reports connectivity failures that are worth one retry.
	IsTransient(err error) bool
	// UniqueViolation extracts the violated table and column from err.
	UniqueViolation(err error) (*UniqueViolation, bool)
	// SupportsAddConstraint reports whether ALTER TABLE ... ADD CONSTRAINT works.
	SupportsAddConstraint() bool
	// LockSchema serializes schema changes across processes inside tx.
	LockSchema(ctx context.Context, tx *sql.Tx) error
	// Introspect reads the live schema.
	Introspect(ctx context.Context, q Queryer) (*LiveSchema, error)
	// OptimizeStatement refreshes planner statistics.
	OptimizeStatement() string
}

// LiveTable is the introspected shape of one table.
type LiveTable struct {
	Name        string
	Columns     map[string]bool
	Indexes     map[string]bool
	ForeignKeys map[string]bool // referencing column names
}

// LiveSchema is the introspected shape of the store.
type LiveSchema struct {
	Tables map[string]*LiveTable
}

// NewLiveSchema returns an empty schema snapshot.
func NewLiveSchema() *LiveSchema {
	return &LiveSchema{Tables: make(map[string]*LiveTable)}
}

// Table returns the named table, creating an empty entry if needed.
func (s *LiveSchema) Table(name string) *LiveTable {
	t, ok := s.Tables[name]
	if !ok {
		t = &LiveTable{
			Name:        name,
			Columns:     make(map[string]bool),
			Indexes:     make(map[string]bool),
			ForeignKeys: make(map[string]bool),
		}
		s.Tables[name] = t
	}
	return t
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "postgres", "postgresql":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, errors.New("unsupported database driver: " + name)
	}
}

// isConnectivityError covers failures below the SQL layer, shared by all dialects.
func isConnectivityError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanPairs(rows *sql.Rows) ([][2]string, error) {
	defer rows.Close()
	var out [][2]string
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, err
		}
		out = append(out, [2]string{a, b})
	}
	return out, rows.Err()
}
