package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite is the embedded dialect, backed by modernc.org/sqlite.
// Writers are serialized by BEGIN IMMEDIATE; readers see committed data.
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (SQLite) ColumnType(kind ColumnKind) string {
	switch kind {
	case KindInt:
		return "INTEGER"
	case KindBool:
		return "BOOLEAN"
	case KindFloat:
		return "REAL"
	case KindTime:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// LikeOperator is plain LIKE, which SQLite matches case-insensitively for ASCII.
func (SQLite) LikeOperator() string { return "LIKE" }

func (SQLite) PrimaryKey() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }

func (SQLite) TxOptions() *sql.TxOptions { return nil }

func (SQLite) IsTransient(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return transientSQLiteCode(se.Code())
	}
	return isConnectivityError(err)
}

// transientSQLiteCode reports whether a result code means the statement lost
// a lock race and may succeed when run again. I/O errors are not included.
func transientSQLiteCode(code int) bool {
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	default:
		return false
	}
}

// UniqueViolation parses `UNIQUE constraint failed: User.email`. SQLite does not
// report the offending value; callers fill it in from the entity.
func (SQLite) UniqueViolation(err error) (*UniqueViolation, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return nil, false
	}
	if se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE && se.Code() != sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
		return nil, false
	}

	msg := se.Error()
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return &UniqueViolation{}, true
	}
	msg = msg[i+len(marker):]
	if j := strings.Index(msg, " ("); j >= 0 {
		msg = msg[:j]
	}

	v := &UniqueViolation{}
	var columns []string
	for _, part := range strings.Split(msg, ", ") {
		table, column, ok := strings.Cut(strings.TrimSpace(part), ".")
		if !ok {
			continue
		}
		v.Table = table
		columns = append(columns, column)
	}
	v.Column = strings.Join(columns, ", ")
	return v, true
}

func (SQLite) SupportsAddConstraint() bool { return false }

// LockSchema is a no-op: the immediate transaction already holds the write lock.
func (SQLite) LockSchema(context.Context, *sql.Tx) error { return nil }

func (SQLite) OptimizeStatement() string { return "PRAGMA optimize" }

func (SQLite) Introspect(ctx context.Context, q Queryer) (*LiveSchema, error) {
	live := NewLiveSchema()

	rows, err := q.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	tables, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	for _, name := range tables {
		t := live.Table(name)

		rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", name)
		if err != nil {
			return nil, fmt.Errorf("failed to list columns of %s: %w", name, err)
		}
		columns, err := scanStrings(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to list columns of %s: %w", name, err)
		}
		for _, c := range columns {
			t.Columns[c] = true
		}

		rows, err = q.QueryContext(ctx, `SELECT "from" FROM pragma_foreign_key_list(?)`, name)
		if err != nil {
			return nil, fmt.Errorf("failed to list foreign keys of %s: %w", name, err)
		}
		fks, err := scanStrings(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to list foreign keys of %s: %w", name, err)
		}
		for _, c := range fks {
			t.ForeignKeys[c] = true
		}
	}

	rows, err = q.QueryContext(ctx, `
		SELECT tbl_name, name FROM sqlite_master
		WHERE type = 'index' AND name NOT LIKE 'sqlite_autoindex_%'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	indexes, err := scanPairs(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	for _, ix := range indexes {
		if t, ok := live.Tables[ix[0]]; ok {
			t.Indexes[ix[1]] = true
		}
	}

	return live, nil
}
