package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// schemaLockKey is the advisory lock held while the schema is reconciled.
const schemaLockKey = 0x71756963 // "quic"

// Postgres is the production dialect, backed by github.com/lib/pq.
type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "postgres" }

func (Postgres) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (Postgres) Quote(ident string) string {
	return pq.QuoteIdentifier(ident)
}

func (Postgres) ColumnType(kind ColumnKind) string {
	switch kind {
	case KindInt:
		return "BIGINT"
	case KindBool:
		return "BOOLEAN"
	case KindFloat:
		return "DOUBLE PRECISION"
	case KindTime:
		return "TIMESTAMPTZ"
	case KindUUID:
		return "UUID"
	case KindJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (Postgres) LikeOperator() string { return "ILIKE" }

func (Postgres) PrimaryKey() string { return "BIGSERIAL PRIMARY KEY" }

// TxOptions pins READ COMMITTED; category cache invalidation relies on a
// committed write being visible to every session opened afterwards.
func (Postgres) TxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

func (Postgres) IsTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08": // connection_exception
			return true
		case pqErr.Code == "57P01", pqErr.Code == "57P02", pqErr.Code == "57P03":
			return true
		default:
			return false
		}
	}
	return isConnectivityError(err)
}

// UniqueViolation parses the key detail of a 23505 error,
// e.g. `Key (email)=(a@b.c) already exists.`
func (Postgres) UniqueViolation(err error) (*UniqueViolation, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return nil, false
	}
	v := &UniqueViolation{Table: pqErr.Table, Column: pqErr.Column}

	detail := strings.TrimSuffix(strings.TrimSpace(pqErr.Detail), ".")
	detail = strings.TrimSuffix(detail, " already exists")
	if key, value, ok := strings.Cut(detail, ")=("); ok {
		if i := strings.Index(key, "("); i >= 0 {
			v.Column = key[i+1:]
		}
		v.Value = strings.TrimSuffix(value, ")")
	}
	return v, true
}

func (Postgres) SupportsAddConstraint() bool { return true }

func (Postgres) LockSchema(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", schemaLockKey)
	return err
}

func (Postgres) OptimizeStatement() string { return "ANALYZE" }

func (Postgres) Introspect(ctx context.Context, q Queryer) (*LiveSchema, error) {
	live := NewLiveSchema()

	rows, err := q.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	tables, err := scanStrings(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	for _, name := range tables {
		live.Table(name)
	}

	rows, err = q.QueryContext(ctx, `
		SELECT table_name, column_name FROM information_schema.columns
		WHERE table_schema = current_schema()
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	columns, err := scanPairs(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	for _, c := range columns {
		if t, ok := live.Tables[c[0]]; ok {
			t.Columns[c[1]] = true
		}
	}

	rows, err = q.QueryContext(ctx, `
		SELECT tablename, indexname FROM pg_indexes
		WHERE schemaname = current_schema()
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

	rows, err = q.QueryContext(ctx, `
		SELECT tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = current_schema()
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign keys: %w", err)
	}
	fks, err := scanPairs(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign keys: %w", err)
	}
	for _, fk := range fks {
		if t, ok := live.Tables[fk[0]]; ok {
			t.ForeignKeys[fk[1]] = true
		}
	}

	return live, nil
}
