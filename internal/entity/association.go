package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/saltyorg/quicksell/internal/database"
)

// Association is a declared many-to-many link table between two entity types.
type Association struct {
	a, b        *Meta
	left, right string
	table       *Table
}

// Name returns the link table name.
func (a *Association) Name() string {
	return a.table.Name
}

// Table returns the declared link table.
func (a *Association) Table() *Table {
	return a.table
}

// sides returns the ids of x and y as (left, right), in either argument order.
func (a *Association) sides(x, y Identifiable) (int64, int64, error) {
	tx, ty := entityType(x), entityType(y)
	switch {
	case tx == a.a.typ && ty == a.b.typ:
		return x.GetID(), y.GetID(), nil
	case tx == a.b.typ && ty == a.a.typ:
		return y.GetID(), x.GetID(), nil
	default:
		return 0, 0, fmt.Errorf("%s does not link %v and %v", a.Name(), tx, ty)
	}
}

func entityType(e Identifiable) reflect.Type {
	t := reflect.TypeOf(e)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func requirePersisted(ids ...int64) error {
	for _, id := range ids {
		if id == 0 {
			return fmt.Errorf("entity must be inserted before it can be linked")
		}
	}
	return nil
}

// Link records the pair. Linking an already linked pair is a no-op.
func (a *Association) Link(ctx context.Context, s *database.Session, x, y Identifiable) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	l, r, err := a.sides(x, y)
	if err != nil {
		return err
	}
	if err := requirePersisted(l, r); err != nil {
		return err
	}

	d := s.Dialect()
	q := newQuery(d)
	q.write("INSERT INTO ", d.Quote(a.Name()), " (", quoteAll(d, []string{a.left, a.right, "created_at"}), ") VALUES (")
	q.write(q.bind(l), ", ", q.bind(r), ", ", q.bind(now()), ")")

	err = s.Savepoint(ctx, "link", func() error {
		_, err := s.ExecContext(ctx, q.String(), q.args...)
		return err
	})
	if err != nil {
		if _, dup := d.UniqueViolation(err); dup {
			return nil
		}
		return fmt.Errorf("failed to link %s: %w", a.Name(), err)
	}
	return nil
}

// Unlink removes the pair if present.
func (a *Association) Unlink(ctx context.Context, s *database.Session, x, y Identifiable) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	l, r, err := a.sides(x, y)
	if err != nil {
		return err
	}

	d := s.Dialect()
	q := newQuery(d)
	q.write("DELETE FROM ", d.Quote(a.Name()), " WHERE ", d.Quote(a.left), " = ", q.bind(l))
	q.write(" AND ", d.Quote(a.right), " = ", q.bind(r))
	if _, err := s.ExecContext(ctx, q.String(), q.args...); err != nil {
		return fmt.Errorf("failed to unlink %s: %w", a.Name(), err)
	}
	return nil
}

// Has reports whether the pair is linked.
func (a *Association) Has(ctx context.Context, s *database.Session, x, y Identifiable) (bool, error) {
	if err := s.Flush(ctx); err != nil {
		return false, err
	}
	l, r, err := a.sides(x, y)
	if err != nil {
		return false, err
	}

	d := s.Dialect()
	q := newQuery(d)
	q.write("SELECT 1 FROM ", d.Quote(a.Name()), " WHERE ", d.Quote(a.left), " = ", q.bind(l))
	q.write(" AND ", d.Quote(a.right), " = ", q.bind(r))

	var one int
	err = s.ScanRow(ctx, q.String(), q.args, &one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query %s: %w", a.Name(), err)
	}
	return true, nil
}

// Linked returns the ids of the entities linked to owner, oldest link first.
func (a *Association) Linked(ctx context.Context, s *database.Session, owner Identifiable) ([]int64, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}

	var own, other string
	switch entityType(owner) {
	case a.a.typ:
		own, other = a.left, a.right
	case a.b.typ:
		own, other = a.right, a.left
	default:
		return nil, fmt.Errorf("%s does not link %v", a.Name(), entityType(owner))
	}

	d := s.Dialect()
	q := newQuery(d)
	q.write("SELECT ", d.Quote(other), " FROM ", d.Quote(a.Name()), " WHERE ", d.Quote(own), " = ", q.bind(owner.GetID()))
	q.write(" ORDER BY ", d.Quote("created_at"), ", ", d.Quote(other))

	rows, err := s.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", a.Name(), err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", a.Name(), err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
