package entity

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/quicksell/internal/database"
)

// DefaultPageSize is used by Paginate unless WithPageSize overrides it.
const DefaultPageSize = 30

// Fields maps column names to new values for Update.
type Fields map[string]any

// Option configures a Model.
type Option func(*modelOptions)

type modelOptions struct {
	pageSize int
}

// WithPageSize sets the number of rows returned per page.
func WithPageSize(n int) Option {
	return func(o *modelOptions) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// Model is the data access layer for one entity type. It is safe for
// concurrent use; all state lives in the Session passed to each call.
type Model[T any] struct {
	meta     *Meta
	pageSize int
}

// NewModel registers T with r and returns its model. It panics when T is not
// a valid entity declaration.
func NewModel[T any](r *Registry, opts ...Option) *Model[T] {
	var zero T
	meta, err := r.Register(zero)
	if err != nil {
		panic(err)
	}
	o := modelOptions{pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Model[T]{meta: meta, pageSize: o.pageSize}
}

// Meta returns the entity metadata.
func (m *Model[T]) Meta() *Meta {
	return m.meta
}

// PageSize returns the number of rows per page.
func (m *Model[T]) PageSize() int {
	return m.pageSize
}

// Insert stores e and sets its ID and CreatedAt. A uniqueness conflict is
// returned as *database.UniqueViolation and leaves the session usable.
func (m *Model[T]) Insert(ctx context.Context, s *database.Session, e *T) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("cannot insert nil %s", m.meta.Name)
	}
	v := reflect.ValueOf(e).Elem()
	if m.meta.id(v) != 0 {
		return fmt.Errorf("%s %d is already inserted", m.meta.Name, m.meta.id(v))
	}
	if c, ok := m.meta.Lookup("created_at"); ok {
		if f := m.meta.field(v, c); f.IsZero() {
			f.Set(reflect.ValueOf(now()))
		}
	}

	d := s.Dialect()
	q := newQuery(d)
	var cols, binds []string
	for _, c := range m.meta.Columns {
		if c.PrimaryKey {
			continue
		}
		cols = append(cols, d.Quote(c.Name))
		binds = append(binds, q.bind(m.meta.field(v, c).Interface()))
	}
	q.write("INSERT INTO ", d.Quote(m.meta.Name), " (", strings.Join(cols, ", "), ") VALUES (", strings.Join(binds, ", "), ")")
	q.write(" RETURNING ", d.Quote("id"))

	var id int64
	err := s.Savepoint(ctx, "insert", func() error {
		return s.ScanRow(ctx, q.String(), q.args, &id)
	})
	if err != nil {
		return m.translate(d, err, v, "insert")
	}
	m.meta.setID(v, id)
	return nil
}

// Get returns the entity with the given id, or nil when it does not exist.
func (m *Model[T]) Get(ctx context.Context, s *database.Session, id int64) (*T, error) {
	return m.FetchOne(ctx, s, Eq("id", id))
}

// FetchOne returns the single entity matching preds, or nil when none does.
// Several matches indicate a missing uniqueness constraint; they are logged
// and the one with the lowest id is returned.
func (m *Model[T]) FetchOne(ctx context.Context, s *database.Session, preds ...Predicate) (*T, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	q := m.selectQuery(s.Dialect())
	if err := q.where(m.meta.Table, preds); err != nil {
		return nil, err
	}
	q.write(" ORDER BY ", q.d.Quote("id"), " LIMIT 2")

	rows, err := s.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", m.meta.Name, err)
	}
	found, err := m.scanAll(rows)
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		log.Error().
			Str("table", m.meta.Name).
			Str("query", q.String()).
			Msg("FetchOne matched more than one row, returning the first")
		return found[0], nil
	}
}

// FetchList returns every entity matching preds ordered by id.
func (m *Model[T]) FetchList(ctx context.Context, s *database.Session, preds ...Predicate) ([]*T, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	q := m.selectQuery(s.Dialect())
	if err := q.where(m.meta.Table, preds); err != nil {
		return nil, err
	}
	q.write(" ORDER BY ", q.d.Quote("id"))

	rows, err := s.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", m.meta.Name, err)
	}
	return m.scanAll(rows)
}

// Paginate returns one zero-based page of entities matching preds. orderBy is
// a column name, optionally prefixed with "-" for descending order; unknown
// names fall back to creation order. Pages never overlap.
func (m *Model[T]) Paginate(ctx context.Context, s *database.Session, orderBy string, page int, preds ...Predicate) ([]*T, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}

	d := s.Dialect()
	q := m.selectQuery(d)
	if err := q.where(m.meta.Table, preds); err != nil {
		return nil, err
	}
	q.write(" ORDER BY ", m.orderClause(d, orderBy))
	q.write(" LIMIT ", strconv.Itoa(m.pageSize), " OFFSET ", strconv.Itoa(page*m.pageSize))

	rows, err := s.QueryContext(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to paginate %s: %w", m.meta.Name, err)
	}
	return m.scanAll(rows)
}

func (m *Model[T]) orderClause(d database.Dialect, orderBy string) string {
	dir := "ASC"
	name := orderBy
	if strings.HasPrefix(name, "-") {
		dir = "DESC"
		name = name[1:]
	}
	id := d.Quote("id")
	if _, ok := m.meta.Lookup(name); !ok {
		return d.Quote("created_at") + " ASC, " + id + " ASC"
	}
	if name == "id" {
		return id + " " + dir
	}
	return d.Quote(name) + " " + dir + ", " + id + " " + dir
}

// Count returns the number of entities matching preds.
func (m *Model[T]) Count(ctx context.Context, s *database.Session, preds ...Predicate) (int64, error) {
	if err := s.Flush(ctx); err != nil {
		return 0, err
	}
	d := s.Dialect()
	q := newQuery(d)
	q.write("SELECT COUNT(*) FROM ", d.Quote(m.meta.Name))
	if err := q.where(m.meta.Table, preds); err != nil {
		return 0, err
	}

	var n int64
	if err := s.ScanRow(ctx, q.String(), q.args, &n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", m.meta.Name, err)
	}
	return n, nil
}

// Update assigns fields to e and writes them. With no fields every column
// except the primary key is written.
func (m *Model[T]) Update(ctx context.Context, s *database.Session, e *T, fields Fields) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("cannot update nil %s", m.meta.Name)
	}
	v := reflect.ValueOf(e).Elem()
	id := m.meta.id(v)
	if id == 0 {
		return fmt.Errorf("cannot update %s before insert", m.meta.Name)
	}

	var columns []*Column
	if len(fields) == 0 {
		for _, c := range m.meta.Columns {
			if !c.PrimaryKey {
				columns = append(columns, c)
			}
		}
	} else {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c, ok := m.meta.Lookup(name)
			if !ok {
				return fmt.Errorf("%s has no column %q", m.meta.Name, name)
			}
			if c.PrimaryKey {
				return fmt.Errorf("cannot update primary key of %s", m.meta.Name)
			}
			if err := assign(m.meta.field(v, c), fields[name]); err != nil {
				return fmt.Errorf("%s.%s: %w", m.meta.Name, name, err)
			}
			columns = append(columns, c)
		}
	}

	d := s.Dialect()
	q := newQuery(d)
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = d.Quote(c.Name) + " = " + q.bind(m.meta.field(v, c).Interface())
	}
	q.write("UPDATE ", d.Quote(m.meta.Name), " SET ", strings.Join(sets, ", "))
	q.write(" WHERE ", d.Quote("id"), " = ", q.bind(id))

	err := s.Savepoint(ctx, "update", func() error {
		_, err := s.ExecContext(ctx, q.String(), q.args...)
		return err
	})
	if err != nil {
		return m.translate(d, err, v, "update")
	}
	return nil
}

// Delete queues the removal of e. The row is deleted when the session
// flushes: on the next read or write through a Model, at the latest right
// before commit.
func (m *Model[T]) Delete(ctx context.Context, s *database.Session, e *T) error {
	if err := s.Check(); err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("cannot delete nil %s", m.meta.Name)
	}
	id := m.meta.id(reflect.ValueOf(e).Elem())
	if id == 0 {
		return fmt.Errorf("cannot delete %s before insert", m.meta.Name)
	}

	d := s.Dialect()
	stmt := "DELETE FROM " + d.Quote(m.meta.Name) + " WHERE " + d.Quote("id") + " = " + d.Placeholder(1)
	return s.Defer(func(ctx context.Context) error {
		if _, err := s.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete %s %d: %w", m.meta.Name, id, err)
		}
		return nil
	})
}

func (m *Model[T]) selectQuery(d database.Dialect) *query {
	names := make([]string, len(m.meta.Columns))
	for i, c := range m.meta.Columns {
		names[i] = c.Name
	}
	return newQuery(d).write("SELECT ", quoteAll(d, names), " FROM ", d.Quote(m.meta.Name))
}

// scanAll reads every row into new entities, dropping repeated ids.
func (m *Model[T]) scanAll(rows *sql.Rows) ([]*T, error) {
	defer rows.Close()

	var out []*T
	seen := make(map[int64]struct{})
	for rows.Next() {
		e := new(T)
		v := reflect.ValueOf(e).Elem()
		dests, apply := scanTargets(m.meta, v)
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", m.meta.Name, err)
		}
		apply()

		id := m.meta.id(v)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s rows: %w", m.meta.Name, err)
	}
	return out, nil
}

// scanTargets returns scan destinations for every column of v. Non-pointer
// fields are scanned through a pointer so that NULL leaves the zero value.
func scanTargets(meta *Meta, v reflect.Value) ([]any, func()) {
	dests := make([]any, len(meta.Columns))
	var pending []func()
	for i, c := range meta.Columns {
		f := meta.field(v, c)
		if f.Kind() == reflect.Pointer {
			dests[i] = f.Addr().Interface()
			continue
		}
		p := reflect.New(reflect.PointerTo(f.Type()))
		dests[i] = p.Interface()
		pending = append(pending, func() {
			if !p.Elem().IsNil() {
				f.Set(p.Elem().Elem())
			}
		})
	}
	return dests, func() {
		for _, fn := range pending {
			fn()
		}
	}
}

// translate turns a uniqueness failure into *database.UniqueViolation,
// completing table and value from the entity when the driver omits them.
func (m *Model[T]) translate(d database.Dialect, err error, v reflect.Value, action string) error {
	uv, ok := d.UniqueViolation(err)
	if !ok {
		return fmt.Errorf("failed to %s %s: %w", action, m.meta.Name, err)
	}
	if uv.Table == "" {
		uv.Table = m.meta.Name
	}
	if uv.Value == "" && uv.Column != "" {
		var values []string
		for _, name := range strings.Split(uv.Column, ", ") {
			c, ok := m.meta.Lookup(name)
			if !ok {
				continue
			}
			values = append(values, display(m.meta.field(v, c)))
		}
		uv.Value = strings.Join(values, ", ")
	}
	log.Debug().Str("table", uv.Table).Str("column", uv.Column).Msg("Unique constraint violated")
	return uv
}

func display(f reflect.Value) string {
	if f.Kind() == reflect.Pointer {
		if f.IsNil() {
			return ""
		}
		f = f.Elem()
	}
	return fmt.Sprint(f.Interface())
}

// assign stores value into field, converting between compatible types.
func assign(field reflect.Value, value any) error {
	if value == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	rv := reflect.ValueOf(value)
	if field.Kind() == reflect.Pointer && !rv.Type().AssignableTo(field.Type()) {
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				field.Set(reflect.Zero(field.Type()))
				return nil
			}
			rv = rv.Elem()
		}
		elem := reflect.New(field.Type().Elem())
		if err := convertInto(elem.Elem(), rv); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}
	return convertInto(field, rv)
}

func convertInto(dst, rv reflect.Value) error {
	switch {
	case rv.Type().AssignableTo(dst.Type()):
		dst.Set(rv)
	case dst.Kind() == reflect.String && rv.Kind() != reflect.String:
		return fmt.Errorf("cannot assign %s to %s", rv.Type(), dst.Type())
	case rv.Type().ConvertibleTo(dst.Type()):
		dst.Set(rv.Convert(dst.Type()))
	default:
		return fmt.Errorf("cannot assign %s to %s", rv.Type(), dst.Type())
	}
	return nil
}

// now is the creation timestamp, truncated to the precision both stores keep.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
