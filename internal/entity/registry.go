package entity

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/saltyorg/quicksell/internal/database"
)

// Registry holds the declared entity types and associations. Everything is
// declared at startup; the reconciler reads the result through Tables.
type Registry struct {
	mu     sync.Mutex
	metas  map[reflect.Type]*Meta
	order  []*Meta
	assocs map[string]*Association
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		metas:  make(map[reflect.Type]*Meta),
		assocs: make(map[string]*Association),
	}
}

// Register declares the entity type of e (a struct value or pointer).
// Registering the same type twice returns the existing metadata.
func (r *Registry) Register(e any) (*Meta, error) {
	t := reflect.TypeOf(e)
	if t == nil {
		return nil, fmt.Errorf("cannot register nil entity")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(t)
}

func (r *Registry) registerLocked(t reflect.Type) (*Meta, error) {
	if m, ok := r.metas[t]; ok {
		return m, nil
	}
	for _, m := range r.order {
		if m.Name == t.Name() {
			return nil, fmt.Errorf("table %s is already declared by %s", t.Name(), m.typ)
		}
	}
	m, err := reflectMeta(t)
	if err != nil {
		return nil, err
	}
	r.metas[t] = m
	r.order = append(r.order, m)
	return m, nil
}

// MustRegister registers every entity and panics on an invalid declaration.
func (r *Registry) MustRegister(entities ...any) {
	for _, e := range entities {
		if _, err := r.Register(e); err != nil {
			panic(err)
		}
	}
}

// Meta returns the metadata of a registered entity type.
func (r *Registry) Meta(e any) (*Meta, bool) {
	t := reflect.TypeOf(e)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metas[t]
	return m, ok
}

// Associate returns the many-to-many association between the entity types
// of a and b, declaring it on first use. The result does not depend on the
// argument order. It panics if either type is not a valid entity, which is
// a declaration error caught at startup.
func (r *Registry) Associate(a, b any) *Association {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	for ta != nil && ta.Kind() == reflect.Pointer {
		ta = ta.Elem()
	}
	for tb != nil && tb.Kind() == reflect.Pointer {
		tb = tb.Elem()
	}
	if ta == nil || tb == nil {
		panic("entity: cannot associate nil entities")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ma, err := r.registerLocked(ta)
	if err != nil {
		panic(err)
	}
	mb, err := r.registerLocked(tb)
	if err != nil {
		panic(err)
	}
	if ma == mb {
		panic(fmt.Sprintf("entity: %s cannot be associated with itself", ma.Name))
	}
	if ma.Name > mb.Name {
		ma, mb = mb, ma
	}

	name := "Association" + ma.Name + mb.Name
	if assoc, ok := r.assocs[name]; ok {
		return assoc
	}
	assoc := newAssociation(name, ma, mb)
	r.assocs[name] = assoc
	return assoc
}

// Associations returns the declared associations sorted by table name.
func (r *Registry) Associations() []*Association {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Association, 0, len(r.assocs))
	for _, a := range r.assocs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].table.Name < out[j].table.Name })
	return out
}

// Tables returns the full declared schema: entity tables in registration
// order followed by association tables.
func (r *Registry) Tables() []*Table {
	r.mu.Lock()
	tables := make([]*Table, 0, len(r.order)+len(r.assocs))
	for _, m := range r.order {
		tables = append(tables, m.Table)
	}
	r.mu.Unlock()

	for _, a := range r.Associations() {
		tables = append(tables, a.table)
	}
	return tables
}

func newAssociation(name string, a, b *Meta) *Association {
	left := strings.ToLower(a.Name) + "_id"
	right := strings.ToLower(b.Name) + "_id"
	return &Association{
		a:     a,
		b:     b,
		left:  left,
		right: right,
		table: &Table{
			Name: name,
			Columns: []*Column{
				{Name: left, Kind: database.KindInt, NotNull: true, References: a.Name, OnDelete: "CASCADE"},
				{Name: right, Kind: database.KindInt, NotNull: true, References: b.Name, OnDelete: "CASCADE"},
				{Name: "created_at", Kind: database.KindTime, NotNull: true},
			},
			CompositeKey: []string{left, right},
			Indexes: []Index{
				{Name: indexName(name, left), Columns: []string{left}},
				{Name: indexName(name, right), Columns: []string{right}},
			},
		},
	}
}
