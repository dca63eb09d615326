package entity

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saltyorg/quicksell/internal/database"
)

// Base is embedded by every entity. It carries the surrogate key and the
// creation timestamp used as the default ordering.
type Base struct {
	ID        int64     `db:"id,pk" json:"id"`
	CreatedAt time.Time `db:"created_at,notnull,index" json:"created_at"`
}

// GetID returns the primary key, zero before insert.
func (b *Base) GetID() int64 {
	return b.ID
}

// Identifiable is satisfied by pointers to entities embedding Base.
type Identifiable interface {
	GetID() int64
}

// Column is one declared column.
type Column struct {
	Name       string
	Kind       database.ColumnKind
	PrimaryKey bool
	NotNull    bool
	References string // referenced table for foreign keys
	Default    string // SQL default expression
	OnDelete   string // referential action, e.g. CASCADE or SET NULL

	index []int
	typ   reflect.Type
}

// Index is a declared index. Unique indexes enforce uniqueness constraints.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table is the declared shape of one table.
type Table struct {
	Name    string
	Columns []*Column
	// CompositeKey is set for association tables; entity tables use the
	// column flagged PrimaryKey.
	CompositeKey []string
	Indexes      []Index
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Meta is the reflected description of an entity type.
type Meta struct {
	*Table
	typ     reflect.Type
	byName  map[string]*Column
	idIndex []int
}

// Lookup returns the named column of the entity.
func (m *Meta) Lookup(name string) (*Column, bool) {
	c, ok := m.byName[name]
	return c, ok
}

// Type returns the entity struct type.
func (m *Meta) Type() reflect.Type {
	return m.typ
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
	jsonType = reflect.TypeOf(JSON{})
	baseType = reflect.TypeOf(Base{})
)

type tagOptions struct {
	pk, unique, index, notNull bool
	uniqueGroup                string
	references, def, onDelete  string
}

func parseTag(tag string) (string, tagOptions) {
	parts := strings.Split(tag, ",")
	var opts tagOptions
	for _, p := range parts[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(p), ":")
		switch key {
		case "pk":
			opts.pk = true
		case "unique":
			if value != "" {
				opts.uniqueGroup = value
			} else {
				opts.unique = true
			}
		case "index":
			opts.index = true
		case "notnull":
			opts.notNull = true
		case "fk":
			opts.references = value
		case "default":
			opts.def = value
		case "ondelete":
			opts.onDelete = strings.ToUpper(strings.ReplaceAll(value, "_", " "))
		}
	}
	return strings.TrimSpace(parts[0]), opts
}

func kindOf(t reflect.Type) (database.ColumnKind, bool) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t {
	case timeType:
		return database.KindTime, true
	case uuidType:
		return database.KindUUID, true
	case jsonType:
		return database.KindJSON, true
	}
	switch t.Kind() {
	case reflect.String:
		return database.KindText, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return database.KindInt, true
	case reflect.Bool:
		return database.KindBool, true
	case reflect.Float32, reflect.Float64:
		return database.KindFloat, true
	}
	return 0, false
}

// reflectMeta builds the metadata of struct type t. The table name is the
// type name.
func reflectMeta(t reflect.Type) (*Meta, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity must be a struct, got %s", t)
	}
	if f, ok := t.FieldByName("Base"); !ok || !f.Anonymous || f.Type != baseType {
		return nil, fmt.Errorf("entity %s must embed entity.Base", t.Name())
	}

	m := &Meta{
		Table:  &Table{Name: t.Name()},
		typ:    t,
		byName: make(map[string]*Column),
	}
	groups := make(map[string][]string)

	var walk func(t reflect.Type, prefix []int) error
	walk = func(t reflect.Type, prefix []int) error {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			index := append(append([]int(nil), prefix...), i)
			tag, hasTag := f.Tag.Lookup("db")
			if tag == "-" {
				continue
			}
			if f.Anonymous && !hasTag && f.Type.Kind() == reflect.Struct {
				if err := walk(f.Type, index); err != nil {
					return err
				}
				continue
			}
			if !f.IsExported() || !hasTag {
				continue
			}

			name, opts := parseTag(tag)
			if name == "" {
				return fmt.Errorf("%s.%s: empty column name", m.Name, f.Name)
			}
			if _, dup := m.byName[name]; dup {
				return fmt.Errorf("%s: duplicate column %q", m.Name, name)
			}
			kind, ok := kindOf(f.Type)
			if !ok {
				return fmt.Errorf("%s.%s: unsupported field type %s", m.Name, f.Name, f.Type)
			}

			c := &Column{
				Name:       name,
				Kind:       kind,
				PrimaryKey: opts.pk,
				NotNull:    opts.notNull || opts.pk,
				References: opts.references,
				Default:    opts.def,
				OnDelete:   opts.onDelete,
				index:      index,
				typ:        f.Type,
			}
			m.Columns = append(m.Columns, c)
			m.byName[name] = c

			switch {
			case opts.unique:
				m.Indexes = append(m.Indexes, Index{Name: uniqueName(m.Name, name), Columns: []string{name}, Unique: true})
			case opts.uniqueGroup != "":
				groups[opts.uniqueGroup] = append(groups[opts.uniqueGroup], name)
			case opts.index:
				m.Indexes = append(m.Indexes, Index{Name: indexName(m.Name, name), Columns: []string{name}})
			}
			if opts.pk {
				m.idIndex = index
			}
		}
		return nil
	}
	if err := walk(t, nil); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)
	for _, g := range names {
		m.Indexes = append(m.Indexes, Index{Name: uniqueName(m.Name, g), Columns: groups[g], Unique: true})
	}

	return m, nil
}

func uniqueName(table, suffix string) string {
	return "uq_" + table + "_" + suffix
}

func indexName(table, column string) string {
	return "ix_" + table + "_" + column
}

func (m *Meta) field(v reflect.Value, c *Column) reflect.Value {
	return v.FieldByIndex(c.index)
}

func (m *Meta) id(v reflect.Value) int64 {
	return v.FieldByIndex(m.idIndex).Int()
}

func (m *Meta) setID(v reflect.Value, id int64) {
	v.FieldByIndex(m.idIndex).SetInt(id)
}
