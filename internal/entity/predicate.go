package entity

import (
	"fmt"
	"strings"

	"github.com/saltyorg/quicksell/internal/database"
)

type op int

const (
	opEq op = iota
	opNe
	opGt
	opGte
	opLt
	opLte
	opLike
	opIn
	opIsNull
	opNotNull
)

var opSQL = map[op]string{
	opEq:  "=",
	opNe:  "<>",
	opGt:  ">",
	opGte: ">=",
	opLt:  "<",
	opLte: "<=",
}

// Predicate is one condition on a declared column. Predicates passed together
// are combined with AND.
type Predicate struct {
	column string
	op     op
	value  any
	values []any
}

// Eq matches rows where column equals value.
func Eq(column string, value any) Predicate {
	return Predicate{column: column, op: opEq, value: value}
}

// Ne matches rows where column differs from value.
func Ne(column string, value any) Predicate {
	return Predicate{column: column, op: opNe, value: value}
}

// Gt matches rows where column is greater than value.
func Gt(column string, value any) Predicate {
	return Predicate{column: column, op: opGt, value: value}
}

// Gte matches rows where column is greater than or equal to value.
func Gte(column string, value any) Predicate {
	return Predicate{column: column, op: opGte, value: value}
}

// Lt matches rows where column is less than value.
func Lt(column string, value any) Predicate {
	return Predicate{column: column, op: opLt, value: value}
}

// Lte matches rows where column is less than or equal to value.
func Lte(column string, value any) Predicate {
	return Predicate{column: column, op: opLte, value: value}
}

// ILike matches a case-insensitive pattern with % and _ wildcards.
func ILike(column, pattern string) Predicate {
	return Predicate{column: column, op: opLike, value: pattern}
}

// In matches any of values. An empty list matches nothing.
func In[V any](column string, values ...V) Predicate {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Predicate{column: column, op: opIn, values: vs}
}

// IsNull matches rows where column is NULL.
func IsNull(column string) Predicate {
	return Predicate{column: column, op: opIsNull}
}

// NotNull matches rows where column is not NULL.
func NotNull(column string) Predicate {
	return Predicate{column: column, op: opNotNull}
}

// query accumulates SQL text and positional arguments for one statement.
type query struct {
	d    database.Dialect
	sb   strings.Builder
	args []any
}

func newQuery(d database.Dialect) *query {
	return &query{d: d}
}

func (q *query) write(parts ...string) *query {
	for _, p := range parts {
		q.sb.WriteString(p)
	}
	return q
}

func (q *query) bind(v any) string {
	q.args = append(q.args, v)
	return q.d.Placeholder(len(q.args))
}

func (q *query) String() string {
	return q.sb.String()
}

// where appends a WHERE clause for preds, validating every column against t.
func (q *query) where(t *Table, preds []Predicate) error {
	if len(preds) == 0 {
		return nil
	}
	clauses := make([]string, 0, len(preds))
	for _, p := range preds {
		if _, ok := t.Column(p.column); !ok {
			return fmt.Errorf("%s has no column %q", t.Name, p.column)
		}
		col := q.d.Quote(p.column)

		switch p.op {
		case opIsNull:
			clauses = append(clauses, col+" IS NULL")
		case opNotNull:
			clauses = append(clauses, col+" IS NOT NULL")
		case opLike:
			clauses = append(clauses, col+" "+q.d.LikeOperator()+" "+q.bind(p.value))
		case opIn:
			if len(p.values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			binds := make([]string, len(p.values))
			for i, v := range p.values {
				binds[i] = q.bind(v)
			}
			clauses = append(clauses, col+" IN ("+strings.Join(binds, ", ")+")")
		case opEq:
			if p.value == nil {
				clauses = append(clauses, col+" IS NULL")
				continue
			}
			clauses = append(clauses, col+" = "+q.bind(p.value))
		default:
			clauses = append(clauses, col+" "+opSQL[p.op]+" "+q.bind(p.value))
		}
	}
	q.write(" WHERE ", strings.Join(clauses, " AND "))
	return nil
}

func quoteAll(d database.Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.Quote(n)
	}
	return strings.Join(quoted, ", ")
}
