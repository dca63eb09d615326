package schema

import (
	"fmt"
	"strings"
)

// OpKind is the kind of an additive schema change.
type OpKind int

const (
	OpCreateTable OpKind = iota
	OpAddColumn
	OpAddForeignKey
	OpAddUniqueConstraint
	OpAddIndex
)

func (k OpKind) String() string {
	switch k {
	case OpCreateTable:
		return "CreateTable"
	case OpAddColumn:
		return "AddColumn"
	case OpAddForeignKey:
		return "AddForeignKey"
	case OpAddUniqueConstraint:
		return "AddUniqueConstraint"
	case OpAddIndex:
		return "AddIndex"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Op is one planned change and the statement that applies it.
type Op struct {
	Kind   OpKind
	Table  string
	Target string // column or index name, empty for CreateTable
	SQL    string
}

func (o Op) String() string {
	if o.Target == "" {
		return o.Kind.String() + " " + o.Table
	}
	return o.Kind.String() + " " + o.Table + "." + o.Target
}

// FindingKind is a destructive change that reconciliation never applies.
type FindingKind string

const (
	DropTable  FindingKind = "DropTable"
	DropColumn FindingKind = "DropColumn"
	DropIndex  FindingKind = "DropIndex"
)

// Finding is live schema with no declaration left. It must be migrated by
// hand.
type Finding struct {
	Kind  FindingKind
	Table string
	Name  string
}

func (f Finding) String() string {
	if f.Name == "" {
		return string(f.Kind) + " " + f.Table
	}
	return string(f.Kind) + " " + f.Table + "." + f.Name
}

// Plan is the ordered diff between the declared and the live schema.
type Plan struct {
	Ops     []Op
	Skipped []Finding
}

// Empty reports whether there is nothing to apply.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Ops) == 0
}

func (p *Plan) String() string {
	var b strings.Builder
	for _, op := range p.Ops {
		b.WriteString(op.String())
		b.WriteByte('\n')
	}
	for _, f := range p.Skipped {
		b.WriteString("skipped: ")
		b.WriteString(f.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// ReconcileError is returned when a planned change could not be applied.
// No change of the plan is kept.
type ReconcileError struct {
	Op  string
	Err error
}

func (e *ReconcileError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("schema reconciliation failed: %v", e.Err)
	}
	return fmt.Sprintf("schema reconciliation failed at %s: %v", e.Op, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}
