package schema

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/entity"
)

// State is the lifecycle position of a Reconciler.
type State int32

const (
	StateIdle State = iota
	StateDiffing
	StateApplying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiffing:
		return "diffing"
	case StateApplying:
		return "applying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Declaration is the source of the declared schema.
type Declaration interface {
	Tables() []*entity.Table
}

// Reconciler brings the live schema in line with the declared one using
// additive changes only.
type Reconciler struct {
	db    *database.DB
	decl  Declaration
	state atomic.Int32
}

// NewReconciler returns an idle reconciler.
func NewReconciler(db *database.DB, decl Declaration) *Reconciler {
	return &Reconciler{db: db, decl: decl}
}

// State returns the current state.
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

// Reconcile diffs the declared schema against the live one and applies the
// additive part of the difference in a single transaction. Destructive
// differences are logged and returned in Plan.Skipped. Failures are returned
// as *ReconcileError and leave the schema untouched.
func (r *Reconciler) Reconcile(ctx context.Context) (*Plan, error) {
	r.state.Store(int32(StateDiffing))
	d := r.db.Dialect()

	var plan *Plan
	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := d.LockSchema(ctx, tx); err != nil {
			return &ReconcileError{Op: "lock", Err: err}
		}

		live, err := d.Introspect(ctx, tx)
		if err != nil {
			return &ReconcileError{Op: "introspect", Err: err}
		}

		plan = Diff(d, r.decl.Tables(), live)
		for _, f := range plan.Skipped {
			log.Warn().
				Str("kind", string(f.Kind)).
				Str("table", f.Table).
				Str("name", f.Name).
				Msg("Live schema has undeclared objects, manual migration required")
		}
		if plan.Empty() {
			return nil
		}

		r.state.Store(int32(StateApplying))
		log.Info().Int("operations", len(plan.Ops)).Msg("Applying schema changes")
		for _, op := range plan.Ops {
			log.Info().Str("op", op.String()).Msg("Applying schema change")
			if _, err := tx.ExecContext(ctx, op.SQL); err != nil {
				return &ReconcileError{Op: op.String(), Err: err}
			}
		}
		return nil
	})
	if err != nil {
		r.state.Store(int32(StateFailed))
		var re *ReconcileError
		if !errors.As(err, &re) {
			err = &ReconcileError{Err: err}
		}
		log.Error().Err(err).Msg("Schema reconciliation failed")
		return plan, err
	}

	r.state.Store(int32(StateDone))
	if plan.Empty() {
		log.Debug().Msg("Schema is up to date")
	} else {
		log.Info().Int("operations", len(plan.Ops)).Msg("Schema reconciliation complete")
	}
	return plan, nil
}

// Diff computes the plan that brings live in line with tables. It never
// emits destructive operations.
func Diff(d database.Dialect, tables []*entity.Table, live *database.LiveSchema) *Plan {
	plan := &Plan{}
	var creates, addColumns, addFKs, addUniques, addIndexes []Op

	declared := make(map[string]*entity.Table, len(tables))
	var missing []*entity.Table
	for _, t := range tables {
		declared[t.Name] = t
		if _, ok := live.Tables[t.Name]; !ok {
			missing = append(missing, t)
		}
	}

	ordered, deferred := orderTables(missing, d.SupportsAddConstraint())
	for _, t := range ordered {
		creates = append(creates, Op{Kind: OpCreateTable, Table: t.Name, SQL: createTableSQL(d, t, deferred[t.Name])})
		for _, c := range t.Columns {
			if deferred[t.Name][c.Name] {
				addFKs = append(addFKs, Op{Kind: OpAddForeignKey, Table: t.Name, Target: c.Name, SQL: addForeignKeySQL(d, t.Name, c)})
			}
		}
	}

	for _, t := range tables {
		lt, exists := live.Tables[t.Name]
		if exists {
			for _, c := range t.Columns {
				if lt.Columns[c.Name] {
					if c.References != "" && !lt.ForeignKeys[c.Name] && d.SupportsAddConstraint() {
						addFKs = append(addFKs, Op{Kind: OpAddForeignKey, Table: t.Name, Target: c.Name, SQL: addForeignKeySQL(d, t.Name, c)})
					}
					continue
				}
				notNull := c.NotNull
				if notNull && c.Default == "" {
					log.Warn().
						Str("table", t.Name).
						Str("column", c.Name).
						Msg("Adding NOT NULL column without default as nullable")
					notNull = false
				}
				inlineFK := !d.SupportsAddConstraint()
				addColumns = append(addColumns, Op{Kind: OpAddColumn, Table: t.Name, Target: c.Name, SQL: addColumnSQL(d, t.Name, c, notNull, inlineFK)})
				if c.References != "" && !inlineFK {
					addFKs = append(addFKs, Op{Kind: OpAddForeignKey, Table: t.Name, Target: c.Name, SQL: addForeignKeySQL(d, t.Name, c)})
				}
			}
		}

		for _, ix := range t.Indexes {
			if exists && lt.Indexes[ix.Name] {
				continue
			}
			op := Op{Kind: OpAddIndex, Table: t.Name, Target: ix.Name, SQL: createIndexSQL(d, t.Name, ix)}
			if ix.Unique {
				op.Kind = OpAddUniqueConstraint
				addUniques = append(addUniques, op)
			} else {
				addIndexes = append(addIndexes, op)
			}
		}
	}

	plan.Ops = append(plan.Ops, creates...)
	plan.Ops = append(plan.Ops, addColumns...)
	plan.Ops = append(plan.Ops, addFKs...)
	plan.Ops = append(plan.Ops, addUniques...)
	plan.Ops = append(plan.Ops, addIndexes...)
	plan.Skipped = drift(declared, live)
	return plan
}

// orderTables sorts tables so that referenced tables are created first. With
// addConstraints, a reference closing a cycle is deferred to AddForeignKey;
// otherwise every reference is declared inline, which only stores that resolve
// foreign keys lazily accept.
func orderTables(tables []*entity.Table, addConstraints bool) ([]*entity.Table, map[string]map[string]bool) {
	byName := make(map[string]*entity.Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(tables))
	deferred := make(map[string]map[string]bool)
	var ordered []*entity.Table

	var visit func(t *entity.Table)
	visit = func(t *entity.Table) {
		state[t.Name] = visiting
		for _, c := range t.Columns {
			ref, ok := byName[c.References]
			if !ok || ref == t {
				continue
			}
			switch state[ref.Name] {
			case unvisited:
				visit(ref)
			case visiting:
				if addConstraints {
					if deferred[t.Name] == nil {
						deferred[t.Name] = make(map[string]bool)
					}
					deferred[t.Name][c.Name] = true
				}
			}
		}
		state[t.Name] = visited
		ordered = append(ordered, t)
	}
	for _, t := range tables {
		if state[t.Name] == unvisited {
			visit(t)
		}
	}
	return ordered, deferred
}

// drift lists live objects that are no longer declared.
func drift(declared map[string]*entity.Table, live *database.LiveSchema) []Finding {
	var findings []Finding

	names := make([]string, 0, len(live.Tables))
	for name := range live.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t, ok := declared[name]
		if !ok {
			findings = append(findings, Finding{Kind: DropTable, Table: name})
			continue
		}
		lt := live.Tables[name]

		for _, col := range sortedKeys(lt.Columns) {
			if _, ok := t.Column(col); !ok {
				findings = append(findings, Finding{Kind: DropColumn, Table: name, Name: col})
			}
		}

		wanted := make(map[string]bool, len(t.Indexes))
		for _, ix := range t.Indexes {
			wanted[ix.Name] = true
		}
		for _, ix := range sortedKeys(lt.Indexes) {
			if !wanted[ix] && !strings.HasSuffix(ix, "_pkey") {
				findings = append(findings, Finding{Kind: DropIndex, Table: name, Name: ix})
			}
		}
	}
	return findings
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
