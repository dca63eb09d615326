package entity

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/saltyorg/quicksell/internal/config"
	"github.com/saltyorg/quicksell/internal/database"
)

type gadgetKind int

const (
	gadgetKindTool gadgetKind = iota
	gadgetKindToy
)

type Gadget struct {
	Base
	Name   string     `db:"name,unique"`
	Price  float64    `db:"price"`
	Note   *string    `db:"note"`
	Tags   JSON       `db:"tags"`
	Kind   gadgetKind `db:"kind"`
	Active bool       `db:"active"`
}

type Owner struct {
	Base
	Email string `db:"email,unique"`
}

const testSchema = `
	CREATE TABLE "Gadget" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP NOT NULL,
		name TEXT,
		price REAL,
		note TEXT,
		tags TEXT,
		kind INTEGER,
		active BOOLEAN
	);
	CREATE UNIQUE INDEX "uq_Gadget_name" ON "Gadget" (name);
	CREATE TABLE "Owner" (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP NOT NULL,
		email TEXT
	);
	CREATE UNIQUE INDEX "uq_Owner_email" ON "Owner" (email);
	CREATE TABLE "AssociationGadgetOwner" (
		gadget_id INTEGER NOT NULL REFERENCES "Gadget" (id) ON DELETE CASCADE,
		owner_id INTEGER NOT NULL REFERENCES "Owner" (id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (gadget_id, owner_id)
	);
`

type fixture struct {
	db      *database.Manager
	reg     *Registry
	gadgets *Model[Gadget]
	owners  *Model[Owner]
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	m := database.NewManager(config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "entity.db"),
		MaxOpenConns: 4,
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	for _, stmt := range strings.Split(testSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.DB().ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("failed to create schema: %v", err)
		}
	}

	reg := NewRegistry()
	return &fixture{
		db:      m,
		reg:     reg,
		gadgets: NewModel[Gadget](reg, opts...),
		owners:  NewModel[Owner](reg),
	}
}

// run executes fn in its own session and fails the test on error.
func (f *fixture) run(t *testing.T, fn func(ctx context.Context, s *database.Session) error) {
	t.Helper()
	if err := f.db.StartSession(context.Background(), fn); err != nil {
		t.Fatalf("session failed: %v", err)
	}
}

func (f *fixture) insertGadgets(t *testing.T, names ...string) []*Gadget {
	t.Helper()
	var out []*Gadget
	f.run(t, func(ctx context.Context, s *database.Session) error {
		for i, name := range names {
			g := &Gadget{Name: name, Price: float64(i)}
			if err := f.gadgets.Insert(ctx, s, g); err != nil {
				return err
			}
			out = append(out, g)
		}
		return nil
	})
	return out
}

func TestInsert_RoundTrip(t *testing.T) {
	f := newFixture(t)
	note := "mint condition"
	g := &Gadget{
		Name:   "drill",
		Price:  49.5,
		Note:   &note,
		Tags:   JSON{"color": "red"},
		Kind:   gadgetKindToy,
		Active: true,
	}

	f.run(t, func(ctx context.Context, s *database.Session) error {
		return f.gadgets.Insert(ctx, s, g)
	})
	if g.ID == 0 || g.CreatedAt.IsZero() {
		t.Fatalf("expected id and created_at to be set, got %+v", g.Base)
	}

	var got *Gadget
	f.run(t, func(ctx context.Context, s *database.Session) error {
		var err error
		got, err = f.gadgets.Get(ctx, s, g.ID)
		return err
	})
	if got == nil {
		t.Fatalf("expected gadget %d", g.ID)
	}
	if got.Name != "drill" || got.Price != 49.5 || got.Kind != gadgetKindToy || !got.Active {
		t.Fatalf("unexpected gadget %+v", got)
	}
	if got.Note == nil || *got.Note != note {
		t.Fatalf("expected note %q, got %v", note, got.Note)
	}
	if got.Tags["color"] != "red" {
		t.Fatalf("expected json tags, got %v", got.Tags)
	}
	if !got.CreatedAt.Equal(g.CreatedAt) {
		t.Fatalf("created_at mismatch: %v vs %v", got.CreatedAt, g.CreatedAt)
	}
}

func TestInsert_NullableFieldsStayNil(t *testing.T) {
	f := newFixture(t)
	g := f.insertGadgets(t, "saw")[0]

	f.run(t, func(ctx context.Context, s *database.Session) error {
		got, err := f.gadgets.Get(ctx, s, g.ID)
		if err != nil {
			return err
		}
		if got.Note != nil || got.Tags != nil {
			t.Errorf("expected nil note and tags, got %v %v", got.Note, got.Tags)
		}
		return nil
	})
}

func TestInsert_UniqueViolation(t *testing.T) {
	f := newFixture(t)
	f.insertGadgets(t, "drill")

	f.run(t, func(ctx context.Context, s *database.Session) error {
		err := f.gadgets.Insert(ctx, s, &Gadget{Name: "drill"})
		var uv *database.UniqueViolation
		if !errors.As(err, &uv) {
			t.Fatalf("expected UniqueViolation, got %v", err)
		}
		if uv.Table != "Gadget" || uv.Column != "name" || uv.Value != "drill" {
			t.Fatalf("unexpected violation %+v", uv)
		}
		if uv.Error() != "Gadget with name 'drill' already exists" {
			t.Fatalf("unexpected message %q", uv.Error())
		}

		// the session stays usable after the violation
		return f.gadgets.Insert(ctx, s, &Gadget{Name: "hammer"})
	})

	f.run(t, func(ctx context.Context, s *database.Session) error {
		n, err := f.gadgets.Count(ctx, s)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("expected 2 gadgets, got %d", n)
		}
		return nil
	})
}

func TestFetchOne(t *testing.T) {
	f := newFixture(t)
	gs := f.insertGadgets(t, "alpha", "beta", "gamma")

	f.run(t, func(ctx context.Context, s *database.Session) error {
		got, err := f.gadgets.FetchOne(ctx, s, Eq("name", "beta"))
		if err != nil {
			return err
		}
		if got == nil || got.ID != gs[1].ID {
			t.Errorf("expected beta, got %+v", got)
		}

		missing, err := f.gadgets.FetchOne(ctx, s, Eq("name", "delta"))
		if err != nil {
			return err
		}
		if missing != nil {
			t.Errorf("expected nil for missing row, got %+v", missing)
		}

		first, err := f.gadgets.FetchOne(ctx, s, Gte("price", 0))
		if err != nil {
			return err
		}
		if first == nil || first.ID != gs[0].ID {
			t.Errorf("expected lowest id on ambiguous match, got %+v", first)
		}
		return nil
	})
}

func TestFetch_UnknownColumnRejected(t *testing.T) {
	f := newFixture(t)

	err := f.db.StartSession(context.Background(), func(ctx context.Context, s *database.Session) error {
		_, err := f.gadgets.FetchList(ctx, s, Eq("name; DROP TABLE Gadget", "x"))
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "has no column") {
		t.Fatalf("expected unknown column error, got %v", err)
	}
}

func TestFetchList_Predicates(t *testing.T) {
	f := newFixture(t)
	gs := f.insertGadgets(t, "Red Drill", "blue drill", "saw")

	cases := []struct {
		name  string
		preds []Predicate
		want  []int64
	}{
		{"all", nil, []int64{gs[0].ID, gs[1].ID, gs[2].ID}},
		{"ilike", []Predicate{ILike("name", "%DRILL%")}, []int64{gs[0].ID, gs[1].ID}},
		{"in", []Predicate{In("id", gs[2].ID, gs[0].ID)}, []int64{gs[0].ID, gs[2].ID}},
		{"empty in", []Predicate{In[int64]("id")}, nil},
		{"null", []Predicate{IsNull("note")}, []int64{gs[0].ID, gs[1].ID, gs[2].ID}},
		{"not null", []Predicate{NotNull("note")}, nil},
		{"range", []Predicate{Gt("price", 0), Lt("price", 2)}, []int64{gs[1].ID}},
		{"ne", []Predicate{Ne("name", "saw")}, []int64{gs[0].ID, gs[1].ID}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.run(t, func(ctx context.Context, s *database.Session) error {
				got, err := f.gadgets.FetchList(ctx, s, tc.preds...)
				if err != nil {
					return err
				}
				if len(got) != len(tc.want) {
					t.Fatalf("expected %d rows, got %d", len(tc.want), len(got))
				}
				for i, g := range got {
					if g.ID != tc.want[i] {
						t.Fatalf("row %d: expected id %d, got %d", i, tc.want[i], g.ID)
					}
				}
				return nil
			})
		})
	}
}

func TestPaginate(t *testing.T) {
	f := newFixture(t, WithPageSize(2))
	names := []string{"a", "b", "c", "d", "e"}
	f.insertGadgets(t, names...)

	f.run(t, func(ctx context.Context, s *database.Session) error {
		seen := make(map[int64]bool)
		for page := 0; page < 3; page++ {
			got, err := f.gadgets.Paginate(ctx, s, "name", page)
			if err != nil {
				return err
			}
			for _, g := range got {
				if seen[g.ID] {
					t.Fatalf("gadget %d returned on two pages", g.ID)
				}
				seen[g.ID] = true
			}
		}
		if len(seen) != len(names) {
			t.Fatalf("expected every gadget once, got %d", len(seen))
		}

		beyond, err := f.gadgets.Paginate(ctx, s, "name", 10)
		if err != nil {
			return err
		}
		if len(beyond) != 0 {
			t.Fatalf("expected empty page past the end, got %d", len(beyond))
		}

		negative, err := f.gadgets.Paginate(ctx, s, "name", -3)
		if err != nil {
			return err
		}
		if len(negative) != 2 || negative[0].Name != "a" {
			t.Fatalf("expected negative page to clamp to first page, got %v", negative)
		}

		desc, err := f.gadgets.Paginate(ctx, s, "-name", 0)
		if err != nil {
			return err
		}
		if len(desc) != 2 || desc[0].Name != "e" || desc[1].Name != "d" {
			t.Fatalf("expected descending order, got %v", desc)
		}

		fallback, err := f.gadgets.Paginate(ctx, s, "no_such_column", 0)
		if err != nil {
			return err
		}
		if len(fallback) != 2 || fallback[0].Name != "a" {
			t.Fatalf("expected creation order fallback, got %v", fallback)
		}
		return nil
	})
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	gs := f.insertGadgets(t, "drill", "saw")

	f.run(t, func(ctx context.Context, s *database.Session) error {
		if err := f.gadgets.Update(ctx, s, gs[0], Fields{"price": 12, "note": "used", "kind": gadgetKindToy}); err != nil {
			return err
		}
		if gs[0].Price != 12 || gs[0].Note == nil || *gs[0].Note != "used" {
			t.Fatalf("expected fields assigned on the struct, got %+v", gs[0])
		}

		err := f.gadgets.Update(ctx, s, gs[1], Fields{"name": "drill"})
		var uv *database.UniqueViolation
		if !errors.As(err, &uv) || uv.Column != "name" || uv.Value != "drill" {
			t.Fatalf("expected unique violation on update, got %v", err)
		}

		if err := f.gadgets.Update(ctx, s, gs[1], Fields{"bogus": 1}); err == nil {
			t.Fatalf("expected error for unknown column")
		}
		if err := f.gadgets.Update(ctx, s, gs[1], Fields{"id": 99}); err == nil {
			t.Fatalf("expected error when updating the primary key")
		}
		return nil
	})

	f.run(t, func(ctx context.Context, s *database.Session) error {
		got, err := f.gadgets.Get(ctx, s, gs[0].ID)
		if err != nil {
			return err
		}
		if got.Price != 12 || got.Kind != gadgetKindToy || got.Note == nil || *got.Note != "used" {
			t.Errorf("update not persisted: %+v", got)
		}
		return nil
	})
}

func TestDelete_DeferredUntilCommit(t *testing.T) {
	f := newFixture(t)
	g := f.insertGadgets(t, "drill")[0]

	f.run(t, func(ctx context.Context, s *database.Session) error {
		if err := f.gadgets.Delete(ctx, s, g); err != nil {
			return err
		}
		if s.Pending() != 1 {
			t.Fatalf("expected one queued delete, got %d", s.Pending())
		}
		return nil
	})

	f.run(t, func(ctx context.Context, s *database.Session) error {
		got, err := f.gadgets.Get(ctx, s, g.ID)
		if err != nil {
			return err
		}
		if got != nil {
			t.Errorf("expected gadget to be deleted")
		}
		return nil
	})
}

func TestDelete_VisibleToLaterOperations(t *testing.T) {
	f := newFixture(t)
	g := f.insertGadgets(t, "alpha")[0]

	f.run(t, func(ctx context.Context, s *database.Session) error {
		if err := f.gadgets.Delete(ctx, s, g); err != nil {
			return err
		}
		got, err := f.gadgets.FetchOne(ctx, s, Eq("name", "alpha"))
		if err != nil {
			return err
		}
		if got != nil {
			t.Fatalf("expected deleted gadget to be gone within the session")
		}
		if s.Pending() != 0 {
			t.Fatalf("expected queued delete to be flushed, got %d pending", s.Pending())
		}
		return f.gadgets.Insert(ctx, s, &Gadget{Name: "alpha"})
	})

	f.run(t, func(ctx context.Context, s *database.Session) error {
		n, err := f.gadgets.Count(ctx, s, Eq("name", "alpha"))
		if err != nil {
			return err
		}
		if n != 1 {
			t.Fatalf("expected one alpha after re-insert, got %d", n)
		}
		return nil
	})
}

func TestDelete_FlushedDeleteRollsBack(t *testing.T) {
	f := newFixture(t)
	g := f.insertGadgets(t, "saw")[0]

	boom := errors.New("boom")
	err := f.db.StartSession(context.Background(), func(ctx context.Context, s *database.Session) error {
		if err := f.gadgets.Delete(ctx, s, g); err != nil {
			return err
		}
		n, err := f.gadgets.Count(ctx, s)
		if err != nil {
			return err
		}
		if n != 0 {
			t.Fatalf("expected flushed delete to be visible, got %d rows", n)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	f.run(t, func(ctx context.Context, s *database.Session) error {
		got, err := f.gadgets.Get(ctx, s, g.ID)
		if err != nil {
			return err
		}
		if got == nil {
			t.Errorf("rolled back delete must keep the row")
		}
		return nil
	})
}

func TestOperations_RequireSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.gadgets.Insert(ctx, nil, &Gadget{Name: "x"}); !errors.Is(err, database.ErrNoActiveSession) {
		t.Fatalf("Insert: expected ErrNoActiveSession, got %v", err)
	}
	if _, err := f.gadgets.FetchList(ctx, nil); !errors.Is(err, database.ErrNoActiveSession) {
		t.Fatalf("FetchList: expected ErrNoActiveSession, got %v", err)
	}

	var leaked *database.Session
	f.run(t, func(ctx context.Context, s *database.Session) error {
		leaked = s
		return nil
	})
	if _, err := f.gadgets.Count(ctx, leaked); !errors.Is(err, database.ErrNoActiveSession) {
		t.Fatalf("Count on closed session: expected ErrNoActiveSession, got %v", err)
	}
}
