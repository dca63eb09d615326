package entity

import (
	"context"
	"testing"

	"github.com/saltyorg/quicksell/internal/database"
)

func TestReflectMeta(t *testing.T) {
	reg := NewRegistry()
	meta, err := reg.Register(&Gadget{})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if meta.Name != "Gadget" {
		t.Fatalf("expected table Gadget, got %s", meta.Name)
	}
	var names []string
	for _, c := range meta.Columns {
		names = append(names, c.Name)
	}
	want := []string{"id", "created_at", "name", "price", "note", "tags", "kind", "active"}
	if len(names) != len(want) {
		t.Fatalf("expected columns %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected columns %v, got %v", want, names)
		}
	}

	id, _ := meta.Lookup("id")
	if !id.PrimaryKey || id.Kind != database.KindInt {
		t.Fatalf("unexpected id column %+v", id)
	}
	tags, _ := meta.Lookup("tags")
	if tags.Kind != database.KindJSON {
		t.Fatalf("expected json kind for tags, got %v", tags.Kind)
	}

	indexes := map[string]bool{}
	for _, ix := range meta.Indexes {
		indexes[ix.Name] = ix.Unique
	}
	if unique, ok := indexes["uq_Gadget_name"]; !ok || !unique {
		t.Fatalf("expected unique index on name, got %v", indexes)
	}
	if unique, ok := indexes["ix_Gadget_created_at"]; !ok || unique {
		t.Fatalf("expected plain index on created_at, got %v", indexes)
	}

	again, err := reg.Register(Gadget{})
	if err != nil || again != meta {
		t.Fatalf("expected registering twice to return the same metadata")
	}
}

type visit struct {
	Base
	ListingID int64  `db:"listing_id,unique:listing_ip"`
	IP        string `db:"ip,unique:listing_ip"`
}

type notAnEntity struct {
	Name string `db:"name"`
}

type badField struct {
	Base
	Ch chan int `db:"ch"`
}

func TestReflectMeta_CompositeUniqueAndErrors(t *testing.T) {
	reg := NewRegistry()
	meta, err := reg.Register(visit{})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	var found bool
	for _, ix := range meta.Indexes {
		if ix.Name == "uq_visit_listing_ip" {
			found = ix.Unique && len(ix.Columns) == 2 && ix.Columns[0] == "listing_id" && ix.Columns[1] == "ip"
		}
	}
	if !found {
		t.Fatalf("expected composite unique index, got %+v", meta.Indexes)
	}

	if _, err := reg.Register(notAnEntity{}); err == nil {
		t.Fatalf("expected error for struct without Base")
	}
	if _, err := reg.Register(badField{}); err == nil {
		t.Fatalf("expected error for unsupported field type")
	}
}

func TestAssociate_DeterministicName(t *testing.T) {
	reg := NewRegistry()
	ab := reg.Associate(&Owner{}, &Gadget{})
	ba := reg.Associate(Gadget{}, Owner{})

	if ab != ba {
		t.Fatalf("expected the same association for both argument orders")
	}
	if ab.Name() != "AssociationGadgetOwner" {
		t.Fatalf("unexpected association name %s", ab.Name())
	}
	table := ab.Table()
	if len(table.CompositeKey) != 2 || table.CompositeKey[0] != "gadget_id" || table.CompositeKey[1] != "owner_id" {
		t.Fatalf("unexpected composite key %v", table.CompositeKey)
	}

	tables := reg.Tables()
	if len(tables) != 3 || tables[2].Name != "AssociationGadgetOwner" {
		t.Fatalf("expected entity tables followed by the association, got %d tables", len(tables))
	}
}

func TestAssociate_SelfPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for self association")
		}
	}()
	NewRegistry().Associate(Owner{}, Owner{})
}

func TestAssociation_LinkLifecycle(t *testing.T) {
	f := newFixture(t)
	assoc := f.reg.Associate(Gadget{}, Owner{})
	gs := f.insertGadgets(t, "drill", "saw")

	owner := &Owner{Email: "a@example.com"}
	f.run(t, func(ctx context.Context, s *database.Session) error {
		if err := f.owners.Insert(ctx, s, owner); err != nil {
			return err
		}
		if err := assoc.Link(ctx, s, owner, gs[1]); err != nil {
			return err
		}
		if err := assoc.Link(ctx, s, gs[0], owner); err != nil {
			return err
		}
		// linking twice is a no-op
		return assoc.Link(ctx, s, owner, gs[0])
	})

	f.run(t, func(ctx context.Context, s *database.Session) error {
		ids, err := assoc.Linked(ctx, s, owner)
		if err != nil {
			return err
		}
		if len(ids) != 2 || ids[0] == ids[1] {
			t.Fatalf("expected two distinct links, got %v", ids)
		}
		for _, id := range ids {
			if id != gs[0].ID && id != gs[1].ID {
				t.Fatalf("unexpected linked id %d", id)
			}
		}

		owners, err := assoc.Linked(ctx, s, gs[0])
		if err != nil {
			return err
		}
		if len(owners) != 1 || owners[0] != owner.ID {
			t.Fatalf("expected owner linked from gadget side, got %v", owners)
		}

		if err := assoc.Unlink(ctx, s, gs[1], owner); err != nil {
			return err
		}
		has, err := assoc.Has(ctx, s, owner, gs[1])
		if err != nil {
			return err
		}
		if has {
			t.Fatalf("expected link to be removed")
		}
		has, err = assoc.Has(ctx, s, owner, gs[0])
		if err != nil {
			return err
		}
		if !has {
			t.Fatalf("expected remaining link")
		}
		return nil
	})
}

func TestAssociation_RejectsUnsavedAndForeignTypes(t *testing.T) {
	f := newFixture(t)
	assoc := f.reg.Associate(Gadget{}, Owner{})

	err := f.db.StartSession(context.Background(), func(ctx context.Context, s *database.Session) error {
		return assoc.Link(ctx, s, &Owner{}, &Gadget{})
	})
	if err == nil {
		t.Fatalf("expected error when linking unsaved entities")
	}

	err = f.db.StartSession(context.Background(), func(ctx context.Context, s *database.Session) error {
		return assoc.Link(ctx, s, &Owner{}, &Owner{})
	})
	if err == nil {
		t.Fatalf("expected error when linking the wrong types")
	}
}
