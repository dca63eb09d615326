package models

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/saltyorg/quicksell/internal/config"
	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/schema"
)

func setup(t *testing.T) (*database.Manager, *Models) {
	t.Helper()
	db := database.NewManager(config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "models.db"),
		MaxOpenConns: 4,
	})
	if err := db.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := New()
	if _, err := schema.NewReconciler(db.DB(), m.Registry).Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	return db, m
}

func TestNew_DeclaresSchema(t *testing.T) {
	m := New()
	names := map[string]bool{}
	for _, tbl := range m.Registry.Tables() {
		names[tbl.Name] = true
	}
	for _, want := range []string{
		"User", "Profile", "Device", "Category", "Listing", "View",
		"Chat", "Message", "Company", "Shop", "Offer",
		"AssociationChatProfile", "AssociationListingUser",
	} {
		if !names[want] {
			t.Errorf("expected table %s to be declared", want)
		}
	}
	if m.Offers.PageSize() != 30 {
		t.Errorf("expected offer page size 30, got %d", m.Offers.PageSize())
	}
}

func TestSchema_ReconcileIsIdempotent(t *testing.T) {
	db, m := setup(t)
	plan, err := schema.NewReconciler(db.DB(), m.Registry).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if !plan.Empty() {
		t.Fatalf("expected empty plan, got:\n%s", plan)
	}
}

func TestListingLifecycle(t *testing.T) {
	db, m := setup(t)
	ctx := context.Background()

	err := db.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
		user := &User{Email: "seller@example.com", PasswordHash: "x", IsActive: true}
		if err := m.Users.Insert(ctx, s, user); err != nil {
			return err
		}
		profile := &Profile{UserID: user.ID, UUID: uuid.New()}
		if err := m.Profiles.Insert(ctx, s, profile); err != nil {
			return err
		}
		cat := &Category{Name: "Phones", Assignable: true}
		if err := m.Categories.Insert(ctx, s, cat); err != nil {
			return err
		}

		listing := &Listing{SellerID: profile.ID, CategoryID: cat.ID, Title: "Old phone", Price: 100}
		listing.PrepareNew(time.Now())
		if err := m.Listings.Insert(ctx, s, listing); err != nil {
			return err
		}

		if err := m.Views.Insert(ctx, s, &View{ListingID: listing.ID, IP: "10.0.0.1"}); err != nil {
			return err
		}
		err := m.Views.Insert(ctx, s, &View{ListingID: listing.ID, IP: "10.0.0.1"})
		if !database.IsUniqueViolation(err) {
			t.Errorf("expected duplicate view to be rejected, got %v", err)
		}
		if err := m.Views.Insert(ctx, s, &View{ListingID: listing.ID, IP: "10.0.0.2"}); err != nil {
			return err
		}

		if err := m.Favorites.Link(ctx, s, listing, user); err != nil {
			return err
		}
		ids, err := m.Favorites.Linked(ctx, s, user)
		if err != nil {
			return err
		}
		if len(ids) != 1 || ids[0] != listing.ID {
			t.Errorf("expected favorite listing %d, got %v", listing.ID, ids)
		}

		got, err := m.Listings.Get(ctx, s, listing.ID)
		if err != nil {
			return err
		}
		if got.State != ListingActive || got.Quantity != 1 || got.UUID != listing.UUID {
			t.Errorf("unexpected stored listing %+v", got)
		}
		if got.ExpiresAt.Sub(got.CreatedAt) < ListingExpiration-time.Minute {
			t.Errorf("expected expiry about 30 days out, got %s", got.ExpiresAt.Sub(got.CreatedAt))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
}

func TestListingState_Text(t *testing.T) {
	b, err := json.Marshal(struct{ State ListingState }{ListingSold})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(b) != `{"State":"sold"}` {
		t.Fatalf("unexpected json %s", b)
	}

	var s ListingState
	if err := s.UnmarshalText([]byte("closed")); err != nil || s != ListingClosed {
		t.Fatalf("expected closed, got %v (%v)", s, err)
	}
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Fatalf("expected unknown state to fail")
	}
}
