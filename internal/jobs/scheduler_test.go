package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/saltyorg/quicksell/internal/config"
	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/entity"
	"github.com/saltyorg/quicksell/internal/models"
	"github.com/saltyorg/quicksell/internal/schema"
)

func setup(t *testing.T) (*database.Manager, *models.Models) {
	t.Helper()
	db := database.NewManager(config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "jobs.db"),
		MaxOpenConns: 4,
	})
	if err := db.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := models.New()
	if _, err := schema.NewReconciler(db.DB(), m.Registry).Reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	return db, m
}

// seedListings stores one listing per state/expiry pair and returns them in order.
func seedListings(t *testing.T, db *database.Manager, m *models.Models, specs []struct {
	state   models.ListingState
	expires time.Time
}) []*models.Listing {
	t.Helper()
	var listings []*models.Listing
	err := db.StartSession(context.Background(), func(ctx context.Context, s *database.Session) error {
		user := &models.User{Email: "seller@example.com", PasswordHash: "x", IsActive: true}
		if err := m.Users.Insert(ctx, s, user); err != nil {
			return err
		}
		profile := &models.Profile{UserID: user.ID, UUID: uuid.New()}
		if err := m.Profiles.Insert(ctx, s, profile); err != nil {
			return err
		}
		cat := &models.Category{Name: "Phones", Assignable: true}
		if err := m.Categories.Insert(ctx, s, cat); err != nil {
			return err
		}
		for i, spec := range specs {
			l := &models.Listing{
				UUID:       uuid.New(),
				SellerID:   profile.ID,
				CategoryID: cat.ID,
				State:      spec.state,
				ExpiresAt:  spec.expires.UTC().Truncate(time.Microsecond),
				Title:      "item",
				Quantity:   1,
			}
			if err := m.Listings.Insert(ctx, s, l); err != nil {
				t.Fatalf("insert listing %d: %v", i, err)
			}
			listings = append(listings, l)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return listings
}

func TestExpireListings(t *testing.T) {
	db, m := setup(t)
	now := time.Now()

	listings := seedListings(t, db, m, []struct {
		state   models.ListingState
		expires time.Time
	}{
		{models.ListingActive, now.Add(-time.Hour)},
		{models.ListingActive, now.Add(time.Hour)},
		{models.ListingSold, now.Add(-time.Hour)},
		{models.ListingActive, now.Add(-48 * time.Hour)},
	})

	s := NewScheduler(db, m, DefaultConfig())
	closed, err := s.ExpireListings(context.Background())
	if err != nil {
		t.Fatalf("ExpireListings failed: %v", err)
	}
	if closed != 2 {
		t.Fatalf("expected 2 closed listings, got %d", closed)
	}

	want := []models.ListingState{models.ListingClosed, models.ListingActive, models.ListingSold, models.ListingClosed}
	err = db.StartSession(context.Background(), func(ctx context.Context, sess *database.Session) error {
		for i, l := range listings {
			got, err := m.Listings.Get(ctx, sess, l.ID)
			if err != nil {
				return err
			}
			if got.State != want[i] {
				t.Errorf("listing %d: expected state %s, got %s", i, want[i], got.State)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	closed, err = s.ExpireListings(context.Background())
	if err != nil {
		t.Fatalf("second ExpireListings failed: %v", err)
	}
	if closed != 0 {
		t.Errorf("expected nothing left to close, got %d", closed)
	}
}

func TestExpireListings_UsesClock(t *testing.T) {
	db, m := setup(t)
	now := time.Now()
	seedListings(t, db, m, []struct {
		state   models.ListingState
		expires time.Time
	}{
		{models.ListingActive, now.Add(time.Hour)},
	})

	s := NewScheduler(db, m, DefaultConfig())
	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	closed, err := s.ExpireListings(context.Background())
	if err != nil {
		t.Fatalf("ExpireListings failed: %v", err)
	}
	if closed != 1 {
		t.Fatalf("expected 1 closed listing, got %d", closed)
	}

	err = db.StartSession(context.Background(), func(ctx context.Context, sess *database.Session) error {
		n, err := m.Listings.Count(ctx, sess, entity.Eq("state", models.ListingActive))
		if err != nil {
			return err
		}
		if n != 0 {
			t.Errorf("expected no active listings, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	db, m := setup(t)
	s := NewScheduler(db, m, DefaultConfig())

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if s.Next("expire_listings").IsZero() {
		t.Error("expected expire_listings to be scheduled")
	}
	if s.Next("optimize").IsZero() {
		t.Error("expected optimize to be scheduled")
	}
	if !s.Next("unknown").IsZero() {
		t.Error("expected unknown job to have no schedule")
	}

	s.Stop()
	s.Stop()
	if !s.Next("expire_listings").IsZero() {
		t.Error("expected schedules to be removed after Stop")
	}
}

func TestScheduler_DisabledAndInvalid(t *testing.T) {
	db, m := setup(t)

	s := NewScheduler(db, m, Config{ExpirySchedule: "@every 1m"})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !s.Next("optimize").IsZero() {
		t.Error("expected optimize to be disabled")
	}
	s.Stop()

	bad := NewScheduler(db, m, Config{ExpirySchedule: "not a schedule"})
	if err := bad.Start(); err == nil {
		bad.Stop()
		t.Fatal("expected invalid schedule to fail")
	}
}
