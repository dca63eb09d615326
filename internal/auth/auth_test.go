package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/saltyorg/quicksell/internal/config"
	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/models"
	"github.com/saltyorg/quicksell/internal/schema"
)

const testSecret = "test-secret-key"

func setup(t *testing.T) (*database.Manager, *models.Models, *Service) {
	t.Helper()
	db := database.NewManager(config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		Path:         filepath.Join(t.TempDir(), "auth.db"),
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
	return db, m, NewService(m, testSecret).WithCost(bcrypt.MinCost)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("  hunter2 ", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !CheckPassword("hunter2", hash) {
		t.Fatalf("expected trimmed password to match")
	}
	if CheckPassword("hunter3", hash) {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestAccessToken(t *testing.T) {
	a, err := GenerateAccessToken("a@example.com", []byte(testSecret))
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	b, _ := GenerateAccessToken("a@example.com", []byte(testSecret))
	if a == b {
		t.Fatalf("expected distinct tokens")
	}

	claims, err := ParseToken(a, []byte(testSecret))
	if err != nil || claims.Email != "a@example.com" {
		t.Fatalf("expected valid claims, got %+v (%v)", claims, err)
	}
	if _, err := ParseToken(a, []byte("other")); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for wrong secret, got %v", err)
	}
}

func TestRegisterLoginCurrentUser(t *testing.T) {
	db, _, svc := setup(t)
	ctx := context.Background()

	var registered string
	err := db.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
		user, profile, err := svc.Register(ctx, s, Registration{Email: "Ann@Example.com", Password: "pw", FullName: "Ann"})
		if err != nil {
			return err
		}
		if user.Email != "ann@example.com" || profile.UserID != user.ID {
			t.Errorf("unexpected registration %+v %+v", user, profile)
		}
		registered = *user.AccessToken
		return nil
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	var token string
	err = db.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
		if _, err := svc.Login(ctx, s, "ann@example.com", "wrong"); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
		token, err = svc.Login(ctx, s, "ann@example.com", "pw")
		return err
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	err = db.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
		user, err := svc.CurrentUser(ctx, s, token)
		if err != nil {
			return err
		}
		if user.Email != "ann@example.com" {
			t.Errorf("unexpected user %s", user.Email)
		}
		if _, err := svc.CurrentUser(ctx, s, registered); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected replaced token to be rejected, got %v", err)
		}
		if _, err := svc.CurrentUser(ctx, s, "garbage"); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("expected garbage token to be rejected, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("current user failed: %v", err)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	db, _, svc := setup(t)
	ctx := context.Background()

	register := func() error {
		return db.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
			_, _, err := svc.Register(ctx, s, Registration{Email: "dup@example.com", Password: "pw"})
			return err
		})
	}
	if err := register(); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	err := register()
	var uv *database.UniqueViolation
	if !errors.As(err, &uv) || uv.Table != "User" || uv.Column != "email" {
		t.Fatalf("expected unique violation on User.email, got %v", err)
	}
}

func TestRegister_ConcurrentDuplicate(t *testing.T) {
	db, m, svc := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
				_, _, err := svc.Register(ctx, s, Registration{Email: "race@example.com", Password: "pw"})
				return err
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !database.IsUniqueViolation(err):
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one registration to win, got %d", ok)
	}

	err := db.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
		n, err := m.Profiles.Count(ctx, s)
		if err == nil && n != 1 {
			t.Errorf("expected one profile, got %d", n)
		}
		return err
	})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
}

func TestPasswordReset(t *testing.T) {
	db, _, svc := setup(t)
	ctx := context.Background()

	var code int
	err := db.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
		if _, _, err := svc.Register(ctx, s, Registration{Email: "r@example.com", Password: "old"}); err != nil {
			return err
		}
		var err error
		code, err = svc.RequestPasswordReset(ctx, s, "r@example.com")
		return err
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if code < 100000 || code > 999999 {
		t.Fatalf("expected six digit code, got %d", code)
	}

	err = db.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
		if err := svc.ResetPassword(ctx, s, "r@example.com", code+1, "new"); !errors.Is(err, ErrResetCode) {
			t.Errorf("expected wrong code to fail, got %v", err)
		}
		if err := svc.ResetPassword(ctx, s, "r@example.com", code, "new"); err != nil {
			return err
		}
		if err := svc.ResetPassword(ctx, s, "r@example.com", code, "again"); !errors.Is(err, ErrResetCode) {
			t.Errorf("expected code to be consumed, got %v", err)
		}
		_, err := svc.Login(ctx, s, "r@example.com", "new")
		return err
	})
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	err = db.StartSession(ctx, func(ctx context.Context, s *database.Session) error {
		code, err := svc.RequestPasswordReset(ctx, s, "nobody@example.com")
		if code != 0 {
			t.Errorf("expected no code for unknown email, got %d", code)
		}
		return err
	})
	if err != nil {
		t.Fatalf("unknown email failed: %v", err)
	}
}
