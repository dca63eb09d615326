package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/entity"
)

// ResetCodeTTL is how long a password reset code stays valid.
const ResetCodeTTL = time.Hour

// ErrResetCode means the reset code is wrong, expired or was never requested.
var ErrResetCode = errors.New("invalid or expired reset code")

// GenerateResetCode returns a random six digit code.
func GenerateResetCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return 0, fmt.Errorf("failed to generate reset code: %w", err)
	}
	return int(n.Int64()) + 100000, nil
}

// RequestPasswordReset stores a new reset code for the account with email
// and returns it for delivery. An unknown email yields code 0 and no error so
// callers cannot probe for accounts.
func (svc *Service) RequestPasswordReset(ctx context.Context, s *database.Session, email string) (int, error) {
	user, err := svc.models.Users.FetchOne(ctx, s, entity.Eq("email", strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, nil
	}

	code, err := GenerateResetCode()
	if err != nil {
		return 0, err
	}
	err = svc.models.Users.Update(ctx, s, user, entity.Fields{
		"password_reset_code":       code,
		"password_reset_request_ts": time.Now().Unix(),
	})
	if err != nil {
		return 0, err
	}
	log.Info().Int64("user_id", user.ID).Msg("Password reset requested")
	return code, nil
}

// ResetPassword sets a new password when code matches the pending request.
// The code is consumed and existing tokens are revoked.
func (svc *Service) ResetPassword(ctx context.Context, s *database.Session, email string, code int, password string) error {
	user, err := svc.models.Users.FetchOne(ctx, s, entity.Eq("email", strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return err
	}
	if user == nil || user.PasswordResetCode == nil || user.PasswordResetRequestTS == nil {
		return ErrResetCode
	}
	requested := time.Unix(*user.PasswordResetRequestTS, 0)
	if *user.PasswordResetCode != code || time.Since(requested) > ResetCodeTTL {
		return ErrResetCode
	}

	hash, err := HashPassword(password, svc.cost)
	if err != nil {
		return err
	}
	return svc.models.Users.Update(ctx, s, user, entity.Fields{
		"password_hash":             hash,
		"password_reset_code":       nil,
		"password_reset_request_ts": nil,
		"access_token":              nil,
	})
}
