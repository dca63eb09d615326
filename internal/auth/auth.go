// Package auth hashes passwords, issues access tokens and resolves the
// current user of a request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/entity"
	"github.com/saltyorg/quicksell/internal/models"
)

// BcryptCost is the bcrypt cost factor
const BcryptCost = 12

var (
	// ErrUnauthorized means the credentials or token do not identify an active user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenInvalid means a token failed signature or claim validation.
	ErrTokenInvalid = errors.New("invalid access token")
)

// Claims are the contents of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Service handles accounts and authentication
type Service struct {
	models *models.Models
	secret []byte
	cost   int
}

// NewService creates a service signing tokens with secret.
func NewService(m *models.Models, secret string) *Service {
	return &Service{models: m, secret: []byte(secret), cost: BcryptCost}
}

// WithCost overrides the bcrypt cost, mainly for tests.
func (svc *Service) WithCost(cost int) *Service {
	svc.cost = cost
	return svc
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(password)), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies a password against a hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(password)))
	return err == nil
}

// GenerateAccessToken signs a new token for email. Every call yields a
// distinct token.
func GenerateAccessToken(email string, secret []byte) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
			ID:       uuid.NewString(),
		},
		Email: email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token signature and returns its claims.
func ParseToken(token string, secret []byte) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(_ *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Email == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Registration holds the fields of a new account.
type Registration struct {
	Email    string
	Password string
	FullName string
	Phone    *string
}

// Register creates a user and its profile. A taken email or phone is
// returned as *database.UniqueViolation.
func (svc *Service) Register(ctx context.Context, s *database.Session, r Registration) (*models.User, *models.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(r.Email))
	if email == "" || strings.TrimSpace(r.Password) == "" {
		return nil, nil, fmt.Errorf("email and password are required")
	}

	hash, err := HashPassword(r.Password, svc.cost)
	if err != nil {
		return nil, nil, err
	}
	token, err := GenerateAccessToken(email, svc.secret)
	if err != nil {
		return nil, nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		AccessToken:  &token,
		IsActive:     true,
	}
	if err := svc.models.Users.Insert(ctx, s, user); err != nil {
		return nil, nil, err
	}
	profile := &models.Profile{
		UserID:   user.ID,
		UUID:     uuid.New(),
		FullName: r.FullName,
		Phone:    r.Phone,
		Online:   true,
	}
	if err := svc.models.Profiles.Insert(ctx, s, profile); err != nil {
		return nil, nil, err
	}

	log.Info().Int64("user_id", user.ID).Msg("Registered user")
	return user, profile, nil
}

// Login checks the credentials and stores a fresh access token on the user.
func (svc *Service) Login(ctx context.Context, s *database.Session, email, password string) (string, error) {
	user, err := svc.models.Users.FetchOne(ctx, s, entity.Eq("email", strings.ToLower(strings.TrimSpace(email))))
	if err != nil {
		return "", err
	}
	if user == nil || !user.IsActive || !CheckPassword(password, user.PasswordHash) {
		return "", ErrUnauthorized
	}

	token, err := GenerateAccessToken(user.Email, svc.secret)
	if err != nil {
		return "", err
	}
	fields := entity.Fields{"access_token": &token}

	// Hashes created with a lower cost are upgraded while the password is known.
	if cost, err := bcrypt.Cost([]byte(user.PasswordHash)); err == nil && cost < svc.cost {
		hash, err := HashPassword(password, svc.cost)
		if err != nil {
			return "", err
		}
		fields["password_hash"] = hash
		log.Debug().Int64("user_id", user.ID).Int("from", cost).Int("to", svc.cost).Msg("Upgrading password hash")
	}

	if err := svc.models.Users.Update(ctx, s, user, fields); err != nil {
		return "", err
	}
	return token, nil
}

// CurrentUser resolves the active user holding token.
func (svc *Service) CurrentUser(ctx context.Context, s *database.Session, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	if _, err := ParseToken(token, svc.secret); err != nil {
		log.Debug().Err(err).Msg("Rejected access token")
		return nil, ErrUnauthorized
	}
	user, err := svc.models.Users.FetchOne(ctx, s, entity.Eq("access_token", token))
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// Logout clears the user's access token.
func (svc *Service) Logout(ctx context.Context, s *database.Session, user *models.User) error {
	return svc.models.Users.Update(ctx, s, user, entity.Fields{"access_token": nil})
}

// ProfileOf returns the profile of user.
func (svc *Service) ProfileOf(ctx context.Context, s *database.Session, user *models.User) (*models.Profile, error) {
	p, err := svc.models.Profiles.FetchOne(ctx, s, entity.Eq("user_id", user.ID))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("user %d has no profile", user.ID)
	}
	return p, nil
}
