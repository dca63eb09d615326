package handlers

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/saltyorg/quicksell/internal/web/middleware"
)

// ValidationError represents a validation error for a request field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// badRequest turns a validation failure into a 400 response.
func badRequest(err error) error {
	if err == nil {
		return nil
	}
	return middleware.BadRequest(err.Error())
}

// ValidateEmail checks that email is a bare address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ValidationError{Field: "email", Message: "cannot be empty"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ValidationError{Field: "email", Message: "is not a valid address"}
	}
	return nil
}

// ValidatePassword enforces a minimum password length.
// bcrypt cannot hash more than 72 bytes.
func ValidatePassword(password string) error {
	password = strings.TrimSpace(password)
	if utf8.RuneCountInString(password) < 6 {
		return ValidationError{Field: "password", Message: "must be at least 6 characters"}
	}
	if len(password) > 72 {
		return ValidationError{Field: "password", Message: "must be at most 72 bytes"}
	}
	return nil
}

// ValidatePhone accepts digits with an optional leading plus.
func ValidatePhone(phone string) error {
	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 5 || len(digits) > 15 {
		return ValidationError{Field: "phone", Message: "must have 5 to 15 digits"}
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ValidationError{Field: "phone", Message: "must contain only digits"}
		}
	}
	return nil
}

// ValidateText checks a required text field and its maximum length.
func ValidateText(value, field string, maxLen int) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ValidationError{Field: field, Message: "cannot be empty"}
	}
	if utf8.RuneCountInString(value) > maxLen {
		return ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", maxLen)}
	}
	return nil
}

// ValidateNonNegative rejects negative amounts.
func ValidateNonNegative(n int64, field string) error {
	if n < 0 {
		return ValidationError{Field: field, Message: "cannot be negative"}
	}
	return nil
}
