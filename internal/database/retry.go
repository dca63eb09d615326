package database

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
)

const maxLoggedStatement = 120

// retryOnce runs fn and, when it fails with a transient connectivity error,
// runs it exactly once more. A second transient failure is returned as a
// *TransientError; any other error is returned unchanged.
func retryOnce(ctx context.Context, s *Session, stmt string, fn func() error) error {
	err := fn()
	if err == nil || s.retried || !retryable(ctx, s.dialect, err) {
		return err
	}

	s.retried = true
	defer func() { s.retried = false }()

	log.Warn().
		Err(err).
		Str("dialect", s.dialect.Name()).
		Str("statement", summarize(stmt)).
		Msg("Transient database error, retrying statement")

	if err = fn(); err != nil {
		if s.dialect.IsTransient(err) {
			return &TransientError{Statement: stmt, Err: err}
		}
		return err
	}

	log.Debug().Str("statement", summarize(stmt)).Msg("Statement succeeded on retry")
	return nil
}

func retryable(ctx context.Context, dialect Dialect, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return dialect.IsTransient(err)
}

func summarize(stmt string) string {
	stmt = strings.Join(strings.Fields(stmt), " ")
	if len(stmt) > maxLoggedStatement {
		return stmt[:maxLoggedStatement] + "..."
	}
	return stmt
}
