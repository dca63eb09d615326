package database

import "context"

type sessionKey struct{}

// WithSession binds s into ctx. The binding lives as long as the returned
// context, so an outer binding reappears once the inner scope returns.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session bound into ctx.
func SessionFromContext(ctx context.Context) (*Session, error) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok || s == nil || s.closed {
		return nil, ErrNoActiveSession
	}
	return s, nil
}
