package auth

import (
	"context"
	"time"
)

// AccountStore persists account records. Implementations return
// ErrNotFound for absent rows and translate unique-key violations into
// the domain conflict errors.
type AccountStore interface {
	Create(ctx context.Context, a *Account) error
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// SessionStore persists one row per issued refresh token. Revoked rows
// are retained as an audit trail, never deleted.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	// ListActive returns the non-revoked sessions of an account.
	ListActive(ctx context.Context, accountID string) ([]*Session, error)
	// ListByAccount returns every session of an account, active first,
	// then most recently used, then most recently created.
	ListByAccount(ctx context.Context, accountID string) ([]*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	// MarkRevoked sets revoked_at on a still-active session. Revoking an
	// already-revoked session is a no-op.
	MarkRevoked(ctx context.Context, id string, at time.Time) error
	MarkRevokedByAccount(ctx context.Context, accountID string, at time.Time) error
	// Rotate revokes the old session and inserts its successor in one
	// transaction.
	Rotate(ctx context.Context, oldID string, next *Session, at time.Time) error
}
