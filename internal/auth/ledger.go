package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// Ledger is the source of truth for which refresh tokens are currently
// valid. It stores digests only and implements rotation, revocation and
// the active-session scan used for reuse detection.
type Ledger struct {
	sessions SessionStore
	now      func() time.Time
}

// LedgerOption configures Ledger behavior.
type LedgerOption func(*Ledger)

// WithLedgerClock overrides the time source (useful for tests).
func WithLedgerClock(fn func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

func NewLedger(sessions SessionStore, opts ...LedgerOption) *Ledger {
	l := &Ledger{sessions: sessions, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TokenDigest returns the one-way digest persisted in place of a raw
// refresh token.
func TokenDigest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func safeEqualHex(a, b string) bool {
	ab, err := hex.DecodeString(a)
	if err != nil {
		return false
	}
	bb, err := hex.DecodeString(b)
	if err != nil {
		return false
	}
	if len(ab) != len(bb) {
		return false
	}
	return subtle.ConstantTimeCompare(ab, bb) == 1
}

// Create records a new session bound to rawToken and returns the
// sanitized view.
func (l *Ledger) Create(ctx context.Context, accountID, rawToken string, meta Meta) (PublicSession, error) {
	sess := &Session{
		AccountID:        accountID,
		RefreshTokenHash: TokenDigest(rawToken),
		UserAgent:        meta.UserAgent,
		IP:               meta.IP,
		CreatedAt:        l.now().UTC(),
	}
	if err := l.sessions.Create(ctx, sess); err != nil {
		return PublicSession{}, fmt.Errorf("create session: %w", err)
	}
	return sess.Public(), nil
}

// FindActiveByToken scans the account's active sessions and compares the
// presented token's digest against each stored digest in constant time.
// It returns nil when no active session matches. The scan is bounded by
// the account's active session count, which is expected to stay small.
func (l *Ledger) FindActiveByToken(ctx context.Context, accountID, rawToken string) (*Session, error) {
	presented := TokenDigest(rawToken)
	active, err := l.sessions.ListActive(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	for _, sess := range active {
		if safeEqualHex(sess.RefreshTokenHash, presented) {
			return sess, nil
		}
	}
	return nil, nil
}

// Touch updates last_used_at. Best effort, not security critical.
func (l *Ledger) Touch(ctx context.Context, sessionID string) error {
	return l.sessions.Touch(ctx, sessionID, l.now().UTC())
}

// Rotate revokes the old session and creates its successor bound to the
// new raw token in the same logical step. The old record is retained for
// audit.
func (l *Ledger) Rotate(ctx context.Context, oldSessionID, accountID, newRawToken string, meta Meta) (PublicSession, error) {
	now := l.now().UTC()
	next := &Session{
		AccountID:        accountID,
		RefreshTokenHash: TokenDigest(newRawToken),
		UserAgent:        meta.UserAgent,
		IP:               meta.IP,
		CreatedAt:        now,
	}
	if err := l.sessions.Rotate(ctx, oldSessionID, next, now); err != nil {
		return PublicSession{}, fmt.Errorf("rotate session: %w", err)
	}
	return next.Public(), nil
}

// RevokeAll revokes every active session of an account. This is the
// defensive action on suspected token theft and on logout without
// session context.
func (l *Ledger) RevokeAll(ctx context.Context, accountID string) error {
	if err := l.sessions.MarkRevokedByAccount(ctx, accountID, l.now().UTC()); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

// RevokeByID revokes a single session. The requester must own it or hold
// the admin role. Revoking an already-revoked session is a no-op.
func (l *Ledger) RevokeByID(ctx context.Context, requester Requester, sessionID string) error {
	sess, err := l.sessions.Find(ctx, sessionID)
	if err != nil {
		if err == ErrNotFound {
			return ErrSessionNotFound
		}
		return fmt.Errorf("find session: %w", err)
	}
	if sess.AccountID != requester.ID && !requester.IsAdmin() {
		return ErrForbidden
	}
	if sess.RevokedAt != nil {
		return nil
	}
	return l.sessions.MarkRevoked(ctx, sessionID, l.now().UTC())
}

// ListMine returns every session of an account, active first, then most
// recently used, then most recently created.
func (l *Ledger) ListMine(ctx context.Context, accountID string) ([]PublicSession, error) {
	sessions, err := l.sessions.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	res := make([]PublicSession, 0, len(sessions))
	for _, sess := range sessions {
		res = append(res, sess.Public())
	}
	return res, nil
}
