package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"loom.social/internal/obs"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// Service composes the credential store, token codec and session ledger
// into the register/login/refresh/logout flows. It is the only component
// that mixes calls across the three.
type Service struct {
	accounts AccountStore
	ledger   *Ledger
	codec    *Codec
	now      func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(accounts AccountStore, ledger *Ledger, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if accounts == nil || ledger == nil || codec == nil {
		return nil, errors.New("auth: accounts, ledger and codec are required")
	}
	s := &Service{accounts: accounts, ledger: ledger, codec: codec, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AuthResult is the outcome of a successful register/login/refresh flow.
// The caller is responsible for placing the refresh token in a secure,
// http-only cookie.
type AuthResult struct {
	Account      PublicAccount
	AccessToken  string
	RefreshToken string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) issueTokens(account *Account) (access, refresh string, err error) {
	access, err = s.codec.IssueAccess(account.ID, account.Role, "")
	if err != nil {
		return "", "", err
	}
	refresh, err = s.codec.IssueRefresh(account.ID)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Register creates an account and its first session. Email and username
// uniqueness are checked concurrently before any write; the store's own
// unique constraints remain the authority under races.
func (s *Service) Register(ctx context.Context, email, password, username string, meta Meta) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, BadRequest(CodeBadRequest, "valid email is required")
	}
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, BadRequest(CodeBadRequest, "username must be 3-20 characters: letters, digits and underscore")
	}
	if password == "" {
		return nil, BadRequest(CodeBadRequest, "password is required")
	}

	var emailTaken, usernameTaken bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.accounts.FindByEmail(gctx, email)
		if err == nil {
			emailTaken = true
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		_, err := s.accounts.FindByUsername(gctx, username)
		if err == nil {
			usernameTaken = true
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("uniqueness check: %w", err)
	}
	if emailTaken {
		return nil, ErrEmailInUse
	}
	if usernameTaken {
		return nil, ErrUsernameTaken
	}

	// Hashing happens here, explicitly, before the store sees the record.
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account := &Account{
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         RoleUser,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	result, err := s.startSession(ctx, account, meta)
	if err != nil {
		return nil, err
	}
	obs.IncRegistration()
	return result, nil
}

// Login authenticates credentials and opens a new session. Absent account
// and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string, meta Meta) (*AuthResult, error) {
	account, err := s.accounts.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveLogin("failure")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := VerifyPassword(account.PasswordHash, password); err != nil {
		obs.ObserveLogin("failure")
		return nil, ErrInvalidCredentials
	}
	result, err := s.startSession(ctx, account, meta)
	if err != nil {
		return nil, err
	}
	obs.ObserveLogin("success")
	return result, nil
}

func (s *Service) startSession(ctx context.Context, account *Account, meta Meta) (*AuthResult, error) {
	access, refresh, err := s.issueTokens(account)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.Create(ctx, account.ID, refresh, meta); err != nil {
		return nil, err
	}
	return &AuthResult{Account: account.Public(), AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a valid refresh token for a fresh pair and rotates
// the session. Presenting a token that was already rotated away is
// treated as replay: every session of the account is revoked before the
// error propagates.
func (s *Service) Refresh(ctx context.Context, rawRefreshToken string, meta Meta) (*AuthResult, error) {
	if strings.TrimSpace(rawRefreshToken) == "" {
		return nil, ErrRefreshTokenInvalid
	}
	claims, err := s.codec.VerifyRefresh(rawRefreshToken)
	if err != nil {
		return nil, ErrRefreshTokenInvalid
	}
	account, err := s.accounts.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	session, err := s.ledger.FindActiveByToken(ctx, account.ID, rawRefreshToken)
	if err != nil {
		return nil, err
	}
	if session == nil {
		// Single-use property: a verified token with no active session
		// means it was rotated away and replayed. Revoke everything for
		// the account, unconditionally, before reporting the failure.
		if err := s.ledger.RevokeAll(ctx, account.ID); err != nil {
			return nil, err
		}
		obs.IncReuseDetected()
		return nil, ErrRefreshReuseDetected
	}

	access, refresh, err := s.issueTokens(account)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.Rotate(ctx, session.ID, account.ID, refresh, meta); err != nil {
		return nil, err
	}
	obs.IncRotation()
	return &AuthResult{Account: account.Public(), AccessToken: access, RefreshToken: refresh}, nil
}

// Logout ends sessions for an account. With a matching refresh token it
// revokes that one session; otherwise it falls back to revoking every
// active session.
func (s *Service) Logout(ctx context.Context, accountID, rawRefreshToken string) error {
	if rawRefreshToken != "" {
		session, err := s.ledger.FindActiveByToken(ctx, accountID, rawRefreshToken)
		if err != nil {
			return err
		}
		if session != nil {
			if err := s.ledger.RevokeByID(ctx, Requester{ID: accountID, Role: RoleUser}, session.ID); err != nil {
				return err
			}
			obs.IncRevocation("one")
			return nil
		}
	}
	if err := s.ledger.RevokeAll(ctx, accountID); err != nil {
		return err
	}
	obs.IncRevocation("all")
	return nil
}

// ChangePassword re-hashes and stores a new password after verifying the
// current one, then revokes every other session.
func (s *Service) ChangePassword(ctx context.Context, requester Requester, current, next string) error {
	if next == "" {
		return BadRequest(CodeBadRequest, "new password is required")
	}
	account, err := s.accounts.Find(ctx, requester.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if err := VerifyPassword(account.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		return err
	}
	if err := s.ledger.RevokeAll(ctx, account.ID); err != nil {
		return err
	}
	obs.IncRevocation("all")
	return nil
}
