package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type serviceFixture struct {
	service  *Service
	accounts *memAccounts
	sessions *memSessions
	codec    *Codec
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	accounts := newMemAccounts()
	sessions := newMemSessions()
	codec := testCodec(t)
	service, err := NewService(accounts, NewLedger(sessions), codec)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &serviceFixture{service: service, accounts: accounts, sessions: sessions, codec: codec}
}

func (f *serviceFixture) register(t *testing.T, email, username string) *AuthResult {
	t.Helper()
	res, err := f.service.Register(context.Background(), email, "s3cret-password", username, Meta{UserAgent: "test"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return res
}

func TestRegister(t *testing.T) {
	f := newServiceFixture(t)

	res, err := f.service.Register(context.Background(), "  Alice@Example.COM ", "s3cret-password", "alice", Meta{UserAgent: "cli", IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Account.Email != "alice@example.com" {
		t.Fatalf("email = %q, want normalized lowercase", res.Account.Email)
	}
	if res.Account.Role != RoleUser {
		t.Fatalf("role = %q, want %q", res.Account.Role, RoleUser)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("both tokens must be issued")
	}

	// The stored credential is a hash, never the raw password.
	stored, err := f.accounts.FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if stored.PasswordHash == "s3cret-password" || stored.PasswordHash == "" {
		t.Fatal("password must be stored as a hash")
	}
	if err := VerifyPassword(stored.PasswordHash, "s3cret-password"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}

	// Registration opens exactly one active session bound to the token.
	sess, err := NewLedger(f.sessions).FindActiveByToken(context.Background(), stored.ID, res.RefreshToken)
	if err != nil {
		t.Fatalf("FindActiveByToken: %v", err)
	}
	if sess == nil {
		t.Fatal("refresh token must resolve to an active session")
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cases := []struct {
		name            string
		email, pw, user string
	}{
		{name: "bad email", email: "nope", pw: "pw", user: "alice"},
		{name: "empty password", email: "a@b.com", pw: "", user: "alice"},
		{name: "short username", email: "a@b.com", pw: "pw", user: "ab"},
		{name: "long username", email: "a@b.com", pw: "pw", user: strings.Repeat("a", 21)},
		{name: "bad username chars", email: "a@b.com", pw: "pw", user: "al ice!"},
	}
	for _, tc := range cases {
		_, err := f.service.Register(ctx, tc.email, tc.pw, tc.user, Meta{})
		if CodeOf(err) != CodeBadRequest {
			t.Fatalf("%s: err = %v, want BAD_REQUEST", tc.name, err)
		}
	}
	if f.sessions.writeCount() != 0 {
		t.Fatal("rejected registrations must not create sessions")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice@example.com", "alice")

	_, err := f.service.Register(context.Background(), "alice@example.com", "pw", "alice2", Meta{})
	if !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("err = %v, want ErrEmailInUse", err)
	}
}

func TestRegisterUsernameCaseInsensitive(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice@example.com", "alice")

	_, err := f.service.Register(context.Background(), "other@example.com", "pw", "Alice", Meta{})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("err = %v, want ErrUsernameTaken", err)
	}
}

func TestLogin(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice@example.com", "alice")

	res, err := f.service.Login(context.Background(), "ALICE@example.com", "s3cret-password", Meta{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Account.Username != "alice" {
		t.Fatalf("username = %q, want alice", res.Account.Username)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatal("both tokens must be issued")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice@example.com", "alice")
	before := f.sessions.writeCount()

	_, err := f.service.Login(context.Background(), "alice@example.com", "wrong", Meta{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if f.sessions.writeCount() != before {
		t.Fatal("failed login must not touch the session ledger")
	}
}

func TestLoginUnknownAccount(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Login(context.Background(), "ghost@example.com", "pw", Meta{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestRefreshRotates(t *testing.T) {
	f := newServiceFixture(t)
	reg := f.register(t, "alice@example.com", "alice")

	res, err := f.service.Refresh(context.Background(), reg.RefreshToken, Meta{UserAgent: "cli"})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if res.RefreshToken == reg.RefreshToken {
		t.Fatal("rotation must mint a new refresh token")
	}
	if res.AccessToken == "" {
		t.Fatal("rotation must mint a new access token")
	}

	// The new token works; the account keeps exactly one active session.
	if _, err := f.service.Refresh(context.Background(), res.RefreshToken, Meta{}); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	active, err := f.sessions.ListActive(context.Background(), res.Account.ID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active sessions = %d, want 1", len(active))
	}
}

func TestRefreshMissingToken(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "alice@example.com", "alice")
	before := f.sessions.writeCount()

	for _, token := range []string{"", "   ", "garbage"} {
		_, err := f.service.Refresh(context.Background(), token, Meta{})
		if !errors.Is(err, ErrRefreshTokenInvalid) {
			t.Fatalf("token %q: err = %v, want ErrRefreshTokenInvalid", token, err)
		}
	}
	if f.sessions.writeCount() != before {
		t.Fatal("rejected refresh must not touch the session ledger")
	}
}

func TestRefreshReuseDetection(t *testing.T) {
	f := newServiceFixture(t)
	reg := f.register(t, "alice@example.com", "alice")
	ctx := context.Background()

	// Open a second session so we can observe the account-wide sweep.
	login, err := f.service.Login(ctx, "alice@example.com", "s3cret-password", Meta{UserAgent: "phone"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Legitimate rotation consumes the registration token.
	if _, err := f.service.Refresh(ctx, reg.RefreshToken, Meta{}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Replaying it is reuse: every session of the account dies, including
	// the untouched phone session and the rotation's successor.
	_, err = f.service.Refresh(ctx, reg.RefreshToken, Meta{})
	if !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("err = %v, want ErrRefreshReuseDetected", err)
	}
	active, err := f.sessions.ListActive(ctx, login.Account.ID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active sessions after reuse = %d, want 0", len(active))
	}

	// The phone session's token is now dead too, which is itself reuse.
	_, err = f.service.Refresh(ctx, login.RefreshToken, Meta{})
	if !errors.Is(err, ErrRefreshReuseDetected) {
		t.Fatalf("err = %v, want ErrRefreshReuseDetected", err)
	}
}

func TestRefreshUnknownSubject(t *testing.T) {
	f := newServiceFixture(t)

	// A well-signed token for an account that does not exist.
	token, err := f.codec.IssueRefresh("ghost")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	_, err = f.service.Refresh(context.Background(), token, Meta{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestLogoutScoped(t *testing.T) {
	f := newServiceFixture(t)
	reg := f.register(t, "alice@example.com", "alice")
	ctx := context.Background()

	login, err := f.service.Login(ctx, "alice@example.com", "s3cret-password", Meta{UserAgent: "phone"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Logout with the registration token ends only that session.
	if err := f.service.Logout(ctx, reg.Account.ID, reg.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	active, err := f.sessions.ListActive(ctx, reg.Account.ID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active sessions = %d, want 1", len(active))
	}
	if sess, _ := NewLedger(f.sessions).FindActiveByToken(ctx, reg.Account.ID, login.RefreshToken); sess == nil {
		t.Fatal("the other session must survive a scoped logout")
	}
}

func TestLogoutWithoutTokenRevokesAll(t *testing.T) {
	f := newServiceFixture(t)
	reg := f.register(t, "alice@example.com", "alice")
	ctx := context.Background()

	if _, err := f.service.Login(ctx, "alice@example.com", "s3cret-password", Meta{}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := f.service.Logout(ctx, reg.Account.ID, ""); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	active, err := f.sessions.ListActive(ctx, reg.Account.ID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active sessions = %d, want 0", len(active))
	}
}

func TestChangePassword(t *testing.T) {
	f := newServiceFixture(t)
	reg := f.register(t, "alice@example.com", "alice")
	ctx := context.Background()
	requester := Requester{ID: reg.Account.ID, Role: RoleUser}

	if err := f.service.ChangePassword(ctx, requester, "wrong", "new-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if err := f.service.ChangePassword(ctx, requester, "s3cret-password", ""); CodeOf(err) != CodeBadRequest {
		t.Fatalf("err = %v, want BAD_REQUEST", err)
	}

	if err := f.service.ChangePassword(ctx, requester, "s3cret-password", "new-password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// Every session is swept, the old credential is dead and the new one
	// works.
	active, err := f.sessions.ListActive(ctx, reg.Account.ID)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active sessions = %d, want 0", len(active))
	}
	if _, err := f.service.Login(ctx, "alice@example.com", "s3cret-password", Meta{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := f.service.Login(ctx, "alice@example.com", "new-password", Meta{}); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}
}
