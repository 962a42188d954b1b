package httpapi

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"loom.social/internal/auth"
)

var testCodecConfig = auth.CodecConfig{
	AccessSecret:  []byte("access-secret-for-tests"),
	RefreshSecret: []byte("refresh-secret-for-tests"),
	AccessTTL:     time.Minute,
	RefreshTTL:    24 * time.Hour,
	Issuer:        "loom",
}

type memAccountStore struct {
	mu   sync.Mutex
	seq  int
	byID map[string]*auth.Account
}

func newMemAccountStore() *memAccountStore {
	return &memAccountStore{byID: make(map[string]*auth.Account)}
}

func (m *memAccountStore) Create(_ context.Context, a *auth.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lower := strings.ToLower(a.Username)
	for _, existing := range m.byID {
		if existing.Email == a.Email {
			return auth.ErrEmailInUse
		}
		if existing.UsernameLower == lower {
			return auth.ErrUsernameTaken
		}
	}
	if a.ID == "" {
		m.seq++
		a.ID = "acct-" + strconv.Itoa(m.seq)
	}
	a.UsernameLower = lower
	cp := *a
	m.byID[a.ID] = &cp
	return nil
}

func (m *memAccountStore) Find(_ context.Context, id string) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccountStore) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memAccountStore) FindByUsername(_ context.Context, username string) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lower := strings.ToLower(username)
	for _, a := range m.byID {
		if a.UsernameLower == lower {
			cp := *a
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (m *memAccountStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	a.PasswordHash = passwordHash
	return nil
}

type memSessionStore struct {
	mu   sync.Mutex
	seq  int
	byID map[string]*auth.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{byID: make(map[string]*auth.Session)}
}

func (m *memSessionStore) create(s *auth.Session) {
	if s.ID == "" {
		m.seq++
		s.ID = "sess-" + strconv.Itoa(m.seq)
	}
	if s.LastUsedAt.IsZero() {
		s.LastUsedAt = s.CreatedAt
	}
	cp := *s
	m.byID[s.ID] = &cp
}

func (m *memSessionStore) Create(_ context.Context, s *auth.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.create(s)
	return nil
}

func (m *memSessionStore) Find(_ context.Context, id string) (*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessionStore) ListActive(_ context.Context, accountID string) ([]*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*auth.Session
	for _, s := range m.byID {
		if s.AccountID == accountID && s.RevokedAt == nil {
			cp := *s
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (m *memSessionStore) ListByAccount(_ context.Context, accountID string) ([]*auth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*auth.Session
	for _, s := range m.byID {
		if s.AccountID == accountID {
			cp := *s
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (m *memSessionStore) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	s.LastUsedAt = at
	return nil
}

func (m *memSessionStore) MarkRevoked(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	if s.RevokedAt == nil {
		t := at
		s.RevokedAt = &t
	}
	return nil
}

func (m *memSessionStore) MarkRevokedByAccount(_ context.Context, accountID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.AccountID == accountID && s.RevokedAt == nil {
			t := at
			s.RevokedAt = &t
		}
	}
	return nil
}

func (m *memSessionStore) Rotate(_ context.Context, oldID string, next *auth.Session, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.byID[oldID]
	if !ok {
		return auth.ErrNotFound
	}
	if old.RevokedAt == nil {
		t := at
		old.RevokedAt = &t
	}
	m.create(next)
	return nil
}

type apiFixture struct {
	api      *API
	codec    *auth.Codec
	accounts *memAccountStore
	sessions *memSessionStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	codec, err := auth.NewCodec(testCodecConfig)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	accounts := newMemAccountStore()
	sessions := newMemSessionStore()
	ledger := auth.NewLedger(sessions)
	service, err := auth.NewService(accounts, ledger, codec)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(Options{
		Service: service,
		Ledger:  ledger,
		Codec:   codec,
		Version: "test",
	})
	return &apiFixture{api: api, codec: codec, accounts: accounts, sessions: sessions}
}
