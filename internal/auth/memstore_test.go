package auth

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// memAccounts is an in-memory AccountStore used across the package tests.
type memAccounts struct {
	mu     sync.Mutex
	seq    int
	byID   map[string]*Account
	writes int
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: make(map[string]*Account)}
}

func (m *memAccounts) Create(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lower := strings.ToLower(a.Username)
	for _, existing := range m.byID {
		if existing.Email == a.Email {
			return ErrEmailInUse
		}
		if existing.UsernameLower == lower {
			return ErrUsernameTaken
		}
	}
	if a.ID == "" {
		m.seq++
		a.ID = "acct-" + strconv.Itoa(m.seq)
	}
	a.UsernameLower = lower
	cp := *a
	m.byID[a.ID] = &cp
	m.writes++
	return nil
}

func (m *memAccounts) Find(_ context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memAccounts) FindByUsername(_ context.Context, username string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lower := strings.ToLower(username)
	for _, a := range m.byID {
		if a.UsernameLower == lower {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memAccounts) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = time.Now().UTC()
	m.writes++
	return nil
}

// memSessions is an in-memory SessionStore. It counts writes so tests can
// assert that failed flows leave the ledger untouched.
type memSessions struct {
	mu     sync.Mutex
	seq    int
	byID   map[string]*Session
	writes int
}

func newMemSessions() *memSessions {
	return &memSessions{byID: make(map[string]*Session)}
}

func (m *memSessions) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *memSessions) create(s *Session) {
	if s.ID == "" {
		m.seq++
		s.ID = "sess-" + strconv.Itoa(m.seq)
	}
	if s.LastUsedAt.IsZero() {
		s.LastUsedAt = s.CreatedAt
	}
	cp := *s
	m.byID[s.ID] = &cp
	m.writes++
}

func (m *memSessions) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.create(s)
	return nil
}

func (m *memSessions) Find(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) ListActive(_ context.Context, accountID string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*Session
	for _, s := range m.byID {
		if s.AccountID == accountID && s.RevokedAt == nil {
			cp := *s
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (m *memSessions) ListByAccount(_ context.Context, accountID string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []*Session
	for _, s := range m.byID {
		if s.AccountID == accountID {
			cp := *s
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		ai, aj := res[i].RevokedAt == nil, res[j].RevokedAt == nil
		if ai != aj {
			return ai
		}
		if !res[i].LastUsedAt.Equal(res[j].LastUsedAt) {
			return res[i].LastUsedAt.After(res[j].LastUsedAt)
		}
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func (m *memSessions) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	s.LastUsedAt = at
	m.writes++
	return nil
}

func (m *memSessions) MarkRevoked(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if s.RevokedAt == nil {
		t := at
		s.RevokedAt = &t
		m.writes++
	}
	return nil
}

func (m *memSessions) MarkRevokedByAccount(_ context.Context, accountID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.AccountID == accountID && s.RevokedAt == nil {
			t := at
			s.RevokedAt = &t
			m.writes++
		}
	}
	return nil
}

func (m *memSessions) Rotate(_ context.Context, oldID string, next *Session, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.byID[oldID]
	if !ok {
		return ErrNotFound
	}
	if old.RevokedAt == nil {
		t := at
		old.RevokedAt = &t
		m.writes++
	}
	m.create(next)
	return nil
}
