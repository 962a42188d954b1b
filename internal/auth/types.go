package auth

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account represents a registered identity with its credential.
type Account struct {
	ID            string
	Email         string
	Username      string
	UsernameLower string
	PasswordHash  string
	Role          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PublicAccount is the outward view of an account. It never carries the
// password hash or any token digest.
type PublicAccount struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *Account) Public() PublicAccount {
	return PublicAccount{
		ID:        a.ID,
		Email:     a.Email,
		Username:  a.Username,
		Role:      a.Role,
		CreatedAt: a.CreatedAt,
	}
}

// Session records one issued refresh token. Only the token's digest is
// stored; the raw token never touches persistence. RevokedAt nil means
// the session is active.
type Session struct {
	ID               string
	AccountID        string
	RefreshTokenHash string
	UserAgent        string
	IP               string
	CreatedAt        time.Time
	LastUsedAt       time.Time
	RevokedAt        *time.Time
}

func (s *Session) Active() bool { return s.RevokedAt == nil }

// PublicSession is the outward view of a session, digest excluded.
type PublicSession struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	UserAgent  string     `json:"user_agent,omitempty"`
	IP         string     `json:"ip,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt time.Time  `json:"last_used_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
	Active     bool       `json:"active"`
}

func (s *Session) Public() PublicSession {
	return PublicSession{
		ID:         s.ID,
		AccountID:  s.AccountID,
		UserAgent:  s.UserAgent,
		IP:         s.IP,
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.LastUsedAt,
		RevokedAt:  s.RevokedAt,
		Active:     s.RevokedAt == nil,
	}
}

// Requester identifies the authenticated caller of an operation. It is
// constructed once at the authentication boundary and threaded through
// explicitly; deeper layers never rebuild it from ambient state.
type Requester struct {
	ID   string
	Role string
}

func (r Requester) IsAdmin() bool { return r.Role == RoleAdmin }

// Meta carries optional client metadata recorded with a session for
// audit purposes. It is never used for authorization decisions.
type Meta struct {
	UserAgent string
	IP        string
}
