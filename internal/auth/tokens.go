package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// CodecConfig carries the signing material and lifetimes for both token
// kinds. It is built once from configuration at process start and passed
// in at construction time; the codec never reads ambient state.
type CodecConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Codec signs and verifies the two bearer token kinds. It is stateless:
// session validity lives in the Ledger, not here.
type Codec struct {
	cfg CodecConfig
	now func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithCodecClock overrides the time source (useful for tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec validates the configuration and constructs a Codec.
func NewCodec(cfg CodecConfig, opts ...CodecOption) (*Codec, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("auth: token secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}
	c := &Codec{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RefreshTTL reports the configured refresh token lifetime, which the web
// layer needs to size the cookie max-age.
func (c *Codec) RefreshTTL() time.Duration { return c.cfg.RefreshTTL }

// AccessClaims are the verified contents of an access token.
type AccessClaims struct {
	Role      string `json:"role"`
	Email     string `json:"email,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims are the verified contents of a refresh token. Refresh
// tokens carry only the account id.
type RefreshClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// IssueAccess signs a short-lived access token carrying account id and
// role. Email is optional and omitted when empty.
func (c *Codec) IssueAccess(accountID, role, email string) (string, error) {
	if accountID == "" || role == "" {
		return "", errors.New("auth: account id and role are required")
	}
	now := c.now().UTC()
	claims := AccessClaims{
		Role:      role,
		Email:     email,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.AccessTTL)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.cfg.AccessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// IssueRefresh signs a longer-lived refresh token carrying only the
// account id.
func (c *Codec) IssueRefresh(accountID string) (string, error) {
	if accountID == "" {
		return "", errors.New("auth: account id is required")
	}
	now := c.now().UTC()
	claims := RefreshClaims{
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.cfg.RefreshTTL)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.cfg.RefreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, nil
}

// VerifyAccess checks signature and expiry of an access token. Expiry is
// reported as ErrAccessTokenExpired so callers can emit a retry hint;
// every other failure collapses into ErrInvalidToken.
func (c *Codec) VerifyAccess(token string, leeway time.Duration) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return c.cfg.AccessSecret, nil
		},
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrAccessTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.Role == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh checks a refresh token. Expired and malformed are not
// distinguished here; the caller decides how to react and an attacker
// gets no structure oracle.
func (c *Codec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return c.cfg.RefreshSecret, nil
		},
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrRefreshTokenInvalid
	}
	if claims.TokenType != tokenTypeRefresh || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrRefreshTokenInvalid
	}
	return claims, nil
}

// Decode performs a non-verifying structural decode for diagnostics.
// Never use the result for authorization decisions.
func (c *Codec) Decode(token string) jwt.MapClaims {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return nil
	}
	return claims
}

// ParseExpiry normalizes an expiry configuration value to whole seconds.
// It accepts a bare integer (seconds), a Go duration string ("60m",
// "24h") or a day suffix ("7d").
func ParseExpiry(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("expiry value is empty")
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("expiry must be positive: %q", value)
		}
		return time.Duration(secs) * time.Second, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err == nil {
			if n <= 0 {
				return 0, fmt.Errorf("expiry must be positive: %q", value)
			}
			return time.Duration(n) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid expiry value %q: %w", value, err)
	}
	d = d.Truncate(time.Second)
	if d <= 0 {
		return 0, fmt.Errorf("expiry must be at least one second: %q", value)
	}
	return d, nil
}
