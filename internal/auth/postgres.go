package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"loom.social/internal/ids"
)

const pgUniqueViolation = "23505"

var (
	_ AccountStore = (*PGAccountStore)(nil)
	_ SessionStore = (*PGSessionStore)(nil)
)

// PGAccountStore implements AccountStore using PostgreSQL.
type PGAccountStore struct {
	db *sql.DB
}

func NewPGAccountStore(db *sql.DB) *PGAccountStore {
	return &PGAccountStore{db: db}
}

func (s *PGAccountStore) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	if a.Role == "" {
		a.Role = RoleUser
	}
	a.UsernameLower = strings.ToLower(a.Username)
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, email, username, username_lower, password_hash, role)
		 values($1,$2,$3,$4,$5,$6)`,
		a.ID, a.Email, a.Username, a.UsernameLower, a.PasswordHash, a.Role,
	)
	return translateUnique(err)
}

func (s *PGAccountStore) Find(ctx context.Context, id string) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, email, username, username_lower, password_hash, role, created_at, updated_at
		 from accounts where id=$1`, id))
}

func (s *PGAccountStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, email, username, username_lower, password_hash, role, created_at, updated_at
		 from accounts where email=$1`, strings.ToLower(strings.TrimSpace(email))))
}

func (s *PGAccountStore) FindByUsername(ctx context.Context, username string) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, email, username, username_lower, password_hash, role, created_at, updated_at
		 from accounts where username_lower=$1`, strings.ToLower(strings.TrimSpace(username))))
}

func (s *PGAccountStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update accounts set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGAccountStore) scanOne(row *sql.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.Username, &a.UsernameLower,
		&a.PasswordHash, &a.Role, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// translateUnique maps a unique-key violation to the matching domain
// conflict error instead of leaking the raw storage error.
func translateUnique(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "accounts_email_key":
		return ErrEmailInUse
	case "accounts_username_lower_key":
		return ErrUsernameTaken
	default:
		return Conflict(CodeConflict, "already exists")
	}
}

// PGSessionStore implements SessionStore using PostgreSQL.
type PGSessionStore struct {
	db *sql.DB
}

func NewPGSessionStore(db *sql.DB) *PGSessionStore {
	return &PGSessionStore{db: db}
}

const sessionColumns = `id, account_id, refresh_token_hash, user_agent, ip, created_at, last_used_at, revoked_at`

func (s *PGSessionStore) Create(ctx context.Context, sess *Session) error {
	return createSession(ctx, s.db, sess)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func createSession(ctx context.Context, db execer, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastUsedAt.IsZero() {
		sess.LastUsedAt = sess.CreatedAt
	}
	_, err := db.ExecContext(ctx,
		`insert into sessions(id, account_id, refresh_token_hash, user_agent, ip, created_at, last_used_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		sess.ID, sess.AccountID, sess.RefreshTokenHash, sess.UserAgent, sess.IP,
		sess.CreatedAt, sess.LastUsedAt,
	)
	return err
}

func (s *PGSessionStore) Find(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where id=$1`, id)
	return scanSession(row)
}

func (s *PGSessionStore) ListActive(ctx context.Context, accountID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where account_id=$1 and revoked_at is null`,
		accountID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (s *PGSessionStore) ListByAccount(ctx context.Context, accountID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions where account_id=$1
		 order by revoked_at asc nulls first, last_used_at desc, created_at desc`,
		accountID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (s *PGSessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set last_used_at=$2 where id=$1`, id, at.UTC())
	return err
}

func (s *PGSessionStore) MarkRevoked(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at=$2 where id=$1 and revoked_at is null`, id, at.UTC())
	return err
}

func (s *PGSessionStore) MarkRevokedByAccount(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at=$2 where account_id=$1 and revoked_at is null`,
		accountID, at.UTC())
	return err
}

func (s *PGSessionStore) Rotate(ctx context.Context, oldID string, next *Session, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update sessions set revoked_at=$2 where id=$1 and revoked_at is null`,
		oldID, at.UTC()); err != nil {
		return err
	}
	if err := createSession(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

func scanSession(row *sql.Row) (*Session, error) {
	var (
		sess    Session
		ua, ip  sql.NullString
		revoked sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.AccountID, &sess.RefreshTokenHash,
		&ua, &ip, &sess.CreatedAt, &sess.LastUsedAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.UserAgent = ua.String
	sess.IP = ip.String
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]*Session, error) {
	defer rows.Close()
	var res []*Session
	for rows.Next() {
		var (
			sess    Session
			ua, ip  sql.NullString
			revoked sql.NullTime
		)
		if err := rows.Scan(&sess.ID, &sess.AccountID, &sess.RefreshTokenHash,
			&ua, &ip, &sess.CreatedAt, &sess.LastUsedAt, &revoked); err != nil {
			return nil, err
		}
		sess.UserAgent = ua.String
		sess.IP = ip.String
		if revoked.Valid {
			t := revoked.Time
			sess.RevokedAt = &t
		}
		res = append(res, &sess)
	}
	return res, rows.Err()
}
