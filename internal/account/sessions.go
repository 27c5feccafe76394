package account

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrSessionInvalid = errors.New("session token is invalid")
	ErrSessionExpired = errors.New("session token is expired")

	ErrVerifyTokenInvalid = errors.New("verification token is invalid")
	ErrVerifyTokenExpired = errors.New("verification token is expired")
	ErrVerifyTokenUsed    = errors.New("verification token already used")
)

const (
	// SessionCookie is the name of the browser session cookie.
	SessionCookie = "selfscope_session"

	// SessionTTL is how long a session stays valid.
	SessionTTL = 30 * 24 * time.Hour

	// VerifyTokenTTL is how long an email verification link stays valid.
	VerifyTokenTTL = 24 * time.Hour

	sessionCleanupInterval = 5 * time.Minute
)

// SessionStore persists session and email-verification tokens. Tokens are
// identified by SHA-256(rawToken) stored as hex; the raw token only ever
// lives in the user's cookie or email.
type SessionStore struct {
	db          *sql.DB
	stopCleanup chan struct{}
}

// NewSessionStore initializes the token tables and starts the expiry cleanup
// loop.
func NewSessionStore(db *sql.DB) (*SessionStore, error) {
	s := &SessionStore{
		db:          db,
		stopCleanup: make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	go s.cleanupLoop()
	return s, nil
}

func (s *SessionStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		token_hash TEXT PRIMARY KEY,
		user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS email_verify_tokens (
		token_hash TEXT PRIMARY KEY,
		user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		expires_at INTEGER NOT NULL,
		used       INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_verify_expires_at ON email_verify_tokens(expires_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init sessions schema: %w", err)
	}
	return nil
}

func (s *SessionStore) cleanupLoop() {
	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.DeleteExpired(context.Background(), time.Now().UTC()); err != nil {
				log.Warn().Err(err).Msg("Failed to delete expired sessions")
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup loop. The shared database is closed by the caller.
func (s *SessionStore) Close() {
	select {
	case <-s.stopCleanup:
	default:
		close(s.stopCleanup)
	}
}

func newRawToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateSession issues a new session for the user and returns the raw token.
func (s *SessionStore) CreateSession(ctx context.Context, userID int64) (string, error) {
	raw, err := newRawToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		hashToken(raw), userID, now.Add(SessionTTL).Unix(), now.Unix())
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return raw, nil
}

// ValidateSession resolves a raw session token to a user ID.
func (s *SessionStore) ValidateSession(ctx context.Context, rawToken string) (int64, error) {
	if rawToken == "" {
		return 0, ErrSessionInvalid
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM sessions WHERE token_hash = ?`, hashToken(rawToken))

	var userID, expiresAt int64
	if err := row.Scan(&userID, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrSessionInvalid
		}
		return 0, fmt.Errorf("load session: %w", err)
	}
	if time.Now().UTC().After(time.Unix(expiresAt, 0).UTC()) {
		return 0, ErrSessionExpired
	}
	return userID, nil
}

// DeleteSession revokes one session by raw token.
func (s *SessionStore) DeleteSession(ctx context.Context, rawToken string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, hashToken(rawToken)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CreateVerifyToken issues an email verification token and returns the raw
// value for embedding in the verification link.
func (s *SessionStore) CreateVerifyToken(ctx context.Context, userID int64) (string, error) {
	raw, err := newRawToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO email_verify_tokens (token_hash, user_id, expires_at, used, created_at) VALUES (?, ?, ?, 0, ?)`,
		hashToken(raw), userID, now.Add(VerifyTokenTTL).Unix(), now.Unix())
	if err != nil {
		return "", fmt.Errorf("create verify token: %w", err)
	}
	return raw, nil
}

// ConsumeVerifyToken atomically validates and marks a verification token as
// used, returning the owning user ID.
func (s *SessionStore) ConsumeVerifyToken(ctx context.Context, rawToken string, now time.Time) (int64, error) {
	if rawToken == "" {
		return 0, ErrVerifyTokenInvalid
	}
	key := hashToken(rawToken)
	now = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin consume tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID, expiresAt int64
	var used int
	row := tx.QueryRowContext(ctx,
		`SELECT user_id, expires_at, used FROM email_verify_tokens WHERE token_hash = ?`, key)
	if err := row.Scan(&userID, &expiresAt, &used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrVerifyTokenInvalid
		}
		return 0, fmt.Errorf("load verify token: %w", err)
	}
	if now.After(time.Unix(expiresAt, 0).UTC()) {
		return 0, ErrVerifyTokenExpired
	}
	if used != 0 {
		return 0, ErrVerifyTokenUsed
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE email_verify_tokens SET used = 1 WHERE token_hash = ? AND used = 0`, key)
	if err != nil {
		return 0, fmt.Errorf("mark verify token used: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return 0, ErrVerifyTokenUsed
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit consume tx: %w", err)
	}
	return userID, nil
}

// DeleteExpired removes sessions and verification tokens past their expiry.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now.UTC().Unix()); err != nil {
		return fmt.Errorf("delete expired sessions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM email_verify_tokens WHERE expires_at < ?`, now.UTC().Unix()); err != nil {
		return fmt.Errorf("delete expired verify tokens: %w", err)
	}
	return nil
}
