// Package account manages user identities, password auth, and sessions.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/selfscope/selfscope/internal/store"
)

// User is the authentication identity a Profile extends.
type User struct {
	ID            int64     `json:"id"`
	Key           string    `json:"key"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	IsStaff       bool      `json:"is_staff"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ErrDuplicateEmail is returned when a signup reuses an existing address.
var ErrDuplicateEmail = errors.New("email already registered")

// Store provides SQLite persistence for users.
type Store struct {
	db *sql.DB
}

// NewStore initializes the users table on the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		key            TEXT NOT NULL UNIQUE,
		email          TEXT NOT NULL UNIQUE,
		password_hash  TEXT NOT NULL,
		is_staff       INTEGER NOT NULL DEFAULT 0,
		email_verified INTEGER NOT NULL DEFAULT 0,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init users schema: %w", err)
	}
	return nil
}

const userColumns = `id, key, email, password_hash, is_staff, email_verified, created_at, updated_at`

// Create inserts a new user and assigns its ID.
func (s *Store) Create(ctx context.Context, u *User) error {
	if u == nil {
		return fmt.Errorf("user is nil")
	}
	u.Email = normalizeEmail(u.Email)
	if u.Email == "" {
		return fmt.Errorf("email is required")
	}
	if u.Key == "" {
		return fmt.Errorf("user key is required")
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (key, email, password_hash, is_staff, email_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Key, u.Email, u.PasswordHash, boolToInt(u.IsStaff), boolToInt(u.EmailVerified),
		u.CreatedAt.Unix(), u.UpdatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: users.email") {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create user id: %w", err)
	}
	u.ID = id
	return nil
}

// GetByID retrieves a user by ID. Returns (nil, nil) when missing.
func (s *Store) GetByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetByEmail retrieves a user by normalized email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email))
	return scanUser(row)
}

// SetEmailVerified flips the verified flag.
func (s *Store) SetEmailVerified(ctx context.Context, id int64, verified bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET email_verified = ?, updated_at = ? WHERE id = ?`,
		boolToInt(verified), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("set email verified: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("set email verified: user not found")
	}
	return nil
}

func scanUser(s store.Scanner) (*User, error) {
	var u User
	var isStaff, verified int
	var createdAt, updatedAt int64

	err := s.Scan(&u.ID, &u.Key, &u.Email, &u.PasswordHash, &isStaff, &verified, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.IsStaff = isStaff != 0
	u.EmailVerified = verified != 0
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
