package account

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/selfscope/selfscope/internal/ids"
	"github.com/selfscope/selfscope/internal/store"
)

func newTestStores(t *testing.T) (*sql.DB, *Store, *SessionStore) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	users, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	sessions, err := NewSessionStore(db)
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	t.Cleanup(sessions.Close)
	return db, users, sessions
}

func createTestUser(t *testing.T, users *Store, email string) *User {
	t.Helper()
	key, err := ids.NewUserKey()
	if err != nil {
		t.Fatalf("NewUserKey: %v", err)
	}
	u := &User{Key: key, Email: email, PasswordHash: "x"}
	if err := users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestSessionRoundTrip(t *testing.T) {
	_, users, sessions := newTestStores(t)
	user := createTestUser(t, users, "session@example.com")

	token, err := sessions.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	userID, err := sessions.ValidateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if userID != user.ID {
		t.Errorf("user id = %d, want %d", userID, user.ID)
	}
}

func TestSessionUnknownTokenIsInvalid(t *testing.T) {
	_, _, sessions := newTestStores(t)

	if _, err := sessions.ValidateSession(context.Background(), "deadbeef"); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("err = %v, want ErrSessionInvalid", err)
	}
	if _, err := sessions.ValidateSession(context.Background(), ""); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("empty token err = %v, want ErrSessionInvalid", err)
	}
}

func TestSessionDeleteRevokes(t *testing.T) {
	_, users, sessions := newTestStores(t)
	user := createTestUser(t, users, "revoke@example.com")

	token, err := sessions.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := sessions.DeleteSession(context.Background(), token); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := sessions.ValidateSession(context.Background(), token); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("err = %v, want ErrSessionInvalid after delete", err)
	}
}

func TestSessionExpiryCleanup(t *testing.T) {
	db, users, sessions := newTestStores(t)
	user := createTestUser(t, users, "expired@example.com")

	token, err := sessions.CreateSession(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Expired sessions fail validation and are swept by DeleteExpired.
	past := time.Now().UTC().Add(-time.Hour).Unix()
	if _, err := db.Exec(`UPDATE sessions SET expires_at = ?`, past); err != nil {
		t.Fatalf("age session: %v", err)
	}
	if _, err := sessions.ValidateSession(context.Background(), token); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("err = %v, want ErrSessionExpired", err)
	}

	if err := sessions.DeleteExpired(context.Background(), time.Now()); err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if count != 0 {
		t.Errorf("sessions remaining = %d, want 0", count)
	}
}

func TestVerifyTokenConsumeOnce(t *testing.T) {
	_, users, sessions := newTestStores(t)
	user := createTestUser(t, users, "verify@example.com")

	token, err := sessions.CreateVerifyToken(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateVerifyToken: %v", err)
	}

	userID, err := sessions.ConsumeVerifyToken(context.Background(), token, time.Now())
	if err != nil {
		t.Fatalf("ConsumeVerifyToken: %v", err)
	}
	if userID != user.ID {
		t.Errorf("user id = %d, want %d", userID, user.ID)
	}

	if _, err := sessions.ConsumeVerifyToken(context.Background(), token, time.Now()); !errors.Is(err, ErrVerifyTokenUsed) {
		t.Errorf("second consume err = %v, want ErrVerifyTokenUsed", err)
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	_, users, sessions := newTestStores(t)
	user := createTestUser(t, users, "stale@example.com")

	token, err := sessions.CreateVerifyToken(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("CreateVerifyToken: %v", err)
	}

	future := time.Now().Add(VerifyTokenTTL + time.Hour)
	if _, err := sessions.ConsumeVerifyToken(context.Background(), token, future); !errors.Is(err, ErrVerifyTokenExpired) {
		t.Errorf("err = %v, want ErrVerifyTokenExpired", err)
	}
}

func TestVerifyTokenUnknown(t *testing.T) {
	_, _, sessions := newTestStores(t)

	if _, err := sessions.ConsumeVerifyToken(context.Background(), "nope", time.Now()); !errors.Is(err, ErrVerifyTokenInvalid) {
		t.Errorf("err = %v, want ErrVerifyTokenInvalid", err)
	}
}
