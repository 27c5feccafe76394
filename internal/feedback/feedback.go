// Package feedback captures free-form user feedback and notifies the
// operator through the background dispatcher.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/selfscope/selfscope/internal/store"
)

// Feedback is one submitted message. ProfileID is nil for anonymous
// submissions.
type Feedback struct {
	ID        int64     `json:"id"`
	ProfileID *int64    `json:"profile_id,omitempty"`
	Text      string    `json:"text"`
	Page      string    `json:"page"`
	CreatedAt time.Time `json:"created_at"`
}

// Store provides SQLite persistence for feedback.
type Store struct {
	db *sql.DB
}

// NewStore initializes the feedback table on the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS feedback (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id INTEGER REFERENCES profiles(id) ON DELETE SET NULL,
		text       TEXT NOT NULL,
		page       TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init feedback schema: %w", err)
	}
	return nil
}

// Create inserts one feedback row and assigns its ID.
func (s *Store) Create(ctx context.Context, f *Feedback) error {
	if f == nil {
		return fmt.Errorf("feedback is nil")
	}
	if f.Text == "" {
		return fmt.Errorf("feedback text is required")
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (profile_id, text, page, created_at) VALUES (?, ?, ?, ?)`,
		f.ProfileID, f.Text, f.Page, f.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create feedback id: %w", err)
	}
	f.ID = id
	return nil
}

// List returns all feedback, newest first.
func (s *Store) List(ctx context.Context) ([]*Feedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profile_id, text, page, created_at FROM feedback ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var items []*Feedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func scanFeedback(sc store.Scanner) (*Feedback, error) {
	var f Feedback
	var profileID sql.NullInt64
	var createdAt int64

	if err := sc.Scan(&f.ID, &profileID, &f.Text, &f.Page, &createdAt); err != nil {
		return nil, fmt.Errorf("scan feedback: %w", err)
	}
	if profileID.Valid {
		id := profileID.Int64
		f.ProfileID = &id
	}
	f.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &f, nil
}
