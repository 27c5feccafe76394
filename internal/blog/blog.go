// Package blog stores and serves marketing blog posts: a public read surface
// plus an admin-key authoring API that upserts by slug.
package blog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/selfscope/selfscope/internal/store"
)

// Post statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// Post is one blog entry. Tags is free comma-separated text.
type Post struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Slug        string    `json:"slug"`
	Tags        string    `json:"tags"`
	Content     string    `json:"content"`
	IconURL     string    `json:"icon_url"`
	ImageURL    string    `json:"image_url"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store provides SQLite persistence for blog posts.
type Store struct {
	db *sql.DB
}

// NewStore initializes the blog table on the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blog_posts (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		slug        TEXT NOT NULL UNIQUE,
		tags        TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL DEFAULT '',
		icon_url    TEXT NOT NULL DEFAULT '',
		image_url   TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'draft',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blog_posts_status ON blog_posts(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init blog schema: %w", err)
	}
	return nil
}

const postColumns = `id, title, description, slug, tags, content, icon_url, image_url, status, created_at, updated_at`

// Upsert creates the post or overwrites the existing one with the same slug.
// Returns true when a new post was created.
func (s *Store) Upsert(ctx context.Context, p *Post) (created bool, err error) {
	if p == nil {
		return false, fmt.Errorf("post is nil")
	}
	if p.Slug == "" {
		return false, fmt.Errorf("slug is required")
	}
	if p.Title == "" {
		return false, fmt.Errorf("title is required")
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if p.Status != StatusDraft && p.Status != StatusPublished {
		return false, fmt.Errorf("invalid status %q", p.Status)
	}

	existing, err := s.GetBySlug(ctx, p.Slug)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()

	if existing == nil {
		p.CreatedAt = now
		p.UpdatedAt = now
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO blog_posts (title, description, slug, tags, content, icon_url, image_url, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Title, p.Description, p.Slug, p.Tags, p.Content, p.IconURL, p.ImageURL, p.Status, now.Unix(), now.Unix())
		if err != nil {
			return false, fmt.Errorf("create post: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("create post id: %w", err)
		}
		p.ID = id
		return true, nil
	}

	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, `
		UPDATE blog_posts SET title = ?, description = ?, tags = ?, content = ?,
			icon_url = ?, image_url = ?, status = ?, updated_at = ?
		WHERE slug = ?`,
		p.Title, p.Description, p.Tags, p.Content, p.IconURL, p.ImageURL, p.Status, now.Unix(), p.Slug)
	if err != nil {
		return false, fmt.Errorf("update post: %w", err)
	}
	return false, nil
}

// GetBySlug retrieves a post by slug regardless of status. Returns (nil, nil)
// when missing.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM blog_posts WHERE slug = ?`, slug)
	return scanPost(row)
}

// ListPublished returns published posts, newest first.
func (s *Store) ListPublished(ctx context.Context) ([]*Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM blog_posts WHERE status = ? ORDER BY created_at DESC`, StatusPublished)
	if err != nil {
		return nil, fmt.Errorf("list published posts: %w", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func scanPost(sc store.Scanner) (*Post, error) {
	var p Post
	var createdAt, updatedAt int64

	err := sc.Scan(&p.ID, &p.Title, &p.Description, &p.Slug, &p.Tags, &p.Content,
		&p.IconURL, &p.ImageURL, &p.Status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan post: %w", err)
	}

	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}
