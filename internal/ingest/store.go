package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/selfscope/selfscope/internal/ids"
	"github.com/selfscope/selfscope/internal/store"
)

// Store provides SQLite persistence for sources and ingested content. The
// profiles table (internal/profile) must be initialized first.
type Store struct {
	db *sql.DB
}

// NewStore initializes the ingest tables on the given database.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id          INTEGER NOT NULL UNIQUE REFERENCES profiles(id) ON DELETE CASCADE,
		key                 TEXT NOT NULL UNIQUE,
		personal_website    TEXT NOT NULL DEFAULT '',
		hackernews_username TEXT NOT NULL DEFAULT '',
		created_at          INTEGER NOT NULL,
		updated_at          INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS hn_stories (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id   INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		story_id     INTEGER NOT NULL,
		title        TEXT NOT NULL DEFAULT '',
		url          TEXT NOT NULL DEFAULT '',
		author       TEXT NOT NULL DEFAULT '',
		points       INTEGER NOT NULL DEFAULT 0,
		num_comments INTEGER NOT NULL DEFAULT 0,
		posted_at    INTEGER NOT NULL DEFAULT 0,
		updated_at   INTEGER NOT NULL,
		tags         TEXT,
		highlight    TEXT,
		UNIQUE(profile_id, story_id)
	);

	CREATE TABLE IF NOT EXISTS hn_comments (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id  INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		comment_id  INTEGER NOT NULL,
		text        TEXT NOT NULL DEFAULT '',
		author      TEXT NOT NULL DEFAULT '',
		story_id    INTEGER NOT NULL DEFAULT 0,
		story_title TEXT NOT NULL DEFAULT '',
		parent_id   INTEGER,
		posted_at   INTEGER NOT NULL DEFAULT 0,
		updated_at  INTEGER NOT NULL,
		tags        TEXT,
		highlight   TEXT,
		UNIQUE(profile_id, comment_id)
	);

	CREATE TABLE IF NOT EXISTS website_pages (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id   INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		url          TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL DEFAULT '',
		word_count   INTEGER NOT NULL DEFAULT 0,
		metadata     TEXT,
		links        TEXT,
		images       TEXT,
		published_at INTEGER,
		modified_at  INTEGER,
		scraped_at   INTEGER NOT NULL,
		UNIQUE(profile_id, url)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init ingest schema: %w", err)
	}
	return nil
}

// GetOrCreateSource returns the profile's source, creating an empty one on
// first access.
func (s *Store) GetOrCreateSource(ctx context.Context, profileID int64) (*Source, error) {
	src, err := s.getSource(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if src != nil {
		return src, nil
	}

	key, err := ids.NewSourceKey()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sources (profile_id, key, personal_website, hackernews_username, created_at, updated_at)
		VALUES (?, ?, '', '', ?, ?)
		ON CONFLICT(profile_id) DO NOTHING`,
		profileID, key, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	// Re-read: a concurrent creator may have won the conflict.
	src, err = s.getSource(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("create source: profile %d not found after insert", profileID)
	}
	return src, nil
}

func (s *Store) getSource(ctx context.Context, profileID int64) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, profile_id, key, personal_website, hackernews_username, created_at, updated_at
		FROM sources WHERE profile_id = ?`, profileID)

	var src Source
	var createdAt, updatedAt int64
	err := row.Scan(&src.ID, &src.ProfileID, &src.Key, &src.PersonalWebsite, &src.HackerNewsUsername, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load source: %w", err)
	}
	src.CreatedAt = time.Unix(createdAt, 0).UTC()
	src.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &src, nil
}

// UpdateSource overwrites the source declaration, creating it first when
// needed.
func (s *Store) UpdateSource(ctx context.Context, profileID int64, personalWebsite, hnUsername string) (*Source, error) {
	if _, err := s.GetOrCreateSource(ctx, profileID); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources SET personal_website = ?, hackernews_username = ?, updated_at = ?
		WHERE profile_id = ?`,
		personalWebsite, hnUsername, time.Now().UTC().Unix(), profileID)
	if err != nil {
		return nil, fmt.Errorf("update source: %w", err)
	}
	return s.getSource(ctx, profileID)
}

// UpsertStory inserts or replaces one story keyed by (profile, story_id).
func (s *Store) UpsertStory(ctx context.Context, story *HNStory) error {
	if story == nil {
		return fmt.Errorf("story is nil")
	}
	if story.StoryID == 0 {
		return fmt.Errorf("story_id is required")
	}
	now := time.Now().UTC()
	story.UpdatedAt = now
	if story.PostedAtUnix == 0 && !story.PostedAt.IsZero() {
		story.PostedAtUnix = story.PostedAt.Unix()
	}

	tags, err := marshalJSON(story.Tags)
	if err != nil {
		return fmt.Errorf("marshal story tags: %w", err)
	}
	highlight, err := marshalJSON(story.Highlight)
	if err != nil {
		return fmt.Errorf("marshal story highlight: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hn_stories (profile_id, story_id, title, url, author, points, num_comments, posted_at, updated_at, tags, highlight)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, story_id) DO UPDATE SET
			title = excluded.title, url = excluded.url, author = excluded.author,
			points = excluded.points, num_comments = excluded.num_comments,
			posted_at = excluded.posted_at, updated_at = excluded.updated_at,
			tags = excluded.tags, highlight = excluded.highlight`,
		story.ProfileID, story.StoryID, story.Title, story.URL, story.Author,
		story.Points, story.NumComments, story.PostedAtUnix, now.Unix(), tags, highlight)
	if err != nil {
		return fmt.Errorf("upsert story: %w", err)
	}
	return nil
}

// ListStories returns a profile's stories, newest first.
func (s *Store) ListStories(ctx context.Context, profileID int64) ([]*HNStory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, story_id, title, url, author, points, num_comments, posted_at, updated_at, tags, highlight
		FROM hn_stories WHERE profile_id = ? ORDER BY posted_at DESC, story_id DESC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var stories []*HNStory
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, story)
	}
	return stories, rows.Err()
}

// UpsertComment inserts or replaces one comment keyed by (profile,
// comment_id).
func (s *Store) UpsertComment(ctx context.Context, c *HNComment) error {
	if c == nil {
		return fmt.Errorf("comment is nil")
	}
	if c.CommentID == 0 {
		return fmt.Errorf("comment_id is required")
	}
	now := time.Now().UTC()
	c.UpdatedAt = now
	if c.PostedAtUnix == 0 && !c.PostedAt.IsZero() {
		c.PostedAtUnix = c.PostedAt.Unix()
	}

	tags, err := marshalJSON(c.Tags)
	if err != nil {
		return fmt.Errorf("marshal comment tags: %w", err)
	}
	highlight, err := marshalJSON(c.Highlight)
	if err != nil {
		return fmt.Errorf("marshal comment highlight: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hn_comments (profile_id, comment_id, text, author, story_id, story_title, parent_id, posted_at, updated_at, tags, highlight)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, comment_id) DO UPDATE SET
			text = excluded.text, author = excluded.author,
			story_id = excluded.story_id, story_title = excluded.story_title,
			parent_id = excluded.parent_id, posted_at = excluded.posted_at,
			updated_at = excluded.updated_at, tags = excluded.tags, highlight = excluded.highlight`,
		c.ProfileID, c.CommentID, c.Text, c.Author, c.StoryID, c.StoryTitle,
		c.ParentID, c.PostedAtUnix, now.Unix(), tags, highlight)
	if err != nil {
		return fmt.Errorf("upsert comment: %w", err)
	}
	return nil
}

// ListComments returns a profile's comments, newest first.
func (s *Store) ListComments(ctx context.Context, profileID int64) ([]*HNComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, comment_id, text, author, story_id, story_title, parent_id, posted_at, updated_at, tags, highlight
		FROM hn_comments WHERE profile_id = ? ORDER BY posted_at DESC, comment_id DESC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []*HNComment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// UpsertPage inserts or replaces one website page keyed by (profile, url).
func (s *Store) UpsertPage(ctx context.Context, p *WebsitePage) error {
	if p == nil {
		return fmt.Errorf("page is nil")
	}
	if p.URL == "" {
		return fmt.Errorf("page url is required")
	}
	if p.ScrapedAt.IsZero() {
		p.ScrapedAt = time.Now().UTC()
	}

	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal page metadata: %w", err)
	}
	links, err := marshalJSON(p.Links)
	if err != nil {
		return fmt.Errorf("marshal page links: %w", err)
	}
	images, err := marshalJSON(p.Images)
	if err != nil {
		return fmt.Errorf("marshal page images: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO website_pages (profile_id, url, content_type, content, word_count, metadata, links, images, published_at, modified_at, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id, url) DO UPDATE SET
			content_type = excluded.content_type, content = excluded.content,
			word_count = excluded.word_count, metadata = excluded.metadata,
			links = excluded.links, images = excluded.images,
			published_at = excluded.published_at, modified_at = excluded.modified_at,
			scraped_at = excluded.scraped_at`,
		p.ProfileID, p.URL, p.ContentType, p.Content, p.WordCount,
		metadata, links, images, unixOrNil(p.PublishedAt), unixOrNil(p.ModifiedAt), p.ScrapedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

// ListPages returns a profile's scraped pages, newest scrape first.
func (s *Store) ListPages(ctx context.Context, profileID int64) ([]*WebsitePage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, url, content_type, content, word_count, metadata, links, images, published_at, modified_at, scraped_at
		FROM website_pages WHERE profile_id = ? ORDER BY scraped_at DESC, id DESC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []*WebsitePage
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func scanStory(sc store.Scanner) (*HNStory, error) {
	var story HNStory
	var postedAt, updatedAt int64
	var tags, highlight sql.NullString

	err := sc.Scan(&story.ID, &story.ProfileID, &story.StoryID, &story.Title, &story.URL,
		&story.Author, &story.Points, &story.NumComments, &postedAt, &updatedAt, &tags, &highlight)
	if err != nil {
		return nil, fmt.Errorf("scan story: %w", err)
	}

	story.PostedAtUnix = postedAt
	story.PostedAt = time.Unix(postedAt, 0).UTC()
	story.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if err := unmarshalJSON(tags, &story.Tags); err != nil {
		return nil, fmt.Errorf("decode story tags: %w", err)
	}
	if err := unmarshalJSON(highlight, &story.Highlight); err != nil {
		return nil, fmt.Errorf("decode story highlight: %w", err)
	}
	return &story, nil
}

func scanComment(sc store.Scanner) (*HNComment, error) {
	var c HNComment
	var parentID sql.NullInt64
	var postedAt, updatedAt int64
	var tags, highlight sql.NullString

	err := sc.Scan(&c.ID, &c.ProfileID, &c.CommentID, &c.Text, &c.Author,
		&c.StoryID, &c.StoryTitle, &parentID, &postedAt, &updatedAt, &tags, &highlight)
	if err != nil {
		return nil, fmt.Errorf("scan comment: %w", err)
	}

	if parentID.Valid {
		id := parentID.Int64
		c.ParentID = &id
	}
	c.PostedAtUnix = postedAt
	c.PostedAt = time.Unix(postedAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if err := unmarshalJSON(tags, &c.Tags); err != nil {
		return nil, fmt.Errorf("decode comment tags: %w", err)
	}
	if err := unmarshalJSON(highlight, &c.Highlight); err != nil {
		return nil, fmt.Errorf("decode comment highlight: %w", err)
	}
	return &c, nil
}

func scanPage(sc store.Scanner) (*WebsitePage, error) {
	var p WebsitePage
	var metadata, links, images sql.NullString
	var publishedAt, modifiedAt sql.NullInt64
	var scrapedAt int64

	err := sc.Scan(&p.ID, &p.ProfileID, &p.URL, &p.ContentType, &p.Content, &p.WordCount,
		&metadata, &links, &images, &publishedAt, &modifiedAt, &scrapedAt)
	if err != nil {
		return nil, fmt.Errorf("scan page: %w", err)
	}

	if err := unmarshalJSON(metadata, &p.Metadata); err != nil {
		return nil, fmt.Errorf("decode page metadata: %w", err)
	}
	if err := unmarshalJSON(links, &p.Links); err != nil {
		return nil, fmt.Errorf("decode page links: %w", err)
	}
	if err := unmarshalJSON(images, &p.Images); err != nil {
		return nil, fmt.Errorf("decode page images: %w", err)
	}
	if publishedAt.Valid {
		t := time.Unix(publishedAt.Int64, 0).UTC()
		p.PublishedAt = &t
	}
	if modifiedAt.Valid {
		t := time.Unix(modifiedAt.Int64, 0).UTC()
		p.ModifiedAt = &t
	}
	p.ScrapedAt = time.Unix(scrapedAt, 0).UTC()
	return &p, nil
}

func marshalJSON(v any) (any, error) {
	switch val := v.(type) {
	case []string:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func unmarshalJSON(col sql.NullString, dest any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dest)
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
