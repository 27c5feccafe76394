// Package ingest stores the content records an external importer writes for
// each profile: the source declaration, Hacker News activity, and scraped
// website pages. The core performs no fetching or parsing; records are opaque
// bags written through the ingest API and read back per profile.
package ingest

import "time"

// Source declares where a profile's content comes from. One per profile,
// created lazily on first access.
type Source struct {
	ID                 int64     `json:"id"`
	ProfileID          int64     `json:"profile_id"`
	Key                string    `json:"key"`
	PersonalWebsite    string    `json:"personal_website"`
	HackerNewsUsername string    `json:"hackernews_username"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HNStory is one imported Hacker News submission. Upserts are keyed by the
// external StoryID within a profile.
type HNStory struct {
	ID           int64          `json:"id"`
	ProfileID    int64          `json:"profile_id"`
	StoryID      int64          `json:"story_id"`
	Title        string         `json:"title"`
	URL          string         `json:"url"`
	Author       string         `json:"author"`
	Points       int            `json:"points"`
	NumComments  int            `json:"num_comments"`
	PostedAt     time.Time      `json:"posted_at"`
	PostedAtUnix int64          `json:"posted_at_unix"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Tags         []string       `json:"tags,omitempty"`
	Highlight    map[string]any `json:"highlight,omitempty"`
}

// HNComment is one imported Hacker News comment, linked to its parent story.
// Upserts are keyed by the external CommentID within a profile.
type HNComment struct {
	ID           int64          `json:"id"`
	ProfileID    int64          `json:"profile_id"`
	CommentID    int64          `json:"comment_id"`
	Text         string         `json:"text"`
	Author       string         `json:"author"`
	StoryID      int64          `json:"story_id"`
	StoryTitle   string         `json:"story_title"`
	ParentID     *int64         `json:"parent_id,omitempty"`
	PostedAt     time.Time      `json:"posted_at"`
	PostedAtUnix int64          `json:"posted_at_unix"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Tags         []string       `json:"tags,omitempty"`
	Highlight    map[string]any `json:"highlight,omitempty"`
}

// WebsitePage is one scraped page from the profile's personal website.
type WebsitePage struct {
	ID          int64          `json:"id"`
	ProfileID   int64          `json:"profile_id"`
	URL         string         `json:"url"`
	ContentType string         `json:"content_type"`
	Content     string         `json:"content"`
	WordCount   int            `json:"word_count"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Links       []string       `json:"links,omitempty"`
	Images      []string       `json:"images,omitempty"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	ModifiedAt  *time.Time     `json:"modified_at,omitempty"`
	ScrapedAt   time.Time      `json:"scraped_at"`
}
