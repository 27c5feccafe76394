package blog

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// Handlers serves the public blog read API and the admin authoring API.
type Handlers struct {
	store *Store
}

// NewHandlers creates the blog handlers.
func NewHandlers(store *Store) *Handlers {
	return &Handlers{store: store}
}

// HandleList returns all published posts.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	posts, err := h.store.ListPublished(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Blog list failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load posts"})
		return
	}
	if posts == nil {
		posts = []*Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

// HandleGet returns one published post by slug. Drafts are invisible on the
// public surface: a draft slug 404s like a missing one.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	slug := strings.TrimPrefix(r.URL.Path, "/api/blog/")
	if slug == "" || strings.Contains(slug, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "post not found"})
		return
	}

	post, err := h.store.GetBySlug(r.Context(), slug)
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("Blog lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load post"})
		return
	}
	if post == nil || post.Status != StatusPublished {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "post not found"})
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// PostIn is the authoring request body.
type PostIn struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Slug        string `json:"slug"`
	Tags        string `json:"tags"`
	Content     string `json:"content"`
	IconURL     string `json:"icon_url"`
	ImageURL    string `json:"image_url"`
	Status      string `json:"status"`
}

// PostOut is the authoring response body.
type PostOut struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Slug    string `json:"slug,omitempty"`
}

// HandleUpsert creates or updates a post by slug. Admin-key gated at the
// router.
func (h *Handlers) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var in PostIn
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, PostOut{Status: "error", Message: "invalid request body"})
		return
	}

	post := &Post{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Slug:        strings.TrimSpace(in.Slug),
		Tags:        in.Tags,
		Content:     in.Content,
		IconURL:     in.IconURL,
		ImageURL:    in.ImageURL,
		Status:      in.Status,
	}
	created, err := h.store.Upsert(r.Context(), post)
	if err != nil {
		log.Error().Err(err).Str("slug", post.Slug).Msg("Blog upsert failed")
		writeJSON(w, http.StatusBadRequest, PostOut{Status: "error", Message: err.Error()})
		return
	}

	if created {
		writeJSON(w, http.StatusCreated, PostOut{Status: "created", Message: "post created", Slug: post.Slug})
		return
	}
	writeJSON(w, http.StatusOK, PostOut{Status: "updated", Message: "post updated", Slug: post.Slug})
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("blog: encode response")
	}
}
