package ingest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/selfscope/selfscope/internal/account"
	"github.com/selfscope/selfscope/internal/profile"
)

// Handlers serves the importer-facing ingest API and the session-facing
// source and content endpoints.
type Handlers struct {
	store    *Store
	profiles *profile.Store
}

// NewHandlers creates the ingest handlers.
func NewHandlers(store *Store, profiles *profile.Store) *Handlers {
	return &Handlers{store: store, profiles: profiles}
}

type ingestResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Upserted int    `json:"upserted,omitempty"`
}

type storiesRequest struct {
	ProfileKey string     `json:"profile_key"`
	Stories    []*HNStory `json:"stories"`
}

// HandleIngestStories upserts a batch of stories for a profile. Importer API,
// admin-key gated at the router.
func (h *Handlers) HandleIngestStories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req storiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Message: "invalid request body"})
		return
	}
	prof, ok := h.resolveProfile(w, r, req.ProfileKey)
	if !ok {
		return
	}

	for i, story := range req.Stories {
		story.ProfileID = prof.ID
		if err := h.store.UpsertStory(r.Context(), story); err != nil {
			log.Error().Err(err).Int64("profile_id", prof.ID).Int64("story_id", story.StoryID).Msg("Story upsert failed")
			writeJSON(w, http.StatusInternalServerError, ingestResponse{
				Message:  "story upsert failed",
				Upserted: i,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, ingestResponse{Success: true, Upserted: len(req.Stories)})
}

type commentsRequest struct {
	ProfileKey string       `json:"profile_key"`
	Comments   []*HNComment `json:"comments"`
}

// HandleIngestComments upserts a batch of comments for a profile.
func (h *Handlers) HandleIngestComments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req commentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Message: "invalid request body"})
		return
	}
	prof, ok := h.resolveProfile(w, r, req.ProfileKey)
	if !ok {
		return
	}

	for i, c := range req.Comments {
		c.ProfileID = prof.ID
		if err := h.store.UpsertComment(r.Context(), c); err != nil {
			log.Error().Err(err).Int64("profile_id", prof.ID).Int64("comment_id", c.CommentID).Msg("Comment upsert failed")
			writeJSON(w, http.StatusInternalServerError, ingestResponse{
				Message:  "comment upsert failed",
				Upserted: i,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, ingestResponse{Success: true, Upserted: len(req.Comments)})
}

type pagesRequest struct {
	ProfileKey string         `json:"profile_key"`
	Pages      []*WebsitePage `json:"pages"`
}

// HandleIngestPages upserts a batch of scraped website pages for a profile.
func (h *Handlers) HandleIngestPages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Message: "invalid request body"})
		return
	}
	prof, ok := h.resolveProfile(w, r, req.ProfileKey)
	if !ok {
		return
	}

	for i, p := range req.Pages {
		p.ProfileID = prof.ID
		if err := h.store.UpsertPage(r.Context(), p); err != nil {
			log.Error().Err(err).Int64("profile_id", prof.ID).Str("url", p.URL).Msg("Page upsert failed")
			writeJSON(w, http.StatusInternalServerError, ingestResponse{
				Message:  "page upsert failed",
				Upserted: i,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, ingestResponse{Success: true, Upserted: len(req.Pages)})
}

func (h *Handlers) resolveProfile(w http.ResponseWriter, r *http.Request, key string) (*profile.Profile, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, ingestResponse{Message: "profile_key is required"})
		return nil, false
	}
	prof, err := h.profiles.GetByKey(r.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("profile_key", key).Msg("Profile lookup failed")
		writeJSON(w, http.StatusInternalServerError, ingestResponse{Message: "profile lookup failed"})
		return nil, false
	}
	if prof == nil {
		writeJSON(w, http.StatusNotFound, ingestResponse{Message: "profile not found"})
		return nil, false
	}
	return prof, true
}

type sourceRequest struct {
	PersonalWebsite    string `json:"personal_website"`
	HackerNewsUsername string `json:"hackernews_username"`
}

// HandleSources serves the session user's source declaration: GET returns it
// (created lazily), PUT overwrites it.
func (h *Handlers) HandleSources(w http.ResponseWriter, r *http.Request) {
	prof := account.ProfileFromContext(r.Context())
	if prof == nil {
		writeJSON(w, http.StatusUnauthorized, ingestResponse{Message: "authentication required"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		src, err := h.store.GetOrCreateSource(r.Context(), prof.ID)
		if err != nil {
			log.Error().Err(err).Int64("profile_id", prof.ID).Msg("Source load failed")
			writeJSON(w, http.StatusInternalServerError, ingestResponse{Message: "failed to load sources"})
			return
		}
		writeJSON(w, http.StatusOK, src)

	case http.MethodPut:
		var req sourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ingestResponse{Message: "invalid request body"})
			return
		}
		src, err := h.store.UpdateSource(r.Context(), prof.ID,
			strings.TrimSpace(req.PersonalWebsite), strings.TrimSpace(req.HackerNewsUsername))
		if err != nil {
			log.Error().Err(err).Int64("profile_id", prof.ID).Msg("Source update failed")
			writeJSON(w, http.StatusInternalServerError, ingestResponse{Message: "failed to update sources"})
			return
		}
		writeJSON(w, http.StatusOK, src)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleListStories returns the session profile's imported stories.
func (h *Handlers) HandleListStories(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(prof *profile.Profile) (any, error) {
		stories, err := h.store.ListStories(r.Context(), prof.ID)
		if stories == nil {
			stories = []*HNStory{}
		}
		return stories, err
	})
}

// HandleListComments returns the session profile's imported comments.
func (h *Handlers) HandleListComments(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(prof *profile.Profile) (any, error) {
		comments, err := h.store.ListComments(r.Context(), prof.ID)
		if comments == nil {
			comments = []*HNComment{}
		}
		return comments, err
	})
}

// HandleListPages returns the session profile's scraped pages.
func (h *Handlers) HandleListPages(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, func(prof *profile.Profile) (any, error) {
		pages, err := h.store.ListPages(r.Context(), prof.ID)
		if pages == nil {
			pages = []*WebsitePage{}
		}
		return pages, err
	})
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request, load func(*profile.Profile) (any, error)) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	prof := account.ProfileFromContext(r.Context())
	if prof == nil {
		writeJSON(w, http.StatusUnauthorized, ingestResponse{Message: "authentication required"})
		return
	}
	result, err := load(prof)
	if err != nil {
		log.Error().Err(err).Int64("profile_id", prof.ID).Msg("Content list failed")
		writeJSON(w, http.StatusInternalServerError, ingestResponse{Message: "failed to load content"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("ingest: encode response")
	}
}
