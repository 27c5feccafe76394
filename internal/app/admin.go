package app

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/selfscope/selfscope/internal/jobs"
	"github.com/selfscope/selfscope/internal/metrics"
	"github.com/selfscope/selfscope/internal/profile"
)

type statusResponse struct {
	Version       string                `json:"version"`
	TotalProfiles int                   `json:"total_profiles"`
	ByState       map[profile.State]int `json:"by_state"`
	Queue         map[jobs.Status]int   `json:"queue"`
}

// handleHealthz returns 200 "ok" unconditionally (liveness probe).
func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz checks database connectivity (readiness probe).
func handleReadyz(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// handleStatus reports aggregate profile and queue status.
func handleStatus(profiles *profile.Store, queue *jobs.Queue, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := profiles.CountByState(r.Context())
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		// Opportunistically sync gauges on status calls (in addition to the
		// background updater).
		total := 0
		for state, c := range counts {
			metrics.ProfilesByState.WithLabelValues(string(state)).Set(float64(c))
			total += c
		}

		queueCounts, err := queue.CountByStatus(r.Context())
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		resp := statusResponse{
			Version:       version,
			TotalProfiles: total,
			ByState:       counts,
			Queue:         queueCounts,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// handleAdminListProfiles lists profiles, optionally filtered by cached
// state.
func handleAdminListProfiles(profiles *profile.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		stateFilter := strings.TrimSpace(r.URL.Query().Get("state"))
		list, err := profiles.List(r.Context(), profile.State(stateFilter))
		if err != nil {
			log.Error().Err(err).Msg("Admin profile list failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []*profile.Profile{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"profiles": list,
			"count":    len(list),
		})
	}
}

// handleAdminListTransitions lists a profile's transition log by key. The log
// of a deleted profile remains reachable through its numeric backup id.
func handleAdminListTransitions(profiles *profile.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		key := r.PathValue("profile_key")
		prof, err := profiles.GetByKey(r.Context(), key)
		if err != nil {
			log.Error().Err(err).Str("profile_key", key).Msg("Admin profile lookup failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if prof == nil {
			http.Error(w, "profile not found", http.StatusNotFound)
			return
		}

		transitions, err := profiles.ListTransitions(r.Context(), prof.ID)
		if err != nil {
			log.Error().Err(err).Int64("profile_id", prof.ID).Msg("Admin transition list failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if transitions == nil {
			transitions = []*profile.StateTransition{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transitions": transitions,
			"count":       len(transitions),
		})
	}
}

// handleAdminListDeadJobs lists dead-lettered jobs.
func handleAdminListDeadJobs(queue *jobs.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		dead, err := queue.ListDead(r.Context(), 100)
		if err != nil {
			log.Error().Err(err).Msg("Admin dead job list failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if dead == nil {
			dead = []*jobs.Job{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jobs":  dead,
			"count": len(dead),
		})
	}
}

// handleAdminRequeueJob resets one dead job to pending.
func handleAdminRequeueJob(queue *jobs.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id := r.PathValue("job_id")
		if err := queue.Requeue(r.Context(), id); err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				http.Error(w, "dead job not found", http.StatusNotFound)
				return
			}
			log.Error().Err(err).Str("job_id", id).Msg("Admin requeue failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		log.Info().Str("job_id", id).Msg("Dead job requeued")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}
}
