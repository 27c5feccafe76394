package app

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/selfscope/selfscope/internal/account"
	"github.com/selfscope/selfscope/internal/billing"
	"github.com/selfscope/selfscope/internal/ingest"
	"github.com/selfscope/selfscope/internal/profile"
)

type settingsResponse struct {
	Email              string `json:"email"`
	EmailVerified      bool   `json:"email_verified"`
	HasProSubscription bool   `json:"has_pro_subscription"`
	ProfileKey         string `json:"profile_key"`
	ExperimentalFlag   bool   `json:"experimental_flag"`
	HasSources         bool   `json:"has_sources"`
}

// handleSettings returns the session user's account settings.
func handleSettings(lifecycle *profile.Service, sources *ingest.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		user := account.UserFromContext(r.Context())
		prof := account.ProfileFromContext(r.Context())
		if user == nil || prof == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}

		resp := settingsResponse{
			Email:              user.Email,
			EmailVerified:      user.EmailVerified,
			HasProSubscription: lifecycle.HasActiveSubscription(r.Context(), prof, user.IsStaff),
			ProfileKey:         prof.Key,
			ExperimentalFlag:   prof.ExperimentalFlag,
		}
		if src, err := sources.GetOrCreateSource(r.Context(), prof.ID); err != nil {
			log.Warn().Err(err).Int64("profile_id", prof.ID).Msg("Source load failed for settings")
		} else {
			resp.HasSources = src.PersonalWebsite != "" || src.HackerNewsUsername != ""
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

type pricingResponse struct {
	Plans              []map[string]any `json:"plans"`
	HasProSubscription bool             `json:"has_pro_subscription"`
}

// handlePricing returns the plan matrix and whether the session already has
// access. Anonymous sessions and missing profiles both come back false.
func handlePricing(plans billing.Plans, lifecycle *profile.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		resp := pricingResponse{Plans: plans.Matrix()}
		user := account.UserFromContext(r.Context())
		prof := account.ProfileFromContext(r.Context())
		if user != nil {
			resp.HasProSubscription = lifecycle.HasActiveSubscription(r.Context(), prof, user.IsStaff)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}
