package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/selfscope/selfscope/internal/profile"
)

type contextKey string

const (
	userContextKey    contextKey = "selfscope_user"
	profileContextKey contextKey = "selfscope_profile"
)

// UserFromContext returns the authenticated user, or nil for anonymous
// requests.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userContextKey).(*User)
	return u
}

// ProfileFromContext returns the authenticated user's profile, or nil.
func ProfileFromContext(ctx context.Context) *profile.Profile {
	p, _ := ctx.Value(profileContextKey).(*profile.Profile)
	return p
}

// ContextWithIdentity attaches a user and profile to the context (tests and
// the session middleware).
func ContextWithIdentity(ctx context.Context, u *User, p *profile.Profile) context.Context {
	ctx = context.WithValue(ctx, userContextKey, u)
	return context.WithValue(ctx, profileContextKey, p)
}

// Middleware resolves the session cookie to a user and profile.
type Middleware struct {
	sessions *SessionStore
	users    *Store
	profiles *profile.Store
}

// NewMiddleware creates the session middleware.
func NewMiddleware(sessions *SessionStore, users *Store, profiles *profile.Store) *Middleware {
	return &Middleware{sessions: sessions, users: users, profiles: profiles}
}

// WithSession attaches the session's user and profile to the request context
// when a valid cookie is present. Anonymous and invalid sessions pass through
// unauthenticated; handlers that need auth use RequireAuth.
func (m *Middleware) WithSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := m.sessions.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			if !errors.Is(err, ErrSessionInvalid) && !errors.Is(err, ErrSessionExpired) {
				log.Warn().Err(err).Msg("Session validation failed")
			}
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.users.GetByID(r.Context(), userID)
		if err != nil || user == nil {
			if err != nil {
				log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to load session user")
			}
			next.ServeHTTP(w, r)
			return
		}

		prof, err := m.profiles.GetByUserID(r.Context(), user.ID)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to load session profile")
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), user, prof)))
	})
}

// RequireAuth rejects requests without an authenticated session.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStaff rejects requests whose session user is not staff.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil || !user.IsStaff {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "staff access required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
