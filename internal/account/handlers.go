package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/selfscope/selfscope/internal/analytics"
	"github.com/selfscope/selfscope/internal/email"
	"github.com/selfscope/selfscope/internal/ids"
	"github.com/selfscope/selfscope/internal/jobs"
	"github.com/selfscope/selfscope/internal/profile"
)

// HandlersConfig carries the account surface configuration.
type HandlersConfig struct {
	BaseURL       string
	EmailFrom     string
	NewsletterTag string
	SecureCookies bool
}

// Handlers serves signup, login, logout, and email verification.
type Handlers struct {
	cfg       HandlersConfig
	users     *Store
	sessions  *SessionStore
	profiles  *profile.Store
	lifecycle *profile.Service
	enqueuer  jobs.Enqueuer
}

// NewHandlers creates the account handlers.
func NewHandlers(cfg HandlersConfig, users *Store, sessions *SessionStore, profiles *profile.Store, lifecycle *profile.Service, enqueuer jobs.Enqueuer) *Handlers {
	return &Handlers{
		cfg:       cfg,
		users:     users,
		sessions:  sessions,
		profiles:  profiles,
		lifecycle: lifecycle,
		enqueuer:  enqueuer,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	ProfileKey string `json:"profile_key,omitempty"`
}

// HandleSignup creates a user and its profile in one step, opens a session,
// and fires the signup side effects through the dispatcher.
func (h *Handlers) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, authResponse{Message: "invalid request body"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, authResponse{Message: "email is required"})
		return
	}
	if err := ValidatePasswordComplexity(req.Password); err != nil {
		writeJSON(w, http.StatusBadRequest, authResponse{Message: err.Error()})
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		log.Error().Err(err).Msg("Password hashing failed")
		writeJSON(w, http.StatusInternalServerError, authResponse{Message: "signup failed"})
		return
	}

	userKey, err := ids.NewUserKey()
	if err != nil {
		log.Error().Err(err).Msg("User key generation failed")
		writeJSON(w, http.StatusInternalServerError, authResponse{Message: "signup failed"})
		return
	}
	user := &User{Key: userKey, Email: req.Email, PasswordHash: hash}
	if err := h.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			writeJSON(w, http.StatusConflict, authResponse{Message: "an account with this email already exists"})
			return
		}
		log.Error().Err(err).Msg("User creation failed")
		writeJSON(w, http.StatusInternalServerError, authResponse{Message: "signup failed"})
		return
	}

	profileKey, err := ids.NewProfileKey()
	if err != nil {
		log.Error().Err(err).Msg("Profile key generation failed")
		writeJSON(w, http.StatusInternalServerError, authResponse{Message: "signup failed"})
		return
	}
	prof := &profile.Profile{UserID: user.ID, Key: profileKey}
	if err := h.profiles.Create(r.Context(), prof); err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Profile creation failed")
		writeJSON(w, http.StatusInternalServerError, authResponse{Message: "signup failed"})
		return
	}

	if err := h.openSession(w, r, user.ID); err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Session creation failed")
		writeJSON(w, http.StatusInternalServerError, authResponse{Message: "signup failed"})
		return
	}

	h.fireSignupEffects(r, user, prof)

	log.Info().Int64("user_id", user.ID).Str("profile_key", prof.Key).Msg("User signed up")
	writeJSON(w, http.StatusCreated, authResponse{Success: true, ProfileKey: prof.Key})
}

// fireSignupEffects enqueues the signup side effects. Each is independent and
// fire-and-forget: a failed enqueue is logged and dropped, the signup itself
// has already succeeded.
func (h *Handlers) fireSignupEffects(r *http.Request, user *User, prof *profile.Profile) {
	ctx := r.Context()

	if job, err := jobs.NewCreateAnalyticsAlias(jobs.CreateAnalyticsAliasPayload{
		ProfileID:      prof.ID,
		Cookies:        analytics.CookiesFromRequest(r),
		SourceFunction: "account.HandleSignup",
	}); err == nil {
		h.enqueue(ctx, job)
	}

	if job, err := jobs.NewTrackEvent(jobs.TrackEventPayload{
		ProfileID: prof.ID,
		Event:     "user_signed_up",
		Properties: map[string]any{
			"$set": map[string]any{
				"email":    user.Email,
				"username": user.Email,
			},
		},
		SourceFunction: "account.HandleSignup",
	}); err == nil {
		h.enqueue(ctx, job)
	}

	h.lifecycle.RecordTransition(ctx, prof, profile.StateSignedUp, nil, "account.HandleSignup")

	if job, err := jobs.NewSubscribeNewsletter(jobs.SubscribeNewsletterPayload{
		Email: user.Email,
		Tag:   h.cfg.NewsletterTag,
	}); err == nil {
		h.enqueue(ctx, job)
	}

	h.enqueueWelcomeEmail(ctx, user)
	h.enqueueVerifyEmail(ctx, user)
}

func (h *Handlers) enqueue(ctx context.Context, job jobs.Job) {
	if err := h.enqueuer.Enqueue(ctx, job); err != nil {
		log.Error().Err(err).Str("kind", string(job.Kind)).Msg("Signup side effect enqueue failed")
	}
}

func (h *Handlers) enqueueWelcomeEmail(ctx context.Context, user *User) {
	html, text, err := email.RenderWelcomeEmail(email.WelcomeData{
		SourcesURL: h.cfg.BaseURL + "/sources",
	})
	if err != nil {
		log.Error().Err(err).Msg("Welcome email rendering failed")
		return
	}
	job, err := jobs.NewSendEmail(jobs.SendEmailPayload{
		From:    h.cfg.EmailFrom,
		To:      user.Email,
		Subject: "Welcome to selfscope",
		HTML:    html,
		Text:    text,
	})
	if err != nil {
		log.Error().Err(err).Msg("Welcome email job build failed")
		return
	}
	h.enqueue(ctx, job)
}

func (h *Handlers) enqueueVerifyEmail(ctx context.Context, user *User) {
	token, err := h.sessions.CreateVerifyToken(ctx, user.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Verify token creation failed")
		return
	}
	html, text, err := email.RenderVerifyEmail(email.VerifyData{
		VerifyURL: h.cfg.BaseURL + "/api/auth/verify?token=" + token,
	})
	if err != nil {
		log.Error().Err(err).Msg("Verify email rendering failed")
		return
	}
	job, err := jobs.NewSendEmail(jobs.SendEmailPayload{
		From:    h.cfg.EmailFrom,
		To:      user.Email,
		Subject: "Verify your selfscope email",
		HTML:    html,
		Text:    text,
	})
	if err != nil {
		log.Error().Err(err).Msg("Verify email job build failed")
		return
	}
	h.enqueue(ctx, job)
}

// HandleLogin authenticates credentials and opens a session.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, authResponse{Message: "invalid request body"})
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		log.Error().Err(err).Msg("Login lookup failed")
		writeJSON(w, http.StatusInternalServerError, authResponse{Message: "login failed"})
		return
	}
	if user == nil || !CheckPasswordHash(req.Password, user.PasswordHash) {
		writeJSON(w, http.StatusUnauthorized, authResponse{Message: "invalid email or password"})
		return
	}

	if err := h.openSession(w, r, user.ID); err != nil {
		log.Error().Err(err).Int64("user_id", user.ID).Msg("Session creation failed")
		writeJSON(w, http.StatusInternalServerError, authResponse{Message: "login failed"})
		return
	}

	prof, err := h.profiles.GetByUserID(r.Context(), user.ID)
	if err != nil {
		log.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to load profile at login")
	}
	resp := authResponse{Success: true}
	if prof != nil {
		resp.ProfileKey = prof.Key
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleLogout revokes the current session.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if cookie, err := r.Cookie(SessionCookie); err == nil {
		if err := h.sessions.DeleteSession(r.Context(), cookie.Value); err != nil {
			log.Warn().Err(err).Msg("Session deletion failed")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, authResponse{Success: true})
}

// HandleVerifyEmail consumes a verification token and flips the verified
// flag.
func (h *Handlers) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := h.sessions.ConsumeVerifyToken(r.Context(), token, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, ErrVerifyTokenExpired):
			writeJSON(w, http.StatusBadRequest, authResponse{Message: "verification link expired, request a new one"})
		case errors.Is(err, ErrVerifyTokenUsed):
			writeJSON(w, http.StatusBadRequest, authResponse{Message: "verification link already used"})
		case errors.Is(err, ErrVerifyTokenInvalid):
			writeJSON(w, http.StatusBadRequest, authResponse{Message: "invalid verification link"})
		default:
			log.Error().Err(err).Msg("Verify token consumption failed")
			writeJSON(w, http.StatusInternalServerError, authResponse{Message: "verification failed"})
		}
		return
	}

	if err := h.users.SetEmailVerified(r.Context(), userID, true); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to mark email verified")
		writeJSON(w, http.StatusInternalServerError, authResponse{Message: "verification failed"})
		return
	}

	log.Info().Int64("user_id", userID).Msg("Email verified")
	writeJSON(w, http.StatusOK, authResponse{Success: true, Message: "email verified"})
}

// HandleResendVerification issues a fresh verification token for the session
// user.
func (h *Handlers) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user := UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, authResponse{Message: "authentication required"})
		return
	}
	if user.EmailVerified {
		writeJSON(w, http.StatusOK, authResponse{Success: true, Message: "email already verified"})
		return
	}

	h.enqueueVerifyEmail(r.Context(), user)
	writeJSON(w, http.StatusOK, authResponse{Success: true, Message: "verification email sent"})
}

func (h *Handlers) openSession(w http.ResponseWriter, r *http.Request, userID int64) error {
	token, err := h.sessions.CreateSession(r.Context(), userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("account: encode response")
	}
}
