package feedback

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/selfscope/selfscope/internal/account"
	"github.com/selfscope/selfscope/internal/email"
	"github.com/selfscope/selfscope/internal/jobs"
)

const maxFeedbackLength = 10000

// HandlersConfig carries the feedback surface configuration.
type HandlersConfig struct {
	EmailFrom     string
	OperatorEmail string
}

// Handlers serves feedback submission.
type Handlers struct {
	cfg      HandlersConfig
	store    *Store
	enqueuer jobs.Enqueuer
}

// NewHandlers creates the feedback handlers.
func NewHandlers(cfg HandlersConfig, store *Store, enqueuer jobs.Enqueuer) *Handlers {
	return &Handlers{cfg: cfg, store: store, enqueuer: enqueuer}
}

type submitRequest struct {
	Feedback string `json:"feedback"`
	Page     string `json:"page"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HandleSubmit stores one feedback message and enqueues the operator
// notification. Anonymous submissions are allowed; validation failures come
// back as user-visible messages.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, submitResponse{Message: "invalid request body"})
		return
	}
	req.Feedback = strings.TrimSpace(req.Feedback)
	if req.Feedback == "" {
		writeJSON(w, http.StatusBadRequest, submitResponse{Message: "feedback cannot be empty"})
		return
	}
	if len(req.Feedback) > maxFeedbackLength {
		writeJSON(w, http.StatusBadRequest, submitResponse{Message: "feedback is too long"})
		return
	}

	f := &Feedback{Text: req.Feedback, Page: req.Page}
	userEmail := ""
	if prof := account.ProfileFromContext(r.Context()); prof != nil {
		id := prof.ID
		f.ProfileID = &id
	}
	if user := account.UserFromContext(r.Context()); user != nil {
		userEmail = user.Email
	}

	if err := h.store.Create(r.Context(), f); err != nil {
		log.Error().Err(err).Msg("Feedback insert failed")
		writeJSON(w, http.StatusInternalServerError, submitResponse{Message: "failed to save feedback"})
		return
	}

	h.notifyOperator(r, userEmail, req.Feedback, req.Page)

	writeJSON(w, http.StatusOK, submitResponse{Success: true, Message: "thanks for the feedback!"})
}

// notifyOperator enqueues the notification email. Fire-and-forget: the
// feedback row is already saved, an enqueue failure only loses the email.
func (h *Handlers) notifyOperator(r *http.Request, userEmail, feedbackText, page string) {
	if h.cfg.OperatorEmail == "" {
		return
	}
	body := email.RenderFeedbackNotification(userEmail, feedbackText, page)
	job, err := jobs.NewSendEmail(jobs.SendEmailPayload{
		From:    h.cfg.EmailFrom,
		To:      h.cfg.OperatorEmail,
		Subject: "New selfscope feedback",
		Text:    body,
	})
	if err != nil {
		log.Error().Err(err).Msg("Feedback notification job build failed")
		return
	}
	if err := h.enqueuer.Enqueue(r.Context(), job); err != nil {
		log.Error().Err(err).Msg("Feedback notification enqueue failed")
	}
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("feedback: encode response")
	}
}
