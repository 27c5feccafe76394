package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/selfscope/selfscope/internal/metrics"
	"github.com/selfscope/selfscope/internal/profile"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookHandler handles incoming Stripe webhook events and drives the
// profile lifecycle off them.
type WebhookHandler struct {
	secret   string
	profiles *profile.Store
	service  *profile.Service
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler.
func NewWebhookHandler(secret string, profiles *profile.Store, service *profile.Service) *WebhookHandler {
	return &WebhookHandler{
		secret:   secret,
		profiles: profiles,
		service:  service,
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, http.StatusMethodNotAllowed, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, http.StatusServiceUnavailable, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	if err := h.handleEvent(r.Context(), &event); err != nil {
		log.Error().Err(err).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, http.StatusInternalServerError, webhookErrorResponse{Error: "processing failed"})
		return
	}

	status = http.StatusOK
	writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
}

func (h *WebhookHandler) handleEvent(ctx context.Context, event *stripelib.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.handleCheckoutCompleted(ctx, session)

	case "customer.subscription.updated":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.handleSubscriptionUpdated(ctx, sub)

	case "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.handleSubscriptionDeleted(ctx, sub)

	default:
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
}

// handleCheckoutCompleted persists the billing references on the paying
// profile and records the move to subscribed.
func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, session CheckoutSession) error {
	prof, err := h.lookupProfile(ctx, session.Metadata["profile_key"], session.Customer)
	if err != nil {
		return err
	}
	if prof == nil {
		log.Warn().
			Str("session_id", session.ID).
			Str("customer", session.Customer).
			Msg("Checkout completed for unknown profile")
		return nil
	}

	priceID := session.Metadata["price_id"]
	if err := h.profiles.SetBillingRefs(ctx, prof.ID, session.Subscription, priceID, session.Customer); err != nil {
		return fmt.Errorf("persist billing refs: %w", err)
	}

	log.Info().
		Int64("profile_id", prof.ID).
		Str("subscription_id", session.Subscription).
		Str("customer", session.Customer).
		Msg("Checkout completed")

	h.service.RecordTransition(ctx, prof, profile.StateSubscribed, map[string]any{
		"subscription_id": session.Subscription,
		"price_id":        priceID,
	}, "billing.handleCheckoutCompleted")
	return nil
}

// handleSubscriptionUpdated tracks cancellation scheduling: cancel-at-period-
// end moves the profile to cancelled (access continues until the period
// ends), clearing it moves the profile back to subscribed.
func (h *WebhookHandler) handleSubscriptionUpdated(ctx context.Context, sub Subscription) error {
	prof, err := h.lookupProfile(ctx, sub.Metadata["profile_key"], sub.Customer)
	if err != nil {
		return err
	}
	if prof == nil {
		log.Warn().
			Str("subscription_id", sub.ID).
			Str("customer", sub.Customer).
			Msg("Subscription updated for unknown profile")
		return nil
	}

	toState := profile.StateSubscribed
	if sub.CancelAtPeriodEnd {
		toState = profile.StateCancelled
	}

	h.service.RecordTransition(ctx, prof, toState, map[string]any{
		"subscription_id":      sub.ID,
		"status":               sub.Status,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	}, "billing.handleSubscriptionUpdated")
	return nil
}

func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, sub Subscription) error {
	prof, err := h.lookupProfile(ctx, sub.Metadata["profile_key"], sub.Customer)
	if err != nil {
		return err
	}
	if prof == nil {
		log.Warn().
			Str("subscription_id", sub.ID).
			Str("customer", sub.Customer).
			Msg("Subscription deleted for unknown profile")
		return nil
	}

	h.service.RecordTransition(ctx, prof, profile.StateCancelled, map[string]any{
		"subscription_id": sub.ID,
	}, "billing.handleSubscriptionDeleted")
	return nil
}

// lookupProfile resolves the event's profile, preferring the profile_key we
// stamped into metadata at checkout and falling back to the customer
// reference.
func (h *WebhookHandler) lookupProfile(ctx context.Context, profileKey, customerID string) (*profile.Profile, error) {
	if key := strings.TrimSpace(profileKey); key != "" {
		prof, err := h.profiles.GetByKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("lookup profile by key: %w", err)
		}
		if prof != nil {
			return prof, nil
		}
	}
	if customerID = strings.TrimSpace(customerID); customerID != "" {
		prof, err := h.profiles.GetByCustomerID(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("lookup profile by customer: %w", err)
		}
		return prof, nil
	}
	return nil, nil
}

// CheckoutSession is a minimal representation of a Stripe checkout.session
// event.
type CheckoutSession struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Customer        string `json:"customer"`
	Subscription    string `json:"subscription"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// Subscription is a minimal representation of a Stripe subscription event.
type Subscription struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
}
