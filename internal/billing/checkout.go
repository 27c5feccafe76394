package billing

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	stripecustomer "github.com/stripe/stripe-go/v82/customer"

	"github.com/selfscope/selfscope/internal/account"
	"github.com/selfscope/selfscope/internal/profile"
)

// Config holds the billing surface configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Plans   Plans
}

// Handlers serves checkout and portal session creation. The Stripe calls are
// injectable for tests.
type Handlers struct {
	cfg      Config
	profiles *profile.Store

	createCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	createPortalSession   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	createCustomer        func(params *stripe.CustomerParams) (*stripe.Customer, error)
}

// NewHandlers creates the billing handlers.
func NewHandlers(cfg Config, profiles *profile.Store) *Handlers {
	return &Handlers{
		cfg:                   cfg,
		profiles:              profiles,
		createCheckoutSession: stripesession.New,
		createPortalSession:   portalsession.New,
		createCustomer:        stripecustomer.New,
	}
}

// Enabled reports whether Stripe is configured.
func (h *Handlers) Enabled() bool {
	return h.cfg.APIKey != ""
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

// HandleCheckout creates a Stripe Checkout Session for the session's profile
// and redirects to it. Gateway failures surface as an explicit "payment
// service unavailable" error, never a raw 500.
func (h *Handlers) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user := account.UserFromContext(r.Context())
	prof := account.ProfileFromContext(r.Context())
	if user == nil || prof == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}
	if !h.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "payment service unavailable"})
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	priceID, ok := h.cfg.Plans.PriceID(Plan(req.Plan))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown plan"})
		return
	}

	customerID, err := h.ensureCustomer(r, user, prof)
	if err != nil {
		log.Error().Err(err).Int64("profile_id", prof.ID).Msg("Stripe customer creation failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "payment service unavailable"})
		return
	}

	successURL := h.cfg.BaseURL + "/?" + url.Values{"payment": []string{"success"}}.Encode()
	cancelURL := h.cfg.BaseURL + "/?" + url.Values{"payment": []string{"failed"}}.Encode()

	params := &stripe.CheckoutSessionParams{
		Customer:            stripe.String(customerID),
		PaymentMethodTypes:  stripe.StringSlice([]string{"card"}),
		AllowPromotionCodes: stripe.Bool(true),
		AutomaticTax:        &stripe.CheckoutSessionAutomaticTaxParams{Enabled: stripe.Bool(true)},
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		Mode:       stripe.String(string(Plan(req.Plan).CheckoutMode())),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		CustomerUpdate: &stripe.CheckoutSessionCustomerUpdateParams{
			Address: stripe.String("auto"),
		},
	}
	params.AddMetadata("user_id", strconv.FormatInt(user.ID, 10))
	params.AddMetadata("profile_key", prof.Key)
	params.AddMetadata("price_id", priceID)

	session, err := h.createCheckoutSession(params)
	if err != nil {
		log.Error().Err(err).Int64("profile_id", prof.ID).Str("plan", req.Plan).Msg("Stripe checkout session creation failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "payment service unavailable"})
		return
	}

	http.Redirect(w, r, session.URL, http.StatusSeeOther)
}

// ensureCustomer returns the profile's Stripe customer ID, creating the
// customer on first use. The persisted reference is last-write-wins.
func (h *Handlers) ensureCustomer(r *http.Request, user *account.User, prof *profile.Profile) (string, error) {
	if prof.CustomerID != "" {
		return prof.CustomerID, nil
	}

	params := &stripe.CustomerParams{Email: stripe.String(user.Email)}
	params.AddMetadata("profile_key", prof.Key)
	customer, err := h.createCustomer(params)
	if err != nil {
		return "", err
	}

	if err := h.profiles.SetCustomerID(r.Context(), prof.ID, customer.ID); err != nil {
		log.Warn().Err(err).Int64("profile_id", prof.ID).Msg("Failed to persist Stripe customer reference")
	}
	return customer.ID, nil
}

// HandlePortal creates a billing-portal session and redirects to it.
func (h *Handlers) HandlePortal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	prof := account.ProfileFromContext(r.Context())
	if prof == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}
	if !h.Enabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "payment service unavailable"})
		return
	}
	if prof.CustomerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no billing profile found"})
		return
	}

	session, err := h.createPortalSession(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(prof.CustomerID),
		ReturnURL: stripe.String(h.cfg.BaseURL),
	})
	if err != nil {
		log.Error().Err(err).Int64("profile_id", prof.ID).Msg("Stripe portal session creation failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "payment service unavailable"})
		return
	}

	http.Redirect(w, r, session.URL, http.StatusSeeOther)
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("billing: encode response")
	}
}
