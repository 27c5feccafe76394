// Package billing integrates Stripe checkout, the billing portal, and the
// webhook that drives subscription lifecycle transitions.
package billing

import stripe "github.com/stripe/stripe-go/v82"

// Plan names a purchasable price.
type Plan string

const (
	PlanMonthly Plan = "monthly"
	PlanYearly  Plan = "yearly"
	PlanOneTime Plan = "one-time"
)

// Plans maps plan names to configured Stripe price IDs.
type Plans struct {
	MonthlyPriceID string
	YearlyPriceID  string
	OneTimePriceID string
}

// PriceID resolves a plan to its price ID. The second return is false for
// unknown or unconfigured plans.
func (p Plans) PriceID(plan Plan) (string, bool) {
	switch plan {
	case PlanMonthly:
		return p.MonthlyPriceID, p.MonthlyPriceID != ""
	case PlanYearly:
		return p.YearlyPriceID, p.YearlyPriceID != ""
	case PlanOneTime:
		return p.OneTimePriceID, p.OneTimePriceID != ""
	default:
		return "", false
	}
}

// CheckoutMode returns the Stripe checkout mode for the plan: one-time
// purchases use payment mode, everything else is a subscription.
func (p Plan) CheckoutMode() stripe.CheckoutSessionMode {
	if p == PlanOneTime {
		return stripe.CheckoutSessionModePayment
	}
	return stripe.CheckoutSessionModeSubscription
}

// Matrix describes the public pricing surface.
func (p Plans) Matrix() []map[string]any {
	return []map[string]any{
		{"plan": string(PlanMonthly), "interval": "month", "available": p.MonthlyPriceID != ""},
		{"plan": string(PlanYearly), "interval": "year", "available": p.YearlyPriceID != ""},
		{"plan": string(PlanOneTime), "interval": "once", "available": p.OneTimePriceID != ""},
	}
}
