package app

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/selfscope/selfscope/internal/account"
	"github.com/selfscope/selfscope/internal/billing"
	"github.com/selfscope/selfscope/internal/blog"
	"github.com/selfscope/selfscope/internal/feedback"
	"github.com/selfscope/selfscope/internal/ingest"
	"github.com/selfscope/selfscope/internal/jobs"
	"github.com/selfscope/selfscope/internal/profile"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config    *Config
	DB        *sql.DB
	Profiles  *profile.Store
	Lifecycle *profile.Service
	Queue     *jobs.Queue
	Session   *account.Middleware
	Accounts  *account.Handlers
	Billing   *billing.Handlers
	Webhook   *billing.WebhookHandler
	Ingest    *ingest.Handlers
	Sources   *ingest.Store
	Blog      *blog.Handlers
	Feedback  *feedback.Handlers
	Version   string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	adminAuth := func(next http.Handler) http.Handler {
		return AdminKeyMiddleware(deps.Config.AdminKey, next)
	}
	session := deps.Session.WithSession
	authed := func(next http.Handler) http.Handler {
		return session(account.RequireAuth(next))
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/readyz", handleReadyz(deps.DB))

	// Status and metrics are private by default.
	statusHandler := http.Handler(handleStatus(deps.Profiles, deps.Queue, deps.Version))
	if deps.Config.PublicStatus {
		mux.Handle("/status", statusHandler)
	} else {
		mux.Handle("/status", adminAuth(statusHandler))
	}

	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", adminAuth(metricsHandler))
	}

	// Auth endpoints, rate limited against credential stuffing.
	authLimiter := NewRateLimiter(20, time.Minute)
	mux.Handle("/api/auth/signup", authLimiter.Middleware(http.HandlerFunc(deps.Accounts.HandleSignup)))
	mux.Handle("/api/auth/login", authLimiter.Middleware(http.HandlerFunc(deps.Accounts.HandleLogin)))
	mux.Handle("/api/auth/logout", http.HandlerFunc(deps.Accounts.HandleLogout))
	mux.Handle("/api/auth/verify", http.HandlerFunc(deps.Accounts.HandleVerifyEmail))
	mux.Handle("/api/auth/resend-verification", session(http.HandlerFunc(deps.Accounts.HandleResendVerification)))

	// Billing (session-authenticated; the webhook authenticates by signature).
	mux.Handle("/api/billing/checkout", authed(http.HandlerFunc(deps.Billing.HandleCheckout)))
	mux.Handle("/api/billing/portal", authed(http.HandlerFunc(deps.Billing.HandlePortal)))

	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/api/stripe/webhook", webhookLimiter.Middleware(deps.Webhook))

	// Settings / pricing. Pricing is public, settings needs a session.
	mux.Handle("/api/settings", authed(handleSettings(deps.Lifecycle, deps.Sources)))
	mux.Handle("/api/pricing", session(handlePricing(deps.Config.plans(), deps.Lifecycle)))

	// Sources and imported content (session-authenticated).
	mux.Handle("/api/sources", authed(http.HandlerFunc(deps.Ingest.HandleSources)))
	mux.Handle("/api/content/stories", authed(http.HandlerFunc(deps.Ingest.HandleListStories)))
	mux.Handle("/api/content/comments", authed(http.HandlerFunc(deps.Ingest.HandleListComments)))
	mux.Handle("/api/content/pages", authed(http.HandlerFunc(deps.Ingest.HandleListPages)))

	// Importer API (admin-key authenticated).
	mux.Handle("/api/ingest/stories", adminAuth(http.HandlerFunc(deps.Ingest.HandleIngestStories)))
	mux.Handle("/api/ingest/comments", adminAuth(http.HandlerFunc(deps.Ingest.HandleIngestComments)))
	mux.Handle("/api/ingest/pages", adminAuth(http.HandlerFunc(deps.Ingest.HandleIngestPages)))

	// Blog: public reads, admin-key authoring.
	mux.Handle("/api/blog", http.HandlerFunc(deps.Blog.HandleList))
	mux.Handle("/api/blog/", http.HandlerFunc(deps.Blog.HandleGet))
	mux.Handle("/admin/blog", adminAuth(http.HandlerFunc(deps.Blog.HandleUpsert)))

	// Feedback (anonymous allowed), rate limited.
	feedbackLimiter := NewRateLimiter(30, time.Minute)
	mux.Handle("/api/feedback", feedbackLimiter.Middleware(session(http.HandlerFunc(deps.Feedback.HandleSubmit))))

	// Admin API (key-authenticated).
	mux.Handle("/admin/profiles", adminAuth(handleAdminListProfiles(deps.Profiles)))
	mux.Handle("/admin/profiles/{profile_key}/transitions", adminAuth(handleAdminListTransitions(deps.Profiles)))
	mux.Handle("/admin/jobs/dead", adminAuth(handleAdminListDeadJobs(deps.Queue)))
	mux.Handle("/admin/jobs/{job_id}/requeue", adminAuth(handleAdminRequeueJob(deps.Queue)))
}

// plans maps the configured price IDs to the billing plan matrix.
func (c *Config) plans() billing.Plans {
	return billing.Plans{
		MonthlyPriceID: c.StripeMonthlyPrice,
		YearlyPriceID:  c.StripeYearlyPrice,
		OneTimePriceID: c.StripeOneTimePrice,
	}
}
