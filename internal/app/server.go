package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/selfscope/selfscope/internal/account"
	"github.com/selfscope/selfscope/internal/analytics"
	"github.com/selfscope/selfscope/internal/billing"
	"github.com/selfscope/selfscope/internal/blog"
	"github.com/selfscope/selfscope/internal/email"
	"github.com/selfscope/selfscope/internal/feedback"
	"github.com/selfscope/selfscope/internal/ingest"
	"github.com/selfscope/selfscope/internal/jobs"
	"github.com/selfscope/selfscope/internal/logging"
	"github.com/selfscope/selfscope/internal/newsletter"
	"github.com/selfscope/selfscope/internal/profile"
	"github.com/selfscope/selfscope/internal/store"
)

// Run starts the selfscope server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     envOrDefault("SELFSCOPE_LOG_LEVEL", "info"),
		Component: "selfscope",
	})

	log.Info().Str("version", version).Msg("Starting selfscope")

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Schema init order follows the foreign keys: users before profiles,
	// profiles before the content tables.
	users, err := account.NewStore(db)
	if err != nil {
		return fmt.Errorf("init user store: %w", err)
	}
	profiles, err := profile.NewStore(db)
	if err != nil {
		return fmt.Errorf("init profile store: %w", err)
	}
	sources, err := ingest.NewStore(db)
	if err != nil {
		return fmt.Errorf("init ingest store: %w", err)
	}
	blogStore, err := blog.NewStore(db)
	if err != nil {
		return fmt.Errorf("init blog store: %w", err)
	}
	feedbackStore, err := feedback.NewStore(db)
	if err != nil {
		return fmt.Errorf("init feedback store: %w", err)
	}
	queue, err := jobs.NewQueue(db)
	if err != nil {
		return fmt.Errorf("init job queue: %w", err)
	}
	sessions, err := account.NewSessionStore(db)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	defer sessions.Close()

	lifecycle := profile.NewService(profiles, queue)

	// Analytics sink: PostHog when configured, a drop-everything sink
	// otherwise.
	var sink analytics.Sink
	if cfg.PostHogAPIKey != "" {
		sink, err = analytics.NewPostHogSink(cfg.PostHogAPIKey, cfg.PostHogHost)
		if err != nil {
			return fmt.Errorf("init posthog sink: %w", err)
		}
		log.Info().Msg("Analytics sink configured (PostHog)")
	} else {
		sink = analytics.NewNoopSink()
		log.Info().Msg("Analytics sink: noop (set POSTHOG_API_KEY to enable)")
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn().Err(err).Msg("Analytics sink close failed")
		}
	}()

	// Email sender: Postmark when configured, log-only otherwise.
	var emailSender email.Sender
	if cfg.PostmarkServerToken != "" {
		emailSender = email.NewPostmarkSender(cfg.PostmarkServerToken)
		log.Info().Msg("Email sender configured (Postmark)")
	} else {
		emailSender = email.NewLogSender(func(to, subject, body string) {
			const maxBody = 4096
			bodyForLog := body
			if len(bodyForLog) > maxBody {
				bodyForLog = bodyForLog[:maxBody] + "...(truncated)"
			}
			log.Info().
				Str("to", to).
				Str("subject", subject).
				Str("body", bodyForLog).
				Msg("Email (log-only, no email provider configured)")
		})
		log.Info().Msg("Email sender: log-only (set POSTMARK_SERVER_TOKEN to enable)")
	}

	newsletterClient := newsletter.NewClient(cfg.ButtondownAPIKey, cfg.BaseURL)
	if newsletterClient.Enabled() {
		log.Info().Msg("Newsletter client configured (Buttondown)")
	}

	// Worker pool with every job kind bound.
	pool := jobs.NewPool(queue, jobs.PoolConfig{Workers: cfg.Workers})
	registerJobHandlers(pool, lifecycle, &jobHandlers{
		profiles:      profiles,
		users:         users,
		sink:          sink,
		posthogAPIKey: cfg.PostHogAPIKey,
		sender:        emailSender,
		newsletter:    newsletterClient,
	})

	// HTTP surface.
	billingHandlers := billing.NewHandlers(billing.Config{
		APIKey:  cfg.StripeAPIKey,
		BaseURL: cfg.BaseURL,
		Plans:   cfg.plans(),
	}, profiles)
	webhookHandler := billing.NewWebhookHandler(cfg.StripeWebhookSecret, profiles, lifecycle)
	accountHandlers := account.NewHandlers(account.HandlersConfig{
		BaseURL:       cfg.BaseURL,
		EmailFrom:     cfg.EmailFrom,
		NewsletterTag: cfg.NewsletterTag,
		SecureCookies: cfg.SecureCookies(),
	}, users, sessions, profiles, lifecycle, queue)

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:    cfg,
		DB:        db,
		Profiles:  profiles,
		Lifecycle: lifecycle,
		Queue:     queue,
		Session:   account.NewMiddleware(sessions, users, profiles),
		Accounts:  accountHandlers,
		Billing:   billingHandlers,
		Webhook:   webhookHandler,
		Ingest:    ingest.NewHandlers(sources, profiles),
		Sources:   sources,
		Blog:      blog.NewHandlers(blogStore),
		Feedback: feedback.NewHandlers(feedback.HandlersConfig{
			EmailFrom:     cfg.EmailFrom,
			OperatorEmail: cfg.OperatorEmail,
		}, feedbackStore, queue),
		Version: version,
	})

	handler := RequestID(SecurityHeaders(mux))

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Derived context for background goroutines.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := pool.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Worker pool failed")
		}
	}()
	go jobs.RunQueueDepthMetrics(ctx, queue, 30*time.Second)
	go lifecycle.RunStateMetrics(ctx, time.Minute)

	// Start server in background.
	go func() {
		log.Info().Str("addr", addr).Msg("selfscope listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	// Signal handling.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("selfscope stopped")
	return nil
}
