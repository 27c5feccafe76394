// Package app assembles the selfscope HTTP server: configuration, routing,
// job handler wiring, and lifecycle.
package app

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int
	AdminKey    string
	BaseURL     string

	PublicStatus  bool
	PublicMetrics bool

	Workers int

	StripeAPIKey        string
	StripeWebhookSecret string
	StripeMonthlyPrice  string
	StripeYearlyPrice   string
	StripeOneTimePrice  string

	PostHogAPIKey string
	PostHogHost   string

	PostmarkServerToken string // optional; if empty, emails are logged
	EmailFrom           string
	OperatorEmail       string

	ButtondownAPIKey string
	NewsletterTag    string
}

// LoadConfig loads application configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("SELFSCOPE_PORT", 8080)
	if err != nil {
		return nil, err
	}
	workers, err := envOrDefaultInt("SELFSCOPE_WORKERS", 4)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:     envOrDefault("SELFSCOPE_DATA_DIR", "/data"),
		BindAddress: envOrDefault("SELFSCOPE_BIND_ADDRESS", "0.0.0.0"),
		Port:        port,
		AdminKey:    strings.TrimSpace(os.Getenv("SELFSCOPE_ADMIN_KEY")),
		BaseURL:     strings.TrimSpace(os.Getenv("SELFSCOPE_BASE_URL")),

		PublicStatus:  envBool("SELFSCOPE_PUBLIC_STATUS"),
		PublicMetrics: envBool("SELFSCOPE_PUBLIC_METRICS"),

		Workers: workers,

		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripeMonthlyPrice:  strings.TrimSpace(os.Getenv("STRIPE_MONTHLY_PRICE_ID")),
		StripeYearlyPrice:   strings.TrimSpace(os.Getenv("STRIPE_YEARLY_PRICE_ID")),
		StripeOneTimePrice:  strings.TrimSpace(os.Getenv("STRIPE_ONE_TIME_PRICE_ID")),

		PostHogAPIKey: strings.TrimSpace(os.Getenv("POSTHOG_API_KEY")),
		PostHogHost:   strings.TrimSpace(os.Getenv("POSTHOG_HOST")),

		PostmarkServerToken: strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:           envOrDefault("SELFSCOPE_EMAIL_FROM", "hello@selfscope.app"),
		OperatorEmail:       strings.TrimSpace(os.Getenv("SELFSCOPE_OPERATOR_EMAIL")),

		ButtondownAPIKey: strings.TrimSpace(os.Getenv("BUTTONDOWN_API_KEY")),
		NewsletterTag:    envOrDefault("SELFSCOPE_NEWSLETTER_TAG", "selfscope-signup"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "SELFSCOPE_ADMIN_KEY")
	}
	if c.BaseURL == "" {
		missing = append(missing, "SELFSCOPE_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("SELFSCOPE_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("SELFSCOPE_WORKERS must be at least 1, got %d", c.Workers)
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("SELFSCOPE_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("SELFSCOPE_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("SELFSCOPE_BASE_URL must include a host")
	}
	return nil
}

// SecureCookies reports whether session cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}
