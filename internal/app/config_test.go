package app

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SELFSCOPE_ADMIN_KEY", "test-admin-key")
	t.Setenv("SELFSCOPE_BASE_URL", "https://selfscope.example.com")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if cfg.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Workers)
	}
	if cfg.BindAddress != "0.0.0.0" {
		t.Errorf("bind address = %q", cfg.BindAddress)
	}
	if cfg.EmailFrom == "" {
		t.Error("email from has no default")
	}
	if cfg.NewsletterTag == "" {
		t.Error("newsletter tag has no default")
	}
	if cfg.PublicStatus || cfg.PublicMetrics {
		t.Error("status/metrics default to private")
	}
}

func TestLoadConfigMissingRequiredListsAll(t *testing.T) {
	t.Setenv("SELFSCOPE_ADMIN_KEY", "")
	t.Setenv("SELFSCOPE_BASE_URL", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for missing required vars")
	}
	for _, name := range []string{"SELFSCOPE_ADMIN_KEY", "SELFSCOPE_BASE_URL"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestLoadConfigInvalidPort(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SELFSCOPE_PORT", "99999")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for out-of-range port")
	}

	t.Setenv("SELFSCOPE_PORT", "not-a-number")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestLoadConfigInvalidBaseURL(t *testing.T) {
	t.Setenv("SELFSCOPE_ADMIN_KEY", "test-admin-key")

	t.Setenv("SELFSCOPE_BASE_URL", "ftp://selfscope.example.com")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for non-http scheme")
	}

	t.Setenv("SELFSCOPE_BASE_URL", "https://")
	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for missing host")
	}
}

func TestLoadConfigInvalidWorkers(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SELFSCOPE_WORKERS", "0")

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for zero workers")
	}
}

func TestSecureCookies(t *testing.T) {
	https := &Config{BaseURL: "https://selfscope.example.com"}
	if !https.SecureCookies() {
		t.Error("https base URL should enable secure cookies")
	}
	http := &Config{BaseURL: "http://localhost:8080"}
	if http.SecureCookies() {
		t.Error("http base URL should not enable secure cookies")
	}
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{"yes", true},
		{"0", false},
		{"false", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Setenv("SELFSCOPE_TEST_BOOL", tt.value)
		if got := envBool("SELFSCOPE_TEST_BOOL"); got != tt.want {
			t.Errorf("envBool(%q) = %t, want %t", tt.value, got, tt.want)
		}
	}
}
