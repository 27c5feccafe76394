package email

import (
	"strings"
	"testing"
)

func TestRenderWelcomeEmail(t *testing.T) {
	html, text, err := RenderWelcomeEmail(WelcomeData{SourcesURL: "https://selfscope.example.com/sources"})
	if err != nil {
		t.Fatalf("RenderWelcomeEmail: %v", err)
	}
	if !strings.Contains(html, "https://selfscope.example.com/sources") {
		t.Error("html missing sources link")
	}
	if !strings.Contains(html, "Welcome to selfscope") {
		t.Error("html missing heading")
	}
	if !strings.Contains(text, "https://selfscope.example.com/sources") {
		t.Error("text missing sources link")
	}
}

func TestRenderVerifyEmail(t *testing.T) {
	html, text, err := RenderVerifyEmail(VerifyData{VerifyURL: "https://selfscope.example.com/api/auth/verify?token=abc"})
	if err != nil {
		t.Fatalf("RenderVerifyEmail: %v", err)
	}
	// The token lands in an href attribute, so & must survive escaping intact.
	if !strings.Contains(html, "verify?token=abc") {
		t.Error("html missing verify link")
	}
	if !strings.Contains(text, "verify?token=abc") {
		t.Error("text missing verify link")
	}
	if !strings.Contains(text, "24 hours") {
		t.Error("text missing expiry notice")
	}
}

func TestRenderFeedbackNotification(t *testing.T) {
	body := RenderFeedbackNotification("who@example.com", "great tool", "/settings")
	for _, want := range []string{"who@example.com", "great tool", "/settings"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}

	anon := RenderFeedbackNotification("", "note", "")
	if !strings.Contains(anon, "Anonymous") {
		t.Error("anonymous submission not labelled")
	}
}
