package analytics

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestDistinctIDFromCookies(t *testing.T) {
	apiKey := "phc_test"
	cookieValue := url.QueryEscape(`{"distinct_id":"anon-123","$device_id":"dev-1"}`)

	id, err := DistinctIDFromCookies(apiKey, map[string]string{
		CookieName(apiKey): cookieValue,
	})
	if err != nil {
		t.Fatalf("DistinctIDFromCookies: %v", err)
	}
	if id != "anon-123" {
		t.Errorf("distinct_id = %q, want anon-123", id)
	}
}

func TestDistinctIDMissingCookie(t *testing.T) {
	id, err := DistinctIDFromCookies("phc_test", map[string]string{"unrelated": "x"})
	if err != nil {
		t.Fatalf("DistinctIDFromCookies: %v", err)
	}
	if id != "" {
		t.Errorf("distinct_id = %q, want empty", id)
	}
}

func TestDistinctIDMalformedCookie(t *testing.T) {
	apiKey := "phc_test"
	if _, err := DistinctIDFromCookies(apiKey, map[string]string{
		CookieName(apiKey): "not-json",
	}); err == nil {
		t.Error("expected error for malformed cookie")
	}
}

func TestCookiesFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "a", Value: "1"})
	req.AddCookie(&http.Cookie{Name: "b", Value: "2"})

	cookies := CookiesFromRequest(req)
	if len(cookies) != 2 || cookies["a"] != "1" || cookies["b"] != "2" {
		t.Errorf("cookies = %v", cookies)
	}
}
