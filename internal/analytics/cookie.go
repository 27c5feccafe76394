package analytics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// CookieName returns the name of the PostHog browser cookie for an API key.
func CookieName(apiKey string) string {
	return fmt.Sprintf("ph_%s_posthog", apiKey)
}

// DistinctIDFromCookies extracts the anonymous distinct_id from the PostHog
// cookie in a request cookie map. The cookie value is a URL-escaped JSON
// object. Returns "" when the cookie is absent or carries no distinct_id.
func DistinctIDFromCookies(apiKey string, cookies map[string]string) (string, error) {
	raw, ok := cookies[CookieName(apiKey)]
	if !ok || raw == "" {
		return "", nil
	}

	unescaped, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("unescape posthog cookie: %w", err)
	}

	var payload struct {
		DistinctID string `json:"distinct_id"`
	}
	if err := json.Unmarshal([]byte(unescaped), &payload); err != nil {
		return "", fmt.Errorf("decode posthog cookie: %w", err)
	}
	return payload.DistinctID, nil
}

// CookiesFromRequest snapshots request cookies into a plain map for embedding
// in a job payload.
func CookiesFromRequest(r *http.Request) map[string]string {
	cookies := make(map[string]string, len(r.Cookies()))
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	return cookies
}
