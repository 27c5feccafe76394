// Package newsletter registers addresses with the Buttondown newsletter list.
package newsletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.buttondown.email"

// Client subscribes addresses through the Buttondown HTTP API.
type Client struct {
	apiKey      string
	baseURL     string
	referrerURL string
	httpClient  *http.Client
}

// NewClient creates a Buttondown client. An empty apiKey produces a client
// whose Subscribe is a no-op, so callers don't need to branch.
func NewClient(apiKey, referrerURL string) *Client {
	return &Client{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		referrerURL: referrerURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBaseURL overrides the API endpoint (tests).
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

type subscribeRequest struct {
	EmailAddress string            `json:"email_address"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	ReferrerURL  string            `json:"referrer_url,omitempty"`
	Type         string            `json:"type"`
}

// Subscribe registers an email address with the list, tagged by signup
// source. Without an API key this is a silent no-op.
func (c *Client) Subscribe(ctx context.Context, email, tag string) error {
	if !c.Enabled() {
		return nil
	}
	if email == "" {
		return fmt.Errorf("email is required")
	}

	payload := subscribeRequest{
		EmailAddress: email,
		Metadata:     map[string]string{"source": tag},
		Tags:         []string{tag},
		ReferrerURL:  c.referrerURL,
		Type:         "regular",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal subscribe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/subscribers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create subscribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("subscribe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("buttondown error (HTTP %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}
