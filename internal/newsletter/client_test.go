package newsletter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubscribeSendsTokenAuthAndPayload(t *testing.T) {
	var gotAuth string
	var gotBody subscribeRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/subscribers" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient("bd_test_key", "https://selfscope.example.com")
	c.SetBaseURL(srv.URL)

	if err := c.Subscribe(context.Background(), "sub@example.com", "selfscope"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if gotAuth != "Token bd_test_key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.EmailAddress != "sub@example.com" {
		t.Errorf("email_address = %q", gotBody.EmailAddress)
	}
	if len(gotBody.Tags) != 1 || gotBody.Tags[0] != "selfscope" {
		t.Errorf("tags = %v", gotBody.Tags)
	}
	if gotBody.Metadata["source"] != "selfscope" {
		t.Errorf("metadata = %v", gotBody.Metadata)
	}
}

func TestSubscribeSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "already subscribed"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("bd_test_key", "")
	c.SetBaseURL(srv.URL)

	if err := c.Subscribe(context.Background(), "dupe@example.com", "selfscope"); err == nil {
		t.Error("expected error for non-2xx response")
	}
}

func TestSubscribeWithoutKeyIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient("", "")
	c.SetBaseURL(srv.URL)

	if err := c.Subscribe(context.Background(), "noop@example.com", "selfscope"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if called {
		t.Error("disabled client still called the API")
	}
}

func TestSubscribeRequiresEmail(t *testing.T) {
	c := NewClient("bd_test_key", "")
	if err := c.Subscribe(context.Background(), "", "selfscope"); err == nil {
		t.Error("expected error for empty email")
	}
}
