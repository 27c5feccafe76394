package app

import (
	"context"
	"net/url"
	"testing"

	"github.com/selfscope/selfscope/internal/analytics"
	"github.com/selfscope/selfscope/internal/email"
	"github.com/selfscope/selfscope/internal/jobs"
	"github.com/selfscope/selfscope/internal/newsletter"
)

type recordedEvent struct {
	distinctID string
	event      string
	properties map[string]any
}

type recordedAlias struct {
	distinctID string
	alias      string
}

// captureSink records analytics calls for assertions.
type captureSink struct {
	events  []recordedEvent
	aliases []recordedAlias
}

func (c *captureSink) Track(ctx context.Context, distinctID, event string, properties map[string]any) error {
	c.events = append(c.events, recordedEvent{distinctID, event, properties})
	return nil
}

func (c *captureSink) Alias(ctx context.Context, distinctID, alias string) error {
	c.aliases = append(c.aliases, recordedAlias{distinctID, alias})
	return nil
}

func (c *captureSink) Close() error { return nil }

func newJobHandlersFixture(t *testing.T) (*appFixture, *jobHandlers, *captureSink) {
	t.Helper()
	f := newAppFixture(t)
	sink := &captureSink{}
	h := &jobHandlers{
		profiles:      f.profiles,
		users:         f.users,
		sink:          sink,
		posthogAPIKey: "phc_test",
		sender:        email.NewLogSender(func(to, subject, body string) {}),
		newsletter:    newsletter.NewClient("", ""),
	}
	return f, h, sink
}

func TestHandleTrackEventEnrichesProperties(t *testing.T) {
	f, h, sink := newJobHandlersFixture(t)
	user, prof := f.createIdentity(t, "track@example.com")
	_ = user

	job, err := jobs.NewTrackEvent(jobs.TrackEventPayload{
		ProfileID:  prof.ID,
		Event:      "user_signed_up",
		Properties: map[string]any{"plan": "monthly"},
	})
	if err != nil {
		t.Fatalf("NewTrackEvent: %v", err)
	}
	if err := h.handleTrackEvent(context.Background(), job); err != nil {
		t.Fatalf("handleTrackEvent: %v", err)
	}

	if len(sink.events) != 1 {
		t.Fatalf("events = %d, want 1", len(sink.events))
	}
	got := sink.events[0]
	if got.distinctID != "track@example.com" {
		t.Errorf("distinct_id = %q, want the user email", got.distinctID)
	}
	if got.event != "user_signed_up" {
		t.Errorf("event = %q", got.event)
	}
	if got.properties["profile_key"] != prof.Key {
		t.Errorf("profile_key = %v", got.properties["profile_key"])
	}
	if got.properties["plan"] != "monthly" {
		t.Errorf("payload property lost: %v", got.properties)
	}
}

func TestHandleTrackEventMissingProfileIsNoop(t *testing.T) {
	_, h, sink := newJobHandlersFixture(t)

	job, err := jobs.NewTrackEvent(jobs.TrackEventPayload{ProfileID: 999, Event: "x"})
	if err != nil {
		t.Fatalf("NewTrackEvent: %v", err)
	}
	if err := h.handleTrackEvent(context.Background(), job); err != nil {
		t.Fatalf("handleTrackEvent: %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("events = %d, want 0", len(sink.events))
	}
}

func TestHandleCreateAnalyticsAlias(t *testing.T) {
	f, h, sink := newJobHandlersFixture(t)
	_, prof := f.createIdentity(t, "alias@example.com")

	cookieValue := url.QueryEscape(`{"distinct_id":"anon-42"}`)
	job, err := jobs.NewCreateAnalyticsAlias(jobs.CreateAnalyticsAliasPayload{
		ProfileID: prof.ID,
		Cookies:   map[string]string{analytics.CookieName("phc_test"): cookieValue},
	})
	if err != nil {
		t.Fatalf("NewCreateAnalyticsAlias: %v", err)
	}
	if err := h.handleCreateAnalyticsAlias(context.Background(), job); err != nil {
		t.Fatalf("handleCreateAnalyticsAlias: %v", err)
	}

	// The anonymous identity aliases to both the email and the numeric
	// profile ID.
	if len(sink.aliases) != 2 {
		t.Fatalf("aliases = %+v, want 2", sink.aliases)
	}
	if sink.aliases[0].distinctID != "anon-42" || sink.aliases[0].alias != "alias@example.com" {
		t.Errorf("first alias = %+v", sink.aliases[0])
	}
	if sink.aliases[1].distinctID != "anon-42" {
		t.Errorf("second alias = %+v", sink.aliases[1])
	}
}

func TestHandleCreateAnalyticsAliasNoCookie(t *testing.T) {
	f, h, sink := newJobHandlersFixture(t)
	_, prof := f.createIdentity(t, "nocookie@example.com")

	job, err := jobs.NewCreateAnalyticsAlias(jobs.CreateAnalyticsAliasPayload{
		ProfileID: prof.ID,
		Cookies:   map[string]string{},
	})
	if err != nil {
		t.Fatalf("NewCreateAnalyticsAlias: %v", err)
	}
	if err := h.handleCreateAnalyticsAlias(context.Background(), job); err != nil {
		t.Fatalf("handleCreateAnalyticsAlias: %v", err)
	}
	if len(sink.aliases) != 0 {
		t.Errorf("aliases = %d, want 0", len(sink.aliases))
	}
}

func TestHandleSendEmailDelivers(t *testing.T) {
	_, h, _ := newJobHandlersFixture(t)

	var gotTo, gotSubject string
	h.sender = email.NewLogSender(func(to, subject, body string) {
		gotTo, gotSubject = to, subject
	})

	job, err := jobs.NewSendEmail(jobs.SendEmailPayload{
		From:    "hello@selfscope.example.com",
		To:      "user@example.com",
		Subject: "Welcome",
		Text:    "hi",
	})
	if err != nil {
		t.Fatalf("NewSendEmail: %v", err)
	}
	if err := h.handleSendEmail(context.Background(), job); err != nil {
		t.Fatalf("handleSendEmail: %v", err)
	}
	if gotTo != "user@example.com" || gotSubject != "Welcome" {
		t.Errorf("delivered to=%q subject=%q", gotTo, gotSubject)
	}
}

func TestHandleSubscribeNewsletterNoopWithoutKey(t *testing.T) {
	_, h, _ := newJobHandlersFixture(t)

	job, err := jobs.NewSubscribeNewsletter(jobs.SubscribeNewsletterPayload{Email: "x@example.com", Tag: "selfscope"})
	if err != nil {
		t.Fatalf("NewSubscribeNewsletter: %v", err)
	}
	if err := h.handleSubscribeNewsletter(context.Background(), job); err != nil {
		t.Fatalf("handleSubscribeNewsletter: %v", err)
	}
}
