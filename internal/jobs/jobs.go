// Package jobs implements the background dispatch contract: a closed set of
// typed job variants persisted in a SQLite outbox and processed by a worker
// pool off the request path. Enqueuing is fire-and-forget; delivery is
// at-least-once with no ordering guarantees across jobs.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies a job variant.
type Kind string

const (
	KindTrackStateChange     Kind = "track_state_change"
	KindTrackEvent           Kind = "track_event"
	KindCreateAnalyticsAlias Kind = "create_analytics_alias"
	KindSendEmail            Kind = "send_email"
	KindSubscribeNewsletter  Kind = "subscribe_newsletter"
)

// Status is the queue lifecycle status of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusLeased    Status = "leased"
	StatusSucceeded Status = "succeeded"
	StatusDead      Status = "dead"
)

// Job is a persisted unit of background work.
type Job struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Group          string          `json:"group"`
	Payload        json.RawMessage `json:"payload"`
	Status         Status          `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	LeaseOwner     string          `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Enqueuer accepts jobs for asynchronous execution. Callers never wait for or
// observe job completion.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// TrackStateChangePayload records a profile lifecycle transition.
type TrackStateChangePayload struct {
	ProfileID      int64          `json:"profile_id"`
	FromState      string         `json:"from_state"`
	ToState        string         `json:"to_state"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	SourceFunction string         `json:"source_function,omitempty"`
}

// TrackEventPayload forwards a named analytics event.
type TrackEventPayload struct {
	ProfileID      int64          `json:"profile_id"`
	Event          string         `json:"event"`
	Properties     map[string]any `json:"properties,omitempty"`
	SourceFunction string         `json:"source_function,omitempty"`
}

// CreateAnalyticsAliasPayload aliases an anonymous analytics identity to the
// authenticated user, seeded from the request cookies.
type CreateAnalyticsAliasPayload struct {
	ProfileID      int64             `json:"profile_id"`
	Cookies        map[string]string `json:"cookies"`
	SourceFunction string            `json:"source_function,omitempty"`
}

// SendEmailPayload delivers one transactional email.
type SendEmailPayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// SubscribeNewsletterPayload registers an address with the newsletter list.
type SubscribeNewsletterPayload struct {
	Email string `json:"email"`
	Tag   string `json:"tag"`
}

func newJob(kind Kind, group string, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Job{
		ID:      ulid.Make().String(),
		Kind:    kind,
		Group:   group,
		Payload: raw,
	}, nil
}

// NewTrackStateChange builds a track_state_change job.
func NewTrackStateChange(p TrackStateChangePayload) (Job, error) {
	return newJob(KindTrackStateChange, "Track State Change", p)
}

// NewTrackEvent builds a track_event job.
func NewTrackEvent(p TrackEventPayload) (Job, error) {
	return newJob(KindTrackEvent, "Track Event", p)
}

// NewCreateAnalyticsAlias builds a create_analytics_alias job.
func NewCreateAnalyticsAlias(p CreateAnalyticsAliasPayload) (Job, error) {
	return newJob(KindCreateAnalyticsAlias, "Create Analytics Alias", p)
}

// NewSendEmail builds a send_email job.
func NewSendEmail(p SendEmailPayload) (Job, error) {
	return newJob(KindSendEmail, "Send Email", p)
}

// NewSubscribeNewsletter builds a subscribe_newsletter job.
func NewSubscribeNewsletter(p SubscribeNewsletterPayload) (Job, error) {
	return newJob(KindSubscribeNewsletter, "Subscribe Newsletter", p)
}
