package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/posthog/posthog-go"

	"github.com/selfscope/selfscope/internal/metrics"
)

const defaultPostHogHost = "https://app.posthog.com"

// PostHogSink emits events to PostHog.
type PostHogSink struct {
	client posthog.Client
}

// NewPostHogSink creates a PostHog-backed analytics sink.
func NewPostHogSink(apiKey string, host string) (*PostHogSink, error) {
	if apiKey == "" {
		return nil, errors.New("posthog api key is required")
	}

	endpoint := host
	if endpoint == "" {
		endpoint = defaultPostHogHost
	}

	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	return &PostHogSink{client: client}, nil
}

// Track sends a named event to PostHog.
func (s *PostHogSink) Track(_ context.Context, distinctID string, event string, properties map[string]any) error {
	if s == nil || s.client == nil {
		return errors.New("posthog sink not initialized")
	}
	if distinctID == "" {
		distinctID = "anonymous"
	}

	props := posthog.NewProperties()
	for key, value := range properties {
		props = props.Set(key, value)
	}

	err := s.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
		Timestamp:  time.Now(),
	})
	if err == nil {
		metrics.AnalyticsEventsTotal.WithLabelValues("track").Inc()
	}
	return err
}

// Alias links an anonymous distinct ID to an authenticated identity.
func (s *PostHogSink) Alias(_ context.Context, distinctID string, alias string) error {
	if s == nil || s.client == nil {
		return errors.New("posthog sink not initialized")
	}
	err := s.client.Enqueue(posthog.Alias{
		DistinctId: distinctID,
		Alias:      alias,
	})
	if err == nil {
		metrics.AnalyticsEventsTotal.WithLabelValues("alias").Inc()
	}
	return err
}

// Close flushes buffered events and releases resources.
func (s *PostHogSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
