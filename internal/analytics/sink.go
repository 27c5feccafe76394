// Package analytics forwards product events to an analytics sink. The sink
// is constructed once at startup and injected; there is no process-global
// client.
package analytics

import "context"

// Sink captures product analytics events.
type Sink interface {
	Track(ctx context.Context, distinctID string, event string, properties map[string]any) error
	Alias(ctx context.Context, distinctID string, alias string) error
	Close() error
}

type noopSink struct{}

// NewNoopSink returns a sink that drops all events. Used when no API key is
// configured.
func NewNoopSink() Sink {
	return noopSink{}
}

func (noopSink) Track(ctx context.Context, distinctID string, event string, properties map[string]any) error {
	return nil
}

func (noopSink) Alias(ctx context.Context, distinctID string, alias string) error {
	return nil
}

func (noopSink) Close() error {
	return nil
}
