package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherFamilies(t *testing.T) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func TestCollectorsRegisterUnderNamespace(t *testing.T) {
	// Touch one child of each vec so the families show up in a gather.
	ProfilesByState.WithLabelValues("signed_up").Set(3)
	TransitionsRecordedTotal.WithLabelValues("subscribed").Inc()
	JobsEnqueuedTotal.WithLabelValues("send_email").Inc()
	JobsProcessedTotal.WithLabelValues("send_email", "succeeded").Inc()
	JobDuration.WithLabelValues("send_email").Observe(0.05)
	QueueDepth.WithLabelValues("pending").Set(1)
	WebhookRequestsTotal.WithLabelValues("checkout.session.completed", "200").Inc()
	WebhookDuration.WithLabelValues("checkout.session.completed").Observe(0.01)
	EmailsSentTotal.WithLabelValues("sent").Inc()
	AnalyticsEventsTotal.WithLabelValues("track").Inc()

	families := gatherFamilies(t)
	want := []string{
		"selfscope_profiles_by_state",
		"selfscope_transitions_recorded_total",
		"selfscope_jobs_enqueued_total",
		"selfscope_jobs_processed_total",
		"selfscope_jobs_duration_seconds",
		"selfscope_jobs_queue_depth",
		"selfscope_webhook_requests_total",
		"selfscope_webhook_duration_seconds",
		"selfscope_emails_sent_total",
		"selfscope_analytics_events_total",
	}
	for _, name := range want {
		if _, ok := families[name]; !ok {
			t.Errorf("metric family %q not registered", name)
		}
	}
}

func TestProfilesByStateGaugeValue(t *testing.T) {
	ProfilesByState.WithLabelValues("subscribed").Set(7)

	families := gatherFamilies(t)
	mf, ok := families["selfscope_profiles_by_state"]
	if !ok {
		t.Fatal("selfscope_profiles_by_state not registered")
	}
	if mf.GetType() != dto.MetricType_GAUGE {
		t.Errorf("type = %v, want gauge", mf.GetType())
	}
	for _, m := range mf.GetMetric() {
		for _, label := range m.GetLabel() {
			if label.GetName() == "state" && label.GetValue() == "subscribed" {
				if got := m.GetGauge().GetValue(); got != 7 {
					t.Errorf("gauge value = %v, want 7", got)
				}
				return
			}
		}
	}
	t.Error("no sample with state=subscribed")
}
