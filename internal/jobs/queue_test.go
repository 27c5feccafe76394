package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/selfscope/selfscope/internal/store"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	q, err := NewQueue(db)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	return q
}

func TestEnqueueAndLease(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := NewTrackEvent(TrackEventPayload{ProfileID: 1, Event: "user_signed_up"})
	if err != nil {
		t.Fatalf("NewTrackEvent: %v", err)
	}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	leased, err := q.Lease(ctx, "w1", 10, time.Now().UTC(), 30*time.Second)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("leased %d jobs, want 1", len(leased))
	}
	if leased[0].ID != job.ID {
		t.Errorf("leased job ID = %q, want %q", leased[0].ID, job.ID)
	}
	if leased[0].Status != StatusLeased {
		t.Errorf("status = %q, want %q", leased[0].Status, StatusLeased)
	}
	if leased[0].Kind != KindTrackEvent {
		t.Errorf("kind = %q, want %q", leased[0].Kind, KindTrackEvent)
	}

	// A second consumer must not see the leased job.
	again, err := q.Lease(ctx, "w2", 10, time.Now().UTC(), 30*time.Second)
	if err != nil {
		t.Fatalf("Lease again: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("leased %d jobs on second lease, want 0", len(again))
	}
}

func TestMarkSucceeded(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := NewSendEmail(SendEmailPayload{To: "a@b.c", Subject: "hi"})
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	leased, err := q.Lease(ctx, "w1", 1, time.Now().UTC(), 30*time.Second)
	if err != nil || len(leased) != 1 {
		t.Fatalf("Lease: %v (%d leased)", err, len(leased))
	}

	if err := q.MarkSucceeded(ctx, job.ID, "w1", time.Now().UTC()); err != nil {
		t.Fatalf("MarkSucceeded: %v", err)
	}

	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusSucceeded {
		t.Errorf("status = %q, want %q", got.Status, StatusSucceeded)
	}
	if got.ProcessedAt == nil {
		t.Error("ProcessedAt should be set")
	}

	// Wrong consumer may not transition a job.
	if err := q.MarkSucceeded(ctx, job.ID, "w2", time.Now().UTC()); err != ErrNotFound {
		t.Errorf("MarkSucceeded with wrong consumer = %v, want ErrNotFound", err)
	}
}

func TestMarkRetrySchedulesFutureAttempt(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := NewSubscribeNewsletter(SubscribeNewsletterPayload{Email: "a@b.c", Tag: "signup"})
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Lease(ctx, "w1", 1, time.Now().UTC(), 30*time.Second); err != nil {
		t.Fatalf("Lease: %v", err)
	}

	next := time.Now().UTC().Add(time.Minute)
	if err := q.MarkRetry(ctx, job.ID, "w1", next, "newsletter api 503"); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}

	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %q, want %q", got.Status, StatusPending)
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", got.AttemptCount)
	}
	if got.LastError != "newsletter api 503" {
		t.Errorf("last_error = %q", got.LastError)
	}

	// Not due yet.
	leased, err := q.Lease(ctx, "w1", 1, time.Now().UTC(), 30*time.Second)
	if err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if len(leased) != 0 {
		t.Fatalf("leased %d jobs before retry due, want 0", len(leased))
	}

	// Due once the clock passes next_attempt_at.
	leased, err = q.Lease(ctx, "w1", 1, next.Add(time.Second), 30*time.Second)
	if err != nil {
		t.Fatalf("Lease after due: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("leased %d jobs after retry due, want 1", len(leased))
	}
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := NewTrackStateChange(TrackStateChangePayload{ProfileID: 7, FromState: "stranger", ToState: "subscribed"})
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	now := time.Now().UTC()
	if _, err := q.Lease(ctx, "w1", 1, now, time.Second); err != nil {
		t.Fatalf("Lease: %v", err)
	}

	// Another worker reclaims the job after the lease expires.
	leased, err := q.Lease(ctx, "w2", 1, now.Add(2*time.Second), 30*time.Second)
	if err != nil {
		t.Fatalf("Lease after expiry: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("leased %d jobs after expiry, want 1", len(leased))
	}
	if leased[0].LeaseOwner != "w2" {
		t.Errorf("lease_owner = %q, want w2", leased[0].LeaseOwner)
	}
}

func TestDeadLetterAndRequeue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := NewCreateAnalyticsAlias(CreateAnalyticsAliasPayload{ProfileID: 3})
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Lease(ctx, "w1", 1, time.Now().UTC(), 30*time.Second); err != nil {
		t.Fatalf("Lease: %v", err)
	}
	if err := q.MarkDead(ctx, job.ID, "w1", "gave up", time.Now().UTC()); err != nil {
		t.Fatalf("MarkDead: %v", err)
	}

	dead, err := q.ListDead(ctx, 10)
	if err != nil {
		t.Fatalf("ListDead: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != job.ID {
		t.Fatalf("ListDead = %v, want [%s]", dead, job.ID)
	}

	if err := q.Requeue(ctx, job.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("status after requeue = %q, want pending", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Errorf("attempt_count after requeue = %d, want 0", got.AttemptCount)
	}

	// Requeue only applies to dead jobs.
	if err := q.Requeue(ctx, job.ID); err != ErrNotFound {
		t.Errorf("Requeue on pending job = %v, want ErrNotFound", err)
	}
}

func TestCountByStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job, _ := NewTrackEvent(TrackEventPayload{ProfileID: int64(i), Event: "page_view"})
		if err := q.Enqueue(ctx, job); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	leased, err := q.Lease(ctx, "w1", 1, time.Now().UTC(), 30*time.Second)
	if err != nil || len(leased) != 1 {
		t.Fatalf("Lease: %v (%d)", err, len(leased))
	}

	counts, err := q.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[StatusPending] != 2 {
		t.Errorf("pending = %d, want 2", counts[StatusPending])
	}
	if counts[StatusLeased] != 1 {
		t.Errorf("leased = %d, want 1", counts[StatusLeased])
	}
}
