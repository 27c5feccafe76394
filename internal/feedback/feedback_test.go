package feedback

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/selfscope/selfscope/internal/account"
	"github.com/selfscope/selfscope/internal/ids"
	"github.com/selfscope/selfscope/internal/jobs"
	"github.com/selfscope/selfscope/internal/profile"
	"github.com/selfscope/selfscope/internal/store"
)

type captureEnqueuer struct {
	jobs []jobs.Job
}

func (c *captureEnqueuer) Enqueue(ctx context.Context, job jobs.Job) error {
	c.jobs = append(c.jobs, job)
	return nil
}

func newTestFixture(t *testing.T) (*Store, *profile.Profile, *account.User) {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	users, err := account.NewStore(db)
	if err != nil {
		t.Fatalf("account.NewStore: %v", err)
	}
	profiles, err := profile.NewStore(db)
	if err != nil {
		t.Fatalf("profile.NewStore: %v", err)
	}
	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	userKey, _ := ids.NewUserKey()
	user := &account.User{Key: userKey, Email: "fb@example.com", PasswordHash: "x"}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	profileKey, _ := ids.NewProfileKey()
	prof := &profile.Profile{UserID: user.ID, Key: profileKey}
	if err := profiles.Create(context.Background(), prof); err != nil {
		t.Fatalf("create profile: %v", err)
	}
	return s, prof, user
}

func submitRequestBody(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/api/feedback", bytes.NewBufferString(body))
}

func TestSubmitAuthenticated(t *testing.T) {
	s, prof, user := newTestFixture(t)
	enq := &captureEnqueuer{}
	h := NewHandlers(HandlersConfig{EmailFrom: "hello@selfscope.example.com", OperatorEmail: "ops@selfscope.example.com"}, s, enq)

	req := submitRequestBody(`{"feedback": "love it", "page": "/settings"}`)
	req = req.WithContext(account.ContextWithIdentity(req.Context(), user, prof))
	rec := httptest.NewRecorder()
	h.HandleSubmit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%q", rec.Code, rec.Body.String())
	}

	items, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("feedback rows = %d, want 1", len(items))
	}
	if items[0].Text != "love it" || items[0].Page != "/settings" {
		t.Errorf("feedback = %+v", items[0])
	}
	if items[0].ProfileID == nil || *items[0].ProfileID != prof.ID {
		t.Errorf("profile_id = %v, want %d", items[0].ProfileID, prof.ID)
	}

	if len(enq.jobs) != 1 || enq.jobs[0].Kind != jobs.KindSendEmail {
		t.Fatalf("jobs = %+v, want one send_email", enq.jobs)
	}
	if !bytes.Contains(enq.jobs[0].Payload, []byte("ops@selfscope.example.com")) {
		t.Error("notification not addressed to operator")
	}
	if !bytes.Contains(enq.jobs[0].Payload, []byte("fb@example.com")) {
		t.Error("notification does not name the submitter")
	}
}

func TestSubmitAnonymous(t *testing.T) {
	s, _, _ := newTestFixture(t)
	enq := &captureEnqueuer{}
	h := NewHandlers(HandlersConfig{OperatorEmail: "ops@selfscope.example.com"}, s, enq)

	rec := httptest.NewRecorder()
	h.HandleSubmit(rec, submitRequestBody(`{"feedback": "anonymous note"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%q", rec.Code, rec.Body.String())
	}
	items, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].ProfileID != nil {
		t.Errorf("feedback = %+v, want anonymous row", items)
	}
}

func TestSubmitEmptyRejected(t *testing.T) {
	s, _, _ := newTestFixture(t)
	h := NewHandlers(HandlersConfig{}, s, &captureEnqueuer{})

	for _, body := range []string{`{"feedback": ""}`, `{"feedback": "   "}`} {
		rec := httptest.NewRecorder()
		h.HandleSubmit(rec, submitRequestBody(body))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestSubmitTooLongRejected(t *testing.T) {
	s, _, _ := newTestFixture(t)
	h := NewHandlers(HandlersConfig{}, s, &captureEnqueuer{})

	long := strings.Repeat("a", maxFeedbackLength+1)
	rec := httptest.NewRecorder()
	h.HandleSubmit(rec, submitRequestBody(`{"feedback": "`+long+`"}`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSubmitWithoutOperatorSkipsNotification(t *testing.T) {
	s, _, _ := newTestFixture(t)
	enq := &captureEnqueuer{}
	h := NewHandlers(HandlersConfig{}, s, enq)

	rec := httptest.NewRecorder()
	h.HandleSubmit(rec, submitRequestBody(`{"feedback": "no operator configured"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(enq.jobs) != 0 {
		t.Errorf("jobs enqueued = %d, want 0", len(enq.jobs))
	}
}
