package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/staykey-io/staykey/internal/auth"
	"github.com/staykey-io/staykey/internal/lifecycle"
	"github.com/staykey-io/staykey/internal/models"
	"github.com/staykey-io/staykey/internal/queue"
	"github.com/staykey-io/staykey/internal/store"
)

const testSecret = "router-test-secret"

type fakeStore struct {
	booking *models.Booking
	creds   []models.Credential
	entries []models.AuditEntry
	recon   *models.ReconRun
}

func (f *fakeStore) GetBookingByExternalID(externalID string) (*models.Booking, error) {
	if f.booking == nil || f.booking.ExternalID != externalID {
		return nil, store.ErrNotFound
	}
	return f.booking, nil
}

func (f *fakeStore) ListCredentialsForBooking(bookingID string) ([]models.Credential, error) {
	return f.creds, nil
}

func (f *fakeStore) ListAuditEntries(entityID string, limit int) ([]models.AuditEntry, error) {
	return f.entries, nil
}

func (f *fakeStore) LastSuccessfulRecon() (*models.ReconRun, error) {
	if f.recon == nil {
		return nil, store.ErrNotFound
	}
	return f.recon, nil
}

type fakeLifecycle struct {
	events []*lifecycle.Event
	err    error
}

func (f *fakeLifecycle) Handle(ctx context.Context, ev *lifecycle.Event) error {
	f.events = append(f.events, ev)
	return f.err
}

type fakeJobs struct {
	jobs map[models.JobKind]*models.QueueJob
}

func (f *fakeJobs) Status(bookingID string, kind models.JobKind) (*models.QueueJob, error) {
	job, ok := f.jobs[kind]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return job, nil
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateServiceToken("test", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func newTestRouter(st *fakeStore, lc *fakeLifecycle, jobs *fakeJobs) *Router {
	if st == nil {
		st = &fakeStore{}
	}
	if lc == nil {
		lc = &fakeLifecycle{}
	}
	if jobs == nil {
		jobs = &fakeJobs{jobs: map[models.JobKind]*models.QueueJob{}}
	}
	return NewRouter(st, lc, jobs, nil, testSecret)
}

func TestHealthIsPublic(t *testing.T) {
	r := newTestRouter(nil, nil, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d, want 200", rec.Code)
	}
}

func TestWebhookRequiresAuth(t *testing.T) {
	r := newTestRouter(nil, nil, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/webhooks/bookings", bytes.NewBufferString("{}")))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated webhook = %d, want 401", rec.Code)
	}
}

func TestWebhookAcceptsEvent(t *testing.T) {
	lc := &fakeLifecycle{}
	r := newTestRouter(nil, lc, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"type":       "created",
		"externalId": "bk-ext-1",
		"unitId":     "unit-1",
		"guestName":  "Ada",
		"checkIn":    "2026-09-10T15:00:00Z",
		"checkOut":   "2026-09-14T11:00:00Z",
	})
	req := httptest.NewRequest("POST", "/webhooks/bookings", bytes.NewReader(body))
	req.Header.Set("Authorization", bearer(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("webhook = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	if len(lc.events) != 1 || lc.events[0].ExternalID != "bk-ext-1" {
		t.Fatalf("events = %+v, want one for bk-ext-1", lc.events)
	}
}

func TestWebhookRejectsInvalidEvent(t *testing.T) {
	r := newTestRouter(nil, nil, nil)

	body, _ := json.Marshal(map[string]interface{}{"type": "created"})
	req := httptest.NewRequest("POST", "/webhooks/bookings", bytes.NewReader(body))
	req.Header.Set("Authorization", bearer(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid event = %d, want 400", rec.Code)
	}
}

func TestListCredentials(t *testing.T) {
	st := &fakeStore{
		booking: &models.Booking{ID: "local-1", ExternalID: "bk-ext-1"},
		creds: []models.Credential{
			{ID: "cred-1", BookingID: "local-1", LockID: "lock-1", Status: models.CredentialStatusActive},
			{ID: "cred-2", BookingID: "local-1", LockID: "lock-1", Status: models.CredentialStatusRevoked},
		},
	}
	r := newTestRouter(st, nil, nil)

	req := httptest.NewRequest("GET", "/api/bookings/bk-ext-1/credentials", nil)
	req.Header.Set("Authorization", bearer(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("credentials = %d, want 200", rec.Code)
	}

	var out struct {
		BookingID   string              `json:"bookingId"`
		Active      int                 `json:"active"`
		Credentials []models.Credential `json:"credentials"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Credentials) != 2 || out.Credentials[0].ID != "cred-1" {
		t.Fatalf("credentials = %+v", out.Credentials)
	}
	if out.Active != 1 {
		t.Errorf("active = %d, want 1", out.Active)
	}
}

func TestWebhookRejectedEventIsBadRequest(t *testing.T) {
	lc := &fakeLifecycle{err: fmt.Errorf("%w: cancel for unknown booking bk-ext-1", lifecycle.ErrRejected)}
	r := newTestRouter(nil, lc, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"type":       "cancelled",
		"externalId": "bk-ext-1",
	})
	req := httptest.NewRequest("POST", "/webhooks/bookings", bytes.NewReader(body))
	req.Header.Set("Authorization", bearer(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("rejected event = %d, want 400 not 500", rec.Code)
	}
}

func TestBookingNotFound(t *testing.T) {
	r := newTestRouter(nil, nil, nil)
	req := httptest.NewRequest("GET", "/api/bookings/bk-nope", nil)
	req.Header.Set("Authorization", bearer(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing booking = %d, want 404", rec.Code)
	}
}

func TestListJobsToleratesMissingEntries(t *testing.T) {
	st := &fakeStore{booking: &models.Booking{ID: "local-1", ExternalID: "bk-ext-1"}}
	jobs := &fakeJobs{jobs: map[models.JobKind]*models.QueueJob{
		models.JobKindGenerate: {JobID: "gen-pin-local-1", Kind: models.JobKindGenerate, Status: models.JobStatusPending},
	}}
	r := newTestRouter(st, nil, jobs)

	req := httptest.NewRequest("GET", "/api/bookings/bk-ext-1/jobs", nil)
	req.Header.Set("Authorization", bearer(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("jobs = %d, want 200", rec.Code)
	}

	var out map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out["REVOKE"]) != "null" {
		t.Errorf("REVOKE = %s, want null for a never-scheduled job", out["REVOKE"])
	}
	if string(out["GENERATE"]) == "null" {
		t.Error("GENERATE should be present")
	}
}

func TestLastReconNotFound(t *testing.T) {
	r := newTestRouter(nil, nil, nil)
	req := httptest.NewRequest("GET", "/api/recon/last", nil)
	req.Header.Set("Authorization", bearer(t))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("recon = %d, want 404 before any run", rec.Code)
	}
}
