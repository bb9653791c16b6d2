package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/staykey-io/staykey/internal/lifecycle"
	"github.com/staykey-io/staykey/internal/models"
	"github.com/staykey-io/staykey/internal/pms"
	"github.com/staykey-io/staykey/internal/store"
)

type fakePMS struct {
	bookings []pms.Booking
	err      error
	gotSince time.Time
}

func (f *fakePMS) ListChangedSince(since time.Time, limit int) ([]pms.Booking, error) {
	f.gotSince = since
	return f.bookings, f.err
}

type fakeStore struct {
	byExternal map[string]*models.Booking
	existing   map[string]bool
	lastRun    *models.ReconRun
	savedRuns  []*models.ReconRun
	audits     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byExternal: make(map[string]*models.Booking),
		existing:   make(map[string]bool),
	}
}

func (f *fakeStore) GetBookingByExternalID(externalID string) (*models.Booking, error) {
	b, ok := f.byExternal[externalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeStore) BookingExists(id string) (bool, error) { return f.existing[id], nil }

func (f *fakeStore) LastSuccessfulRecon() (*models.ReconRun, error) {
	if f.lastRun == nil {
		return nil, store.ErrNotFound
	}
	return f.lastRun, nil
}

func (f *fakeStore) SaveReconRun(run *models.ReconRun) error {
	f.savedRuns = append(f.savedRuns, run)
	return nil
}

func (f *fakeStore) Audit(action, entityType, entityID, actor string, details models.JSONB) {
	f.audits = append(f.audits, action)
}

type fakeLifecycle struct {
	created   []string
	updated   []string
	cancelled []string
	failFor   string
}

func (f *fakeLifecycle) Created(ctx context.Context, ev *lifecycle.Event, actor string) error {
	if ev.ExternalID == f.failFor {
		return errors.New("boom")
	}
	f.created = append(f.created, ev.ExternalID)
	return nil
}

func (f *fakeLifecycle) Updated(ctx context.Context, ev *lifecycle.Event, actor string) error {
	if ev.ExternalID == f.failFor {
		return errors.New("boom")
	}
	f.updated = append(f.updated, ev.ExternalID)
	return nil
}

func (f *fakeLifecycle) Cancelled(ctx context.Context, ev *lifecycle.Event, actor string) error {
	f.cancelled = append(f.cancelled, ev.ExternalID)
	return nil
}

type fakeQueue struct {
	pending   []models.QueueJob
	cancelled []string
}

func (f *fakeQueue) ListPending() ([]models.QueueJob, error) { return f.pending, nil }

func (f *fakeQueue) Cancel(jobID string) (bool, error) {
	f.cancelled = append(f.cancelled, jobID)
	return true, nil
}

func remoteBooking(ref string, writeDate time.Time) pms.Booking {
	return pms.Booking{
		ExternalID: ref,
		UnitID:     "unit-1",
		GuestName:  "Guest",
		CheckIn:    "2026-09-10 15:00:00",
		CheckOut:   "2026-09-14 11:00:00",
		State:      "confirmed",
		WriteDate:  writeDate.UTC().Format("2006-01-02 15:04:05"),
	}
}

func newTestEngine(client *fakePMS, st *fakeStore, lc *fakeLifecycle, q *fakeQueue) *Engine {
	return NewEngine(client, st, lc, q, time.Minute)
}

func TestRunOnceEmptyStillRecorded(t *testing.T) {
	st := newFakeStore()
	st.lastRun = &models.ReconRun{Watermark: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)}
	client := &fakePMS{}
	engine := newTestEngine(client, st, &fakeLifecycle{}, &fakeQueue{})

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(st.savedRuns) != 1 {
		t.Fatalf("expected 1 recon run recorded, got %d", len(st.savedRuns))
	}
	run := st.savedRuns[0]
	if run.Outcome != models.ReconOutcomeSuccess {
		t.Errorf("outcome = %q, want success", run.Outcome)
	}
	if !run.Watermark.Equal(st.lastRun.Watermark) {
		t.Errorf("watermark moved on an empty run: %v", run.Watermark)
	}
	if !client.gotSince.Equal(st.lastRun.Watermark) {
		t.Errorf("queried since %v, want %v", client.gotSince, st.lastRun.Watermark)
	}
}

func TestRunOnceFirstRunUsesEpoch(t *testing.T) {
	st := newFakeStore()
	client := &fakePMS{}
	engine := newTestEngine(client, st, &fakeLifecycle{}, &fakeQueue{})

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !client.gotSince.IsZero() {
		t.Errorf("first run should query from the zero time, got %v", client.gotSince)
	}
}

func TestRunOnceCreatesUnseen(t *testing.T) {
	st := newFakeStore()
	writeDate := time.Date(2026, 9, 2, 8, 30, 0, 0, time.UTC)
	client := &fakePMS{bookings: []pms.Booking{remoteBooking("bk-ext-1", writeDate)}}
	lc := &fakeLifecycle{}
	engine := newTestEngine(client, st, lc, &fakeQueue{})

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(lc.created) != 1 || lc.created[0] != "bk-ext-1" {
		t.Fatalf("created calls = %v, want [bk-ext-1]", lc.created)
	}
	run := st.savedRuns[0]
	if run.Created != 1 {
		t.Errorf("run.Created = %d, want 1", run.Created)
	}
	if !run.Watermark.Equal(writeDate) {
		t.Errorf("watermark = %v, want %v", run.Watermark, writeDate)
	}
}

func TestRunOnceUpdatesKnown(t *testing.T) {
	st := newFakeStore()
	st.byExternal["bk-ext-1"] = &models.Booking{ID: "local-1", ExternalID: "bk-ext-1"}
	client := &fakePMS{bookings: []pms.Booking{remoteBooking("bk-ext-1", time.Now())}}
	lc := &fakeLifecycle{}
	engine := newTestEngine(client, st, lc, &fakeQueue{})

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(lc.updated) != 1 {
		t.Fatalf("updated calls = %v, want one", lc.updated)
	}
	if len(lc.created) != 0 {
		t.Errorf("unexpected created calls: %v", lc.created)
	}
}

func TestRunOnceCancelledRemote(t *testing.T) {
	st := newFakeStore()
	st.byExternal["bk-known"] = &models.Booking{ID: "local-1", ExternalID: "bk-known"}

	known := remoteBooking("bk-known", time.Now())
	known.State = "cancel"
	unknown := remoteBooking("bk-never-seen", time.Now())
	unknown.State = "cancel"

	client := &fakePMS{bookings: []pms.Booking{known, unknown}}
	lc := &fakeLifecycle{}
	engine := newTestEngine(client, st, lc, &fakeQueue{})

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(lc.cancelled) != 1 || lc.cancelled[0] != "bk-known" {
		t.Fatalf("cancelled calls = %v, want [bk-known]", lc.cancelled)
	}
}

func TestRunOncePMSFailure(t *testing.T) {
	st := newFakeStore()
	st.lastRun = &models.ReconRun{Watermark: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)}
	client := &fakePMS{err: errors.New("connection refused")}
	engine := newTestEngine(client, st, &fakeLifecycle{}, &fakeQueue{})

	if err := engine.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error from failing PMS")
	}

	if len(st.savedRuns) != 1 {
		t.Fatalf("failed run must still be recorded, got %d records", len(st.savedRuns))
	}
	run := st.savedRuns[0]
	if run.Outcome != models.ReconOutcomeError {
		t.Errorf("outcome = %q, want error", run.Outcome)
	}
	if !run.Watermark.Equal(st.lastRun.Watermark) {
		t.Errorf("watermark must not advance on failure, got %v", run.Watermark)
	}
}

func TestRunOncePartialFailureKeepsWatermark(t *testing.T) {
	st := newFakeStore()
	old := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	st.lastRun = &models.ReconRun{Watermark: old}
	client := &fakePMS{bookings: []pms.Booking{
		remoteBooking("bk-good", time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)),
		remoteBooking("bk-bad", time.Date(2026, 9, 4, 0, 0, 0, 0, time.UTC)),
	}}
	lc := &fakeLifecycle{failFor: "bk-bad"}
	engine := newTestEngine(client, st, lc, &fakeQueue{})

	if err := engine.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error for the partially failed run")
	}

	run := st.savedRuns[0]
	if run.Errors != 1 {
		t.Errorf("run.Errors = %d, want 1", run.Errors)
	}
	if !run.Watermark.Equal(old) {
		t.Errorf("watermark advanced despite failures: %v", run.Watermark)
	}
}

func TestCleanOrphans(t *testing.T) {
	st := newFakeStore()
	st.existing["bk-alive"] = true
	q := &fakeQueue{pending: []models.QueueJob{
		{JobID: "gen-pin-bk-alive", Payload: models.JSONB{"bookingId": "bk-alive"}},
		{JobID: "gen-pin-bk-gone", Payload: models.JSONB{"bookingId": "bk-gone"}},
	}}
	engine := newTestEngine(&fakePMS{}, st, &fakeLifecycle{}, q)

	if err := engine.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(q.cancelled) != 1 || q.cancelled[0] != "gen-pin-bk-gone" {
		t.Fatalf("cancelled = %v, want only the orphan", q.cancelled)
	}
	if st.savedRuns[0].OrphansRemoved != 1 {
		t.Errorf("OrphansRemoved = %d, want 1", st.savedRuns[0].OrphansRemoved)
	}
}
