package scheduler

import (
	"testing"
	"time"

	"github.com/staykey-io/staykey/internal/models"
	"github.com/staykey-io/staykey/internal/queue"
)

// fakeQueue records enqueues keyed by job ID, like the real queue's
// replace-on-conflict behavior.
type fakeQueue struct {
	jobs map[string]fakeJob
}

type fakeJob struct {
	kind    models.JobKind
	payload models.JSONB
	delay   time.Duration
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string]fakeJob)}
}

func (f *fakeQueue) Enqueue(jobID string, kind models.JobKind, payload models.JSONB, delay time.Duration) error {
	f.jobs[jobID] = fakeJob{kind: kind, payload: payload, delay: delay}
	return nil
}

func (f *fakeQueue) Cancel(jobID string) (bool, error) {
	if _, ok := f.jobs[jobID]; !ok {
		return false, nil
	}
	delete(f.jobs, jobID)
	return true, nil
}

func (f *fakeQueue) GetStatus(jobID string) (*models.QueueJob, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return &models.QueueJob{JobID: jobID, Kind: j.kind, Payload: j.payload, Status: models.JobStatusPending}, nil
}

func TestGenerateDelay(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	lead := 2 * time.Hour

	tests := []struct {
		name    string
		checkIn time.Time
		want    time.Duration
	}{
		{"check-in 30 minutes away fires immediately", now.Add(30 * time.Minute), 0},
		{"check-in 5 hours away waits 3 hours", now.Add(5 * time.Hour), 3 * time.Hour},
		{"check-in exactly at lead fires immediately", now.Add(2 * time.Hour), 0},
		{"check-in in the past fires immediately", now.Add(-1 * time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateDelay(now, tt.checkIn, lead); got != tt.want {
				t.Errorf("GenerateDelay = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRevokeDelay(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if got := RevokeDelay(now, now.Add(1*time.Hour)); got != time.Hour {
		t.Errorf("RevokeDelay one hour out = %v, want 1h", got)
	}
	if got := RevokeDelay(now, now.Add(-5*time.Minute)); got != 0 {
		t.Errorf("RevokeDelay in the past = %v, want 0 (clamped)", got)
	}
}

func TestScheduleGenerate_Validation(t *testing.T) {
	fq := newFakeQueue()
	s := New(fq, 2*time.Hour)
	now := time.Now().UTC()

	tests := []struct {
		name      string
		bookingID string
		lockID    string
		checkIn   time.Time
		checkOut  time.Time
	}{
		{"missing booking ID", "", "lock-1", now, now.Add(24 * time.Hour)},
		{"missing lock ID", "bk-1", "", now, now.Add(24 * time.Hour)},
		{"zero timestamps", "bk-1", "lock-1", time.Time{}, time.Time{}},
		{"check-out before check-in", "bk-1", "lock-1", now.Add(24 * time.Hour), now},
		{"check-out equals check-in", "bk-1", "lock-1", now, now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.ScheduleGenerate(tt.bookingID, tt.lockID, tt.checkIn, tt.checkOut); err == nil {
				t.Error("Expected synchronous validation error, got nil")
			}
			if len(fq.jobs) != 0 {
				t.Error("No job should be enqueued on validation failure")
			}
		})
	}
}

func TestSchedule_ReplacesExistingJob(t *testing.T) {
	fq := newFakeQueue()
	s := New(fq, 2*time.Hour)

	checkIn := time.Now().UTC().Add(48 * time.Hour)
	checkOut := checkIn.Add(72 * time.Hour)

	if err := s.ScheduleGenerate("bk-1", "lock-1", checkIn, checkOut); err != nil {
		t.Fatalf("First schedule failed: %v", err)
	}
	if err := s.ScheduleGenerate("bk-1", "lock-1", checkIn.Add(time.Hour), checkOut.Add(time.Hour)); err != nil {
		t.Fatalf("Re-schedule failed: %v", err)
	}

	if len(fq.jobs) != 1 {
		t.Fatalf("Expected exactly one pending job after re-schedule, got %d", len(fq.jobs))
	}
	job := fq.jobs[models.GenerateJobID("bk-1")]
	wantCheckOut := checkOut.Add(time.Hour).UTC().Format(time.RFC3339)
	if job.payload[PayloadCheckOut] != wantCheckOut {
		t.Errorf("Replaced job carries stale payload: %v", job.payload[PayloadCheckOut])
	}
}

func TestCancel_Idempotent(t *testing.T) {
	fq := newFakeQueue()
	s := New(fq, 2*time.Hour)

	checkIn := time.Now().UTC().Add(48 * time.Hour)
	checkOut := checkIn.Add(72 * time.Hour)

	if err := s.ScheduleGenerate("bk-1", "lock-1", checkIn, checkOut); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := s.ScheduleRevoke("bk-1", "lock-1", checkOut); err != nil {
		t.Fatalf("Schedule revoke failed: %v", err)
	}

	res, err := s.Cancel("bk-1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !res.GenerateRemoved || !res.RevokeRemoved {
		t.Errorf("Expected both jobs removed, got %+v", res)
	}

	// Second cancel finds nothing, still no error
	res, err = s.Cancel("bk-1")
	if err != nil {
		t.Fatalf("Second cancel errored: %v", err)
	}
	if res.Any() {
		t.Errorf("Second cancel should remove nothing, got %+v", res)
	}
}

func TestStatus(t *testing.T) {
	fq := newFakeQueue()
	s := New(fq, 2*time.Hour)

	checkOut := time.Now().UTC().Add(24 * time.Hour)
	if err := s.ScheduleRevoke("bk-9", "lock-1", checkOut); err != nil {
		t.Fatalf("Schedule revoke failed: %v", err)
	}

	job, err := s.Status("bk-9", models.JobKindRevoke)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if job.Kind != models.JobKindRevoke {
		t.Errorf("Expected revoke job, got %s", job.Kind)
	}

	if _, err := s.Status("bk-9", models.JobKindGenerate); err == nil {
		t.Error("Expected not-found for unscheduled generate job")
	}
}
