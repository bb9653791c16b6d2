package scheduler

import (
	"fmt"
	"time"

	"github.com/staykey-io/staykey/internal/models"
)

// Payload keys shared with the job processors
const (
	PayloadBookingID = "bookingId"
	PayloadLockID    = "lockId"
	PayloadCheckOut  = "checkOut"
)

// JobQueue is the slice of the durable queue the scheduler drives
type JobQueue interface {
	Enqueue(jobID string, kind models.JobKind, payload models.JSONB, delay time.Duration) error
	Cancel(jobID string) (bool, error)
	GetStatus(jobID string) (*models.QueueJob, error)
}

// CancelResult reports which pending jobs a Cancel call actually removed
type CancelResult struct {
	GenerateRemoved bool
	RevokeRemoved   bool
}

// Any reports whether anything was cancelled
func (r CancelResult) Any() bool {
	return r.GenerateRemoved || r.RevokeRemoved
}

// Scheduler computes when credential jobs should fire and maintains them
// in the durable queue. It holds no state of its own; the deterministic
// job identifiers make re-scheduling an atomic replace at the queue level.
type Scheduler struct {
	queue JobQueue
	lead  time.Duration
	now   func() time.Time
}

// New creates a scheduler. lead is the window before check-in at which a
// code is proactively generated.
func New(queue JobQueue, lead time.Duration) *Scheduler {
	return &Scheduler{
		queue: queue,
		lead:  lead,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// GenerateDelay computes the delay until the generate job should fire:
// lead time before check-in, clamped to zero when check-in is close or
// already past.
func GenerateDelay(now, checkIn time.Time, lead time.Duration) time.Duration {
	delay := checkIn.Sub(now) - lead
	if delay < 0 {
		return 0
	}
	return delay
}

// RevokeDelay computes the delay until the revoke job should fire: at
// check-out, clamped to zero when check-out has already passed.
func RevokeDelay(now, checkOut time.Time) time.Duration {
	delay := checkOut.Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}

// validateWindow rejects broken input synchronously so no malformed job
// ever reaches the queue.
func validateWindow(bookingID, lockID string, checkIn, checkOut time.Time) error {
	if bookingID == "" {
		return fmt.Errorf("booking ID cannot be empty")
	}
	if lockID == "" {
		return fmt.Errorf("lock ID cannot be empty")
	}
	if checkIn.IsZero() || checkOut.IsZero() {
		return fmt.Errorf("check-in/check-out timestamps are required")
	}
	if !checkOut.After(checkIn) {
		return fmt.Errorf("check-out %s must be after check-in %s",
			checkOut.Format(time.RFC3339), checkIn.Format(time.RFC3339))
	}
	return nil
}

// ScheduleGenerate enqueues (or replaces) the generate-pin job for a
// booking. Fires lead time before check-in, immediately when check-in is
// within the lead window.
func (s *Scheduler) ScheduleGenerate(bookingID, lockID string, checkIn, checkOut time.Time) error {
	if err := validateWindow(bookingID, lockID, checkIn, checkOut); err != nil {
		return err
	}

	delay := GenerateDelay(s.now(), checkIn, s.lead)
	payload := models.JSONB{
		PayloadBookingID: bookingID,
		PayloadLockID:    lockID,
		PayloadCheckOut:  checkOut.UTC().Format(time.RFC3339),
	}

	return s.queue.Enqueue(models.GenerateJobID(bookingID), models.JobKindGenerate, payload, delay)
}

// ScheduleRevoke enqueues (or replaces) the revoke-pin job for a booking,
// firing at check-out (immediately if check-out is already past).
func (s *Scheduler) ScheduleRevoke(bookingID, lockID string, checkOut time.Time) error {
	if bookingID == "" {
		return fmt.Errorf("booking ID cannot be empty")
	}
	if checkOut.IsZero() {
		return fmt.Errorf("check-out timestamp is required")
	}

	delay := RevokeDelay(s.now(), checkOut)
	payload := models.JSONB{
		PayloadBookingID: bookingID,
		PayloadLockID:    lockID,
		PayloadCheckOut:  checkOut.UTC().Format(time.RFC3339),
	}

	return s.queue.Enqueue(models.RevokeJobID(bookingID), models.JobKindRevoke, payload, delay)
}

// Cancel removes both pending jobs of a booking by their deterministic
// identifiers. Idempotent: absent jobs are reported, not errors.
func (s *Scheduler) Cancel(bookingID string) (CancelResult, error) {
	var result CancelResult
	if bookingID == "" {
		return result, fmt.Errorf("booking ID cannot be empty")
	}

	genRemoved, err := s.queue.Cancel(models.GenerateJobID(bookingID))
	if err != nil {
		return result, fmt.Errorf("cancel generate job: %w", err)
	}
	result.GenerateRemoved = genRemoved

	revRemoved, err := s.queue.Cancel(models.RevokeJobID(bookingID))
	if err != nil {
		return result, fmt.Errorf("cancel revoke job: %w", err)
	}
	result.RevokeRemoved = revRemoved

	return result, nil
}

// Status returns the queue entry for a booking's job of the given kind
func (s *Scheduler) Status(bookingID string, kind models.JobKind) (*models.QueueJob, error) {
	return s.queue.GetStatus(models.JobIDFor(bookingID, kind))
}
