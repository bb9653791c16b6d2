package recon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/staykey-io/staykey/internal/lifecycle"
	"github.com/staykey-io/staykey/internal/models"
	"github.com/staykey-io/staykey/internal/pms"
	"github.com/staykey-io/staykey/internal/scheduler"
	"github.com/staykey-io/staykey/internal/store"
)

// ReconActor is the actor tag on audit entries written by reconciliation
const ReconActor = "recon"

// batchLimit caps how many changed reservations one run pulls from the PMS
const batchLimit = 500

// PMS is the slice of the booking-system client the engine needs
type PMS interface {
	ListChangedSince(since time.Time, limit int) ([]pms.Booking, error)
}

// Store is the slice of the local store the engine needs
type Store interface {
	GetBookingByExternalID(externalID string) (*models.Booking, error)
	BookingExists(id string) (bool, error)
	LastSuccessfulRecon() (*models.ReconRun, error)
	SaveReconRun(run *models.ReconRun) error
	Audit(action, entityType, entityID, actor string, details models.JSONB)
}

// Lifecycle applies reconciled changes through the same paths webhook
// events take. *lifecycle.Handler satisfies this.
type Lifecycle interface {
	Created(ctx context.Context, ev *lifecycle.Event, actor string) error
	Updated(ctx context.Context, ev *lifecycle.Event, actor string) error
	Cancelled(ctx context.Context, ev *lifecycle.Event, actor string) error
}

// Queue is the slice of the job queue used for orphan cleanup
type Queue interface {
	ListPending() ([]models.QueueJob, error)
	Cancel(jobID string) (bool, error)
}

// Engine periodically reconciles local bookings against the external
// booking system. It is the safety net for missed or dropped events:
// everything it finds flows through the same lifecycle handler the
// event paths use.
type Engine struct {
	pms       PMS
	store     Store
	lifecycle Lifecycle
	queue     Queue
	interval  time.Duration

	mu      sync.Mutex
	running bool
}

// NewEngine wires a reconciliation engine
func NewEngine(client PMS, st Store, lc Lifecycle, q Queue, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Engine{
		pms:       client,
		store:     st,
		lifecycle: lc,
		queue:     q,
		interval:  interval,
	}
}

// Start runs the reconciliation ticker until ctx is cancelled
func (e *Engine) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		log.Printf("🔄 Reconciliation started (every %s)", e.interval)
		for {
			select {
			case <-ctx.Done():
				log.Println("🔄 Reconciliation stopped")
				return
			case <-ticker.C:
				if err := e.RunOnce(ctx); err != nil {
					log.Printf("❌ Reconciliation run failed: %v", err)
				}
			}
		}
	}()
}

// RunOnce executes a single reconciliation pass. Overlapping runs are
// rejected; a run always writes its ReconRun record, but the watermark
// only advances when the pass completed without errors.
func (e *Engine) RunOnce(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("reconciliation is already running")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	started := time.Now().UTC()
	run := &models.ReconRun{StartedAt: started}

	watermark := time.Time{}
	if last, err := e.store.LastSuccessfulRecon(); err == nil {
		watermark = last.Watermark
	} else if !errors.Is(err, store.ErrNotFound) {
		return e.finishRun(run, watermark, started, fmt.Errorf("load watermark: %w", err))
	}

	changed, err := e.pms.ListChangedSince(watermark, batchLimit)
	if err != nil {
		return e.finishRun(run, watermark, started, fmt.Errorf("list changed reservations: %w", err))
	}

	newWatermark := watermark
	for i := range changed {
		remote := &changed[i]
		if err := e.apply(ctx, remote, run); err != nil {
			log.Printf("⚠️ Reconcile failed for reservation %s: %v", remote.ExternalID, err)
			run.Errors++
			continue
		}
		if wt, err := remote.WriteTime(); err == nil && wt.After(newWatermark) {
			newWatermark = wt
		}
	}

	removed, err := e.cleanOrphans()
	if err != nil {
		log.Printf("⚠️ Orphan cleanup failed: %v", err)
		run.Errors++
	}
	run.OrphansRemoved = removed

	if run.Errors > 0 {
		// Keep the old watermark so failed reservations are retried
		return e.finishRun(run, watermark, started,
			fmt.Errorf("%d of %d reservations failed to reconcile", run.Errors, len(changed)))
	}
	return e.finishRun(run, newWatermark, started, nil)
}

// apply routes one remote reservation through the lifecycle handler
func (e *Engine) apply(ctx context.Context, remote *pms.Booking, run *models.ReconRun) error {
	if remote.Cancelled() {
		if _, err := e.store.GetBookingByExternalID(remote.ExternalID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Cancelled before we ever saw it; nothing to unwind
				return nil
			}
			return err
		}
		ev := &lifecycle.Event{Type: lifecycle.EventCancelled, ExternalID: remote.ExternalID}
		if err := e.lifecycle.Cancelled(ctx, ev, ReconActor); err != nil {
			return err
		}
		run.Updated++
		return nil
	}

	checkIn, err := remote.CheckInTime()
	if err != nil {
		return fmt.Errorf("bad check-in %q: %w", remote.CheckIn, err)
	}
	checkOut, err := remote.CheckOutTime()
	if err != nil {
		return fmt.Errorf("bad check-out %q: %w", remote.CheckOut, err)
	}

	ev := &lifecycle.Event{
		ExternalID: remote.ExternalID,
		UnitID:     remote.UnitID,
		GuestName:  remote.GuestName,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Status:     models.BookingStatusConfirmed,
	}

	if _, err := e.store.GetBookingByExternalID(remote.ExternalID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		ev.Type = lifecycle.EventCreated
		if err := e.lifecycle.Created(ctx, ev, ReconActor); err != nil {
			return err
		}
		run.Created++
		return nil
	}

	// The handler compares stay windows itself and reschedules only on a
	// real change, so an unchanged reservation is a cheap no-op here.
	ev.Type = lifecycle.EventUpdated
	if err := e.lifecycle.Updated(ctx, ev, ReconActor); err != nil {
		return err
	}
	run.Updated++
	return nil
}

// cleanOrphans cancels pending jobs whose booking no longer exists
func (e *Engine) cleanOrphans() (int, error) {
	pending, err := e.queue.ListPending()
	if err != nil {
		return 0, err
	}

	removed := 0
	for i := range pending {
		job := &pending[i]
		bookingID, _ := job.Payload[scheduler.PayloadBookingID].(string)
		if bookingID == "" {
			continue
		}
		exists, err := e.store.BookingExists(bookingID)
		if err != nil {
			return removed, err
		}
		if exists {
			continue
		}
		ok, err := e.queue.Cancel(job.JobID)
		if err != nil {
			return removed, err
		}
		if ok {
			log.Printf("🧹 Removed orphaned job %s (booking %s is gone)", job.JobID, bookingID)
			removed++
		}
	}
	return removed, nil
}

// finishRun completes the run record and persists it
func (e *Engine) finishRun(run *models.ReconRun, watermark time.Time, started time.Time, runErr error) error {
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Watermark = watermark
	run.Duration = int(now.Sub(started).Milliseconds())

	if runErr != nil {
		run.Outcome = models.ReconOutcomeError
		run.ErrorDetail = runErr.Error()
	} else {
		run.Outcome = models.ReconOutcomeSuccess
	}

	if err := e.store.SaveReconRun(run); err != nil {
		log.Printf("❌ Failed to persist reconciliation run: %v", err)
	}
	e.store.Audit(models.AuditReconCompleted, "recon", "", ReconActor, models.JSONB{
		"created":        run.Created,
		"updated":        run.Updated,
		"orphansRemoved": run.OrphansRemoved,
		"errors":         run.Errors,
		"outcome":        run.Outcome,
		"durationMs":     run.Duration,
	})

	log.Printf("🔄 Reconciliation finished: %d created, %d updated, %d orphans removed, %d errors (%dms)",
		run.Created, run.Updated, run.OrphansRemoved, run.Errors, run.Duration)
	return runErr
}
