package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/staykey-io/staykey/internal/lockprovider"
	"github.com/staykey-io/staykey/internal/models"
	"github.com/staykey-io/staykey/internal/pin"
	"github.com/staykey-io/staykey/internal/queue"
	"github.com/staykey-io/staykey/internal/scheduler"
	"github.com/staykey-io/staykey/internal/store"
)

// GenerateProcessor executes fired generate-pin jobs: validate
// preconditions in order, install the code on the vendor side, upsert the
// credential and audit the outcome.
type GenerateProcessor struct {
	store     Store
	mutex     Mutex
	providers Providers
	deliverer Deliverer
	cfg       Config
}

// NewGenerateProcessor wires a generate processor. deliverer may be nil.
func NewGenerateProcessor(st Store, mx Mutex, providers Providers, deliverer Deliverer, cfg Config) *GenerateProcessor {
	cfg.defaults()
	return &GenerateProcessor{
		store:     st,
		mutex:     mx,
		providers: providers,
		deliverer: deliverer,
		cfg:       cfg,
	}
}

// Process implements queue.Handler
func (p *GenerateProcessor) Process(ctx context.Context, job *models.QueueJob) queue.Result {
	bookingID, _ := job.Payload[scheduler.PayloadBookingID].(string)
	lockID, _ := job.Payload[scheduler.PayloadLockID].(string)
	checkOutRaw, _ := job.Payload[scheduler.PayloadCheckOut].(string)

	// Precondition 1: payload shape. Broken payloads cannot be fixed by
	// retrying.
	if bookingID == "" || lockID == "" {
		return queue.Dead(fmt.Errorf("generate job %s has incomplete payload", job.JobID))
	}
	checkOut, err := time.Parse(time.RFC3339, checkOutRaw)
	if err != nil {
		p.store.Audit(models.AuditPinGenerateFailed, "booking", bookingID, job.JobID, models.JSONB{
			"reason": "unparseable check-out timestamp",
			"value":  checkOutRaw,
		})
		return queue.Dead(fmt.Errorf("generate job %s: bad check-out %q: %w", job.JobID, checkOutRaw, err))
	}

	// Serialize against concurrent generate/revoke for the same booking
	token, err := p.mutex.TryAcquire(bookingID, p.cfg.MutexTTL)
	if err != nil {
		return queue.Retry(fmt.Errorf("mutex acquire for booking %s: %w", bookingID, err))
	}
	if token == "" {
		return queue.Retry(fmt.Errorf("booking %s is locked by another worker", bookingID))
	}
	defer func() {
		if err := p.mutex.Release(bookingID, token); err != nil {
			log.Printf("⚠️ Mutex release failed for booking %s: %v", bookingID, err)
		}
	}()

	issued, result := p.generate(ctx, job, bookingID, lockID, checkOut)
	if issued != nil && p.deliverer != nil {
		p.deliverer.DeliverPin(*issued)
	}
	return result
}

// generate runs the precondition chain and the vendor call under the
// booking mutex. It returns the issued pin (plaintext included) for
// one-time delivery alongside the queue classification.
func (p *GenerateProcessor) generate(ctx context.Context, job *models.QueueJob, bookingID, lockID string, checkOut time.Time) (*IssuedPin, queue.Result) {
	// Precondition 2: booking exists
	booking, err := p.store.GetBooking(bookingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.store.Audit(models.AuditPinGenerateFailed, "booking", bookingID, job.JobID, models.JSONB{
				"reason": "Booking not found",
			})
			return nil, queue.Dead(fmt.Errorf("booking %s not found", bookingID))
		}
		return nil, queue.Retry(fmt.Errorf("fetch booking %s: %w", bookingID, err))
	}

	// Precondition 3: lock exists
	lock, err := p.store.GetLock(lockID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.store.Audit(models.AuditPinGenerateFailed, "lock", lockID, job.JobID, models.JSONB{
				"reason":    "Lock not found",
				"bookingId": bookingID,
			})
			return nil, queue.Dead(fmt.Errorf("lock %s not found", lockID))
		}
		return nil, queue.Retry(fmt.Errorf("fetch lock %s: %w", lockID, err))
	}

	// Precondition 4: lock is mapped to the booking's unit. A missing
	// mapping is an operator configuration problem; retries cannot fix
	// it, so it dead-letters on the first attempt.
	mapped, err := p.store.IsLockMappedToUnit(booking.UnitID, lockID)
	if err != nil {
		return nil, queue.Retry(fmt.Errorf("mapping lookup unit=%s lock=%s: %w", booking.UnitID, lockID, err))
	}
	if !mapped {
		p.store.Audit(models.AuditPinNotMapped, "booking", bookingID, job.JobID, models.JSONB{
			"lockId": lockID,
			"unitId": booking.UnitID,
		})
		return nil, queue.Dead(fmt.Errorf("lock %s is not mapped to unit %s", lockID, booking.UnitID))
	}

	code, err := pin.Generate()
	if err != nil {
		return nil, queue.Retry(fmt.Errorf("code generation: %w", err))
	}
	codeHash, err := pin.Hash(code)
	if err != nil {
		return nil, queue.Retry(fmt.Errorf("code hashing: %w", err))
	}

	provider, err := p.providers.Get(lock.Vendor)
	if err != nil {
		// Unknown vendor tag is configuration, not weather
		p.store.Audit(models.AuditPinGenerateFailed, "lock", lockID, job.JobID, models.JSONB{
			"reason": "unknown vendor",
			"vendor": lock.Vendor,
		})
		return nil, queue.Dead(err)
	}

	now := time.Now().UTC()
	vendorCtx, cancel := context.WithTimeout(ctx, p.cfg.VendorTimeout)
	defer cancel()

	resp, err := provider.CreateTimedPin(vendorCtx, &lockprovider.PinRequest{
		LockID:    lock.ExternalDeviceID,
		Code:      code,
		ValidFrom: now,
		ValidTo:   checkOut,
	})
	if err != nil {
		return nil, p.vendorFailure(job, bookingID, lockID, err)
	}

	credential := models.Credential{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		LockID:    lockID,
		CodeHash:  codeHash,
		Status:    models.CredentialStatusActive,
		ValidFrom: now,
		ValidTo:   checkOut,
		VendorRef: resp.VendorRef,
		RevokedAt: nil,
		RevokedBy: "",
	}
	if err := p.store.UpsertCredential(&credential); err != nil {
		return nil, p.vendorFailure(job, bookingID, lockID, fmt.Errorf("credential upsert: %w", err))
	}

	p.store.Audit(models.AuditPinGenerated, "booking", bookingID, job.JobID, models.JSONB{
		"lockId":    lockID,
		"validFrom": now.Format(time.RFC3339),
		"validTo":   checkOut.Format(time.RFC3339),
		"vendorRef": resp.VendorRef,
	})
	log.Printf("🔑 Issued code for booking %s on lock %s (valid until %s)",
		bookingID, lockID, checkOut.Format(time.RFC3339))

	return &IssuedPin{
		CredentialID: credential.ID,
		BookingID:    bookingID,
		LockID:       lockID,
		Code:         code,
		ValidFrom:    now,
		ValidTo:      checkOut,
	}, queue.Success()
}

// vendorFailure classifies a transient failure: retriable until the
// attempt ceiling, after which it records the exhausted-retries audit and
// lets the queue park the job as permanently failed.
func (p *GenerateProcessor) vendorFailure(job *models.QueueJob, bookingID, lockID string, err error) queue.Result {
	if job.Attempts >= job.MaxAttempts {
		p.store.Audit(models.AuditPinRetriesExhaust, "booking", bookingID, job.JobID, models.JSONB{
			"lockId":   lockID,
			"attempts": job.Attempts,
			"error":    err.Error(),
		})
	} else {
		p.store.Audit(models.AuditPinGenerateFailed, "booking", bookingID, job.JobID, models.JSONB{
			"lockId":  lockID,
			"attempt": job.Attempts,
			"error":   err.Error(),
		})
	}
	return queue.Retry(err)
}
