package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/staykey-io/staykey/internal/models"
	"github.com/staykey-io/staykey/internal/queue"
	"github.com/staykey-io/staykey/internal/scheduler"
	"github.com/staykey-io/staykey/internal/store"
)

// RevokeActor is the actor tag written on credentials revoked by the job
const RevokeActor = "revoke-job"

// RevokeSummary reports the per-item outcome of a revocation pass
type RevokeSummary struct {
	Revoked   []string // credential IDs revoked this pass
	Failed    []string // credential IDs whose vendor call failed
	LastError error
}

// RevokeProcessor executes fired revoke-pin jobs: revoke every ACTIVE
// credential of the booking on the vendor side and mark them REVOKED
// locally. One failing credential never aborts the others.
type RevokeProcessor struct {
	store     Store
	mutex     Mutex
	providers Providers
	cfg       Config
}

// NewRevokeProcessor wires a revoke processor
func NewRevokeProcessor(st Store, mx Mutex, providers Providers, cfg Config) *RevokeProcessor {
	cfg.defaults()
	return &RevokeProcessor{
		store:     st,
		mutex:     mx,
		providers: providers,
		cfg:       cfg,
	}
}

// Process implements queue.Handler
func (p *RevokeProcessor) Process(ctx context.Context, job *models.QueueJob) queue.Result {
	bookingID, _ := job.Payload[scheduler.PayloadBookingID].(string)
	if bookingID == "" {
		return queue.Dead(fmt.Errorf("revoke job %s has incomplete payload", job.JobID))
	}

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

	_, result := p.Revoke(ctx, bookingID, job.JobID)
	return p.classify(job, bookingID, result)
}

// Revoke runs one revocation pass over the booking's ACTIVE credentials.
// It is exported because the cancellation path in the lifecycle handler
// reuses it outside the queue. Zero ACTIVE credentials is a successful
// no-op; the cancellation flow depends on that idempotence.
func (p *RevokeProcessor) Revoke(ctx context.Context, bookingID, actor string) (RevokeSummary, queue.Result) {
	var summary RevokeSummary

	if _, err := p.store.GetBooking(bookingID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.store.Audit(models.AuditPinRevokeFailed, "booking", bookingID, actor, models.JSONB{
				"reason": "Booking not found",
			})
			return summary, queue.Dead(fmt.Errorf("booking %s not found", bookingID))
		}
		return summary, queue.Retry(fmt.Errorf("fetch booking %s: %w", bookingID, err))
	}

	credentials, err := p.store.ActiveCredentialsForBooking(bookingID)
	if err != nil {
		return summary, queue.Retry(fmt.Errorf("list credentials for booking %s: %w", bookingID, err))
	}

	now := time.Now().UTC()
	for _, cred := range credentials {
		if err := p.revokeOne(ctx, &cred, now); err != nil {
			log.Printf("⚠️ Revoke failed for credential %s (booking %s): %v", cred.ID, bookingID, err)
			summary.Failed = append(summary.Failed, cred.ID)
			summary.LastError = err
			continue
		}
		summary.Revoked = append(summary.Revoked, cred.ID)
	}

	p.store.Audit(models.AuditPinRevoked, "booking", bookingID, actor, models.JSONB{
		"revoked":    len(summary.Revoked),
		"failed":     len(summary.Failed),
		"revokedIds": summary.Revoked,
		"failedIds":  summary.Failed,
	})

	if len(summary.Failed) > 0 {
		return summary, queue.Retry(fmt.Errorf("revoked %d of %d credentials for booking %s: %w",
			len(summary.Revoked), len(credentials), bookingID, summary.LastError))
	}
	return summary, queue.Success()
}

// revokeOne revokes a single credential with the vendor and marks it
// REVOKED locally on success.
func (p *RevokeProcessor) revokeOne(ctx context.Context, cred *models.Credential, now time.Time) error {
	lock, err := p.store.GetLock(cred.LockID)
	if err != nil {
		return fmt.Errorf("fetch lock %s: %w", cred.LockID, err)
	}

	provider, err := p.providers.Get(lock.Vendor)
	if err != nil {
		return err
	}

	// Prefer the vendor's own reference. When the token was never
	// recorded, pass the local credential ID instead; adapters treat a
	// non-vendor key as best-effort (see ProviderInterface.RevokePin).
	key := cred.VendorRef
	if key == "" {
		key = cred.ID
	}

	vendorCtx, cancel := context.WithTimeout(ctx, p.cfg.VendorTimeout)
	defer cancel()

	if err := provider.RevokePin(vendorCtx, lock.ExternalDeviceID, key); err != nil {
		return err
	}

	return p.store.MarkCredentialRevoked(cred.ID, RevokeActor, now)
}

// classify maps a partial or failed pass onto the retry policy, writing
// the exhausted-retries audit at the ceiling.
func (p *RevokeProcessor) classify(job *models.QueueJob, bookingID string, result queue.Result) queue.Result {
	if result.Status == queue.ResultRetry && job.Attempts >= job.MaxAttempts {
		p.store.Audit(models.AuditPinRetriesExhaust, "booking", bookingID, job.JobID, models.JSONB{
			"attempts": job.Attempts,
			"error":    result.Err.Error(),
		})
	}
	return result
}
