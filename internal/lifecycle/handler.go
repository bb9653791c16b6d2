package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/staykey-io/staykey/internal/jobs"
	"github.com/staykey-io/staykey/internal/models"
	"github.com/staykey-io/staykey/internal/queue"
	"github.com/staykey-io/staykey/internal/scheduler"
	"github.com/staykey-io/staykey/internal/store"
)

// EventType classifies incoming booking lifecycle events
type EventType string

const (
	EventCreated   EventType = "created"
	EventUpdated   EventType = "updated"
	EventCancelled EventType = "cancelled"
)

// Event is one booking lifecycle notification, as delivered by the
// webhook endpoint or the AMQP consumer.
type Event struct {
	Type       EventType            `json:"type"`
	ExternalID string               `json:"externalId"`
	UnitID     string               `json:"unitId"`
	GuestName  string               `json:"guestName"`
	CheckIn    time.Time            `json:"checkIn"`
	CheckOut   time.Time            `json:"checkOut"`
	Status     models.BookingStatus `json:"status"`
}

// ErrRejected marks events that can never be applied, no matter how
// often they are retried: malformed shapes and references to bookings
// this service has never seen. Consumers use it to drop instead of
// redeliver.
var ErrRejected = errors.New("event rejected")

// Validate rejects events that cannot be processed
func (e *Event) Validate() error {
	if e.ExternalID == "" {
		return fmt.Errorf("%w: missing the external booking ID", ErrRejected)
	}
	switch e.Type {
	case EventCreated, EventUpdated:
		if e.UnitID == "" {
			return fmt.Errorf("%w: missing the unit ID", ErrRejected)
		}
		if e.CheckIn.IsZero() || e.CheckOut.IsZero() {
			return fmt.Errorf("%w: missing check-in/check-out timestamps", ErrRejected)
		}
		if !e.CheckOut.After(e.CheckIn) {
			return fmt.Errorf("%w: check-out must be after check-in", ErrRejected)
		}
	case EventCancelled:
		// Cancellation only needs the booking reference
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrRejected, e.Type)
	}
	return nil
}

// Store is the slice of the booking store the handler needs
type Store interface {
	GetBookingByExternalID(externalID string) (*models.Booking, error)
	SaveBooking(b *models.Booking) error
	UpdateBookingStatus(id string, status models.BookingStatus) error
	EnsureUnit(id string) error
	LocksForUnit(unitID string) ([]models.Lock, error)
	ActiveCredentialsForBooking(bookingID string) ([]models.Credential, error)
	RevokeAllForBooking(bookingID, actor string, at time.Time) (int64, error)
	Audit(action, entityType, entityID, actor string, details models.JSONB)
}

// Scheduler is the slice of the scheduling utility the handler drives
type Scheduler interface {
	ScheduleGenerate(bookingID, lockID string, checkIn, checkOut time.Time) error
	ScheduleRevoke(bookingID, lockID string, checkOut time.Time) error
	Cancel(bookingID string) (scheduler.CancelResult, error)
}

// Revoker performs the vendor-side revocation pass on cancellation
type Revoker interface {
	Revoke(ctx context.Context, bookingID, actor string) (jobs.RevokeSummary, queue.Result)
}

// Handler consumes booking lifecycle events, maintains the local booking
// record and drives the scheduling utility accordingly.
type Handler struct {
	store     Store
	scheduler Scheduler
	revoker   Revoker
}

// NewHandler wires a lifecycle handler. revoker may be nil (local-only
// invalidation on cancel).
func NewHandler(st Store, sched Scheduler, revoker Revoker) *Handler {
	return &Handler{store: st, scheduler: sched, revoker: revoker}
}

// Handle dispatches one event by type
func (h *Handler) Handle(ctx context.Context, ev *Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	switch ev.Type {
	case EventCreated:
		return h.handleCreated(ctx, ev, "webhook")
	case EventUpdated:
		return h.handleUpdated(ctx, ev, "webhook")
	case EventCancelled:
		return h.handleCancelled(ctx, ev, "webhook")
	}
	return nil
}

// handleCreated upserts the local booking and schedules generate/revoke
// jobs for every lock mapped to its unit.
func (h *Handler) handleCreated(ctx context.Context, ev *Event, actor string) error {
	booking, err := h.upsertBooking(ev)
	if err != nil {
		return err
	}
	return h.scheduleForMappedLocks(booking, actor)
}

// Created, Updated and Cancelled are the entry points used by the
// reconciliation loop; they share the event paths with a different
// actor tag.
func (h *Handler) Created(ctx context.Context, ev *Event, actor string) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return h.handleCreated(ctx, ev, actor)
}

func (h *Handler) Updated(ctx context.Context, ev *Event, actor string) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return h.handleUpdated(ctx, ev, actor)
}

func (h *Handler) Cancelled(ctx context.Context, ev *Event, actor string) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return h.handleCancelled(ctx, ev, actor)
}

func (h *Handler) upsertBooking(ev *Event) (*models.Booking, error) {
	if err := h.store.EnsureUnit(ev.UnitID); err != nil {
		return nil, fmt.Errorf("ensure unit %s: %w", ev.UnitID, err)
	}

	status := ev.Status
	if status == "" {
		status = models.BookingStatusConfirmed
	}

	booking := &models.Booking{
		ID:         uuid.NewString(),
		ExternalID: ev.ExternalID,
		UnitID:     ev.UnitID,
		GuestName:  ev.GuestName,
		CheckIn:    ev.CheckIn.UTC(),
		CheckOut:   ev.CheckOut.UTC(),
		Status:     status,
	}
	if existing, err := h.store.GetBookingByExternalID(ev.ExternalID); err == nil {
		booking.ID = existing.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup booking %s: %w", ev.ExternalID, err)
	}

	if err := h.store.SaveBooking(booking); err != nil {
		return nil, fmt.Errorf("save booking %s: %w", ev.ExternalID, err)
	}
	return booking, nil
}

func (h *Handler) scheduleForMappedLocks(booking *models.Booking, actor string) error {
	locks, err := h.store.LocksForUnit(booking.UnitID)
	if err != nil {
		return fmt.Errorf("list locks for unit %s: %w", booking.UnitID, err)
	}

	scheduled := 0
	for _, lock := range locks {
		if err := h.scheduler.ScheduleGenerate(booking.ID, lock.ID, booking.CheckIn, booking.CheckOut); err != nil {
			log.Printf("⚠️ Schedule generate failed for booking %s lock %s: %v", booking.ID, lock.ID, err)
			continue
		}
		if err := h.scheduler.ScheduleRevoke(booking.ID, lock.ID, booking.CheckOut); err != nil {
			log.Printf("⚠️ Schedule revoke failed for booking %s lock %s: %v", booking.ID, lock.ID, err)
			continue
		}
		scheduled++
	}

	h.store.Audit(models.AuditBookingScheduled, "booking", booking.ID, actor, models.JSONB{
		"locks":    scheduled,
		"checkIn":  booking.CheckIn.Format(time.RFC3339),
		"checkOut": booking.CheckOut.Format(time.RFC3339),
	})
	return nil
}

// handleUpdated reschedules only when the stay window actually moved.
// Rescheduling targets the locks backing existing ACTIVE credentials:
// those reflect which locks are actually in play for this booking.
func (h *Handler) handleUpdated(ctx context.Context, ev *Event, actor string) error {
	existing, err := h.store.GetBookingByExternalID(ev.ExternalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Update for a booking we never saw: treat as created
			return h.handleCreated(ctx, ev, actor)
		}
		return fmt.Errorf("lookup booking %s: %w", ev.ExternalID, err)
	}

	// Same stay window: no scheduling to redo, but guest and status
	// edits still have to land locally.
	incoming := &models.Booking{CheckIn: ev.CheckIn.UTC(), CheckOut: ev.CheckOut.UTC()}
	if existing.WindowEquals(incoming) {
		changed := false
		if ev.GuestName != "" && ev.GuestName != existing.GuestName {
			existing.GuestName = ev.GuestName
			changed = true
		}
		if ev.Status != "" && ev.Status != existing.Status {
			existing.Status = ev.Status
			changed = true
		}
		if changed {
			return h.store.SaveBooking(existing)
		}
		return nil
	}

	if _, err := h.scheduler.Cancel(existing.ID); err != nil {
		log.Printf("⚠️ Cancel jobs failed for booking %s: %v", existing.ID, err)
	}

	creds, err := h.store.ActiveCredentialsForBooking(existing.ID)
	if err != nil {
		return fmt.Errorf("list credentials for booking %s: %w", existing.ID, err)
	}
	rescheduled := 0
	for _, cred := range creds {
		if err := h.scheduler.ScheduleGenerate(existing.ID, cred.LockID, incoming.CheckIn, incoming.CheckOut); err != nil {
			log.Printf("⚠️ Reschedule generate failed for booking %s lock %s: %v", existing.ID, cred.LockID, err)
			continue
		}
		if err := h.scheduler.ScheduleRevoke(existing.ID, cred.LockID, incoming.CheckOut); err != nil {
			log.Printf("⚠️ Reschedule revoke failed for booking %s lock %s: %v", existing.ID, cred.LockID, err)
			continue
		}
		rescheduled++
	}

	existing.CheckIn = incoming.CheckIn
	existing.CheckOut = incoming.CheckOut
	if ev.Status != "" {
		existing.Status = ev.Status
	}
	if ev.GuestName != "" {
		existing.GuestName = ev.GuestName
	}
	if err := h.store.SaveBooking(existing); err != nil {
		return fmt.Errorf("save booking %s: %w", existing.ID, err)
	}

	h.store.Audit(models.AuditBookingRescheduled, "booking", existing.ID, actor, models.JSONB{
		"credentials": rescheduled,
		"checkIn":     existing.CheckIn.Format(time.RFC3339),
		"checkOut":    existing.CheckOut.Format(time.RFC3339),
	})
	return nil
}

// handleCancelled cancels pending jobs best-effort, invalidates all
// ACTIVE credentials locally (safety first), attempts the vendor-side
// revocation as well, and marks the booking CANCELLED.
func (h *Handler) handleCancelled(ctx context.Context, ev *Event, actor string) error {
	existing, err := h.store.GetBookingByExternalID(ev.ExternalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: cancel for unknown booking %s", ErrRejected, ev.ExternalID)
		}
		return fmt.Errorf("lookup booking %s: %w", ev.ExternalID, err)
	}

	if _, err := h.scheduler.Cancel(existing.ID); err != nil {
		log.Printf("⚠️ Cancel jobs failed for booking %s: %v", existing.ID, err)
	}

	// Local invalidation is unconditional; the guest must lose access
	// even if the vendor is unreachable right now.
	invalidated, err := h.store.RevokeAllForBooking(existing.ID, actor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("invalidate credentials for booking %s: %w", existing.ID, err)
	}

	if h.revoker != nil {
		if _, result := h.revoker.Revoke(ctx, existing.ID, actor); result.Err != nil {
			log.Printf("⚠️ Vendor revocation incomplete for booking %s: %v", existing.ID, result.Err)
		}
	}

	if err := h.store.UpdateBookingStatus(existing.ID, models.BookingStatusCancelled); err != nil {
		return fmt.Errorf("mark booking %s cancelled: %w", existing.ID, err)
	}

	h.store.Audit(models.AuditBookingCancelled, "booking", existing.ID, actor, models.JSONB{
		"credentialsInvalidated": invalidated,
	})
	return nil
}
