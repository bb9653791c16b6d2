package store

import (
	"errors"
	"log"
	"time"

	"github.com/staykey-io/staykey/internal/database"
	"github.com/staykey-io/staykey/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned for primary- and natural-key lookups that match
// no row.
var ErrNotFound = errors.New("record not found")

// Store is the GORM-backed booking store. All orchestrator components
// access persistent state through it; each consumer declares the narrow
// interface it needs and Store satisfies all of them.
type Store struct {
	db *database.DB
}

// New creates a store on top of an established database connection
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// --- Bookings ---

// GetBooking fetches a booking by primary key
func (s *Store) GetBooking(id string) (*models.Booking, error) {
	var b models.Booking
	if err := s.db.First(&b, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// GetBookingByExternalID fetches a booking by the external system's identifier
func (s *Store) GetBookingByExternalID(externalID string) (*models.Booking, error) {
	var b models.Booking
	if err := s.db.First(&b, "external_id = ?", externalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// SaveBooking upserts a booking keyed by its external identifier
func (s *Store) SaveBooking(b *models.Booking) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		UpdateAll: true,
	}).Create(b).Error
}

// UpdateBookingStatus sets only the status field
func (s *Store) UpdateBookingStatus(id string, status models.BookingStatus) error {
	return s.db.Model(&models.Booking{}).Where("id = ?", id).
		Update("status", status).Error
}

// BookingExists reports whether a booking row exists
func (s *Store) BookingExists(id string) (bool, error) {
	var count int64
	if err := s.db.Model(&models.Booking{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- Units and locks ---

// EnsureUnit creates the unit row if it has not been seen yet
func (s *Store) EnsureUnit(id string) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Unit{ID: id}).Error
}

// GetLock fetches a lock by primary key
func (s *Store) GetLock(id string) (*models.Lock, error) {
	var l models.Lock
	if err := s.db.First(&l, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// LocksForUnit returns the locks mapped to a unit. The mapping is 1:1 by
// schema but callers iterate, which also tolerates future relaxation.
func (s *Store) LocksForUnit(unitID string) ([]models.Lock, error) {
	var locks []models.Lock
	err := s.db.
		Joins("JOIN unit_lock_mappings ON unit_lock_mappings.lock_id = locks.id").
		Where("unit_lock_mappings.unit_id = ?", unitID).
		Find(&locks).Error
	return locks, err
}

// IsLockMappedToUnit reports whether the lock backs the given unit
func (s *Store) IsLockMappedToUnit(unitID, lockID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.UnitLockMapping{}).
		Where("unit_id = ? AND lock_id = ?", unitID, lockID).
		Count(&count).Error
	return count > 0, err
}

// --- Credentials ---

// GetCredential fetches the credential for a (booking, lock) pair
func (s *Store) GetCredential(bookingID, lockID string) (*models.Credential, error) {
	var c models.Credential
	err := s.db.First(&c, "booking_id = ? AND lock_id = ?", bookingID, lockID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpsertCredential writes the credential keyed by (booking, lock),
// overwriting code hash, validity window, vendor ref and clearing any
// prior revocation. Re-issuing over a REVOKED row reactivates it.
func (s *Store) UpsertCredential(c *models.Credential) error {
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "booking_id"}, {Name: "lock_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"code_hash", "status", "valid_from", "valid_to",
			"vendor_ref", "revoked_at", "revoked_by", "updated_at",
		}),
	}).Create(c).Error
}

// ActiveCredentialsForBooking returns every ACTIVE credential of a booking
func (s *Store) ActiveCredentialsForBooking(bookingID string) ([]models.Credential, error) {
	var creds []models.Credential
	err := s.db.Where("booking_id = ? AND status = ?", bookingID, models.CredentialStatusActive).
		Find(&creds).Error
	return creds, err
}

// MarkCredentialRevoked transitions a single credential to REVOKED
func (s *Store) MarkCredentialRevoked(id, actor string, at time.Time) error {
	return s.db.Model(&models.Credential{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.CredentialStatusRevoked,
			"revoked_at": at,
			"revoked_by": actor,
		}).Error
}

// RevokeAllForBooking bulk-invalidates every ACTIVE credential of a
// booking locally. This is the cancellation safety path; it does not talk
// to the vendor.
func (s *Store) RevokeAllForBooking(bookingID, actor string, at time.Time) (int64, error) {
	res := s.db.Model(&models.Credential{}).
		Where("booking_id = ? AND status = ?", bookingID, models.CredentialStatusActive).
		Updates(map[string]interface{}{
			"status":     models.CredentialStatusRevoked,
			"revoked_at": at,
			"revoked_by": actor,
		})
	return res.RowsAffected, res.Error
}

// ListCredentialsForBooking returns all credentials of a booking (any status)
func (s *Store) ListCredentialsForBooking(bookingID string) ([]models.Credential, error) {
	var creds []models.Credential
	err := s.db.Where("booking_id = ?", bookingID).Find(&creds).Error
	return creds, err
}

// --- Audit ---

// Audit appends an audit entry. Best-effort: a failed write is logged and
// swallowed so it never masks the error it documents.
func (s *Store) Audit(action, entityType, entityID, actor string, details models.JSONB) {
	entry := models.AuditEntry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		Details:    details,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		log.Printf("⚠️ Audit write failed (%s %s/%s): %v", action, entityType, entityID, err)
	}
}

// ListAuditEntries returns recent audit entries, newest first
func (s *Store) ListAuditEntries(entityID string, limit int) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	q := s.db.Order("created_at DESC").Limit(limit)
	if entityID != "" {
		q = q.Where("entity_id = ?", entityID)
	}
	err := q.Find(&entries).Error
	return entries, err
}

// --- Reconciliation runs ---

// LastSuccessfulRecon returns the most recent successful run, or
// ErrNotFound if reconciliation has never succeeded.
func (s *Store) LastSuccessfulRecon() (*models.ReconRun, error) {
	var run models.ReconRun
	err := s.db.Where("outcome = ?", models.ReconOutcomeSuccess).
		Order("started_at DESC").First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

// SaveReconRun persists a reconciliation run record
func (s *Store) SaveReconRun(run *models.ReconRun) error {
	return s.db.Create(run).Error
}
