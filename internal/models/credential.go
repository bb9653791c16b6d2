package models

import (
	"time"

	"gorm.io/gorm"
)

// CredentialStatus defines the lifecycle state of an access credential
type CredentialStatus string

const (
	CredentialStatusActive  CredentialStatus = "ACTIVE"
	CredentialStatusRevoked CredentialStatus = "REVOKED"
)

// Credential is a temporary numeric access code issued on a lock for one
// booking. Natural key: (booking, lock) - at most one row per pair, the
// upsert in the generate processor overwrites it in place. Only the bcrypt
// hash of the code is persisted; the plaintext lives in the processor
// result for one-time delivery and is never queryable afterwards.
type Credential struct {
	ID        string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	BookingID string           `gorm:"type:varchar(36);not null;uniqueIndex:idx_booking_lock;index" json:"bookingId"`
	LockID    string           `gorm:"type:varchar(36);not null;uniqueIndex:idx_booking_lock" json:"lockId"`
	CodeHash  string           `gorm:"type:varchar(100);not null" json:"-"`
	Status    CredentialStatus `gorm:"type:varchar(20);not null;default:'ACTIVE';index" json:"status"`
	ValidFrom time.Time        `gorm:"not null" json:"validFrom"`
	ValidTo   time.Time        `gorm:"not null" json:"validTo"`
	VendorRef string           `gorm:"type:varchar(255)" json:"vendorRef"`
	RevokedAt *time.Time       `json:"revokedAt,omitempty"`
	RevokedBy string           `gorm:"type:varchar(100)" json:"revokedBy,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	DeletedAt gorm.DeletedAt   `gorm:"index" json:"-"`
}

// TableName specifies the table name
func (Credential) TableName() string {
	return "credentials"
}

// IsActive reports whether the credential has not been revoked
func (c *Credential) IsActive() bool {
	return c.Status == CredentialStatusActive
}
