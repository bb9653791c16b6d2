package models

import (
	"time"
)

// BookingMutex is a short-lived exclusive claim on a booking identifier,
// used to serialize generate/revoke execution for the same booking across
// worker processes. Rows expire at ExpiresAt so a crashed holder cannot
// deadlock the booking permanently.
type BookingMutex struct {
	Key       string    `gorm:"primaryKey;type:varchar(100)" json:"key"` // booking ID
	Token     string    `gorm:"type:varchar(36);not null" json:"token"`  // holder's release token
	ExpiresAt time.Time `gorm:"not null;index" json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName specifies the table name
func (BookingMutex) TableName() string {
	return "booking_mutexes"
}
