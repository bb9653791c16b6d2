package models

import (
	"time"

	"gorm.io/gorm"
)

// BookingStatus defines the lifecycle state of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"   // Received but not yet confirmed
	BookingStatusConfirmed BookingStatus = "CONFIRMED" // Guest is coming, credentials will be issued
	BookingStatusCancelled BookingStatus = "CANCELLED" // Stay cancelled, credentials invalidated
)

// Booking represents one guest stay at a rental unit.
// Created and updated by the lifecycle handler and the reconciliation
// loop; job processors only ever read it.
type Booking struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ExternalID string         `gorm:"type:varchar(255);not null;uniqueIndex" json:"externalId"`
	UnitID     string         `gorm:"type:varchar(36);not null;index" json:"unitId"`
	GuestName  string         `gorm:"type:varchar(255)" json:"guestName"`
	CheckIn    time.Time      `gorm:"not null" json:"checkIn"`
	CheckOut   time.Time      `gorm:"not null" json:"checkOut"`
	Status     BookingStatus  `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name
func (Booking) TableName() string {
	return "bookings"
}

// WindowEquals reports whether another booking covers the same stay window.
// Rescheduling is only needed when this returns false.
func (b *Booking) WindowEquals(other *Booking) bool {
	return b.CheckIn.Equal(other.CheckIn) && b.CheckOut.Equal(other.CheckOut)
}
