package models

import (
	"time"

	"gorm.io/gorm"
)

// Lock represents a physical smart-lock device.
// Immutable after creation except for display metadata.
type Lock struct {
	ID               string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name             string         `gorm:"type:varchar(255)" json:"name"`
	Vendor           string         `gorm:"type:varchar(50);not null;index" json:"vendor"` // provider registry code, e.g. "memory", "nuki"
	ExternalDeviceID string         `gorm:"type:varchar(255);not null" json:"externalDeviceId"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name
func (Lock) TableName() string {
	return "locks"
}
