package models

import (
	"time"

	"gorm.io/gorm"
)

// Unit represents a rentable unit (apartment, room, house)
type Unit struct {
	ID        string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string         `gorm:"type:varchar(255)" json:"name"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name
func (Unit) TableName() string {
	return "units"
}

// UnitLockMapping is the strict 1:1 relation between a unit and a lock.
// Maintained by the admin CRUD layer; the orchestrator only reads it to
// discover which locks belong to a booking's unit.
type UnitLockMapping struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UnitID    string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"unitId"`
	LockID    string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"lockId"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName specifies the table name
func (UnitLockMapping) TableName() string {
	return "unit_lock_mappings"
}
