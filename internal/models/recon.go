package models

import (
	"time"
)

// Recon run outcomes
const (
	ReconOutcomeSuccess = "success"
	ReconOutcomeError   = "error"
)

// ReconRun records one execution of the reconciliation loop against the
// external booking system. The watermark of the most recent successful run
// is the changed-since cursor for the next one.
type ReconRun struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	StartedAt      time.Time  `gorm:"not null" json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt"`
	Watermark      time.Time  `gorm:"not null;index" json:"watermark"` // changed-since cursor for the next run
	Created        int        `gorm:"default:0" json:"created"`
	Updated        int        `gorm:"default:0" json:"updated"`
	OrphansRemoved int        `gorm:"default:0" json:"orphansRemoved"`
	Errors         int        `gorm:"default:0" json:"errors"`
	Duration       int        `gorm:"default:0" json:"duration"` // milliseconds
	Outcome        string     `gorm:"type:varchar(20);not null;index" json:"outcome"`
	ErrorDetail    string     `gorm:"type:text" json:"errorDetail"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// TableName specifies the table name
func (ReconRun) TableName() string {
	return "recon_runs"
}
