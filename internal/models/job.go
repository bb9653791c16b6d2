package models

import (
	"fmt"
	"time"
)

// JobKind identifies the two kinds of scheduled work
type JobKind string

const (
	JobKindGenerate JobKind = "GENERATE"
	JobKindRevoke   JobKind = "REVOKE"
)

// Job statuses
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed" // retries exhausted
	JobStatusDead      = "dead"   // terminal classification, no retry will help
)

// QueueJob is one entry in the durable job queue. The JobID is
// deterministic per (booking, kind) so that re-scheduling atomically
// replaces any prior pending job instead of duplicating it.
type QueueJob struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID       string     `gorm:"type:varchar(100);not null;uniqueIndex" json:"jobId"`
	Kind        JobKind    `gorm:"type:varchar(20);not null;index" json:"kind"`
	Payload     JSONB      `gorm:"type:jsonb" json:"payload"`
	RunAt       time.Time  `gorm:"not null;index:idx_due" json:"runAt"`
	Attempts    int        `gorm:"default:0" json:"attempts"`
	MaxAttempts int        `gorm:"default:3" json:"maxAttempts"`
	Status      string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_due" json:"status"`
	LastError   string     `gorm:"type:text" json:"lastError"`
	StartedAt   *time.Time `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TableName specifies the table name
func (QueueJob) TableName() string {
	return "queue_jobs"
}

// GenerateJobID returns the deterministic queue identifier for the
// generate-pin job of a booking.
func GenerateJobID(bookingID string) string {
	return fmt.Sprintf("gen-pin-%s", bookingID)
}

// RevokeJobID returns the deterministic queue identifier for the
// revoke-pin job of a booking.
func RevokeJobID(bookingID string) string {
	return fmt.Sprintf("revoke-pin-%s", bookingID)
}

// JobIDFor maps a job kind to its deterministic identifier
func JobIDFor(bookingID string, kind JobKind) string {
	if kind == JobKindRevoke {
		return RevokeJobID(bookingID)
	}
	return GenerateJobID(bookingID)
}
