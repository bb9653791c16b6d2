package models

import (
	"time"
)

// Audit action tags written by the orchestrator. Append-only; the admin
// layer reads these for operator dashboards.
const (
	AuditPinGenerated       = "pin.generated"
	AuditPinGenerateFailed  = "pin.generate_failed"
	AuditPinRetriesExhaust  = "pin.retries_exhausted"
	AuditPinNotMapped       = "pin.lock_not_mapped"
	AuditPinRevoked         = "pin.revoked"
	AuditPinRevokeFailed    = "pin.revoke_failed"
	AuditBookingScheduled   = "booking.scheduled"
	AuditBookingRescheduled = "booking.rescheduled"
	AuditBookingCancelled   = "booking.cancelled"
	AuditReconCompleted     = "recon.completed"
)

// AuditEntry records every credential mutation and error classification.
// Never updated or deleted by the orchestrator; writes are best-effort so
// an audit failure cannot mask the error it documents.
type AuditEntry struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Action     string    `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityType string    `gorm:"type:varchar(50);not null;index:idx_audit_entity" json:"entityType"`
	EntityID   string    `gorm:"type:varchar(36);not null;index:idx_audit_entity" json:"entityId"`
	Actor      string    `gorm:"type:varchar(100);not null" json:"actor"` // "scheduler", "recon", "webhook", job IDs
	Details    JSONB     `gorm:"type:jsonb" json:"details"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// TableName specifies the table name
func (AuditEntry) TableName() string {
	return "audit_entries"
}
