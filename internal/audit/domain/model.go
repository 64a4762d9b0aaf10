package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Audit actions recorded by the receivables workflows.
const (
	ActionReceiptCreate      = "receipt.create"
	ActionReceiptApprove     = "receipt.approve"
	ActionAdvanceCreate      = "advance.create"
	ActionAdvanceApprove     = "advance.approve"
	ActionAdvanceVoid        = "advance.void"
	ActionAdvanceUnvoid      = "advance.unvoid"
	ActionAdvanceUpdate      = "advance.update"
	ActionInvoiceCreate      = "invoice.create"
	ActionInvoiceVoid        = "invoice.void"
	ActionInvoiceUnvoid      = "invoice.unvoid"
	ActionImportCommit       = "import.commit"
	ActionPeriodLockOverride = "period_lock.override"
	ActionPeriodLock         = "period_lock.lock"
	ActionPeriodUnlock       = "period_lock.unlock"
)

// ActorType represents who triggered an action.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// AuditLog captures an immutable record of a ledger mutation.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	ActorType  string            `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	Action     string            `gorm:"type:text;not null;index"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   *string           `gorm:"type:text;index"`
	Metadata   datatypes.JSONMap `gorm:"not null"`
	CreatedAt  time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }
