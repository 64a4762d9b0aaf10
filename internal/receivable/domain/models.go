package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hochk2019/congno/internal/allocation"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Re-exported allocation types so callers outside the engine deal with one
// vocabulary.
type (
	TargetType = allocation.TargetType
	TargetRef  = allocation.TargetRef
)

const (
	TargetInvoice = allocation.TargetInvoice
	TargetAdvance = allocation.TargetAdvance
)

// DocumentStatus is the lifecycle of a debt document. Invoices use PARTIAL
// as their open state because they have no explicit approval step; advances
// sit in APPROVED until fully paid.
type DocumentStatus string

const (
	DocumentDraft    DocumentStatus = "DRAFT"
	DocumentApproved DocumentStatus = "APPROVED"
	DocumentPartial  DocumentStatus = "PARTIAL"
	DocumentPaid     DocumentStatus = "PAID"
	DocumentVoid     DocumentStatus = "VOID"
)

// ReceiptStatus is the lifecycle of a receipt.
type ReceiptStatus string

const (
	ReceiptDraft    ReceiptStatus = "DRAFT"
	ReceiptApproved ReceiptStatus = "APPROVED"
	ReceiptVoid     ReceiptStatus = "VOID"
)

// AllocationStatus tracks both the pre-approval planning state of a receipt
// (SELECTED/SUGGESTED: a target list is attached but not executed) and the
// post-approval execution state (PARTIAL/ALLOCATED).
type AllocationStatus string

const (
	AllocationUnallocated AllocationStatus = "UNALLOCATED"
	AllocationSelected    AllocationStatus = "SELECTED"
	AllocationSuggested   AllocationStatus = "SUGGESTED"
	AllocationPartial     AllocationStatus = "PARTIAL"
	AllocationAllocated   AllocationStatus = "ALLOCATED"
)

// PaymentMethod is how the money arrived.
type PaymentMethod string

const (
	MethodBank  PaymentMethod = "BANK"
	MethodCash  PaymentMethod = "CASH"
	MethodOther PaymentMethod = "OTHER"
)

// AllocationPriority selects which document date drives automatic ordering.
type AllocationPriority string

const (
	PriorityIssueDate AllocationPriority = "ISSUE_DATE"
	PriorityDueDate   AllocationPriority = "DUE_DATE"
)

// Invoice is a debt document raised against a customer. Amount is immutable
// after creation; OutstandingAmount only decreases, except on unvoid.
type Invoice struct {
	ID                snowflake.ID    `gorm:"primaryKey"`
	SellerTaxCode     string          `gorm:"type:text;not null;index:idx_invoices_pair,priority:1"`
	CustomerTaxCode   string          `gorm:"type:text;not null;index:idx_invoices_pair,priority:2"`
	InvoiceSeries     string          `gorm:"type:text;not null;default:''"`
	InvoiceNo         string          `gorm:"type:text;not null"`
	IssueDate         time.Time       `gorm:"not null"`
	DueDate           *time.Time      `gorm:""`
	Description       string          `gorm:"type:text;not null;default:''"`
	Amount            decimal.Decimal `gorm:"type:numeric;not null"`
	OutstandingAmount decimal.Decimal `gorm:"type:numeric;not null"`
	Status            DocumentStatus  `gorm:"type:text;not null;index"`
	Version           int64           `gorm:"not null;default:0"`
	DeletedAt         *time.Time      `gorm:""`
	DeletedBy         *string         `gorm:"type:text"`
	CreatedAt         time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Advance is a cash-advance obligation. Structurally an invoice without a
// mandatory business document number.
type Advance struct {
	ID                snowflake.ID    `gorm:"primaryKey"`
	SellerTaxCode     string          `gorm:"type:text;not null;index:idx_advances_pair,priority:1"`
	CustomerTaxCode   string          `gorm:"type:text;not null;index:idx_advances_pair,priority:2"`
	DocumentNo        *string         `gorm:"type:text"`
	DocumentDate      time.Time       `gorm:"not null"`
	DueDate           *time.Time      `gorm:""`
	Description       string          `gorm:"type:text;not null;default:''"`
	Amount            decimal.Decimal `gorm:"type:numeric;not null"`
	OutstandingAmount decimal.Decimal `gorm:"type:numeric;not null"`
	Status            DocumentStatus  `gorm:"type:text;not null;index"`
	Version           int64           `gorm:"not null;default:0"`
	DeletedAt         *time.Time      `gorm:""`
	DeletedBy         *string         `gorm:"type:text"`
	CreatedAt         time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (Advance) TableName() string { return "advances" }

// Receipt records money received from a customer. UnallocatedAmount stays 0
// until approval, then holds whatever the allocation could not place.
type Receipt struct {
	ID                 snowflake.ID                        `gorm:"primaryKey"`
	SellerTaxCode      string                              `gorm:"type:text;not null;index:idx_receipts_pair,priority:1"`
	CustomerTaxCode    string                              `gorm:"type:text;not null;index:idx_receipts_pair,priority:2"`
	ReceiptDate        time.Time                           `gorm:"not null"`
	Amount             decimal.Decimal                     `gorm:"type:numeric;not null"`
	UnallocatedAmount  decimal.Decimal                     `gorm:"type:numeric;not null"`
	Method             PaymentMethod                       `gorm:"type:text;not null"`
	AllocationMode     allocation.Mode                     `gorm:"type:text;not null"`
	AllocationPriority AllocationPriority                  `gorm:"type:text;not null"`
	AppliedPeriodStart *time.Time                          `gorm:""`
	AllocationStatus   AllocationStatus                    `gorm:"type:text;not null"`
	AllocationTargets  datatypes.JSONSlice[TargetRef]      `gorm:"not null"`
	Status             ReceiptStatus                       `gorm:"type:text;not null;index"`
	Description        string                              `gorm:"type:text;not null;default:''"`
	Version            int64                               `gorm:"not null;default:0"`
	DeletedAt          *time.Time                          `gorm:""`
	DeletedBy          *string                             `gorm:"type:text"`
	CreatedAt          time.Time                           `gorm:"not null"`
	UpdatedAt          time.Time                           `gorm:"not null"`
}

// TableName sets the database table name.
func (Receipt) TableName() string { return "receipts" }

// ReceiptAllocation is an append-only fact tying part of a receipt to a debt
// document. Never updated or deleted once written.
type ReceiptAllocation struct {
	ID         snowflake.ID    `gorm:"primaryKey"`
	ReceiptID  snowflake.ID    `gorm:"not null;index"`
	TargetType TargetType      `gorm:"type:text;not null;index:idx_receipt_allocations_target,priority:1"`
	TargetID   snowflake.ID    `gorm:"not null;index:idx_receipt_allocations_target,priority:2"`
	Amount     decimal.Decimal `gorm:"type:numeric;not null"`
	CreatedAt  time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (ReceiptAllocation) TableName() string { return "receipt_allocations" }

// Customer holds the running balance for a (seller, customer) pair. The
// balance is a derived aggregate maintained inside the same transaction as
// the document mutation that moves it.
type Customer struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	SellerTaxCode  string          `gorm:"type:text;not null;uniqueIndex:ux_customers_pair,priority:1"`
	TaxCode        string          `gorm:"type:text;not null;uniqueIndex:ux_customers_pair,priority:2"`
	Name           string          `gorm:"type:text;not null"`
	OwnerUserID    *snowflake.ID   `gorm:"index"`
	CurrentBalance decimal.Decimal `gorm:"type:numeric;not null"`
	CreatedAt      time.Time       `gorm:"not null"`
	UpdatedAt      time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }
