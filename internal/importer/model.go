package importer

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hochk2019/congno/internal/receivable/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BatchStatus is the import batch lifecycle. Batches arrive STAGING with
// validated rows attached; commit is the only transition.
type BatchStatus string

const (
	BatchStaging   BatchStatus = "STAGING"
	BatchCommitted BatchStatus = "COMMITTED"
)

// BatchKind says what document type the rows become.
type BatchKind string

const (
	KindInvoice BatchKind = "INVOICE"
	KindAdvance BatchKind = "ADVANCE"
	KindReceipt BatchKind = "RECEIPT"
)

// CommitSummary is persisted on the batch so repeated commits are idempotent.
type CommitSummary struct {
	EligibleRows     int `json:"eligible_rows"`
	CommittedRows    int `json:"committed_rows"`
	SkippedRows      int `json:"skipped_rows"`
	InsertedInvoices int `json:"inserted_invoices"`
	InsertedAdvances int `json:"inserted_advances"`
	InsertedReceipts int `json:"inserted_receipts"`
}

// ImportBatch groups validated staging rows for one seller.
type ImportBatch struct {
	ID            snowflake.ID                       `gorm:"primaryKey"`
	SellerTaxCode string                             `gorm:"type:text;not null;index"`
	Kind          BatchKind                          `gorm:"type:text;not null"`
	Status        BatchStatus                        `gorm:"type:text;not null;index"`
	Summary       datatypes.JSONType[*CommitSummary] `gorm:""`
	CreatedAt     time.Time                          `gorm:"not null"`
	UpdatedAt     time.Time                          `gorm:"not null"`
}

// TableName sets the database table name.
func (ImportBatch) TableName() string { return "import_batches" }

// ImportRow is one pre-validated staging row. The file parser upstream has
// already rejected malformed rows; Skip marks rows the user excluded.
type ImportRow struct {
	ID              snowflake.ID         `gorm:"primaryKey"`
	BatchID         snowflake.ID         `gorm:"not null;index"`
	RowIndex        int                  `gorm:"not null"`
	Skip            bool                 `gorm:"not null;default:false"`
	SkipReason      string               `gorm:"type:text;not null;default:''"`
	CustomerTaxCode string               `gorm:"type:text;not null"`
	CustomerName    string               `gorm:"type:text;not null;default:''"`
	InvoiceSeries   string               `gorm:"type:text;not null;default:''"`
	InvoiceNo       string               `gorm:"type:text;not null;default:''"`
	DocumentNo      *string              `gorm:"type:text"`
	DocumentDate    time.Time            `gorm:"not null"`
	DueDate         *time.Time           `gorm:""`
	Amount          decimal.Decimal      `gorm:"type:numeric;not null"`
	Method          domain.PaymentMethod `gorm:"type:text;not null;default:'BANK'"`
	Description     string               `gorm:"type:text;not null;default:''"`
	CreatedAt       time.Time            `gorm:"not null"`
}

// TableName sets the database table name.
func (ImportRow) TableName() string { return "import_rows" }
