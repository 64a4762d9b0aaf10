package importer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/hochk2019/congno/internal/audit/domain"
	auditservice "github.com/hochk2019/congno/internal/audit/service"
	"github.com/hochk2019/congno/internal/clock"
	"github.com/hochk2019/congno/internal/identity"
	"github.com/hochk2019/congno/internal/observability/metrics"
	"github.com/hochk2019/congno/internal/periodlock"
	"github.com/hochk2019/congno/internal/receivable/domain"
	ledger "github.com/hochk2019/congno/internal/receivable/service"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Progress step names, in commit order. Each is reported exactly once per
// commit with a monotonically increasing percentage.
const (
	StepValidation = "validation"
	StepDedupe     = "dedupe"
	StepApplyRows  = "apply-rows"
	StepFinalize   = "finalize"
)

// ProgressFunc receives commit progress for long-running UI feedback. It is
// advisory only; a nil func is valid.
type ProgressFunc func(step string, percent int)

// progressReporter enforces the once-per-step, monotonic-percent contract.
type progressReporter struct {
	fn   ProgressFunc
	seen map[string]bool
	last int
}

func newProgressReporter(fn ProgressFunc) *progressReporter {
	return &progressReporter{fn: fn, seen: make(map[string]bool)}
}

func (p *progressReporter) emit(step string, percent int) {
	if p.seen[step] {
		return
	}
	p.seen[step] = true
	if percent < p.last {
		percent = p.last
	}
	p.last = percent
	if p.fn != nil {
		p.fn(step, percent)
	}
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Guard    *periodlock.Guard
	AuditSvc auditservice.Service
	Ledger   *ledger.Service
}

// Service commits validated staging batches into the ledger. Parsing and
// row validation happen upstream; this service only consumes clean rows.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	guard    *periodlock.Guard
	auditSvc auditservice.Service
	ledger   *ledger.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("importer.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		guard:    p.Guard,
		auditSvc: p.AuditSvc,
		ledger:   p.Ledger,
	}
}

// StagedRow is the caller-supplied shape of one validated row.
type StagedRow struct {
	CustomerTaxCode string
	CustomerName    string
	InvoiceSeries   string
	InvoiceNo       string
	DocumentNo      *string
	DocumentDate    time.Time
	DueDate         *time.Time
	Amount          decimal.Decimal
	Method          domain.PaymentMethod
	Description     string
	Skip            bool
}

// StageBatch persists a batch and its rows in STAGING.
func (s *Service) StageBatch(ctx context.Context, sellerTaxCode string, kind BatchKind, rows []StagedRow) (*ImportBatch, error) {
	if _, ok := identity.ActorFromContext(ctx); !ok {
		return nil, domain.Unauthorizedf("no actor on request")
	}
	switch kind {
	case KindInvoice, KindAdvance, KindReceipt:
	default:
		return nil, domain.Validationf("unknown batch kind %q", kind)
	}
	if len(rows) == 0 {
		return nil, domain.Validationf("batch has no rows")
	}

	now := s.clock.Now()
	batch := &ImportBatch{
		ID:            s.genID.Generate(),
		SellerTaxCode: sellerTaxCode,
		Kind:          kind,
		Status:        BatchStaging,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		for i, r := range rows {
			method := r.Method
			if method == "" {
				method = domain.MethodBank
			}
			row := ImportRow{
				ID:              s.genID.Generate(),
				BatchID:         batch.ID,
				RowIndex:        i,
				Skip:            r.Skip,
				CustomerTaxCode: r.CustomerTaxCode,
				CustomerName:    r.CustomerName,
				InvoiceSeries:   r.InvoiceSeries,
				InvoiceNo:       r.InvoiceNo,
				DocumentNo:      r.DocumentNo,
				DocumentDate:    r.DocumentDate,
				DueDate:         r.DueDate,
				Amount:          r.Amount,
				Method:          method,
				Description:     r.Description,
				CreatedAt:       now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// GetBatch loads a batch by id.
func (s *Service) GetBatch(ctx context.Context, id snowflake.ID) (*ImportBatch, error) {
	var batch ImportBatch
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundf("import batch %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// CommitRequest commits a staged batch.
type CommitRequest struct {
	BatchID            snowflake.ID
	OverridePeriodLock bool
	OverrideReason     string
	Progress           ProgressFunc
}

type dedupeKey struct {
	customerTaxCode string
	series          string
	no              string
	issueDate       string
}

// Commit converts a STAGING batch into ledger documents inside one
// transaction. Committing an already-COMMITTED batch returns the cached
// summary and writes nothing.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (summary *CommitSummary, err error) {
	start := time.Now()
	defer func() {
		metrics.Outcomes().Record("import.commit", domain.OutcomeOf(err), time.Since(start).Seconds())
	}()

	if _, err = identityActor(ctx); err != nil {
		return nil, err
	}

	batch, err := s.GetBatch(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}
	if batch.Status == BatchCommitted {
		cached := batch.Summary.Data()
		if cached == nil {
			return nil, domain.Invariantf("batch %s is committed but has no summary", batch.ID)
		}
		return cached, nil
	}
	if batch.Status != BatchStaging {
		return nil, domain.InvalidStatef("batch %s is %s, only STAGING batches can be committed", batch.ID, batch.Status)
	}

	progress := newProgressReporter(req.Progress)

	var rows []ImportRow
	if err = s.db.WithContext(ctx).
		Where("batch_id = ?", batch.ID).
		Order("row_index ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	eligible := make([]ImportRow, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		if row.Skip {
			skipped++
			continue
		}
		eligible = append(eligible, row)
	}
	progress.emit(StepValidation, 10)

	// Invoice batches drop duplicates silently: in-batch repeats first,
	// then rows whose identity tuple is already in the ledger.
	var survivors []ImportRow
	var duplicates []ImportRow
	if batch.Kind == KindInvoice {
		seen := make(map[dedupeKey]bool, len(eligible))
		for _, row := range eligible {
			key := dedupeKey{
				customerTaxCode: row.CustomerTaxCode,
				series:          row.InvoiceSeries,
				no:              row.InvoiceNo,
				issueDate:       row.DocumentDate.Format("2006-01-02"),
			}
			if seen[key] {
				duplicates = append(duplicates, row)
				continue
			}
			exists, err := s.ledger.InvoiceExistsTx(ctx, s.db, batch.SellerTaxCode, row.CustomerTaxCode, row.InvoiceSeries, row.InvoiceNo, row.DocumentDate)
			if err != nil {
				return nil, err
			}
			if exists {
				duplicates = append(duplicates, row)
				continue
			}
			seen[key] = true
			survivors = append(survivors, row)
		}
	} else {
		survivors = eligible
	}
	progress.emit(StepDedupe, 30)

	dates := make([]time.Time, 0, len(survivors))
	for _, row := range survivors {
		dates = append(dates, row.DocumentDate)
	}
	locked, err := s.guard.LockedPeriods(ctx, dates)
	if err != nil {
		return nil, err
	}
	override := periodlock.Override{Requested: req.OverridePeriodLock, Reason: req.OverrideReason}
	if err = s.guard.RequireOverride(ctx, "commit import batch", locked, override); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	result := CommitSummary{
		EligibleRows:  len(eligible),
		CommittedRows: len(survivors),
		SkippedRows:   skipped + len(duplicates),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, row := range duplicates {
			if err := tx.Model(&ImportRow{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{"skip": true, "skip_reason": "duplicate invoice"}).Error; err != nil {
				return err
			}
		}

		for _, row := range survivors {
			if _, err := s.ledger.EnsureCustomerTx(ctx, tx, batch.SellerTaxCode, row.CustomerTaxCode, row.CustomerName); err != nil {
				return err
			}
			switch batch.Kind {
			case KindInvoice:
				invoice := &domain.Invoice{
					ID:              s.genID.Generate(),
					SellerTaxCode:   batch.SellerTaxCode,
					CustomerTaxCode: row.CustomerTaxCode,
					InvoiceSeries:   row.InvoiceSeries,
					InvoiceNo:       row.InvoiceNo,
					IssueDate:       row.DocumentDate,
					DueDate:         row.DueDate,
					Description:     row.Description,
					Amount:          row.Amount,
				}
				if _, err := s.ledger.ActivateInvoiceTx(ctx, tx, invoice, now); err != nil {
					return err
				}
				result.InsertedInvoices++
			case KindAdvance:
				advance := &domain.Advance{
					ID:              s.genID.Generate(),
					SellerTaxCode:   batch.SellerTaxCode,
					CustomerTaxCode: row.CustomerTaxCode,
					DocumentNo:      row.DocumentNo,
					DocumentDate:    row.DocumentDate,
					DueDate:         row.DueDate,
					Description:     row.Description,
					Amount:          row.Amount,
				}
				if _, err := s.ledger.ActivateAdvanceTx(ctx, tx, advance, now); err != nil {
					return err
				}
				result.InsertedAdvances++
			case KindReceipt:
				receipt := &domain.Receipt{
					ID:              s.genID.Generate(),
					SellerTaxCode:   batch.SellerTaxCode,
					CustomerTaxCode: row.CustomerTaxCode,
					ReceiptDate:     row.DocumentDate,
					Amount:          row.Amount,
					Method:          row.Method,
					Description:     row.Description,
				}
				if err := s.ledger.RecordImportedReceiptTx(ctx, tx, receipt, now); err != nil {
					return err
				}
				result.InsertedReceipts++
			default:
				return domain.Invariantf("unknown batch kind %q", batch.Kind)
			}
		}

		update := tx.Model(&ImportBatch{}).
			Where("id = ? AND status = ?", batch.ID, BatchStaging).
			Updates(map[string]any{
				"status":     BatchCommitted,
				"summary":    datatypes.NewJSONType(&result),
				"updated_at": now,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return domain.Concurrencyf("batch %s was committed by another user", batch.ID)
		}

		targetID := batch.ID.String()
		return s.auditSvc.Log(ctx, tx, auditdomain.ActionImportCommit, "import_batch", &targetID, map[string]any{
			"kind":           string(batch.Kind),
			"eligible_rows":  result.EligibleRows,
			"committed_rows": result.CommittedRows,
			"skipped_rows":   result.SkippedRows,
		})
	})
	if err != nil {
		return nil, err
	}
	progress.emit(StepApplyRows, 90)

	if len(locked) > 0 && override.Requested {
		targetID := batch.ID.String()
		s.auditSvc.LogBestEffort(ctx, auditdomain.ActionPeriodLockOverride, "import_batch", &targetID, map[string]any{
			"locked_periods": strings.Join(locked, ", "),
			"reason":         override.Reason,
		})
	}

	progress.emit(StepFinalize, 100)
	s.log.Info("import batch committed",
		zap.String("batch_id", batch.ID.String()),
		zap.Int("committed_rows", result.CommittedRows),
		zap.Int("skipped_rows", result.SkippedRows),
	)
	return &result, nil
}

func identityActor(ctx context.Context) (identity.Actor, error) {
	actor, ok := identity.ActorFromContext(ctx)
	if !ok {
		return identity.Actor{}, domain.Unauthorizedf("no actor on request")
	}
	return actor, nil
}
