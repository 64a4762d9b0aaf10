package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/hochk2019/congno/internal/audit/domain"
	"github.com/hochk2019/congno/internal/allocation"
	"github.com/hochk2019/congno/internal/notification"
	"github.com/hochk2019/congno/internal/periodlock"
	"github.com/hochk2019/congno/internal/receivable/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreateReceiptRequest carries the fields for a new draft receipt.
type CreateReceiptRequest struct {
	SellerTaxCode      string
	CustomerTaxCode    string
	ReceiptDate        time.Time
	Amount             decimal.Decimal
	Method             domain.PaymentMethod
	AllocationMode     allocation.Mode
	AllocationPriority domain.AllocationPriority
	AppliedPeriodStart *time.Time
	Targets            []domain.TargetRef
	Description        string
}

// ApproveReceiptRequest executes a draft receipt's allocation.
type ApproveReceiptRequest struct {
	ID                 snowflake.ID
	Version            int64
	Selection          []domain.TargetRef
	OverridePeriodLock bool
	OverrideReason     string
}

// AllocationOutcome is what an approval or preview distributed.
type AllocationOutcome struct {
	Lines    []allocation.Line
	Leftover decimal.Decimal
}

// CreateReceipt validates and persists a draft receipt. When open debt
// documents exist for the pair, the caller must select targets up front;
// the receipt is only created unallocated when there is nothing to pay.
func (s *Service) CreateReceipt(ctx context.Context, req CreateReceiptRequest) (receipt *domain.Receipt, err error) {
	start := time.Now()
	defer func() { s.record("receipt.create", start, err) }()

	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.Validationf("receipt amount must be positive")
	}
	if req.ReceiptDate.IsZero() {
		return nil, domain.Validationf("receipt date is required")
	}

	method := req.Method
	if method == "" {
		method = domain.MethodBank
	}
	switch method {
	case domain.MethodBank, domain.MethodCash, domain.MethodOther:
	default:
		return nil, domain.Validationf("unknown payment method %q", req.Method)
	}

	mode := req.AllocationMode
	if mode == "" {
		mode = allocation.ModeFIFO
	}
	switch mode {
	case allocation.ModeFIFO, allocation.ModeByInvoice, allocation.ModeByPeriod, allocation.ModeProRata, allocation.ModeManual:
	default:
		return nil, domain.Validationf("unknown allocation mode %q", req.AllocationMode)
	}

	priority := req.AllocationPriority
	if priority == "" {
		priority = domain.PriorityIssueDate
	}

	var appliedPeriod *time.Time
	if req.AppliedPeriodStart != nil {
		snapped := allocation.StartOfMonth(*req.AppliedPeriodStart)
		appliedPeriod = &snapped
	}
	if mode == allocation.ModeByPeriod && appliedPeriod == nil {
		return nil, domain.Validationf("applied period start is required for %s", allocation.ModeByPeriod)
	}

	customer, err := s.loadCustomer(ctx, s.db, req.SellerTaxCode, req.CustomerTaxCode)
	if err != nil {
		return nil, err
	}
	if err = s.authorizeCustomer(actor, customer); err != nil {
		return nil, err
	}

	candidates, err := s.openCandidates(ctx, s.db, req.SellerTaxCode, req.CustomerTaxCode, priority)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 && len(req.Targets) == 0 {
		return nil, domain.Validationf("must select targets to allocate")
	}

	allocationStatus := domain.AllocationUnallocated
	if len(req.Targets) > 0 {
		allocationStatus = domain.AllocationSelected
	}

	now := s.clock.Now()
	row := &domain.Receipt{
		ID:                 s.genID.Generate(),
		SellerTaxCode:      req.SellerTaxCode,
		CustomerTaxCode:    req.CustomerTaxCode,
		ReceiptDate:        req.ReceiptDate,
		Amount:             req.Amount,
		UnallocatedAmount:  decimal.Zero,
		Method:             method,
		AllocationMode:     mode,
		AllocationPriority: priority,
		AppliedPeriodStart: appliedPeriod,
		AllocationStatus:   allocationStatus,
		AllocationTargets:  datatypes.NewJSONSlice(req.Targets),
		Status:             domain.ReceiptDraft,
		Description:        strings.TrimSpace(req.Description),
		Version:            0,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		targetID := row.ID.String()
		return s.auditSvc.Log(ctx, tx, auditdomain.ActionReceiptCreate, "receipt", &targetID, map[string]any{
			"seller_tax_code":   row.SellerTaxCode,
			"customer_tax_code": row.CustomerTaxCode,
			"amount":            row.Amount.String(),
			"allocation_mode":   string(row.AllocationMode),
			"allocation_status": string(row.AllocationStatus),
		})
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// GetReceipt loads a receipt by id; voided receipts read as absent.
func (s *Service) GetReceipt(ctx context.Context, id snowflake.ID) (*domain.Receipt, error) {
	var receipt domain.Receipt
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&receipt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundf("receipt %s", id)
	}
	if err != nil {
		return nil, err
	}
	if receipt.Status == domain.ReceiptVoid {
		return nil, domain.NotFoundf("receipt %s", id)
	}
	return &receipt, nil
}

// ListReceipts returns receipts for a pair, newest first.
func (s *Service) ListReceipts(ctx context.Context, sellerTaxCode, customerTaxCode string) ([]domain.Receipt, error) {
	var receipts []domain.Receipt
	query := s.db.WithContext(ctx).Where("seller_tax_code = ?", sellerTaxCode)
	if customerTaxCode != "" {
		query = query.Where("customer_tax_code = ?", customerTaxCode)
	}
	err := query.Order("receipt_date DESC, id DESC").Find(&receipts).Error
	return receipts, err
}

// PreviewAllocation runs the engine against current candidates without
// persisting anything.
func (s *Service) PreviewAllocation(ctx context.Context, id snowflake.ID, selection []domain.TargetRef) (outcome *AllocationOutcome, err error) {
	start := time.Now()
	defer func() { s.record("receipt.preview", start, err) }()

	receipt, err := s.GetReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	candidates, err := s.openCandidates(ctx, s.db, receipt.SellerTaxCode, receipt.CustomerTaxCode, receipt.AllocationPriority)
	if err != nil {
		return nil, err
	}
	if len(selection) == 0 {
		selection = receipt.AllocationTargets
	}

	res, err := allocation.Plan(allocation.Request{
		Amount:             receipt.Amount,
		Mode:               receipt.AllocationMode,
		AppliedPeriodStart: receipt.AppliedPeriodStart,
		Selection:          selection,
		Candidates:         candidates,
	})
	if err != nil {
		return nil, err
	}
	return &AllocationOutcome{Lines: res.Lines, Leftover: res.Leftover}, nil
}

// ApproveReceipt executes the allocation transactionally: targets are paid
// down, the customer balance drops by the full receipt amount, and the
// receipt becomes APPROVED. A version mismatch aborts before any write.
func (s *Service) ApproveReceipt(ctx context.Context, req ApproveReceiptRequest) (outcome *AllocationOutcome, err error) {
	start := time.Now()
	defer func() { s.record("receipt.approve", start, err) }()

	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	receipt, err := s.GetReceipt(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if receipt.Version != req.Version {
		return nil, domain.Concurrencyf("receipt %s was updated by another user, refresh and retry", req.ID)
	}
	if receipt.Status != domain.ReceiptDraft {
		return nil, domain.InvalidStatef("receipt %s is %s, only DRAFT receipts can be approved", req.ID, receipt.Status)
	}

	customer, err := s.loadCustomer(ctx, s.db, receipt.SellerTaxCode, receipt.CustomerTaxCode)
	if err != nil {
		return nil, err
	}
	if err = s.authorizeCustomer(actor, customer); err != nil {
		return nil, err
	}

	locked, err := s.guard.LockedPeriods(ctx, []time.Time{receipt.ReceiptDate})
	if err != nil {
		return nil, err
	}
	override := periodlock.Override{Requested: req.OverridePeriodLock, Reason: req.OverrideReason}
	if err = s.guard.RequireOverride(ctx, "approve receipt", locked, override); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var result allocation.Result
	var usedSelection []domain.TargetRef

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidates, err := s.openCandidates(ctx, tx, receipt.SellerTaxCode, receipt.CustomerTaxCode, receipt.AllocationPriority)
		if err != nil {
			return err
		}

		// The request's selection wins over the one stored at create time.
		usedSelection = req.Selection
		if len(usedSelection) == 0 {
			usedSelection = receipt.AllocationTargets
		}
		if len(candidates) > 0 && len(usedSelection) == 0 {
			return domain.Validationf("must select targets to allocate")
		}

		result, err = allocation.Plan(allocation.Request{
			Amount:             receipt.Amount,
			Mode:               receipt.AllocationMode,
			AppliedPeriodStart: receipt.AppliedPeriodStart,
			Selection:          usedSelection,
			Candidates:         candidates,
		})
		if err != nil {
			return err
		}

		for _, line := range result.Lines {
			if err := s.applyAllocationLine(ctx, tx, receipt.ID, line, now); err != nil {
				return err
			}
		}

		if err := s.adjustCustomerBalance(ctx, tx, customer, func(balance decimal.Decimal) decimal.Decimal {
			return balance.Sub(receipt.Amount)
		}); err != nil {
			return err
		}

		allocationStatus := domain.AllocationAllocated
		if result.Leftover.GreaterThan(decimal.Zero) {
			allocationStatus = domain.AllocationPartial
		}
		if len(result.Lines) == 0 {
			allocationStatus = domain.AllocationUnallocated
		}
		update := tx.Model(&domain.Receipt{}).
			Where("id = ? AND version = ?", receipt.ID, req.Version).
			Updates(map[string]any{
				"status":             domain.ReceiptApproved,
				"unallocated_amount": result.Leftover,
				"allocation_status":  allocationStatus,
				"allocation_targets": datatypes.NewJSONSlice(usedSelection),
				"version":            gorm.Expr("version + 1"),
				"updated_at":         now,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return domain.Concurrencyf("receipt %s was updated by another user, refresh and retry", req.ID)
		}

		allocated := receipt.Amount.Sub(result.Leftover)
		targetID := receipt.ID.String()
		return s.auditSvc.Log(ctx, tx, auditdomain.ActionReceiptApprove, "receipt", &targetID, map[string]any{
			"status_before":   string(domain.ReceiptDraft),
			"status_after":    string(domain.ReceiptApproved),
			"allocated_total": allocated.String(),
			"leftover":        result.Leftover.String(),
			"line_count":      len(result.Lines),
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterOverride(ctx, "receipt", receipt.ID, locked, override)

	if result.Leftover.GreaterThan(decimal.Zero) {
		userID := snowflake.ID(actor.UserID)
		if customer.OwnerUserID != nil {
			userID = *customer.OwnerUserID
		}
		s.outbox.Enqueue(ctx, notification.Message{
			UserID:   userID,
			Title:    "Receipt partially allocated",
			Body:     fmt.Sprintf("Receipt %s for %s has %s unallocated", receipt.ID, receipt.CustomerTaxCode, result.Leftover),
			Severity: notification.SeverityWarning,
			Source:   "receivable",
			Metadata: map[string]any{
				"receipt_id": receipt.ID.String(),
				"leftover":   result.Leftover.String(),
			},
			DedupeKey: fmt.Sprintf("receipt-partial-%s", receipt.ID),
		})
	}

	return &AllocationOutcome{Lines: result.Lines, Leftover: result.Leftover}, nil
}

// afterOverride writes the extra audit record for a used period-lock
// override. Best-effort: the financial commit already happened.
func (s *Service) afterOverride(ctx context.Context, targetType string, id snowflake.ID, locked []string, override periodlock.Override) {
	if len(locked) == 0 || !override.Requested {
		return
	}
	targetID := id.String()
	s.auditSvc.LogBestEffort(ctx, auditdomain.ActionPeriodLockOverride, targetType, &targetID, map[string]any{
		"locked_periods": strings.Join(locked, ", "),
		"reason":         override.Reason,
	})
}
