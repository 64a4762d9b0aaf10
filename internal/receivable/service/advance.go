package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/hochk2019/congno/internal/audit/domain"
	"github.com/hochk2019/congno/internal/periodlock"
	"github.com/hochk2019/congno/internal/receivable/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CreateAdvanceRequest carries the fields for a new draft cash advance.
type CreateAdvanceRequest struct {
	SellerTaxCode   string
	CustomerTaxCode string
	DocumentNo      *string
	DocumentDate    time.Time
	DueDate         *time.Time
	Amount          decimal.Decimal
	Description     string
}

// ApproveAdvanceRequest activates a draft advance.
type ApproveAdvanceRequest struct {
	ID                 snowflake.ID
	Version            int64
	OverridePeriodLock bool
	OverrideReason     string
}

// ApproveAdvanceResult reports the activation and what the pull mechanism
// absorbed from pre-existing receipt credit.
type ApproveAdvanceResult struct {
	Advance      *domain.Advance
	PulledAmount decimal.Decimal
}

// CreateAdvance persists a draft advance. Drafts carry no outstanding debt
// and do not move the customer balance.
func (s *Service) CreateAdvance(ctx context.Context, req CreateAdvanceRequest) (advance *domain.Advance, err error) {
	start := time.Now()
	defer func() { s.record("advance.create", start, err) }()

	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.Validationf("advance amount must be positive")
	}
	if req.DocumentDate.IsZero() {
		return nil, domain.Validationf("document date is required")
	}

	customer, err := s.loadCustomer(ctx, s.db, req.SellerTaxCode, req.CustomerTaxCode)
	if err != nil {
		return nil, err
	}
	if err = s.authorizeCustomer(actor, customer); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	row := &domain.Advance{
		ID:                s.genID.Generate(),
		SellerTaxCode:     req.SellerTaxCode,
		CustomerTaxCode:   req.CustomerTaxCode,
		DocumentNo:        req.DocumentNo,
		DocumentDate:      req.DocumentDate,
		DueDate:           req.DueDate,
		Description:       strings.TrimSpace(req.Description),
		Amount:            req.Amount,
		OutstandingAmount: decimal.Zero,
		Status:            domain.DocumentDraft,
		Version:           0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		targetID := row.ID.String()
		return s.auditSvc.Log(ctx, tx, auditdomain.ActionAdvanceCreate, "advance", &targetID, map[string]any{
			"seller_tax_code":   row.SellerTaxCode,
			"customer_tax_code": row.CustomerTaxCode,
			"amount":            row.Amount.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// GetAdvance loads an advance by id; voided advances read as absent.
func (s *Service) GetAdvance(ctx context.Context, id snowflake.ID) (*domain.Advance, error) {
	advance, err := s.loadAdvance(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if advance.Status == domain.DocumentVoid {
		return nil, domain.NotFoundf("advance %s", id)
	}
	return advance, nil
}

func (s *Service) loadAdvance(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Advance, error) {
	var advance domain.Advance
	err := db.WithContext(ctx).Where("id = ?", id).First(&advance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundf("advance %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &advance, nil
}

// ListAdvances returns advances for a pair, newest first.
func (s *Service) ListAdvances(ctx context.Context, sellerTaxCode, customerTaxCode string) ([]domain.Advance, error) {
	var advances []domain.Advance
	query := s.db.WithContext(ctx).Where("seller_tax_code = ?", sellerTaxCode)
	if customerTaxCode != "" {
		query = query.Where("customer_tax_code = ?", customerTaxCode)
	}
	err := query.Order("document_date DESC, id DESC").Find(&advances).Error
	return advances, err
}

// ApproveAdvance activates a draft advance: the customer balance rises by
// the full amount, and pre-existing unallocated receipt credit is pulled in
// oldest-first until the advance is paid or credit runs out.
func (s *Service) ApproveAdvance(ctx context.Context, req ApproveAdvanceRequest) (result *ApproveAdvanceResult, err error) {
	start := time.Now()
	defer func() { s.record("advance.approve", start, err) }()

	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	advance, err := s.GetAdvance(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if advance.Version != req.Version {
		return nil, domain.Concurrencyf("advance %s was updated by another user, refresh and retry", req.ID)
	}
	if advance.Status != domain.DocumentDraft {
		return nil, domain.InvalidStatef("advance %s is %s, only DRAFT advances can be approved", req.ID, advance.Status)
	}

	customer, err := s.loadCustomer(ctx, s.db, advance.SellerTaxCode, advance.CustomerTaxCode)
	if err != nil {
		return nil, err
	}
	if err = s.authorizeCustomer(actor, customer); err != nil {
		return nil, err
	}

	locked, err := s.guard.LockedPeriods(ctx, []time.Time{advance.DocumentDate})
	if err != nil {
		return nil, err
	}
	override := periodlock.Override{Requested: req.OverridePeriodLock, Reason: req.OverrideReason}
	if err = s.guard.RequireOverride(ctx, "approve advance", locked, override); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var pulled decimal.Decimal

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pull, err := s.pullFromUnallocatedReceipts(
			ctx, tx,
			advance.SellerTaxCode, advance.CustomerTaxCode,
			domain.TargetAdvance, advance.ID,
			advance.Amount, now,
		)
		if err != nil {
			return err
		}
		pulled = pull.Pulled

		status := domain.DocumentApproved
		if pull.Outstanding.IsZero() {
			status = domain.DocumentPaid
		}
		update := tx.Model(&domain.Advance{}).
			Where("id = ? AND version = ?", advance.ID, req.Version).
			Updates(map[string]any{
				"status":             status,
				"outstanding_amount": pull.Outstanding,
				"version":            gorm.Expr("version + 1"),
				"updated_at":         now,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return domain.Concurrencyf("advance %s was updated by another user, refresh and retry", req.ID)
		}

		if err := s.adjustCustomerBalance(ctx, tx, customer, func(balance decimal.Decimal) decimal.Decimal {
			return balance.Add(advance.Amount)
		}); err != nil {
			return err
		}

		targetID := advance.ID.String()
		return s.auditSvc.Log(ctx, tx, auditdomain.ActionAdvanceApprove, "advance", &targetID, map[string]any{
			"status_before":   string(domain.DocumentDraft),
			"status_after":    string(status),
			"amount":          advance.Amount.String(),
			"allocated_total": pull.Pulled.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterOverride(ctx, "advance", advance.ID, locked, override)

	refreshed, err := s.loadAdvance(ctx, s.db, advance.ID)
	if err != nil {
		return nil, err
	}
	return &ApproveAdvanceResult{Advance: refreshed, PulledAmount: pulled}, nil
}

// VoidAdvance soft-deletes an advance. Advances that already carry
// allocation facts cannot be voided; an APPROVED advance without them gives
// its amount back to the customer balance.
func (s *Service) VoidAdvance(ctx context.Context, id snowflake.ID, version int64, reason string) (err error) {
	start := time.Now()
	defer func() { s.record("advance.void", start, err) }()

	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return domain.Validationf("void reason is required")
	}

	advance, err := s.loadAdvance(ctx, s.db, id)
	if err != nil {
		return err
	}
	if advance.Status == domain.DocumentVoid {
		return domain.InvalidStatef("advance %s is already voided", id)
	}
	if advance.Version != version {
		return domain.Concurrencyf("advance %s was updated by another user, refresh and retry", id)
	}

	customer, err := s.loadCustomer(ctx, s.db, advance.SellerTaxCode, advance.CustomerTaxCode)
	if err != nil {
		return err
	}
	if err = s.authorizeCustomer(actor, customer); err != nil {
		return err
	}

	allocations, err := s.allocationCount(ctx, s.db, domain.TargetAdvance, advance.ID)
	if err != nil {
		return err
	}
	if allocations > 0 {
		return domain.InvalidStatef("advance %s has allocations, cannot be voided", id)
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if advance.Status == domain.DocumentApproved {
			if err := s.adjustCustomerBalance(ctx, tx, customer, func(balance decimal.Decimal) decimal.Decimal {
				return balance.Sub(advance.Amount)
			}); err != nil {
				return err
			}
		}

		update := tx.Model(&domain.Advance{}).
			Where("id = ? AND version = ?", advance.ID, version).
			Updates(map[string]any{
				"status":             domain.DocumentVoid,
				"outstanding_amount": decimal.Zero,
				"deleted_at":         now,
				"deleted_by":         actor.Username,
				"version":            gorm.Expr("version + 1"),
				"updated_at":         now,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return domain.Concurrencyf("advance %s was updated by another user, refresh and retry", id)
		}

		targetID := advance.ID.String()
		return s.auditSvc.Log(ctx, tx, auditdomain.ActionAdvanceVoid, "advance", &targetID, map[string]any{
			"status_before": string(advance.Status),
			"reason":        strings.TrimSpace(reason),
		})
	})
}

// UnvoidAdvance restores a voided advance to DRAFT for re-approval.
func (s *Service) UnvoidAdvance(ctx context.Context, id snowflake.ID, version int64) (err error) {
	start := time.Now()
	defer func() { s.record("advance.unvoid", start, err) }()

	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}

	advance, err := s.loadAdvance(ctx, s.db, id)
	if err != nil {
		return err
	}
	if advance.Status != domain.DocumentVoid {
		return domain.InvalidStatef("advance %s is %s, only VOID advances can be unvoided", id, advance.Status)
	}
	if advance.Version != version {
		return domain.Concurrencyf("advance %s was updated by another user, refresh and retry", id)
	}

	customer, err := s.loadCustomer(ctx, s.db, advance.SellerTaxCode, advance.CustomerTaxCode)
	if err != nil {
		return err
	}
	if err = s.authorizeCustomer(actor, customer); err != nil {
		return err
	}

	allocations, err := s.allocationCount(ctx, s.db, domain.TargetAdvance, advance.ID)
	if err != nil {
		return err
	}
	if allocations > 0 {
		return domain.InvalidStatef("advance %s has allocations, cannot be unvoided", id)
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&domain.Advance{}).
			Where("id = ? AND version = ?", advance.ID, version).
			Updates(map[string]any{
				"status":             domain.DocumentDraft,
				"outstanding_amount": advance.Amount,
				"deleted_at":         nil,
				"deleted_by":         nil,
				"version":            gorm.Expr("version + 1"),
				"updated_at":         now,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return domain.Concurrencyf("advance %s was updated by another user, refresh and retry", id)
		}

		targetID := advance.ID.String()
		return s.auditSvc.Log(ctx, tx, auditdomain.ActionAdvanceUnvoid, "advance", &targetID, map[string]any{
			"amount": advance.Amount.String(),
		})
	})
}

// UpdateAdvance edits non-financial fields. Amounts and dates of a created
// advance never change; correcting those means void and re-create.
func (s *Service) UpdateAdvance(ctx context.Context, id snowflake.ID, version int64, description string, documentNo *string) (err error) {
	start := time.Now()
	defer func() { s.record("advance.update", start, err) }()

	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}

	advance, err := s.loadAdvance(ctx, s.db, id)
	if err != nil {
		return err
	}
	if advance.Status == domain.DocumentVoid {
		return domain.InvalidStatef("advance %s is voided", id)
	}
	if advance.Version != version {
		return domain.Concurrencyf("advance %s was updated by another user, refresh and retry", id)
	}

	customer, err := s.loadCustomer(ctx, s.db, advance.SellerTaxCode, advance.CustomerTaxCode)
	if err != nil {
		return err
	}
	if err = s.authorizeCustomer(actor, customer); err != nil {
		return err
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		values := map[string]any{
			"description": strings.TrimSpace(description),
			"version":     gorm.Expr("version + 1"),
			"updated_at":  now,
		}
		if documentNo != nil {
			values["document_no"] = *documentNo
		}
		update := tx.Model(&domain.Advance{}).
			Where("id = ? AND version = ?", advance.ID, version).
			Updates(values)
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return domain.Concurrencyf("advance %s was updated by another user, refresh and retry", id)
		}

		targetID := advance.ID.String()
		return s.auditSvc.Log(ctx, tx, auditdomain.ActionAdvanceUpdate, "advance", &targetID, nil)
	})
}
