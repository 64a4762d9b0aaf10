package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hochk2019/congno/internal/allocation"
	"github.com/hochk2019/congno/internal/receivable/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// applyAllocationLine executes one engine output line inside the caller's
// transaction: decrement the target's outstanding (floored at zero), move
// its status, and append the allocation fact. Both the receipt-driven push
// path and the debt-driven pull path end up here.
func (s *Service) applyAllocationLine(ctx context.Context, tx *gorm.DB, receiptID snowflake.ID, line allocation.Line, now time.Time) error {
	switch line.TargetType {
	case domain.TargetInvoice:
		var invoice domain.Invoice
		err := tx.WithContext(ctx).Where("id = ?", line.TargetID).First(&invoice).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Invariantf("allocation target invoice %s no longer exists", line.TargetID)
		}
		if err != nil {
			return err
		}
		outstanding := invoice.OutstandingAmount.Sub(line.Amount)
		if outstanding.IsNegative() {
			outstanding = decimal.Zero
		}
		status := domain.DocumentPartial
		if outstanding.IsZero() {
			status = domain.DocumentPaid
		}
		if err := tx.WithContext(ctx).
			Model(&domain.Invoice{}).
			Where("id = ?", invoice.ID).
			Updates(map[string]any{
				"outstanding_amount": outstanding,
				"status":             status,
				"version":            gorm.Expr("version + 1"),
				"updated_at":         now,
			}).Error; err != nil {
			return err
		}
	case domain.TargetAdvance:
		var advance domain.Advance
		err := tx.WithContext(ctx).Where("id = ?", line.TargetID).First(&advance).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Invariantf("allocation target advance %s no longer exists", line.TargetID)
		}
		if err != nil {
			return err
		}
		outstanding := advance.OutstandingAmount.Sub(line.Amount)
		if outstanding.IsNegative() {
			outstanding = decimal.Zero
		}
		status := domain.DocumentApproved
		if outstanding.IsZero() {
			status = domain.DocumentPaid
		}
		if err := tx.WithContext(ctx).
			Model(&domain.Advance{}).
			Where("id = ?", advance.ID).
			Updates(map[string]any{
				"outstanding_amount": outstanding,
				"status":             status,
				"version":            gorm.Expr("version + 1"),
				"updated_at":         now,
			}).Error; err != nil {
			return err
		}
	default:
		return domain.Invariantf("unknown allocation target type %q", line.TargetType)
	}

	fact := domain.ReceiptAllocation{
		ID:         s.genID.Generate(),
		ReceiptID:  receiptID,
		TargetType: line.TargetType,
		TargetID:   line.TargetID,
		Amount:     line.Amount,
		CreatedAt:  now,
	}
	return tx.WithContext(ctx).Create(&fact).Error
}

// pullResult reports what the pull mechanism consumed.
type pullResult struct {
	Pulled      decimal.Decimal
	Outstanding decimal.Decimal
}

// pullFromUnallocatedReceipts absorbs pre-existing unapplied receipt credit
// into a freshly activated debt document: oldest credit first, no mode
// selection. Runs inside the activation transaction.
func (s *Service) pullFromUnallocatedReceipts(
	ctx context.Context,
	tx *gorm.DB,
	sellerTaxCode, customerTaxCode string,
	targetType domain.TargetType,
	targetID snowflake.ID,
	outstanding decimal.Decimal,
	now time.Time,
) (pullResult, error) {
	result := pullResult{Pulled: decimal.Zero, Outstanding: outstanding}
	if outstanding.LessThanOrEqual(decimal.Zero) {
		return result, nil
	}

	var receipts []domain.Receipt
	err := tx.WithContext(ctx).
		Where("seller_tax_code = ? AND customer_tax_code = ?", sellerTaxCode, customerTaxCode).
		Where("status = ? AND unallocated_amount > 0 AND deleted_at IS NULL", domain.ReceiptApproved).
		Order("receipt_date ASC, created_at ASC, id ASC").
		Find(&receipts).Error
	if err != nil {
		return result, err
	}

	remaining := outstanding
	for _, receipt := range receipts {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := decimal.Min(remaining, receipt.UnallocatedAmount)
		if take.LessThanOrEqual(decimal.Zero) {
			continue
		}

		unallocated := receipt.UnallocatedAmount.Sub(take)
		allocStatus := domain.AllocationPartial
		if unallocated.IsZero() {
			allocStatus = domain.AllocationAllocated
		}
		if err := tx.WithContext(ctx).
			Model(&domain.Receipt{}).
			Where("id = ?", receipt.ID).
			Updates(map[string]any{
				"unallocated_amount": unallocated,
				"allocation_status":  allocStatus,
				"version":            gorm.Expr("version + 1"),
				"updated_at":         now,
			}).Error; err != nil {
			return result, err
		}

		fact := domain.ReceiptAllocation{
			ID:         s.genID.Generate(),
			ReceiptID:  receipt.ID,
			TargetType: targetType,
			TargetID:   targetID,
			Amount:     take,
			CreatedAt:  now,
		}
		if err := tx.WithContext(ctx).Create(&fact).Error; err != nil {
			return result, err
		}

		remaining = remaining.Sub(take)
		result.Pulled = result.Pulled.Add(take)
	}

	result.Outstanding = remaining
	return result, nil
}

// allocationCount returns how many allocation facts reference a target.
func (s *Service) allocationCount(ctx context.Context, db *gorm.DB, targetType domain.TargetType, targetID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.ReceiptAllocation{}).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Count(&count).Error
	return count, err
}
