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

// CreateInvoiceRequest carries the fields for a new invoice. Invoices have
// no draft stage: creation activates the debt immediately.
type CreateInvoiceRequest struct {
	SellerTaxCode      string
	CustomerTaxCode    string
	InvoiceSeries      string
	InvoiceNo          string
	IssueDate          time.Time
	DueDate            *time.Time
	Amount             decimal.Decimal
	Description        string
	OverridePeriodLock bool
	OverrideReason     string
}

// CreateInvoiceResult reports the stored invoice and what the pull mechanism
// absorbed from pre-existing receipt credit.
type CreateInvoiceResult struct {
	Invoice      *domain.Invoice
	PulledAmount decimal.Decimal
}

// CreateInvoice activates a new invoice: the customer balance rises by the
// full amount and any unapplied receipt credit is pulled in immediately,
// oldest credit first.
func (s *Service) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (result *CreateInvoiceResult, err error) {
	start := time.Now()
	defer func() { s.record("invoice.create", start, err) }()

	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.Validationf("invoice amount must be positive")
	}
	if strings.TrimSpace(req.InvoiceNo) == "" {
		return nil, domain.Validationf("invoice number is required")
	}
	if req.IssueDate.IsZero() {
		return nil, domain.Validationf("issue date is required")
	}

	customer, err := s.loadCustomer(ctx, s.db, req.SellerTaxCode, req.CustomerTaxCode)
	if err != nil {
		return nil, err
	}
	if err = s.authorizeCustomer(actor, customer); err != nil {
		return nil, err
	}

	duplicate, err := s.invoiceExists(ctx, s.db, req.SellerTaxCode, req.CustomerTaxCode, req.InvoiceSeries, req.InvoiceNo, req.IssueDate)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, domain.Validationf("invoice %s%s dated %s already exists", req.InvoiceSeries, req.InvoiceNo, req.IssueDate.Format("2006-01-02"))
	}

	locked, err := s.guard.LockedPeriods(ctx, []time.Time{req.IssueDate})
	if err != nil {
		return nil, err
	}
	override := periodlock.Override{Requested: req.OverridePeriodLock, Reason: req.OverrideReason}
	if err = s.guard.RequireOverride(ctx, "create invoice", locked, override); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	row := &domain.Invoice{
		ID:                s.genID.Generate(),
		SellerTaxCode:     req.SellerTaxCode,
		CustomerTaxCode:   req.CustomerTaxCode,
		InvoiceSeries:     req.InvoiceSeries,
		InvoiceNo:         req.InvoiceNo,
		IssueDate:         req.IssueDate,
		DueDate:           req.DueDate,
		Description:       strings.TrimSpace(req.Description),
		Amount:            req.Amount,
		OutstandingAmount: req.Amount,
		Status:            domain.DocumentPartial,
		Version:           0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	var pulled decimal.Decimal
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}

		pull, err := s.pullFromUnallocatedReceipts(
			ctx, tx,
			row.SellerTaxCode, row.CustomerTaxCode,
			domain.TargetInvoice, row.ID,
			row.Amount, now,
		)
		if err != nil {
			return err
		}
		pulled = pull.Pulled

		if pull.Pulled.GreaterThan(decimal.Zero) {
			status := domain.DocumentPartial
			if pull.Outstanding.IsZero() {
				status = domain.DocumentPaid
			}
			if err := tx.Model(&domain.Invoice{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{
					"outstanding_amount": pull.Outstanding,
					"status":             status,
					"version":            gorm.Expr("version + 1"),
					"updated_at":         now,
				}).Error; err != nil {
				return err
			}
		}

		if err := s.adjustCustomerBalance(ctx, tx, customer, func(balance decimal.Decimal) decimal.Decimal {
			return balance.Add(row.Amount)
		}); err != nil {
			return err
		}

		targetID := row.ID.String()
		return s.auditSvc.Log(ctx, tx, auditdomain.ActionInvoiceCreate, "invoice", &targetID, map[string]any{
			"seller_tax_code":   row.SellerTaxCode,
			"customer_tax_code": row.CustomerTaxCode,
			"invoice_no":        row.InvoiceSeries + row.InvoiceNo,
			"amount":            row.Amount.String(),
			"allocated_total":   pull.Pulled.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterOverride(ctx, "invoice", row.ID, locked, override)

	refreshed, err := s.loadInvoice(ctx, s.db, row.ID)
	if err != nil {
		return nil, err
	}
	return &CreateInvoiceResult{Invoice: refreshed, PulledAmount: pulled}, nil
}

// invoiceExists reports whether a non-void invoice with the same identity
// tuple is already stored.
func (s *Service) invoiceExists(ctx context.Context, db *gorm.DB, sellerTaxCode, customerTaxCode, series, no string, issueDate time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("seller_tax_code = ? AND customer_tax_code = ?", sellerTaxCode, customerTaxCode).
		Where("invoice_series = ? AND invoice_no = ? AND issue_date = ?", series, no, issueDate).
		Where("status <> ?", domain.DocumentVoid).
		Count(&count).Error
	return count > 0, err
}

// GetInvoice loads an invoice by id; voided invoices read as absent.
func (s *Service) GetInvoice(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.loadInvoice(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status == domain.DocumentVoid {
		return nil, domain.NotFoundf("invoice %s", id)
	}
	return invoice, nil
}

func (s *Service) loadInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.WithContext(ctx).Where("id = ?", id).First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NotFoundf("invoice %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ListInvoices returns invoices for a pair, newest first.
func (s *Service) ListInvoices(ctx context.Context, sellerTaxCode, customerTaxCode string) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	query := s.db.WithContext(ctx).Where("seller_tax_code = ?", sellerTaxCode)
	if customerTaxCode != "" {
		query = query.Where("customer_tax_code = ?", customerTaxCode)
	}
	err := query.Order("issue_date DESC, id DESC").Find(&invoices).Error
	return invoices, err
}

// VoidInvoice soft-deletes an invoice. Any allocation fact blocks the void;
// an untouched invoice gives its amount back to the customer balance.
func (s *Service) VoidInvoice(ctx context.Context, id snowflake.ID, version int64, reason string) (err error) {
	start := time.Now()
	defer func() { s.record("invoice.void", start, err) }()

	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return domain.Validationf("void reason is required")
	}

	invoice, err := s.loadInvoice(ctx, s.db, id)
	if err != nil {
		return err
	}
	if invoice.Status == domain.DocumentVoid {
		return domain.InvalidStatef("invoice %s is already voided", id)
	}
	if invoice.Version != version {
		return domain.Concurrencyf("invoice %s was updated by another user, refresh and retry", id)
	}

	customer, err := s.loadCustomer(ctx, s.db, invoice.SellerTaxCode, invoice.CustomerTaxCode)
	if err != nil {
		return err
	}
	if err = s.authorizeCustomer(actor, customer); err != nil {
		return err
	}

	allocations, err := s.allocationCount(ctx, s.db, domain.TargetInvoice, invoice.ID)
	if err != nil {
		return err
	}
	if allocations > 0 {
		return domain.InvalidStatef("invoice %s has allocations, cannot be voided", id)
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.adjustCustomerBalance(ctx, tx, customer, func(balance decimal.Decimal) decimal.Decimal {
			return balance.Sub(invoice.Amount)
		}); err != nil {
			return err
		}

		update := tx.Model(&domain.Invoice{}).
			Where("id = ? AND version = ?", invoice.ID, version).
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
			return domain.Concurrencyf("invoice %s was updated by another user, refresh and retry", id)
		}

		targetID := invoice.ID.String()
		return s.auditSvc.Log(ctx, tx, auditdomain.ActionInvoiceVoid, "invoice", &targetID, map[string]any{
			"status_before": string(invoice.Status),
			"reason":        strings.TrimSpace(reason),
		})
	})
}

// UnvoidInvoice restores a voided invoice as open debt. The full amount
// comes back outstanding; subsequent receipts allocate against it normally.
func (s *Service) UnvoidInvoice(ctx context.Context, id snowflake.ID, version int64) (err error) {
	start := time.Now()
	defer func() { s.record("invoice.unvoid", start, err) }()

	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}

	invoice, err := s.loadInvoice(ctx, s.db, id)
	if err != nil {
		return err
	}
	if invoice.Status != domain.DocumentVoid {
		return domain.InvalidStatef("invoice %s is %s, only VOID invoices can be unvoided", id, invoice.Status)
	}
	if invoice.Version != version {
		return domain.Concurrencyf("invoice %s was updated by another user, refresh and retry", id)
	}

	customer, err := s.loadCustomer(ctx, s.db, invoice.SellerTaxCode, invoice.CustomerTaxCode)
	if err != nil {
		return err
	}
	if err = s.authorizeCustomer(actor, customer); err != nil {
		return err
	}

	allocations, err := s.allocationCount(ctx, s.db, domain.TargetInvoice, invoice.ID)
	if err != nil {
		return err
	}
	if allocations > 0 {
		return domain.InvalidStatef("invoice %s has allocations, cannot be unvoided", id)
	}

	duplicate, err := s.invoiceExists(ctx, s.db, invoice.SellerTaxCode, invoice.CustomerTaxCode, invoice.InvoiceSeries, invoice.InvoiceNo, invoice.IssueDate)
	if err != nil {
		return err
	}
	if duplicate {
		return domain.Validationf("invoice %s%s dated %s already exists", invoice.InvoiceSeries, invoice.InvoiceNo, invoice.IssueDate.Format("2006-01-02"))
	}

	now := s.clock.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.adjustCustomerBalance(ctx, tx, customer, func(balance decimal.Decimal) decimal.Decimal {
			return balance.Add(invoice.Amount)
		}); err != nil {
			return err
		}

		update := tx.Model(&domain.Invoice{}).
			Where("id = ? AND version = ?", invoice.ID, version).
			Updates(map[string]any{
				"status":             domain.DocumentPartial,
				"outstanding_amount": invoice.Amount,
				"deleted_at":         nil,
				"deleted_by":         nil,
				"version":            gorm.Expr("version + 1"),
				"updated_at":         now,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return domain.Concurrencyf("invoice %s was updated by another user, refresh and retry", id)
		}

		targetID := invoice.ID.String()
		return s.auditSvc.Log(ctx, tx, auditdomain.ActionInvoiceUnvoid, "invoice", &targetID, map[string]any{
			"amount": invoice.Amount.String(),
		})
	})
}
