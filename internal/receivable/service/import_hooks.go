package service

import (
	"context"
	"errors"
	"time"

	"github.com/hochk2019/congno/internal/allocation"
	"github.com/hochk2019/congno/internal/receivable/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// The *Tx helpers below run inside a transaction owned by the caller. The
// import commit uses them so bulk-inserted documents move balances and pull
// receipt credit through exactly the same code path as the interactive
// workflows.

// EnsureCustomerTx loads a customer, creating it when the import file names
// a customer the ledger has not seen yet.
func (s *Service) EnsureCustomerTx(ctx context.Context, tx *gorm.DB, sellerTaxCode, taxCode, name string) (*domain.Customer, error) {
	var customer domain.Customer
	err := tx.WithContext(ctx).
		Where("seller_tax_code = ? AND tax_code = ?", sellerTaxCode, taxCode).
		First(&customer).Error
	if err == nil {
		return &customer, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	customer = domain.Customer{
		ID:             s.genID.Generate(),
		SellerTaxCode:  sellerTaxCode,
		TaxCode:        taxCode,
		Name:           name,
		CurrentBalance: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.WithContext(ctx).Create(&customer).Error; err != nil {
		return nil, err
	}
	return &customer, nil
}

// InvoiceExistsTx reports whether a non-void invoice with the identity tuple
// already exists, for import de-duplication.
func (s *Service) InvoiceExistsTx(ctx context.Context, tx *gorm.DB, sellerTaxCode, customerTaxCode, series, no string, issueDate time.Time) (bool, error) {
	return s.invoiceExists(ctx, tx, sellerTaxCode, customerTaxCode, series, no, issueDate)
}

// ActivateInvoiceTx inserts an invoice as open debt, raises the balance, and
// runs the pull mechanism. Returns how much receipt credit was pulled.
func (s *Service) ActivateInvoiceTx(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, now time.Time) (decimal.Decimal, error) {
	invoice.OutstandingAmount = invoice.Amount
	invoice.Status = domain.DocumentPartial
	invoice.CreatedAt = now
	invoice.UpdatedAt = now
	if err := tx.WithContext(ctx).Create(invoice).Error; err != nil {
		return decimal.Zero, err
	}

	pull, err := s.pullFromUnallocatedReceipts(
		ctx, tx,
		invoice.SellerTaxCode, invoice.CustomerTaxCode,
		domain.TargetInvoice, invoice.ID,
		invoice.Amount, now,
	)
	if err != nil {
		return decimal.Zero, err
	}
	if pull.Pulled.GreaterThan(decimal.Zero) {
		status := domain.DocumentPartial
		if pull.Outstanding.IsZero() {
			status = domain.DocumentPaid
		}
		if err := tx.WithContext(ctx).Model(&domain.Invoice{}).
			Where("id = ?", invoice.ID).
			Updates(map[string]any{
				"outstanding_amount": pull.Outstanding,
				"status":             status,
				"version":            gorm.Expr("version + 1"),
				"updated_at":         now,
			}).Error; err != nil {
			return decimal.Zero, err
		}
	}

	customer, err := s.EnsureCustomerTx(ctx, tx, invoice.SellerTaxCode, invoice.CustomerTaxCode, "")
	if err != nil {
		return decimal.Zero, err
	}
	err = s.adjustCustomerBalance(ctx, tx, customer, func(balance decimal.Decimal) decimal.Decimal {
		return balance.Add(invoice.Amount)
	})
	return pull.Pulled, err
}

// ActivateAdvanceTx inserts an advance directly in its active state, raises
// the balance, and runs the pull mechanism.
func (s *Service) ActivateAdvanceTx(ctx context.Context, tx *gorm.DB, advance *domain.Advance, now time.Time) (decimal.Decimal, error) {
	advance.OutstandingAmount = advance.Amount
	advance.Status = domain.DocumentApproved
	advance.CreatedAt = now
	advance.UpdatedAt = now
	if err := tx.WithContext(ctx).Create(advance).Error; err != nil {
		return decimal.Zero, err
	}

	pull, err := s.pullFromUnallocatedReceipts(
		ctx, tx,
		advance.SellerTaxCode, advance.CustomerTaxCode,
		domain.TargetAdvance, advance.ID,
		advance.Amount, now,
	)
	if err != nil {
		return decimal.Zero, err
	}
	status := domain.DocumentApproved
	if pull.Outstanding.IsZero() {
		status = domain.DocumentPaid
	}
	if err := tx.WithContext(ctx).Model(&domain.Advance{}).
		Where("id = ?", advance.ID).
		Updates(map[string]any{
			"outstanding_amount": pull.Outstanding,
			"status":             status,
			"version":            gorm.Expr("version + 1"),
			"updated_at":         now,
		}).Error; err != nil {
		return decimal.Zero, err
	}

	customer, err := s.EnsureCustomerTx(ctx, tx, advance.SellerTaxCode, advance.CustomerTaxCode, "")
	if err != nil {
		return decimal.Zero, err
	}
	err = s.adjustCustomerBalance(ctx, tx, customer, func(balance decimal.Decimal) decimal.Decimal {
		return balance.Add(advance.Amount)
	})
	return pull.Pulled, err
}

// RecordImportedReceiptTx inserts an already-settled receipt whose whole
// amount sits as unapplied credit. The balance drops immediately; later debt
// activations pull from the credit.
func (s *Service) RecordImportedReceiptTx(ctx context.Context, tx *gorm.DB, receipt *domain.Receipt, now time.Time) error {
	receipt.Status = domain.ReceiptApproved
	receipt.UnallocatedAmount = receipt.Amount
	receipt.AllocationStatus = domain.AllocationUnallocated
	if receipt.AllocationMode == "" {
		receipt.AllocationMode = allocation.ModeFIFO
	}
	if receipt.AllocationPriority == "" {
		receipt.AllocationPriority = domain.PriorityIssueDate
	}
	if receipt.AllocationTargets == nil {
		receipt.AllocationTargets = datatypes.NewJSONSlice([]domain.TargetRef{})
	}
	receipt.CreatedAt = now
	receipt.UpdatedAt = now
	if err := tx.WithContext(ctx).Create(receipt).Error; err != nil {
		return err
	}

	customer, err := s.EnsureCustomerTx(ctx, tx, receipt.SellerTaxCode, receipt.CustomerTaxCode, "")
	if err != nil {
		return err
	}
	return s.adjustCustomerBalance(ctx, tx, customer, func(balance decimal.Decimal) decimal.Decimal {
		return balance.Sub(receipt.Amount)
	})
}
