package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hochk2019/congno/internal/receivable/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RegisterCustomerRequest registers a customer under a seller. The pair is
// unique; re-registering updates the display name only.
type RegisterCustomerRequest struct {
	SellerTaxCode string
	TaxCode       string
	Name          string
	OwnerUserID   *snowflake.ID
}

// RegisterCustomer creates the (seller, customer) ledger entry that every
// document operation resolves against.
func (s *Service) RegisterCustomer(ctx context.Context, req RegisterCustomerRequest) (customer *domain.Customer, err error) {
	start := time.Now()
	defer func() { s.record("customer.register", start, err) }()

	if _, err = s.requireActor(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SellerTaxCode) == "" || strings.TrimSpace(req.TaxCode) == "" {
		return nil, domain.Validationf("seller and customer tax codes are required")
	}

	now := s.clock.Now()
	var row domain.Customer
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("seller_tax_code = ? AND tax_code = ?", req.SellerTaxCode, req.TaxCode).
			First(&row).Error
		if err == nil {
			updates := map[string]any{"updated_at": now}
			if strings.TrimSpace(req.Name) != "" {
				updates["name"] = strings.TrimSpace(req.Name)
			}
			if req.OwnerUserID != nil {
				updates["owner_user_id"] = *req.OwnerUserID
			}
			return tx.Model(&domain.Customer{}).Where("id = ?", row.ID).Updates(updates).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		row = domain.Customer{
			ID:             s.genID.Generate(),
			SellerTaxCode:  req.SellerTaxCode,
			TaxCode:        req.TaxCode,
			Name:           strings.TrimSpace(req.Name),
			OwnerUserID:    req.OwnerUserID,
			CurrentBalance: decimal.Zero,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return s.loadCustomer(ctx, s.db, req.SellerTaxCode, req.TaxCode)
}

// GetCustomer returns one customer with its running balance.
func (s *Service) GetCustomer(ctx context.Context, sellerTaxCode, taxCode string) (*domain.Customer, error) {
	return s.loadCustomer(ctx, s.db, sellerTaxCode, taxCode)
}

// ListCustomers returns every customer of a seller, largest balance first.
func (s *Service) ListCustomers(ctx context.Context, sellerTaxCode string) ([]domain.Customer, error) {
	var customers []domain.Customer
	err := s.db.WithContext(ctx).
		Where("seller_tax_code = ?", sellerTaxCode).
		Order("current_balance DESC, tax_code ASC").
		Find(&customers).Error
	return customers, err
}

// AssignOwner hands a customer to an accountant. Privileged actors only.
func (s *Service) AssignOwner(ctx context.Context, sellerTaxCode, taxCode string, ownerUserID *snowflake.ID) (err error) {
	start := time.Now()
	defer func() { s.record("customer.assign_owner", start, err) }()

	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	if !actor.IsPrivileged() {
		return domain.Unauthorizedf("only privileged roles can assign customer owners")
	}

	customer, err := s.loadCustomer(ctx, s.db, sellerTaxCode, taxCode)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("id = ?", customer.ID).
		Updates(map[string]any{
			"owner_user_id": ownerUserID,
			"updated_at":    s.clock.Now(),
		}).Error
}
