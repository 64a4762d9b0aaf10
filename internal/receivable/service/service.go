package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditservice "github.com/hochk2019/congno/internal/audit/service"
	"github.com/hochk2019/congno/internal/allocation"
	"github.com/hochk2019/congno/internal/clock"
	"github.com/hochk2019/congno/internal/identity"
	"github.com/hochk2019/congno/internal/notification"
	"github.com/hochk2019/congno/internal/observability/metrics"
	"github.com/hochk2019/congno/internal/periodlock"
	"github.com/hochk2019/congno/internal/receivable/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Guard    *periodlock.Guard
	AuditSvc auditservice.Service
	Outbox   *notification.Outbox
}

// Service implements the receivables workflows: receipt push allocation,
// debt-document lifecycle with pull allocation, and the shared primitives
// both entry points ride on.
type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	guard    *periodlock.Guard
	auditSvc auditservice.Service
	outbox   *notification.Outbox
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("receivable.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		guard:    p.Guard,
		auditSvc: p.AuditSvc,
		outbox:   p.Outbox,
	}
}

func (s *Service) requireActor(ctx context.Context) (identity.Actor, error) {
	actor, ok := identity.ActorFromContext(ctx)
	if !ok {
		return identity.Actor{}, domain.Unauthorizedf("no actor on request")
	}
	return actor, nil
}

func (s *Service) loadCustomer(ctx context.Context, db *gorm.DB, sellerTaxCode, customerTaxCode string) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).
		Where("seller_tax_code = ? AND tax_code = ?", sellerTaxCode, customerTaxCode).
		First(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.Validationf("customer %s is not registered for seller %s", customerTaxCode, sellerTaxCode)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// authorizeCustomer allows privileged actors, and otherwise only the
// customer's assigned owner.
func (s *Service) authorizeCustomer(actor identity.Actor, customer *domain.Customer) error {
	if actor.IsPrivileged() {
		return nil
	}
	if customer.OwnerUserID != nil && int64(*customer.OwnerUserID) == actor.UserID {
		return nil
	}
	return domain.Unauthorizedf("customer %s is not assigned to %s", customer.TaxCode, actor.Username)
}

// openCandidates loads every open debt document for the pair, as allocation
// candidates. The reference date follows the receipt's allocation priority:
// due date ordering falls back to the issue date when no due date is set.
func (s *Service) openCandidates(ctx context.Context, db *gorm.DB, sellerTaxCode, customerTaxCode string, priority domain.AllocationPriority) ([]allocation.Candidate, error) {
	var invoices []domain.Invoice
	err := db.WithContext(ctx).
		Where("seller_tax_code = ? AND customer_tax_code = ?", sellerTaxCode, customerTaxCode).
		Where("status = ? AND outstanding_amount > 0 AND deleted_at IS NULL", domain.DocumentPartial).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}

	var advances []domain.Advance
	err = db.WithContext(ctx).
		Where("seller_tax_code = ? AND customer_tax_code = ?", sellerTaxCode, customerTaxCode).
		Where("status = ? AND outstanding_amount > 0 AND deleted_at IS NULL", domain.DocumentApproved).
		Find(&advances).Error
	if err != nil {
		return nil, err
	}

	candidates := make([]allocation.Candidate, 0, len(invoices)+len(advances))
	for _, inv := range invoices {
		ref := inv.IssueDate
		if priority == domain.PriorityDueDate && inv.DueDate != nil {
			ref = *inv.DueDate
		}
		candidates = append(candidates, allocation.Candidate{
			ID:            inv.ID,
			Type:          domain.TargetInvoice,
			DocumentNo:    inv.InvoiceSeries + inv.InvoiceNo,
			ReferenceDate: ref,
			Outstanding:   inv.OutstandingAmount,
		})
	}
	for _, adv := range advances {
		ref := adv.DocumentDate
		if priority == domain.PriorityDueDate && adv.DueDate != nil {
			ref = *adv.DueDate
		}
		documentNo := ""
		if adv.DocumentNo != nil {
			documentNo = *adv.DocumentNo
		}
		candidates = append(candidates, allocation.Candidate{
			ID:            adv.ID,
			Type:          domain.TargetAdvance,
			DocumentNo:    documentNo,
			ReferenceDate: ref,
			Outstanding:   adv.OutstandingAmount,
		})
	}
	return candidates, nil
}

func (s *Service) adjustCustomerBalance(ctx context.Context, tx *gorm.DB, customer *domain.Customer, delta func(current decimal.Decimal) decimal.Decimal) error {
	var row domain.Customer
	if err := tx.WithContext(ctx).
		Where("id = ?", customer.ID).
		First(&row).Error; err != nil {
		return err
	}
	next := delta(row.CurrentBalance)
	return tx.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"current_balance": next,
			"updated_at":      s.clock.Now(),
		}).Error
}

// record emits the outcome counter for a workflow operation. Metric failures
// never surface to the caller.
func (s *Service) record(operation string, start time.Time, err error) {
	metrics.Outcomes().Record(operation, domain.OutcomeOf(err), time.Since(start).Seconds())
}
