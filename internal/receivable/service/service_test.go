package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/hochk2019/congno/internal/audit/domain"
	auditrepository "github.com/hochk2019/congno/internal/audit/repository"
	auditservice "github.com/hochk2019/congno/internal/audit/service"
	"github.com/hochk2019/congno/internal/clock"
	"github.com/hochk2019/congno/internal/identity"
	"github.com/hochk2019/congno/internal/notification"
	"github.com/hochk2019/congno/internal/periodlock"
	"github.com/hochk2019/congno/internal/receivable/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	guard *periodlock.Guard
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&identity.User{},
		&domain.Customer{},
		&domain.Invoice{},
		&domain.Advance{},
		&domain.Receipt{},
		&domain.ReceiptAllocation{},
		&periodlock.PeriodLock{},
		&auditdomain.AuditLog{},
		&notification.Notification{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	log := zap.NewNop()
	guard := periodlock.NewGuard(periodlock.Params{DB: db, Log: log, GenID: node})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  auditrepository.Provide(),
	})
	outbox := notification.NewOutbox(db, log, node)

	svc := NewService(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clock.Fixed{At: testNow},
		Guard:    guard,
		AuditSvc: auditSvc,
		Outbox:   outbox,
	})
	return &fixture{db: db, node: node, guard: guard, svc: svc}
}

func accountantCtx() context.Context {
	return identity.WithActor(context.Background(), identity.Actor{
		UserID:   100,
		Username: "lan.nguyen",
		Roles:    []string{identity.RoleAccountant},
	})
}

func chiefCtx() context.Context {
	return identity.WithActor(context.Background(), identity.Actor{
		UserID:   200,
		Username: "chief",
		Roles:    []string{identity.RoleChiefAccountant},
	})
}

const (
	testSeller   = "0100000001"
	testCustomer = "0309000002"
)

func (f *fixture) registerCustomer(t *testing.T) *domain.Customer {
	t.Helper()
	customer, err := f.svc.RegisterCustomer(chiefCtx(), RegisterCustomerRequest{
		SellerTaxCode: testSeller,
		TaxCode:       testCustomer,
		Name:          "Cong ty TNHH Thanh Cong",
	})
	if err != nil {
		t.Fatalf("register customer: %v", err)
	}
	return customer
}

func (f *fixture) createInvoice(t *testing.T, no string, issueDate time.Time, amount int64) *domain.Invoice {
	t.Helper()
	result, err := f.svc.CreateInvoice(chiefCtx(), CreateInvoiceRequest{
		SellerTaxCode:   testSeller,
		CustomerTaxCode: testCustomer,
		InvoiceSeries:   "1C24TAB",
		InvoiceNo:       no,
		IssueDate:       issueDate,
		Amount:          decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("create invoice %s: %v", no, err)
	}
	return result.Invoice
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	customer, err := f.svc.GetCustomer(context.Background(), testSeller, testCustomer)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	return customer.CurrentBalance
}

func (f *fixture) allocationSum(t *testing.T, targetType domain.TargetType, targetID snowflake.ID) decimal.Decimal {
	t.Helper()
	var facts []domain.ReceiptAllocation
	if err := f.db.Where("target_type = ? AND target_id = ?", targetType, targetID).Find(&facts).Error; err != nil {
		t.Fatalf("load allocations: %v", err)
	}
	sum := decimal.Zero
	for _, fact := range facts {
		sum = sum.Add(fact.Amount)
	}
	return sum
}

func (f *fixture) auditCount(t *testing.T, action string) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&auditdomain.AuditLog{}).Where("action = ?", action).Count(&count).Error; err != nil {
		t.Fatalf("count audit logs: %v", err)
	}
	return count
}

func mustEqualDecimal(t *testing.T, want, got decimal.Decimal, label string) {
	t.Helper()
	if !want.Equal(got) {
		t.Fatalf("%s: want %s, got %s", label, want, got)
	}
}
