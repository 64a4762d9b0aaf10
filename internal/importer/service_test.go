package importer

import (
	"context"
	"errors"
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
	ledger "github.com/hochk2019/congno/internal/receivable/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	testSeller   = "0100000001"
	testCustomer = "0309000002"
)

var testNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	guard  *periodlock.Guard
	ledger *ledger.Service
	svc    *Service
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
		&ImportBatch{},
		&ImportRow{},
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
	fixedClock := clock.Fixed{At: testNow}

	ledgerSvc := ledger.NewService(ledger.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fixedClock,
		Guard:    guard,
		AuditSvc: auditSvc,
		Outbox:   outbox,
	})
	svc := NewService(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fixedClock,
		Guard:    guard,
		AuditSvc: auditSvc,
		Ledger:   ledgerSvc,
	})
	return &fixture{db: db, node: node, guard: guard, ledger: ledgerSvc, svc: svc}
}

func chiefCtx() context.Context {
	return identity.WithActor(context.Background(), identity.Actor{
		UserID:   200,
		Username: "chief",
		Roles:    []string{identity.RoleChiefAccountant},
	})
}

func invoiceRow(no string, amount int64, date time.Time) StagedRow {
	return StagedRow{
		CustomerTaxCode: testCustomer,
		CustomerName:    "Cong ty TNHH Thanh Cong",
		InvoiceSeries:   "1C24TAB",
		InvoiceNo:       no,
		DocumentDate:    date,
		Amount:          decimal.NewFromInt(amount),
	}
}

type progressCapture struct {
	steps    []string
	percents []int
}

func (p *progressCapture) fn(step string, percent int) {
	p.steps = append(p.steps, step)
	p.percents = append(p.percents, percent)
}

func TestCommitInvoiceBatchDeduplicates(t *testing.T) {
	f := newFixture(t)
	issue := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	// One invoice already in the ledger with the same identity tuple.
	if _, err := f.ledger.CreateInvoice(chiefCtx(), ledger.CreateInvoiceRequest{
		SellerTaxCode:   testSeller,
		CustomerTaxCode: testCustomer,
		InvoiceSeries:   "1C24TAB",
		InvoiceNo:       "00000001",
		IssueDate:       issue,
		Amount:          decimal.NewFromInt(100_000),
	}); err != nil {
		t.Fatalf("seed existing invoice: %v", err)
	}

	batch, err := f.svc.StageBatch(chiefCtx(), testSeller, KindInvoice, []StagedRow{
		invoiceRow("00000001", 100_000, issue),  // duplicate of the persisted invoice
		invoiceRow("00000002", 200_000, issue),  // survives
		invoiceRow("00000002", 200_000, issue),  // in-batch duplicate
		invoiceRow("00000003", 300_000, issue),  // survives
		{CustomerTaxCode: testCustomer, InvoiceNo: "00000004", DocumentDate: issue, Amount: decimal.NewFromInt(50_000), Skip: true},
	})
	if err != nil {
		t.Fatalf("stage batch: %v", err)
	}

	capture := &progressCapture{}
	summary, err := f.svc.Commit(chiefCtx(), CommitRequest{BatchID: batch.ID, Progress: capture.fn})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if summary.EligibleRows != 4 || summary.CommittedRows != 2 || summary.SkippedRows != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.InsertedInvoices != 2 {
		t.Fatalf("want 2 inserted invoices, got %d", summary.InsertedInvoices)
	}

	wantSteps := []string{StepValidation, StepDedupe, StepApplyRows, StepFinalize}
	if len(capture.steps) != len(wantSteps) {
		t.Fatalf("want %d progress steps, got %v", len(wantSteps), capture.steps)
	}
	for i, step := range wantSteps {
		if capture.steps[i] != step {
			t.Fatalf("step %d: want %s, got %s", i, step, capture.steps[i])
		}
	}
	for i := 1; i < len(capture.percents); i++ {
		if capture.percents[i] < capture.percents[i-1] {
			t.Fatalf("progress went backwards: %v", capture.percents)
		}
	}
	if capture.percents[len(capture.percents)-1] != 100 {
		t.Fatalf("want final percent 100, got %v", capture.percents)
	}

	var invoiceCount int64
	if err := f.db.Model(&domain.Invoice{}).Count(&invoiceCount).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if invoiceCount != 3 { // 1 seeded + 2 committed
		t.Fatalf("want 3 invoices, got %d", invoiceCount)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	f := newFixture(t)
	issue := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	batch, err := f.svc.StageBatch(chiefCtx(), testSeller, KindInvoice, []StagedRow{
		invoiceRow("00000010", 100_000, issue),
	})
	if err != nil {
		t.Fatalf("stage batch: %v", err)
	}

	first, err := f.svc.Commit(chiefCtx(), CommitRequest{BatchID: batch.ID})
	if err != nil {
		t.Fatalf("first commit: %v", err)
	}

	capture := &progressCapture{}
	second, err := f.svc.Commit(chiefCtx(), CommitRequest{BatchID: batch.ID, Progress: capture.fn})
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if *second != *first {
		t.Fatalf("want cached summary %+v, got %+v", first, second)
	}
	if len(capture.steps) != 0 {
		t.Fatalf("cached commit must not report progress, got %v", capture.steps)
	}

	var invoiceCount int64
	if err := f.db.Model(&domain.Invoice{}).Count(&invoiceCount).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if invoiceCount != 1 {
		t.Fatalf("second commit wrote rows: %d invoices", invoiceCount)
	}

	var auditCount int64
	if err := f.db.Model(&auditdomain.AuditLog{}).
		Where("action = ?", auditdomain.ActionImportCommit).
		Count(&auditCount).Error; err != nil {
		t.Fatalf("count audit: %v", err)
	}
	if auditCount != 1 {
		t.Fatalf("want 1 import.commit audit record, got %d", auditCount)
	}
}

func TestCommitHonorsPeriodLock(t *testing.T) {
	f := newFixture(t)
	if _, err := f.guard.Lock(chiefCtx(), periodlock.PeriodMonth, "2024-05"); err != nil {
		t.Fatalf("lock period: %v", err)
	}

	batch, err := f.svc.StageBatch(chiefCtx(), testSeller, KindInvoice, []StagedRow{
		invoiceRow("00000020", 100_000, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("stage batch: %v", err)
	}

	_, err = f.svc.Commit(chiefCtx(), CommitRequest{BatchID: batch.ID})
	if !errors.Is(err, domain.ErrPeriodLocked) {
		t.Fatalf("want PeriodLocked, got %v", err)
	}

	summary, err := f.svc.Commit(chiefCtx(), CommitRequest{
		BatchID:            batch.ID,
		OverridePeriodLock: true,
		OverrideReason:     "backfill of May invoices",
	})
	if err != nil {
		t.Fatalf("commit with override: %v", err)
	}
	if summary.CommittedRows != 1 {
		t.Fatalf("want 1 committed row, got %d", summary.CommittedRows)
	}

	var overrideCount int64
	if err := f.db.Model(&auditdomain.AuditLog{}).
		Where("action = ?", auditdomain.ActionPeriodLockOverride).
		Count(&overrideCount).Error; err != nil {
		t.Fatalf("count audit: %v", err)
	}
	if overrideCount != 1 {
		t.Fatalf("want 1 override audit record, got %d", overrideCount)
	}
}

func TestCommitReceiptBatchStoresCredit(t *testing.T) {
	f := newFixture(t)

	batch, err := f.svc.StageBatch(chiefCtx(), testSeller, KindReceipt, []StagedRow{
		{
			CustomerTaxCode: testCustomer,
			CustomerName:    "Cong ty TNHH Thanh Cong",
			DocumentDate:    time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
			Amount:          decimal.NewFromInt(250_000),
			Method:          domain.MethodBank,
		},
	})
	if err != nil {
		t.Fatalf("stage batch: %v", err)
	}

	summary, err := f.svc.Commit(chiefCtx(), CommitRequest{BatchID: batch.ID})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if summary.InsertedReceipts != 1 {
		t.Fatalf("want 1 inserted receipt, got %d", summary.InsertedReceipts)
	}

	var receipt domain.Receipt
	if err := f.db.Where("customer_tax_code = ?", testCustomer).First(&receipt).Error; err != nil {
		t.Fatalf("load receipt: %v", err)
	}
	if receipt.Status != domain.ReceiptApproved {
		t.Fatalf("want imported receipt APPROVED, got %s", receipt.Status)
	}
	if !receipt.UnallocatedAmount.Equal(decimal.NewFromInt(250_000)) {
		t.Fatalf("want full amount unallocated, got %s", receipt.UnallocatedAmount)
	}

	customer, err := f.ledger.GetCustomer(context.Background(), testSeller, testCustomer)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !customer.CurrentBalance.Equal(decimal.NewFromInt(-250_000)) {
		t.Fatalf("want balance -250000, got %s", customer.CurrentBalance)
	}

	// A later advance batch pulls from the imported credit.
	advBatch, err := f.svc.StageBatch(chiefCtx(), testSeller, KindAdvance, []StagedRow{
		{
			CustomerTaxCode: testCustomer,
			DocumentDate:    time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC),
			Amount:          decimal.NewFromInt(200_000),
		},
	})
	if err != nil {
		t.Fatalf("stage advance batch: %v", err)
	}
	if _, err := f.svc.Commit(chiefCtx(), CommitRequest{BatchID: advBatch.ID}); err != nil {
		t.Fatalf("commit advance batch: %v", err)
	}

	var advance domain.Advance
	if err := f.db.Where("customer_tax_code = ?", testCustomer).First(&advance).Error; err != nil {
		t.Fatalf("load advance: %v", err)
	}
	if advance.Status != domain.DocumentPaid {
		t.Fatalf("want imported advance PAID via pull, got %s", advance.Status)
	}
	if err := f.db.Where("id = ?", receipt.ID).First(&receipt).Error; err != nil {
		t.Fatalf("reload receipt: %v", err)
	}
	if !receipt.UnallocatedAmount.Equal(decimal.NewFromInt(50_000)) {
		t.Fatalf("want 50000 left after pull, got %s", receipt.UnallocatedAmount)
	}
}
