package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hochk2019/congno/internal/receivable/domain"
	"github.com/shopspring/decimal"
)

// approvedCredit creates an approved receipt with its whole amount left
// unallocated, the precondition for pull-mechanism tests.
func (f *fixture) approvedCredit(t *testing.T, amount int64) *domain.Receipt {
	t.Helper()
	receipt, err := f.svc.CreateReceipt(chiefCtx(), CreateReceiptRequest{
		SellerTaxCode:   testSeller,
		CustomerTaxCode: testCustomer,
		ReceiptDate:     time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("create credit receipt: %v", err)
	}
	if _, err := f.svc.ApproveReceipt(chiefCtx(), ApproveReceiptRequest{ID: receipt.ID, Version: receipt.Version}); err != nil {
		t.Fatalf("approve credit receipt: %v", err)
	}
	approved, err := f.svc.GetReceipt(chiefCtx(), receipt.ID)
	if err != nil {
		t.Fatalf("get credit receipt: %v", err)
	}
	return approved
}

func TestApproveAdvancePullsFromReceiptCredit(t *testing.T) {
	f := newFixture(t)
	f.registerCustomer(t)
	credit := f.approvedCredit(t, 250_000)
	mustEqualDecimal(t, decimal.NewFromInt(250_000), credit.UnallocatedAmount, "credit unallocated")

	advance, err := f.svc.CreateAdvance(chiefCtx(), CreateAdvanceRequest{
		SellerTaxCode:   testSeller,
		CustomerTaxCode: testCustomer,
		DocumentDate:    time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.NewFromInt(200_000),
	})
	if err != nil {
		t.Fatalf("create advance: %v", err)
	}

	result, err := f.svc.ApproveAdvance(chiefCtx(), ApproveAdvanceRequest{ID: advance.ID, Version: advance.Version})
	if err != nil {
		t.Fatalf("approve advance: %v", err)
	}
	mustEqualDecimal(t, decimal.NewFromInt(200_000), result.PulledAmount, "pulled amount")
	if result.Advance.Status != domain.DocumentPaid {
		t.Fatalf("want advance PAID, got %s", result.Advance.Status)
	}
	mustEqualDecimal(t, decimal.Zero, result.Advance.OutstandingAmount, "advance outstanding")

	creditAfter, err := f.svc.GetReceipt(chiefCtx(), credit.ID)
	if err != nil {
		t.Fatalf("get credit receipt: %v", err)
	}
	mustEqualDecimal(t, decimal.NewFromInt(50_000), creditAfter.UnallocatedAmount, "credit unallocated after pull")
	if creditAfter.AllocationStatus != domain.AllocationPartial {
		t.Fatalf("want credit PARTIAL, got %s", creditAfter.AllocationStatus)
	}

	// Receipt sum invariant holds across the pull path too.
	mustEqualDecimal(t,
		creditAfter.Amount.Sub(creditAfter.UnallocatedAmount),
		f.allocationSum(t, domain.TargetAdvance, advance.ID),
		"allocation sum",
	)
	// Balance: -250,000 credit +200,000 advance.
	mustEqualDecimal(t, decimal.NewFromInt(-50_000), f.balance(t), "customer balance")
}

func TestVoidAdvanceWithAllocationsRejected(t *testing.T) {
	f := newFixture(t)
	f.registerCustomer(t)
	f.approvedCredit(t, 250_000)

	advance, err := f.svc.CreateAdvance(chiefCtx(), CreateAdvanceRequest{
		SellerTaxCode:   testSeller,
		CustomerTaxCode: testCustomer,
		DocumentDate:    time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.NewFromInt(200_000),
	})
	if err != nil {
		t.Fatalf("create advance: %v", err)
	}
	result, err := f.svc.ApproveAdvance(chiefCtx(), ApproveAdvanceRequest{ID: advance.ID, Version: advance.Version})
	if err != nil {
		t.Fatalf("approve advance: %v", err)
	}

	before := f.balance(t)
	err = f.svc.VoidAdvance(chiefCtx(), advance.ID, result.Advance.Version, "entered by mistake")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("want InvalidState, got %v", err)
	}
	if !strings.Contains(err.Error(), "has allocations, cannot be voided") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	mustEqualDecimal(t, before, f.balance(t), "balance unchanged")
}

func TestVoidAndUnvoidAdvanceReversesBalance(t *testing.T) {
	f := newFixture(t)
	f.registerCustomer(t)

	advance, err := f.svc.CreateAdvance(chiefCtx(), CreateAdvanceRequest{
		SellerTaxCode:   testSeller,
		CustomerTaxCode: testCustomer,
		DocumentDate:    time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.NewFromInt(150_000),
	})
	if err != nil {
		t.Fatalf("create advance: %v", err)
	}
	result, err := f.svc.ApproveAdvance(chiefCtx(), ApproveAdvanceRequest{ID: advance.ID, Version: advance.Version})
	if err != nil {
		t.Fatalf("approve advance: %v", err)
	}
	mustEqualDecimal(t, decimal.NewFromInt(150_000), f.balance(t), "balance after approve")

	if err := f.svc.VoidAdvance(chiefCtx(), advance.ID, result.Advance.Version, "wrong customer"); err != nil {
		t.Fatalf("void advance: %v", err)
	}
	mustEqualDecimal(t, decimal.Zero, f.balance(t), "balance after void")

	if _, err := f.svc.GetAdvance(chiefCtx(), advance.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want voided advance hidden, got %v", err)
	}

	var voided domain.Advance
	if err := f.db.Where("id = ?", advance.ID).First(&voided).Error; err != nil {
		t.Fatalf("load voided advance: %v", err)
	}
	if voided.DeletedAt == nil || voided.DeletedBy == nil {
		t.Fatalf("want soft-delete metadata set")
	}

	if err := f.svc.UnvoidAdvance(chiefCtx(), advance.ID, voided.Version); err != nil {
		t.Fatalf("unvoid advance: %v", err)
	}
	restored, err := f.svc.GetAdvance(chiefCtx(), advance.ID)
	if err != nil {
		t.Fatalf("get restored advance: %v", err)
	}
	if restored.Status != domain.DocumentDraft {
		t.Fatalf("want DRAFT after unvoid, got %s", restored.Status)
	}
	mustEqualDecimal(t, decimal.NewFromInt(150_000), restored.OutstandingAmount, "restored outstanding")
	// A draft carries no debt yet; the balance moves again on re-approval.
	mustEqualDecimal(t, decimal.Zero, f.balance(t), "balance after unvoid")
}

func TestVoidAdvanceRequiresReason(t *testing.T) {
	f := newFixture(t)
	f.registerCustomer(t)

	advance, err := f.svc.CreateAdvance(chiefCtx(), CreateAdvanceRequest{
		SellerTaxCode:   testSeller,
		CustomerTaxCode: testCustomer,
		DocumentDate:    time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.NewFromInt(150_000),
	})
	if err != nil {
		t.Fatalf("create advance: %v", err)
	}
	if err := f.svc.VoidAdvance(chiefCtx(), advance.ID, advance.Version, "  "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want Validation, got %v", err)
	}
}

func TestApproveAdvanceOnlyFromDraft(t *testing.T) {
	f := newFixture(t)
	f.registerCustomer(t)

	advance, err := f.svc.CreateAdvance(chiefCtx(), CreateAdvanceRequest{
		SellerTaxCode:   testSeller,
		CustomerTaxCode: testCustomer,
		DocumentDate:    time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.NewFromInt(80_000),
	})
	if err != nil {
		t.Fatalf("create advance: %v", err)
	}
	result, err := f.svc.ApproveAdvance(chiefCtx(), ApproveAdvanceRequest{ID: advance.ID, Version: advance.Version})
	if err != nil {
		t.Fatalf("approve advance: %v", err)
	}

	_, err = f.svc.ApproveAdvance(chiefCtx(), ApproveAdvanceRequest{ID: advance.ID, Version: result.Advance.Version})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("want InvalidState, got %v", err)
	}
}

func TestCreateInvoiceRejectsDuplicateTuple(t *testing.T) {
	f := newFixture(t)
	f.registerCustomer(t)
	issue := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f.createInvoice(t, "00000901", issue, 100_000)

	_, err := f.svc.CreateInvoice(chiefCtx(), CreateInvoiceRequest{
		SellerTaxCode:   testSeller,
		CustomerTaxCode: testCustomer,
		InvoiceSeries:   "1C24TAB",
		InvoiceNo:       "00000901",
		IssueDate:       issue,
		Amount:          decimal.NewFromInt(100_000),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("want Validation, got %v", err)
	}
}

func TestCreateInvoicePullsExistingCredit(t *testing.T) {
	f := newFixture(t)
	f.registerCustomer(t)
	credit := f.approvedCredit(t, 250_000)

	result, err := f.svc.CreateInvoice(chiefCtx(), CreateInvoiceRequest{
		SellerTaxCode:   testSeller,
		CustomerTaxCode: testCustomer,
		InvoiceSeries:   "1C24TAB",
		InvoiceNo:       "00001001",
		IssueDate:       time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC),
		Amount:          decimal.NewFromInt(100_000),
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	mustEqualDecimal(t, decimal.NewFromInt(100_000), result.PulledAmount, "pulled amount")
	if result.Invoice.Status != domain.DocumentPaid {
		t.Fatalf("want invoice PAID on creation, got %s", result.Invoice.Status)
	}

	creditAfter, _ := f.svc.GetReceipt(chiefCtx(), credit.ID)
	mustEqualDecimal(t, decimal.NewFromInt(150_000), creditAfter.UnallocatedAmount, "credit after pull")
	// -250,000 credit +100,000 invoice.
	mustEqualDecimal(t, decimal.NewFromInt(-150_000), f.balance(t), "customer balance")
}

func TestVoidInvoiceWithoutAllocationsReversesBalance(t *testing.T) {
	f := newFixture(t)
	f.registerCustomer(t)
	invoice := f.createInvoice(t, "00001101", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), 120_000)
	mustEqualDecimal(t, decimal.NewFromInt(120_000), f.balance(t), "balance after create")

	if err := f.svc.VoidInvoice(chiefCtx(), invoice.ID, invoice.Version, "duplicate entry"); err != nil {
		t.Fatalf("void invoice: %v", err)
	}
	mustEqualDecimal(t, decimal.Zero, f.balance(t), "balance after void")

	var voided domain.Invoice
	if err := f.db.Where("id = ?", invoice.ID).First(&voided).Error; err != nil {
		t.Fatalf("load voided invoice: %v", err)
	}
	if err := f.svc.UnvoidInvoice(chiefCtx(), invoice.ID, voided.Version); err != nil {
		t.Fatalf("unvoid invoice: %v", err)
	}
	restored, err := f.svc.GetInvoice(chiefCtx(), invoice.ID)
	if err != nil {
		t.Fatalf("get restored invoice: %v", err)
	}
	if restored.Status != domain.DocumentPartial {
		t.Fatalf("want PARTIAL after unvoid, got %s", restored.Status)
	}
	mustEqualDecimal(t, decimal.NewFromInt(120_000), f.balance(t), "balance after unvoid")
}
