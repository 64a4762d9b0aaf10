package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hochk2019/congno/internal/allocation"
	"github.com/hochk2019/congno/internal/receivable/domain"
	"github.com/hochk2019/congno/internal/receivable/service"
	"github.com/shopspring/decimal"
)

func pathID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return 0, false
	}
	return id, true
}

type targetRefRequest struct {
	TargetID   string `json:"target_id"`
	TargetType string `json:"target_type"`
}

func parseTargetRefs(refs []targetRefRequest) ([]domain.TargetRef, error) {
	out := make([]domain.TargetRef, 0, len(refs))
	for _, ref := range refs {
		id, err := snowflake.ParseString(ref.TargetID)
		if err != nil {
			return nil, domain.Validationf("invalid target id %q", ref.TargetID)
		}
		out = append(out, domain.TargetRef{ID: id, Type: domain.TargetType(ref.TargetType)})
	}
	return out, nil
}

type createReceiptRequest struct {
	SellerTaxCode      string             `json:"seller_tax_code"`
	CustomerTaxCode    string             `json:"customer_tax_code"`
	ReceiptDate        time.Time          `json:"receipt_date"`
	Amount             decimal.Decimal    `json:"amount"`
	Method             string             `json:"method"`
	AllocationMode     string             `json:"allocation_mode"`
	AllocationPriority string             `json:"allocation_priority"`
	AppliedPeriodStart *time.Time         `json:"applied_period_start"`
	Targets            []targetRefRequest `json:"targets"`
	Description        string             `json:"description"`
}

func (s *Server) CreateReceipt(c *gin.Context) {
	var req createReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	targets, err := parseTargetRefs(req.Targets)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	receipt, err := s.receivable.CreateReceipt(c.Request.Context(), service.CreateReceiptRequest{
		SellerTaxCode:      req.SellerTaxCode,
		CustomerTaxCode:    req.CustomerTaxCode,
		ReceiptDate:        req.ReceiptDate,
		Amount:             req.Amount,
		Method:             domain.PaymentMethod(req.Method),
		AllocationMode:     allocation.Mode(req.AllocationMode),
		AllocationPriority: domain.AllocationPriority(req.AllocationPriority),
		AppliedPeriodStart: req.AppliedPeriodStart,
		Targets:            targets,
		Description:        req.Description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": receipt})
}

func (s *Server) GetReceipt(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	receipt, err := s.receivable.GetReceipt(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": receipt})
}

func (s *Server) ListReceipts(c *gin.Context) {
	receipts, err := s.receivable.ListReceipts(c.Request.Context(), c.Query("seller_tax_code"), c.Query("customer_tax_code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": receipts})
}

type previewAllocationRequest struct {
	Selection []targetRefRequest `json:"selection"`
}

func (s *Server) PreviewAllocation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req previewAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	selection, err := parseTargetRefs(req.Selection)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	outcome, err := s.receivable.PreviewAllocation(c.Request.Context(), id, selection)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": outcome})
}

type approveReceiptRequest struct {
	Version            int64              `json:"version"`
	Selection          []targetRefRequest `json:"selection"`
	OverridePeriodLock bool               `json:"override_period_lock"`
	OverrideReason     string             `json:"override_reason"`
}

func (s *Server) ApproveReceipt(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req approveReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	selection, err := parseTargetRefs(req.Selection)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	outcome, err := s.receivable.ApproveReceipt(c.Request.Context(), service.ApproveReceiptRequest{
		ID:                 id,
		Version:            req.Version,
		Selection:          selection,
		OverridePeriodLock: req.OverridePeriodLock,
		OverrideReason:     req.OverrideReason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": outcome})
}
