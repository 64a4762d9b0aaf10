package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hochk2019/congno/internal/receivable/service"
	"github.com/shopspring/decimal"
)

type createInvoiceRequest struct {
	SellerTaxCode      string          `json:"seller_tax_code"`
	CustomerTaxCode    string          `json:"customer_tax_code"`
	InvoiceSeries      string          `json:"invoice_series"`
	InvoiceNo          string          `json:"invoice_no"`
	IssueDate          time.Time       `json:"issue_date"`
	DueDate            *time.Time      `json:"due_date"`
	Amount             decimal.Decimal `json:"amount"`
	Description        string          `json:"description"`
	OverridePeriodLock bool            `json:"override_period_lock"`
	OverrideReason     string          `json:"override_reason"`
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.receivable.CreateInvoice(c.Request.Context(), service.CreateInvoiceRequest{
		SellerTaxCode:      req.SellerTaxCode,
		CustomerTaxCode:    req.CustomerTaxCode,
		InvoiceSeries:      req.InvoiceSeries,
		InvoiceNo:          req.InvoiceNo,
		IssueDate:          req.IssueDate,
		DueDate:            req.DueDate,
		Amount:             req.Amount,
		Description:        req.Description,
		OverridePeriodLock: req.OverridePeriodLock,
		OverrideReason:     req.OverrideReason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) GetInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	invoice, err := s.receivable.GetInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) ListInvoices(c *gin.Context) {
	invoices, err := s.receivable.ListInvoices(c.Request.Context(), c.Query("seller_tax_code"), c.Query("customer_tax_code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

type voidRequest struct {
	Version int64  `json:"version"`
	Reason  string `json:"reason"`
}

func (s *Server) VoidInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req voidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.receivable.VoidInvoice(c.Request.Context(), id, req.Version, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id.String(), "status": "VOID"}})
}

type unvoidRequest struct {
	Version int64 `json:"version"`
}

func (s *Server) UnvoidInvoice(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req unvoidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.receivable.UnvoidInvoice(c.Request.Context(), id, req.Version); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id.String(), "status": "PARTIAL"}})
}

type createAdvanceRequest struct {
	SellerTaxCode   string          `json:"seller_tax_code"`
	CustomerTaxCode string          `json:"customer_tax_code"`
	DocumentNo      *string         `json:"document_no"`
	DocumentDate    time.Time       `json:"document_date"`
	DueDate         *time.Time      `json:"due_date"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
}

func (s *Server) CreateAdvance(c *gin.Context) {
	var req createAdvanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	advance, err := s.receivable.CreateAdvance(c.Request.Context(), service.CreateAdvanceRequest{
		SellerTaxCode:   req.SellerTaxCode,
		CustomerTaxCode: req.CustomerTaxCode,
		DocumentNo:      req.DocumentNo,
		DocumentDate:    req.DocumentDate,
		DueDate:         req.DueDate,
		Amount:          req.Amount,
		Description:     req.Description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": advance})
}

func (s *Server) GetAdvance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	advance, err := s.receivable.GetAdvance(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": advance})
}

func (s *Server) ListAdvances(c *gin.Context) {
	advances, err := s.receivable.ListAdvances(c.Request.Context(), c.Query("seller_tax_code"), c.Query("customer_tax_code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": advances})
}

type approveAdvanceRequest struct {
	Version            int64  `json:"version"`
	OverridePeriodLock bool   `json:"override_period_lock"`
	OverrideReason     string `json:"override_reason"`
}

func (s *Server) ApproveAdvance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req approveAdvanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.receivable.ApproveAdvance(c.Request.Context(), service.ApproveAdvanceRequest{
		ID:                 id,
		Version:            req.Version,
		OverridePeriodLock: req.OverridePeriodLock,
		OverrideReason:     req.OverrideReason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) VoidAdvance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req voidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.receivable.VoidAdvance(c.Request.Context(), id, req.Version, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id.String(), "status": "VOID"}})
}

func (s *Server) UnvoidAdvance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req unvoidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.receivable.UnvoidAdvance(c.Request.Context(), id, req.Version); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id.String(), "status": "DRAFT"}})
}

type updateAdvanceRequest struct {
	Version     int64   `json:"version"`
	Description string  `json:"description"`
	DocumentNo  *string `json:"document_no"`
}

func (s *Server) UpdateAdvance(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateAdvanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := s.receivable.UpdateAdvance(c.Request.Context(), id, req.Version, req.Description, req.DocumentNo); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id.String()}})
}
