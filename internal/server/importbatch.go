package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hochk2019/congno/internal/importer"
	"github.com/hochk2019/congno/internal/receivable/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type stagedRowRequest struct {
	CustomerTaxCode string          `json:"customer_tax_code"`
	CustomerName    string          `json:"customer_name"`
	InvoiceSeries   string          `json:"invoice_series"`
	InvoiceNo       string          `json:"invoice_no"`
	DocumentNo      *string         `json:"document_no"`
	DocumentDate    time.Time       `json:"document_date"`
	DueDate         *time.Time      `json:"due_date"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method"`
	Description     string          `json:"description"`
	Skip            bool            `json:"skip"`
}

type stageBatchRequest struct {
	SellerTaxCode string             `json:"seller_tax_code"`
	Kind          string             `json:"kind"`
	Rows          []stagedRowRequest `json:"rows"`
}

func (s *Server) StageImportBatch(c *gin.Context) {
	var req stageBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rows := make([]importer.StagedRow, 0, len(req.Rows))
	for _, r := range req.Rows {
		rows = append(rows, importer.StagedRow{
			CustomerTaxCode: r.CustomerTaxCode,
			CustomerName:    r.CustomerName,
			InvoiceSeries:   r.InvoiceSeries,
			InvoiceNo:       r.InvoiceNo,
			DocumentNo:      r.DocumentNo,
			DocumentDate:    r.DocumentDate,
			DueDate:         r.DueDate,
			Amount:          r.Amount,
			Method:          domain.PaymentMethod(r.Method),
			Description:     r.Description,
			Skip:            r.Skip,
		})
	}

	batch, err := s.importer.StageBatch(c.Request.Context(), req.SellerTaxCode, importer.BatchKind(req.Kind), rows)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": batch})
}

func (s *Server) GetImportBatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	batch, err := s.importer.GetBatch(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": batch})
}

type commitBatchRequest struct {
	OverridePeriodLock bool   `json:"override_period_lock"`
	OverrideReason     string `json:"override_reason"`
}

func (s *Server) CommitImportBatch(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req commitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	summary, err := s.importer.Commit(c.Request.Context(), importer.CommitRequest{
		BatchID:            id,
		OverridePeriodLock: req.OverridePeriodLock,
		OverrideReason:     req.OverrideReason,
		Progress: func(step string, percent int) {
			s.log.Debug("import commit progress",
				zap.String("batch_id", id.String()),
				zap.String("step", step),
				zap.Int("percent", percent),
			)
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}
