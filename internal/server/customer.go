package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/hochk2019/congno/internal/receivable/service"
)

type registerCustomerRequest struct {
	SellerTaxCode string  `json:"seller_tax_code"`
	TaxCode       string  `json:"tax_code"`
	Name          string  `json:"name"`
	OwnerUserID   *string `json:"owner_user_id"`
}

func (s *Server) RegisterCustomer(c *gin.Context) {
	var req registerCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var owner *snowflake.ID
	if req.OwnerUserID != nil {
		id, err := snowflake.ParseString(*req.OwnerUserID)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		owner = &id
	}

	customer, err := s.receivable.RegisterCustomer(c.Request.Context(), service.RegisterCustomerRequest{
		SellerTaxCode: req.SellerTaxCode,
		TaxCode:       req.TaxCode,
		Name:          req.Name,
		OwnerUserID:   owner,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": customer})
}

func (s *Server) GetCustomer(c *gin.Context) {
	customer, err := s.receivable.GetCustomer(c.Request.Context(), c.Query("seller_tax_code"), c.Param("taxCode"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": customer})
}

func (s *Server) ListCustomers(c *gin.Context) {
	customers, err := s.receivable.ListCustomers(c.Request.Context(), c.Query("seller_tax_code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": customers})
}

type assignOwnerRequest struct {
	SellerTaxCode string  `json:"seller_tax_code"`
	OwnerUserID   *string `json:"owner_user_id"`
}

func (s *Server) AssignOwner(c *gin.Context) {
	var req assignOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var owner *snowflake.ID
	if req.OwnerUserID != nil {
		id, err := snowflake.ParseString(*req.OwnerUserID)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		owner = &id
	}

	if err := s.receivable.AssignOwner(c.Request.Context(), req.SellerTaxCode, c.Param("taxCode"), owner); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"tax_code": c.Param("taxCode")}})
}
