package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/hochk2019/congno/internal/audit/domain"
	"github.com/hochk2019/congno/internal/identity"
	"github.com/hochk2019/congno/internal/periodlock"
)

type periodLockRequest struct {
	PeriodType string `json:"period_type"`
	PeriodKey  string `json:"period_key"`
}

func (s *Server) requirePrivileged(c *gin.Context) bool {
	actor, ok := identity.ActorFromContext(c.Request.Context())
	if !ok || !actor.IsPrivileged() {
		AbortWithError(c, apiError{
			Status:  http.StatusForbidden,
			Code:    "unauthorized",
			Message: "managing period locks requires a privileged role",
		})
		return false
	}
	return true
}

func (s *Server) LockPeriod(c *gin.Context) {
	if !s.requirePrivileged(c) {
		return
	}
	var req periodLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	lock, err := s.guard.Lock(c.Request.Context(), periodlock.PeriodType(req.PeriodType), req.PeriodKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := lock.ID.String()
	s.auditSvc.LogBestEffort(c.Request.Context(), auditdomain.ActionPeriodLock, "period_lock", &targetID, map[string]any{
		"period_type": req.PeriodType,
		"period_key":  req.PeriodKey,
	})
	c.JSON(http.StatusOK, gin.H{"data": lock})
}

func (s *Server) UnlockPeriod(c *gin.Context) {
	if !s.requirePrivileged(c) {
		return
	}
	var req periodLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.guard.Unlock(c.Request.Context(), periodlock.PeriodType(req.PeriodType), req.PeriodKey); err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditSvc.LogBestEffort(c.Request.Context(), auditdomain.ActionPeriodUnlock, "period_lock", nil, map[string]any{
		"period_type": req.PeriodType,
		"period_key":  req.PeriodKey,
	})
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"period_type": req.PeriodType, "period_key": req.PeriodKey}})
}

func (s *Server) ListPeriodLocks(c *gin.Context) {
	locks, err := s.guard.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": locks})
}
