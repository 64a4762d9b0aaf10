package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hochk2019/congno/internal/allocation"
	"github.com/hochk2019/congno/internal/receivable/domain"
)

// apiError is the JSON error envelope every handler returns.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e apiError) Error() string { return e.Message }

func invalidRequestError() apiError {
	return apiError{Status: http.StatusBadRequest, Code: "invalid_request", Message: "request body or query is malformed"}
}

// AbortWithError maps a workflow error to an HTTP response. The engine's own
// sentinels get the same treatment as the ledger taxonomy so callers see one
// error vocabulary.
func AbortWithError(c *gin.Context, err error) {
	var api apiError
	if errors.As(err, &api) {
		c.AbortWithStatusJSON(api.Status, gin.H{"error": api})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, allocation.ErrInvalidAmount),
		errors.Is(err, allocation.ErrInvalidMode),
		errors.Is(err, allocation.ErrMissingPeriod),
		errors.Is(err, allocation.ErrEmptySelection),
		errors.Is(err, allocation.ErrUnknownTarget):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConcurrency):
		status, code = http.StatusConflict, "version_conflict"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusForbidden, "unauthorized"
	case errors.Is(err, domain.ErrPeriodLocked):
		status, code = http.StatusLocked, "period_locked"
	case errors.Is(err, domain.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrInvariant):
		status, code = http.StatusUnprocessableEntity, "invariant_violation"
	}

	c.AbortWithStatusJSON(status, gin.H{"error": apiError{
		Status:  status,
		Code:    code,
		Message: err.Error(),
	}})
}
