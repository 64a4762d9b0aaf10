package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hochk2019/congno/internal/allocation"
	"github.com/hochk2019/congno/internal/receivable/domain"
)

func abortStatus(t *testing.T, err error) (int, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	AbortWithError(c, err)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return rec.Code, body.Error.Code
}

func TestAbortWithErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", domain.Validationf("amount must be positive"), http.StatusBadRequest, "validation_failed"},
		{"stale selection is caller input", allocation.ErrUnknownTarget, http.StatusBadRequest, "validation_failed"},
		{"not found", domain.NotFoundf("advance %d", 7), http.StatusNotFound, "not_found"},
		{"concurrency", domain.Concurrencyf("stale version"), http.StatusConflict, "version_conflict"},
		{"unauthorized", domain.Unauthorizedf("not owner"), http.StatusForbidden, "unauthorized"},
		{"period locked", domain.PeriodLockedf("MONTH:2024-05"), http.StatusLocked, "period_locked"},
		{"invalid state", domain.InvalidStatef("already approved"), http.StatusConflict, "invalid_state"},
		{"invariant", domain.Invariantf("sum mismatch"), http.StatusUnprocessableEntity, "invariant_violation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := abortStatus(t, tc.err)
			if status != tc.wantStatus || code != tc.wantCode {
				t.Fatalf("got %d/%s, want %d/%s", status, code, tc.wantStatus, tc.wantCode)
			}
		})
	}
}

func TestAbortWithErrorPassesThroughAPIError(t *testing.T) {
	status, code := abortStatus(t, invalidRequestError())
	if status != http.StatusBadRequest || code != "invalid_request" {
		t.Fatalf("got %d/%s, want 400/invalid_request", status, code)
	}
}
