package domain

import (
	"errors"
	"testing"

	"github.com/hochk2019/congno/internal/allocation"
	"github.com/hochk2019/congno/internal/observability/metrics"
)

func TestOutcomeOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, metrics.OutcomeOK},
		{"validation", Validationf("amount must be positive"), metrics.OutcomeValidation},
		{"stale selection", allocation.ErrUnknownTarget, metrics.OutcomeValidation},
		{"empty selection", allocation.ErrEmptySelection, metrics.OutcomeValidation},
		{"not found", NotFoundf("receipt %d", 1), metrics.OutcomeNotFound},
		{"concurrency", Concurrencyf("stale version"), metrics.OutcomeConcurrency},
		{"unauthorized", Unauthorizedf("not owner"), metrics.OutcomeUnauthorized},
		{"period locked", PeriodLockedf("MONTH:2024-05"), metrics.OutcomePeriodLocked},
		{"invalid state", InvalidStatef("already approved"), metrics.OutcomeInvalidState},
		{"invariant", Invariantf("sum mismatch"), metrics.OutcomeInvariant},
		{"unknown", errors.New("boom"), metrics.OutcomeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := OutcomeOf(tc.err); got != tc.want {
				t.Fatalf("OutcomeOf(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}
