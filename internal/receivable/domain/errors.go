package domain

import (
	"errors"
	"fmt"

	"github.com/hochk2019/congno/internal/allocation"
	"github.com/hochk2019/congno/internal/observability/metrics"
)

// Error categories surfaced to callers. Workflows wrap these with a
// human-readable reason via the *f helpers so errors.Is keeps working.
var (
	ErrValidation   = errors.New("validation_failed")
	ErrNotFound     = errors.New("not_found")
	ErrConcurrency  = errors.New("version_conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrPeriodLocked = errors.New("period_locked")
	ErrInvalidState = errors.New("invalid_state")
	ErrInvariant    = errors.New("invariant_violation")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Concurrencyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConcurrency, fmt.Sprintf(format, args...))
}

func Unauthorizedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func PeriodLockedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPeriodLocked, fmt.Sprintf(format, args...))
}

func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func Invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// OutcomeOf maps an error to its metrics outcome category. Allocation engine
// errors are folded into the same taxonomy: everything the engine rejects,
// including a stale manual selection, is bad input from the caller's side.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrValidation),
		errors.Is(err, allocation.ErrInvalidAmount),
		errors.Is(err, allocation.ErrInvalidMode),
		errors.Is(err, allocation.ErrMissingPeriod),
		errors.Is(err, allocation.ErrEmptySelection),
		errors.Is(err, allocation.ErrUnknownTarget):
		return metrics.OutcomeValidation
	case errors.Is(err, ErrNotFound):
		return metrics.OutcomeNotFound
	case errors.Is(err, ErrConcurrency):
		return metrics.OutcomeConcurrency
	case errors.Is(err, ErrUnauthorized):
		return metrics.OutcomeUnauthorized
	case errors.Is(err, ErrPeriodLocked):
		return metrics.OutcomePeriodLocked
	case errors.Is(err, ErrInvalidState):
		return metrics.OutcomeInvalidState
	case errors.Is(err, ErrInvariant):
		return metrics.OutcomeInvariant
	default:
		return metrics.OutcomeError
	}
}
