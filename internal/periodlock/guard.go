package periodlock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hochk2019/congno/internal/identity"
	"github.com/hochk2019/congno/internal/receivable/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Override carries the caller's period-lock override request.
type Override struct {
	Requested bool
	Reason    string
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

// Guard resolves which accounting periods an operation touches and enforces
// the override contract for locked ones.
type Guard struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewGuard(p Params) *Guard {
	return &Guard{db: p.DB, log: p.Log.Named("periodlock.guard"), genID: p.GenID}
}

// LockedPeriods returns the "TYPE:KEY" identifiers of every locked period any
// of the given dates falls into, sorted for deterministic display.
func (g *Guard) LockedPeriods(ctx context.Context, dates []time.Time) ([]string, error) {
	type pair struct {
		Type PeriodType
		Key  string
	}
	wanted := map[pair]struct{}{}
	for _, d := range dates {
		if d.IsZero() {
			continue
		}
		wanted[pair{PeriodMonth, MonthKey(d)}] = struct{}{}
		wanted[pair{PeriodQuarter, QuarterKey(d)}] = struct{}{}
		wanted[pair{PeriodYear, YearKey(d)}] = struct{}{}
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	var rows []PeriodLock
	if err := g.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}

	var locked []string
	for _, row := range rows {
		if _, ok := wanted[pair{row.PeriodType, row.PeriodKey}]; ok {
			locked = append(locked, fmt.Sprintf("%s:%s", row.PeriodType, row.PeriodKey))
		}
	}
	sort.Strings(locked)
	return locked, nil
}

// RequireOverride enforces the override contract for an operation touching
// locked periods. It returns nil when no period is locked, or when the actor
// is privileged, requested the override, and supplied a reason.
func (g *Guard) RequireOverride(ctx context.Context, action string, locked []string, override Override) error {
	if len(locked) == 0 {
		return nil
	}
	if !override.Requested {
		return domain.PeriodLockedf("Period is locked for %s: %s", action, strings.Join(locked, ", "))
	}
	actor, ok := identity.ActorFromContext(ctx)
	if !ok || !actor.IsPrivileged() {
		return domain.Unauthorizedf("period lock override requires a privileged role")
	}
	if strings.TrimSpace(override.Reason) == "" {
		return domain.Validationf("period lock override requires a reason")
	}
	return nil
}

// Lock closes the period containing the given key.
func (g *Guard) Lock(ctx context.Context, periodType PeriodType, periodKey string) (*PeriodLock, error) {
	periodKey = strings.TrimSpace(periodKey)
	if periodKey == "" {
		return nil, domain.Validationf("period key is required")
	}
	switch periodType {
	case PeriodMonth, PeriodQuarter, PeriodYear:
	default:
		return nil, domain.Validationf("unknown period type %q", periodType)
	}

	lockedBy := ""
	if actor, ok := identity.ActorFromContext(ctx); ok {
		lockedBy = actor.Username
	}
	row := PeriodLock{
		ID:         g.genID.Generate(),
		PeriodType: periodType,
		PeriodKey:  periodKey,
		LockedBy:   lockedBy,
		CreatedAt:  time.Now().UTC(),
	}
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Unlock reopens a period.
func (g *Guard) Unlock(ctx context.Context, periodType PeriodType, periodKey string) error {
	return g.db.WithContext(ctx).
		Where("period_type = ? AND period_key = ?", periodType, strings.TrimSpace(periodKey)).
		Delete(&PeriodLock{}).Error
}

// List returns all closed periods.
func (g *Guard) List(ctx context.Context) ([]PeriodLock, error) {
	var rows []PeriodLock
	err := g.db.WithContext(ctx).
		Order("period_type ASC, period_key ASC").
		Find(&rows).Error
	return rows, err
}
