package periodlock

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// PeriodType is the granularity of a closed accounting period.
type PeriodType string

const (
	PeriodMonth   PeriodType = "MONTH"
	PeriodQuarter PeriodType = "QUARTER"
	PeriodYear    PeriodType = "YEAR"
)

// PeriodLock marks an accounting period as closed. Documents dated inside a
// locked period may only be mutated with an explicit override.
type PeriodLock struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	PeriodType PeriodType   `gorm:"type:text;not null;uniqueIndex:ux_period_locks_type_key,priority:1"`
	PeriodKey  string       `gorm:"type:text;not null;uniqueIndex:ux_period_locks_type_key,priority:2"`
	LockedBy   string       `gorm:"type:text;not null"`
	CreatedAt  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (PeriodLock) TableName() string { return "period_locks" }

// MonthKey formats a date as its month period key (2024-05).
func MonthKey(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}

// QuarterKey formats a date as its quarter period key (2024-Q2).
func QuarterKey(t time.Time) string {
	quarter := (int(t.Month())-1)/3 + 1
	return fmt.Sprintf("%04d-Q%d", t.Year(), quarter)
}

// YearKey formats a date as its year period key (2024).
func YearKey(t time.Time) string {
	return fmt.Sprintf("%04d", t.Year())
}
