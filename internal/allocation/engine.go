package allocation

import (
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Mode selects how a receipt amount is spread across open debt documents.
type Mode string

const (
	ModeFIFO      Mode = "FIFO"
	ModeByInvoice Mode = "BY_INVOICE"
	ModeByPeriod  Mode = "BY_PERIOD"
	ModeProRata   Mode = "PRO_RATA"
	ModeManual    Mode = "MANUAL"
)

// TargetType identifies the kind of debt document a line applies to.
type TargetType string

const (
	TargetInvoice TargetType = "INVOICE"
	TargetAdvance TargetType = "ADVANCE"
)

var (
	ErrInvalidAmount  = errors.New("invalid_allocation_amount")
	ErrInvalidMode    = errors.New("invalid_allocation_mode")
	ErrMissingPeriod  = errors.New("missing_applied_period")
	ErrEmptySelection = errors.New("empty_manual_selection")
	ErrUnknownTarget  = errors.New("selection_target_not_open")
)

// moneyScale is the fixed-point scale used when splitting amounts.
const moneyScale = 2

// Candidate is an open debt document eligible for allocation.
type Candidate struct {
	ID            snowflake.ID
	Type          TargetType
	DocumentNo    string
	ReferenceDate time.Time
	Outstanding   decimal.Decimal
}

// TargetRef is an ordered reference to a candidate, as selected by a user or
// a prior suggestion run.
type TargetRef struct {
	ID   snowflake.ID `json:"target_id"`
	Type TargetType   `json:"target_type"`
}

// Line is one allocation output: amount is always positive.
type Line struct {
	TargetID   snowflake.ID
	TargetType TargetType
	Amount     decimal.Decimal
}

// Request carries everything the engine needs. The engine never touches
// storage; candidates are supplied by the caller.
type Request struct {
	Amount             decimal.Decimal
	Mode               Mode
	AppliedPeriodStart *time.Time
	Selection          []TargetRef
	Candidates         []Candidate
}

// Result is the planned distribution. sum(Lines.Amount) + Leftover always
// equals the request amount exactly.
type Result struct {
	Lines    []Line
	Leftover decimal.Decimal
}

// Plan computes the allocation for a receipt amount. It is a pure function:
// same inputs, same output, no I/O.
func Plan(req Request) (Result, error) {
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return Result{}, ErrInvalidAmount
	}

	candidates := req.Candidates
	if len(req.Selection) > 0 {
		// A selection narrows the eligible set to exactly the chosen
		// targets. Stale references fail fast, they are never skipped.
		restricted, err := restrictToSelection(candidates, req.Selection)
		if err != nil {
			return Result{}, err
		}
		candidates = restricted
		if req.Mode == ModeManual {
			return planGreedy(req.Amount, candidates), nil
		}
	}

	switch req.Mode {
	case ModeFIFO:
		return planGreedy(req.Amount, sortFIFO(candidates)), nil
	case ModeByInvoice:
		return planGreedy(req.Amount, sortFIFO(filterType(candidates, TargetInvoice))), nil
	case ModeByPeriod:
		if req.AppliedPeriodStart == nil {
			return Result{}, ErrMissingPeriod
		}
		start := StartOfMonth(*req.AppliedPeriodStart)
		end := start.AddDate(0, 1, 0)
		return planGreedy(req.Amount, sortFIFO(filterPeriod(candidates, start, end))), nil
	case ModeProRata:
		return planProRata(req.Amount, sortFIFO(candidates)), nil
	case ModeManual:
		return Result{}, ErrEmptySelection
	default:
		return Result{}, ErrInvalidMode
	}
}

// StartOfMonth snaps a date to the first day of its month, dropping the time
// component.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func sortFIFO(candidates []Candidate) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.ReferenceDate.Equal(b.ReferenceDate) {
			return a.ReferenceDate.Before(b.ReferenceDate)
		}
		if a.Type != b.Type {
			return a.Type == TargetInvoice
		}
		if a.DocumentNo != b.DocumentNo {
			return a.DocumentNo < b.DocumentNo
		}
		return a.ID < b.ID
	})
	return sorted
}

func filterType(candidates []Candidate, keep TargetType) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		if c.Type == keep {
			out = append(out, c)
		}
	}
	return out
}

func filterPeriod(candidates []Candidate, start, end time.Time) []Candidate {
	var out []Candidate
	for _, c := range candidates {
		ref := c.ReferenceDate
		if !ref.Before(start) && ref.Before(end) {
			out = append(out, c)
		}
	}
	return out
}

func planGreedy(amount decimal.Decimal, ordered []Candidate) Result {
	remaining := amount
	var lines []Line
	for _, c := range ordered {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		if c.Outstanding.LessThanOrEqual(decimal.Zero) {
			continue
		}
		take := decimal.Min(remaining, c.Outstanding)
		lines = append(lines, Line{TargetID: c.ID, TargetType: c.Type, Amount: take})
		remaining = remaining.Sub(take)
	}
	return Result{Lines: lines, Leftover: remaining}
}

// restrictToSelection returns the candidates named by the selection, in
// selection order. A reference to a target that is not open indicates a
// stale client and fails the whole plan.
func restrictToSelection(candidates []Candidate, selection []TargetRef) ([]Candidate, error) {
	byID := make(map[snowflake.ID]Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	out := make([]Candidate, 0, len(selection))
	for _, ref := range selection {
		c, ok := byID[ref.ID]
		if !ok || c.Type != ref.Type {
			return nil, ErrUnknownTarget
		}
		out = append(out, c)
	}
	return out, nil
}

// planProRata distributes amount proportionally to each candidate's
// outstanding, truncated to the money scale. The truncation remainder goes
// to the earliest candidate with headroom so that the sum of lines plus
// leftover equals the amount exactly.
func planProRata(amount decimal.Decimal, ordered []Candidate) Result {
	total := decimal.Zero
	for _, c := range ordered {
		if c.Outstanding.GreaterThan(decimal.Zero) {
			total = total.Add(c.Outstanding)
		}
	}
	if total.LessThanOrEqual(decimal.Zero) {
		return Result{Lines: nil, Leftover: amount}
	}

	allocatable := decimal.Min(amount, total)
	shares := make([]decimal.Decimal, len(ordered))
	distributed := decimal.Zero
	for i, c := range ordered {
		if c.Outstanding.LessThanOrEqual(decimal.Zero) {
			continue
		}
		share := allocatable.Mul(c.Outstanding).Div(total).Truncate(moneyScale)
		if share.GreaterThan(c.Outstanding) {
			share = c.Outstanding
		}
		shares[i] = share
		distributed = distributed.Add(share)
	}

	remainder := allocatable.Sub(distributed)
	for i, c := range ordered {
		if remainder.LessThanOrEqual(decimal.Zero) {
			break
		}
		headroom := c.Outstanding.Sub(shares[i])
		if headroom.LessThanOrEqual(decimal.Zero) {
			continue
		}
		extra := decimal.Min(remainder, headroom)
		shares[i] = shares[i].Add(extra)
		remainder = remainder.Sub(extra)
	}

	var lines []Line
	for i, c := range ordered {
		if shares[i].GreaterThan(decimal.Zero) {
			lines = append(lines, Line{TargetID: c.ID, TargetType: c.Type, Amount: shares[i]})
		}
	}
	return Result{Lines: lines, Leftover: amount.Sub(allocatable)}
}
