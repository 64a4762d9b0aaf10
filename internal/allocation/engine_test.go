package allocation

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snowflakeID(v int64) snowflake.ID { return snowflake.ID(v) }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func candidate(id int64, t TargetType, no string, ref time.Time, outstanding int64) Candidate {
	return Candidate{
		ID:            snowflakeID(id),
		Type:          t,
		DocumentNo:    no,
		ReferenceDate: ref,
		Outstanding:   dec(outstanding),
	}
}

func TestPlanRejectsNonPositiveAmount(t *testing.T) {
	_, err := Plan(Request{Amount: decimal.Zero, Mode: ModeFIFO})
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestPlanEmptyCandidates(t *testing.T) {
	res, err := Plan(Request{Amount: dec(1000), Mode: ModeFIFO})
	require.NoError(t, err)
	assert.Empty(t, res.Lines)
	assert.True(t, res.Leftover.Equal(dec(1000)))
}

func TestFIFOSingleInvoiceFullyPaid(t *testing.T) {
	res, err := Plan(Request{
		Amount: dec(1000000),
		Mode:   ModeFIFO,
		Candidates: []Candidate{
			candidate(1, TargetInvoice, "INV-001", date(2024, time.March, 1), 1000000),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	assert.True(t, res.Lines[0].Amount.Equal(dec(1000000)))
	assert.True(t, res.Leftover.IsZero())
}

func TestFIFOSplitsAcrossTwoInvoicesOldestFirst(t *testing.T) {
	res, err := Plan(Request{
		Amount: dec(500000),
		Mode:   ModeFIFO,
		Candidates: []Candidate{
			// Deliberately newest-first: input ordering must not matter.
			candidate(2, TargetInvoice, "INV-002", date(2024, time.April, 10), 400000),
			candidate(1, TargetInvoice, "INV-001", date(2024, time.March, 5), 300000),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, snowflakeID(1), res.Lines[0].TargetID)
	assert.True(t, res.Lines[0].Amount.Equal(dec(300000)))
	assert.Equal(t, snowflakeID(2), res.Lines[1].TargetID)
	assert.True(t, res.Lines[1].Amount.Equal(dec(200000)))
	assert.True(t, res.Leftover.IsZero())
}

func TestFIFODeterministicAcrossInputOrder(t *testing.T) {
	candidates := []Candidate{
		candidate(3, TargetAdvance, "", date(2024, time.January, 15), 100),
		candidate(1, TargetInvoice, "INV-001", date(2024, time.January, 1), 100),
		candidate(2, TargetInvoice, "INV-002", date(2024, time.January, 15), 100),
	}
	permutations := [][]Candidate{
		{candidates[0], candidates[1], candidates[2]},
		{candidates[2], candidates[0], candidates[1]},
		{candidates[1], candidates[2], candidates[0]},
	}

	for _, perm := range permutations {
		res, err := Plan(Request{Amount: dec(250), Mode: ModeFIFO, Candidates: perm})
		require.NoError(t, err)
		require.Len(t, res.Lines, 3)
		// Oldest date first; on date ties invoices come before advances.
		assert.Equal(t, snowflakeID(1), res.Lines[0].TargetID)
		assert.Equal(t, snowflakeID(2), res.Lines[1].TargetID)
		assert.Equal(t, snowflakeID(3), res.Lines[2].TargetID)
		assert.True(t, res.Lines[2].Amount.Equal(dec(50)))
	}
}

func TestByInvoiceExcludesAdvances(t *testing.T) {
	res, err := Plan(Request{
		Amount: dec(500),
		Mode:   ModeByInvoice,
		Candidates: []Candidate{
			candidate(1, TargetAdvance, "", date(2024, time.January, 1), 400),
			candidate(2, TargetInvoice, "INV-002", date(2024, time.February, 1), 300),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, TargetInvoice, res.Lines[0].TargetType)
	assert.True(t, res.Leftover.Equal(dec(200)))
}

func TestByPeriodRestrictsToAppliedMonth(t *testing.T) {
	// Mid-month period start must snap to the first of the month.
	applied := date(2024, time.March, 17)
	res, err := Plan(Request{
		Amount:             dec(1000),
		Mode:               ModeByPeriod,
		AppliedPeriodStart: &applied,
		Candidates: []Candidate{
			candidate(1, TargetInvoice, "INV-001", date(2024, time.February, 28), 400),
			candidate(2, TargetInvoice, "INV-002", date(2024, time.March, 1), 300),
			candidate(3, TargetInvoice, "INV-003", date(2024, time.March, 31), 300),
			candidate(4, TargetInvoice, "INV-004", date(2024, time.April, 1), 300),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, snowflakeID(2), res.Lines[0].TargetID)
	assert.Equal(t, snowflakeID(3), res.Lines[1].TargetID)
	assert.True(t, res.Leftover.Equal(dec(400)))
}

func TestByPeriodRequiresPeriodStart(t *testing.T) {
	_, err := Plan(Request{Amount: dec(100), Mode: ModeByPeriod})
	require.ErrorIs(t, err, ErrMissingPeriod)
}

func TestProRataConservation(t *testing.T) {
	cases := []struct {
		name         string
		amount       int64
		outstandings []int64
	}{
		{"thirds", 100, []int64{100, 100, 100}},
		{"uneven", 999, []int64{7, 13, 29}},
		{"overpay", 5000, []int64{300, 400}},
		{"single", 1, []int64{3}},
		{"sevenths", 1000, []int64{7, 7, 7, 7, 7, 7, 7}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var candidates []Candidate
			for i, out := range tc.outstandings {
				candidates = append(candidates, candidate(int64(i+1), TargetInvoice, "", date(2024, time.January, i+1), out))
			}
			res, err := Plan(Request{Amount: dec(tc.amount), Mode: ModeProRata, Candidates: candidates})
			require.NoError(t, err)

			sum := decimal.Zero
			for _, line := range res.Lines {
				assert.True(t, line.Amount.GreaterThan(decimal.Zero))
				sum = sum.Add(line.Amount)
			}
			// No cent lost or invented.
			assert.True(t, sum.Add(res.Leftover).Equal(dec(tc.amount)),
				"sum=%s leftover=%s amount=%d", sum, res.Leftover, tc.amount)

			byID := map[int64]decimal.Decimal{}
			for _, line := range res.Lines {
				byID[int64(line.TargetID)] = line.Amount
			}
			for i, out := range tc.outstandings {
				got := byID[int64(i+1)]
				assert.True(t, got.LessThanOrEqual(dec(out)), "line exceeds outstanding")
			}
		})
	}
}

func TestProRataRemainderGoesToOldest(t *testing.T) {
	res, err := Plan(Request{
		Amount: dec(100),
		Mode:   ModeProRata,
		Candidates: []Candidate{
			candidate(2, TargetInvoice, "INV-002", date(2024, time.February, 1), 100),
			candidate(1, TargetInvoice, "INV-001", date(2024, time.January, 1), 100),
			candidate(3, TargetInvoice, "INV-003", date(2024, time.March, 1), 100),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Lines, 3)
	// 100/3 truncated to 33.33 each, remainder 0.01 lands on the oldest.
	assert.Equal(t, snowflakeID(1), res.Lines[0].TargetID)
	assert.True(t, res.Lines[0].Amount.Equal(decimal.RequireFromString("33.34")))
	assert.True(t, res.Lines[1].Amount.Equal(decimal.RequireFromString("33.33")))
	assert.True(t, res.Lines[2].Amount.Equal(decimal.RequireFromString("33.33")))
	assert.True(t, res.Leftover.IsZero())
}

func TestManualConsumesSelectionInOrder(t *testing.T) {
	res, err := Plan(Request{
		Amount: dec(500),
		Mode:   ModeManual,
		Selection: []TargetRef{
			{ID: snowflakeID(2), Type: TargetAdvance},
			{ID: snowflakeID(1), Type: TargetInvoice},
		},
		Candidates: []Candidate{
			candidate(1, TargetInvoice, "INV-001", date(2024, time.January, 1), 400),
			candidate(2, TargetAdvance, "", date(2024, time.February, 1), 300),
			candidate(3, TargetInvoice, "INV-003", date(2023, time.December, 1), 900),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Lines, 2)
	// Selection order wins over FIFO order; unselected targets are untouched.
	assert.Equal(t, snowflakeID(2), res.Lines[0].TargetID)
	assert.True(t, res.Lines[0].Amount.Equal(dec(300)))
	assert.Equal(t, snowflakeID(1), res.Lines[1].TargetID)
	assert.True(t, res.Lines[1].Amount.Equal(dec(200)))
	assert.True(t, res.Leftover.IsZero())
}

func TestManualStaleSelectionFailsFast(t *testing.T) {
	_, err := Plan(Request{
		Amount: dec(100),
		Mode:   ModeManual,
		Selection: []TargetRef{
			{ID: snowflakeID(99), Type: TargetInvoice},
		},
		Candidates: []Candidate{
			candidate(1, TargetInvoice, "INV-001", date(2024, time.January, 1), 400),
		},
	})
	require.ErrorIs(t, err, ErrUnknownTarget)
}

func TestManualModeRequiresSelection(t *testing.T) {
	_, err := Plan(Request{Amount: dec(100), Mode: ModeManual})
	require.ErrorIs(t, err, ErrEmptySelection)
}

func TestSelectionOverridesStoredMode(t *testing.T) {
	res, err := Plan(Request{
		Amount: dec(100),
		Mode:   ModeFIFO,
		Selection: []TargetRef{
			{ID: snowflakeID(2), Type: TargetInvoice},
		},
		Candidates: []Candidate{
			candidate(1, TargetInvoice, "INV-001", date(2024, time.January, 1), 100),
			candidate(2, TargetInvoice, "INV-002", date(2024, time.June, 1), 100),
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, snowflakeID(2), res.Lines[0].TargetID)
}
