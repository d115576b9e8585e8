package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedule() RateSchedule {
	// 5 credits per minute across all units, no conversion scaling
	return RateSchedule{
		ComputePerMinute: decimal.NewFromInt(3),
		NetworkPerMinute: decimal.NewFromInt(1),
		StoragePerMinute: decimal.NewFromInt(1),
		CreditsPerUnit:   decimal.NewFromInt(1),
		Overhead:         1,
		GraceWindow:      2 * time.Minute,
	}
}

func TestRateScheduleCost(t *testing.T) {
	schedule := testSchedule()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("zero elapsed costs the overhead", func(t *testing.T) {
		cost, err := schedule.Cost(start, start)

		require.NoError(t, err)
		assert.Equal(t, int64(1), cost)
	})

	t.Run("ten minutes at 5 credits per minute", func(t *testing.T) {
		cost, err := schedule.Cost(start, start.Add(10*time.Minute))

		require.NoError(t, err)
		assert.Equal(t, int64(51), cost)
	})

	t.Run("fractional minutes are not truncated", func(t *testing.T) {
		cost, err := schedule.Cost(start, start.Add(90*time.Second))

		require.NoError(t, err)
		// 1.5 minutes * 5 credits + 1 overhead = 8.5, banker's rounds to 8
		assert.Equal(t, int64(8), cost)
	})

	t.Run("mixed zone timestamps normalize to UTC", func(t *testing.T) {
		loc := time.FixedZone("CET", 3600)
		cost, err := schedule.Cost(start.In(loc), start.Add(10*time.Minute))

		require.NoError(t, err)
		assert.Equal(t, int64(51), cost)
	})

	t.Run("negative elapsed clamps to zero and reports skew", func(t *testing.T) {
		cost, err := schedule.Cost(start, start.Add(-time.Minute))

		assert.ErrorIs(t, err, ErrNegativeElapsed)
		assert.Equal(t, int64(0), cost)
	})

	t.Run("cost is monotonically non-decreasing in elapsed time", func(t *testing.T) {
		prev := int64(0)
		for m := 0; m <= 120; m += 7 {
			cost, err := schedule.Cost(start, start.Add(time.Duration(m)*time.Minute))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, cost, prev)
			assert.GreaterOrEqual(t, cost, schedule.Overhead)
			prev = cost
		}
	})
}

func TestRateScheduleProjectedCost(t *testing.T) {
	schedule := testSchedule()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("extends the cutoff by the grace window", func(t *testing.T) {
		projected, err := schedule.ProjectedCost(start, start.Add(10*time.Minute))
		require.NoError(t, err)

		flat, err := schedule.Cost(start, start.Add(10*time.Minute))
		require.NoError(t, err)

		// 2 extra minutes at 5 credits per minute
		assert.Equal(t, flat+10, projected)
	})

	t.Run("enforcement example stays under budget at ten minutes", func(t *testing.T) {
		noGrace := schedule
		noGrace.GraceWindow = 0

		projected, err := noGrace.ProjectedCost(start, start.Add(10*time.Minute))
		require.NoError(t, err)
		assert.LessOrEqual(t, projected, int64(100))
	})

	t.Run("enforcement example exceeds budget at twenty-five minutes", func(t *testing.T) {
		noGrace := schedule
		noGrace.GraceWindow = 0

		projected, err := noGrace.ProjectedCost(start, start.Add(25*time.Minute))
		require.NoError(t, err)
		assert.Greater(t, projected, int64(100))
	})
}

func TestRateScheduleCreditsPerMinute(t *testing.T) {
	schedule := RateSchedule{
		ComputePerMinute: decimal.RequireFromString("0.02"),
		NetworkPerMinute: decimal.RequireFromString("0.005"),
		StoragePerMinute: decimal.RequireFromString("0.005"),
		CreditsPerUnit:   decimal.NewFromInt(100),
	}

	assert.True(t, decimal.NewFromInt(3).Equal(schedule.CreditsPerMinute()))
}
