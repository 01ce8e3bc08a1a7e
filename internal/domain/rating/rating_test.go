package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculate_ReferenceCase(t *testing.T) {
	c := Calculate(Input{
		PreviousRating: 1500,
		Score:          10,
		TotalPoints:    10,
		TimeTaken:      60,
		Streak:         0,
	}, nil)

	assert.InDelta(t, 1.0, c.Performance, 1e-9)
	assert.InDelta(t, 0.5, c.Expected, 1e-9)
	assert.InDelta(t, 0.8, c.TimeBonus, 1e-9)
	assert.InDelta(t, 1.0, c.StreakMultiplier, 1e-9)
	assert.Equal(t, 13, c.Delta)
	assert.Equal(t, 1513, c.NewRating)
}

func TestCalculate_SlowLessonGivesNoChange(t *testing.T) {
	c := Calculate(Input{PreviousRating: 1500, Score: 10, TotalPoints: 10, TimeTaken: 400}, nil)

	assert.Equal(t, 0.0, c.TimeBonus)
	assert.Equal(t, 0, c.Delta)
}

func TestCalculate_PoorPerformanceLowersRating(t *testing.T) {
	c := Calculate(Input{PreviousRating: 1500, Score: 0, TotalPoints: 10, TimeTaken: 0, Streak: 3}, nil)

	// 32 × (0 − 0.5) × 1 × 1.3 = −20.8
	assert.Equal(t, -21, c.Delta)
	assert.Equal(t, 1479, c.NewRating)
}

func TestCalculate_HalvesRoundUp(t *testing.T) {
	// 32 × (27/64 − 0.5) = −2.5 exactly.
	down := Calculate(Input{PreviousRating: 1500, Score: 27, TotalPoints: 64}, nil)
	assert.Equal(t, -2, down.Delta)
	assert.Equal(t, 1498, down.NewRating)

	// 32 × (37/64 − 0.5) = +2.5 exactly.
	up := Calculate(Input{PreviousRating: 1500, Score: 37, TotalPoints: 64}, nil)
	assert.Equal(t, 3, up.Delta)
}

func TestStreakMultiplier_Capped(t *testing.T) {
	assert.InDelta(t, 1.0, StreakMultiplier(-1), 1e-9)
	assert.InDelta(t, 1.5, StreakMultiplier(5), 1e-9)
	assert.InDelta(t, 2.0, StreakMultiplier(10), 1e-9)
	assert.InDelta(t, 2.0, StreakMultiplier(50), 1e-9)
}

func TestExpected_AboveBaselineExpectsMore(t *testing.T) {
	assert.Greater(t, Expected(1900), 0.9)
	assert.Less(t, Expected(1100), 0.1)
}

func TestCalculate_UnboundedWithoutFloor(t *testing.T) {
	c := Calculate(Input{PreviousRating: 1500, Score: 0, TotalPoints: 10}, nil)

	assert.Equal(t, -16, c.Delta)
	assert.Equal(t, 1484, c.NewRating)
}

func TestCalculate_FloorClamps(t *testing.T) {
	floor := 1490
	c := Calculate(Input{PreviousRating: 1500, Score: 0, TotalPoints: 10}, &floor)

	assert.Equal(t, 1490, c.NewRating)
	assert.Equal(t, -10, c.Delta)
}
