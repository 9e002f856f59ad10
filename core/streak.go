package core

import (
	"math"
	"time"
)

// NextStreak recomputes a day streak from the previous interaction.
//
// Dates are compared as local calendar days in loc; "yesterday" is derived
// with civil-date arithmetic so DST transitions and UTC offsets never make
// two evening events look like different days.
func NextStreak(current int, last time.Time, now time.Time, loc *time.Location) int {
	if last.IsZero() {
		return 1
	}
	if loc == nil {
		loc = time.Local
	}
	lastDay := civilDay(last.In(loc))
	today := civilDay(now.In(loc))
	switch {
	case !lastDay.Before(today):
		// same day, or a last interaction stamped after now by a skewed clock
		if current < 1 {
			return 1
		}
		return current
	case lastDay.Equal(today.AddDate(0, 0, -1)):
		return current + 1
	default:
		return 1
	}
}

// civilDay truncates t to midnight UTC of its local calendar date so that
// day arithmetic ignores the zone's offset changes.
func civilDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StreakTier maps a minimum streak length to a points multiplier.
type StreakTier struct {
	Days       int
	Multiplier float64
}

// StreakTiers is sorted ascending by Days and non-decreasing by Multiplier.
var StreakTiers = []StreakTier{
	{Days: 3, Multiplier: 1.2},
	{Days: 7, Multiplier: 1.5},
	{Days: 14, Multiplier: 2.0},
	{Days: 21, Multiplier: 2.5},
	{Days: 30, Multiplier: 3.0},
}

// MultiplierFor resolves the highest tier whose threshold the streak meets.
func MultiplierFor(streak int) float64 {
	mult := 1.0
	for _, t := range StreakTiers {
		if streak >= t.Days {
			mult = t.Multiplier
		}
	}
	return mult
}

// EarnedPoints applies a multiplier with round-half-up, never going negative.
func EarnedPoints(base int64, multiplier float64) int64 {
	if base <= 0 || multiplier <= 0 {
		return 0
	}
	return int64(math.Floor(float64(base)*multiplier + 0.5))
}
