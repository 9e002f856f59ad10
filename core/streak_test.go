package core

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("timezone %s unavailable: %v", name, err)
	}
	return loc
}

func TestNextStreakFirstInteraction(t *testing.T) {
	if got := NextStreak(0, time.Time{}, time.Now(), time.UTC); got != 1 {
		t.Fatalf("want 1 got %d", got)
	}
}

func TestNextStreakSameDayIdempotent(t *testing.T) {
	morning := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	night := time.Date(2025, 5, 1, 23, 59, 0, 0, time.UTC)
	if got := NextStreak(4, morning, night, time.UTC); got != 4 {
		t.Fatalf("same day must not change streak, got %d", got)
	}
}

func TestNextStreakConsecutiveAcrossMidnight(t *testing.T) {
	last := time.Date(2025, 5, 1, 23, 59, 0, 0, time.UTC)
	now := time.Date(2025, 5, 2, 0, 1, 0, 0, time.UTC)
	if got := NextStreak(2, last, now, time.UTC); got != 3 {
		t.Fatalf("want 3 got %d", got)
	}
}

func TestNextStreakGapResets(t *testing.T) {
	last := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	now := time.Date(2025, 5, 3, 0, 0, 1, 0, time.UTC)
	if got := NextStreak(9, last, now, time.UTC); got != 1 {
		t.Fatalf("want 1 got %d", got)
	}
}

func TestNextStreakUsesLocalCalendar(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	// 20:00 and 19:00 local on consecutive days; in UTC these fall on
	// Jan 2 and Jan 3 but only 23 hours apart.
	last := time.Date(2024, 1, 1, 20, 0, 0, 0, ny)
	now := time.Date(2024, 1, 2, 19, 0, 0, 0, ny)
	if got := NextStreak(1, last, now, ny); got != 2 {
		t.Fatalf("want 2 got %d", got)
	}
	// Two events on the same local evening straddle UTC midnight.
	early := time.Date(2024, 1, 5, 18, 0, 0, 0, ny)
	late := time.Date(2024, 1, 5, 22, 0, 0, 0, ny)
	if got := NextStreak(5, early, late, ny); got != 5 {
		t.Fatalf("same local day must not change streak, got %d", got)
	}
}

func TestNextStreakAcrossDSTTransition(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	// 2024-03-10 is only 23 hours long in New York.
	last := time.Date(2024, 3, 9, 0, 30, 0, 0, ny)
	now := time.Date(2024, 3, 10, 23, 30, 0, 0, ny)
	if got := NextStreak(3, last, now, ny); got != 4 {
		t.Fatalf("want 4 got %d", got)
	}
}

func TestNextStreakClockSkew(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 0, 2)
	if got := NextStreak(6, future, now, time.UTC); got != 6 {
		t.Fatalf("skewed last interaction must keep streak, got %d", got)
	}
}

func TestMultiplierFor(t *testing.T) {
	cases := map[int]float64{0: 1, 1: 1, 2: 1, 3: 1.2, 6: 1.2, 7: 1.5, 13: 1.5, 14: 2, 21: 2.5, 29: 2.5, 30: 3, 365: 3}
	for streak, want := range cases {
		if got := MultiplierFor(streak); got != want {
			t.Errorf("streak %d: got %v want %v", streak, got, want)
		}
	}
	prev := 0.0
	for _, tier := range StreakTiers {
		if tier.Multiplier < prev {
			t.Fatalf("tiers must be non-decreasing: %+v", StreakTiers)
		}
		prev = tier.Multiplier
	}
}

func TestEarnedPointsRoundsHalfUp(t *testing.T) {
	cases := []struct {
		base int64
		mult float64
		want int64
	}{
		{2, 1, 2},
		{5, 1.5, 8},
		{3, 1.5, 5},
		{2, 1.2, 2},
		{35, 1.2, 42},
		{10, 2.5, 25},
		{0, 3, 0},
	}
	for _, c := range cases {
		if got := EarnedPoints(c.base, c.mult); got != c.want {
			t.Errorf("EarnedPoints(%d, %v) = %d, want %d", c.base, c.mult, got, c.want)
		}
	}
}
