package analytics

import (
	"sort"

	"rewardskit/core"
)

// CohortSummary aggregates many learners' ledgers, e.g. one class.
type CohortSummary struct {
	Learners               int                        `json:"learners"`
	TotalPoints            int64                      `json:"totalPoints"`
	SpentPoints            int64                      `json:"spentPoints"`
	AvgStreak              float64                    `json:"avgStreak"`
	AvgBloomLevel          float64                    `json:"avgBloomLevel"`
	BloomLevelDistribution map[int]int                `json:"bloomLevelDistribution"`
	Achievements           map[core.AchievementID]int `json:"achievements"`
	ActiveByDay            []DayActivity              `json:"activeByDay"`
}

// DayActivity counts distinct learners and their combined interactions on a day.
type DayActivity struct {
	Date         string `json:"date"`
	Learners     int    `json:"learners"`
	Interactions int    `json:"interactions"`
	Points       int64  `json:"points"`
}

// Cohort summarises ledgers. Nil entries are skipped.
func Cohort(ledgers []*core.Ledger) CohortSummary {
	out := CohortSummary{
		BloomLevelDistribution: map[int]int{},
		Achievements:           map[core.AchievementID]int{},
	}
	days := map[string]*DayActivity{}
	streaks := 0
	for _, l := range ledgers {
		if l == nil {
			continue
		}
		out.Learners++
		out.TotalPoints += l.TotalPoints
		out.SpentPoints += l.SpentPoints
		streaks += l.Streak
		for level, n := range l.Stats.BloomLevelCounts {
			out.BloomLevelDistribution[level] += n
		}
		for _, id := range l.Achievements {
			out.Achievements[id]++
		}
		for date, d := range l.DailyLog {
			a := days[date]
			if a == nil {
				a = &DayActivity{Date: date}
				days[date] = a
			}
			a.Learners++
			a.Interactions += d.Interactions
			a.Points += d.Points
		}
	}
	if out.Learners > 0 {
		out.AvgStreak = round1(float64(streaks) / float64(out.Learners))
	}
	var levels, weighted int
	for level, n := range out.BloomLevelDistribution {
		levels += n
		weighted += level * n
	}
	if levels > 0 {
		out.AvgBloomLevel = round1(float64(weighted) / float64(levels))
	}
	out.ActiveByDay = make([]DayActivity, 0, len(days))
	for _, a := range days {
		out.ActiveByDay = append(out.ActiveByDay, *a)
	}
	sort.Slice(out.ActiveByDay, func(i, j int) bool { return out.ActiveByDay[i].Date < out.ActiveByDay[j].Date })
	return out
}
