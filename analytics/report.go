// Package analytics derives research outputs from a learner's ledger: an
// engagement/quality/gamification report, the CSV history export, and
// cohort-level hooks over change notifications.
package analytics

import (
	"math"
	"sort"

	"rewardskit/core"
)

// Report summarises one ledger for instructors and researchers.
type Report struct {
	UserID       core.UserID  `json:"userId,omitempty"`
	Engagement   Engagement   `json:"engagement"`
	Quality      Quality      `json:"quality"`
	Gamification Gamification `json:"gamification"`
}

type Engagement struct {
	TotalInteractions int        `json:"totalInteractions"`
	Streak            int        `json:"streak"`
	AvgBloomLevel     float64    `json:"avgBloomLevel"`
	DailyActivity     []DayStats `json:"dailyActivity"`
}

// DayStats is one local calendar day of activity.
type DayStats struct {
	Date          string  `json:"date"`
	Interactions  int     `json:"interactions"`
	Points        int64   `json:"points"`
	AvgBloomLevel float64 `json:"avgBloomLevel"`
}

type Quality struct {
	BloomLevelDistribution map[int]int `json:"bloomLevelDistribution"`
	ACDFramesIdentified    int         `json:"acdFramesIdentified"`
	QuotesPerEvaluation    float64     `json:"quotesPerEvaluation"`
}

type Gamification struct {
	TotalPoints      int64    `json:"totalPoints"`
	AvailablePoints  int64    `json:"availablePoints"`
	SpentPoints      int64    `json:"spentPoints"`
	Achievements     int      `json:"achievements"`
	AchievementsList []string `json:"achievementsList"`
}

// Build computes the report for l. Daily activity is ordered by date and
// achievement names follow unlock order, so equal ledgers give equal reports.
func Build(l *core.Ledger) Report {
	if l == nil {
		l = core.NewLedger("")
	}
	s := l.Stats

	days := make([]DayStats, 0, len(l.DailyLog))
	for date, d := range l.DailyLog {
		days = append(days, DayStats{
			Date:          date,
			Interactions:  d.Interactions,
			Points:        d.Points,
			AvgBloomLevel: mean(d.BloomLevels),
		})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	dist := make(map[int]int, len(s.BloomLevelCounts))
	for k, v := range s.BloomLevelCounts {
		dist[k] = v
	}

	var quotesPerEval float64
	if s.EvaluationsSubmitted > 0 {
		quotesPerEval = round1(float64(s.QuotesUsed) / float64(s.EvaluationsSubmitted))
	}

	names := make([]string, 0, len(l.Achievements))
	for _, id := range l.Achievements {
		if a, ok := core.LookupAchievement(id); ok {
			names = append(names, a.Name)
		} else {
			names = append(names, string(id))
		}
	}

	return Report{
		UserID: l.UserID,
		Engagement: Engagement{
			TotalInteractions: s.TotalInteractions,
			Streak:            l.Streak,
			AvgBloomLevel:     s.AvgBloomLevel,
			DailyActivity:     days,
		},
		Quality: Quality{
			BloomLevelDistribution: dist,
			ACDFramesIdentified:    s.ACDFramesIdentified,
			QuotesPerEvaluation:    quotesPerEval,
		},
		Gamification: Gamification{
			TotalPoints:      l.TotalPoints,
			AvailablePoints:  l.AvailablePoints,
			SpentPoints:      l.SpentPoints,
			Achievements:     len(l.Achievements),
			AchievementsList: names,
		},
	}
}

func mean(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
