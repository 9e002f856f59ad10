package core

import (
	"maps"
	"math"
	"reflect"
)

// Stats is the derived projection of a ledger's history. It must always be
// reproducible by Replay over the history (plus the archive baseline).
type Stats struct {
	TotalInteractions        int         `json:"totalInteractions"`
	BloomLevelCounts         map[int]int `json:"bloomLevelCounts"`
	AvgBloomLevel            float64     `json:"avgBloomLevel"`
	ACDFramesIdentified      int         `json:"acdFramesIdentified"`
	ACDStrategiesIdentified  int         `json:"acdStrategiesIdentified"`
	PowerAnalyses            int         `json:"powerAnalyses"`
	QuotesUsed               int64       `json:"quotesUsed"`
	EvaluationsSubmitted     int         `json:"evaluationsSubmitted"`
	MetacognitiveReflections int         `json:"metacognitiveReflections"`
	WebSearches              int         `json:"webSearches"`
	PerfectScores            int         `json:"perfectScores"`
	DimensionsCompleted      int         `json:"dimensionsCompleted"`
	PointsEarned             int64       `json:"pointsEarned"`
	PointsRedeemed           int64       `json:"pointsRedeemed"`
	AchievementsUnlocked     int         `json:"achievementsUnlocked"`
	LegacyRecoveredPoints    int64       `json:"legacyRecoveredPoints"`
}

// NewStats returns zeroed stats with initialised containers.
func NewStats() Stats {
	return Stats{BloomLevelCounts: map[int]int{}}
}

// Clone returns a deep copy.
func (s Stats) Clone() Stats {
	cp := s
	cp.BloomLevelCounts = make(map[int]int, len(s.BloomLevelCounts))
	for k, v := range s.BloomLevelCounts {
		cp.BloomLevelCounts[k] = v
	}
	return cp
}

// Equal compares two projections, treating nil and empty maps alike.
func (s Stats) Equal(o Stats) bool {
	if len(s.BloomLevelCounts) != len(o.BloomLevelCounts) || !maps.Equal(s.BloomLevelCounts, o.BloomLevelCounts) {
		return false
	}
	a, b := s, o
	a.BloomLevelCounts, b.BloomLevelCounts = nil, nil
	return reflect.DeepEqual(a, b)
}

// Apply folds one history entry into the projection. The Recorder updates
// stats through this same step, so incremental and replayed stats agree.
func (s *Stats) Apply(e HistoryEntry) {
	if s.BloomLevelCounts == nil {
		s.BloomLevelCounts = map[int]int{}
	}
	switch {
	case e.EarnedPoints > 0:
		s.PointsEarned += e.EarnedPoints
	case e.EarnedPoints < 0:
		s.PointsRedeemed += -e.EarnedPoints
	}

	switch e.Kind {
	case KindAchievementUnlocked:
		s.AchievementsUnlocked++
		return
	case KindLegacyRecovery:
		s.LegacyRecoveredPoints += e.EarnedPoints
		return
	case KindPointsRedeemed:
		return
	}

	s.TotalInteractions++

	if level, ok := e.Kind.BloomLevel(); ok {
		s.BloomLevelCounts[level]++
		s.AvgBloomLevel = avgBloom(s.BloomLevelCounts)
	}

	switch e.Kind {
	case KindACDFrameIdentified:
		s.ACDFramesIdentified++
	case KindACDStrategyIdentified:
		s.ACDStrategiesIdentified++
	case KindACDPowerAnalysis:
		s.PowerAnalyses++
	case KindQuoteUsed:
		n, ok := e.Metadata.Int(MetaCount)
		if !ok || n < 1 {
			n = 1
		}
		s.QuotesUsed += n
	case KindEvaluationSubmitted:
		s.EvaluationsSubmitted++
	case KindMetacognitiveReflection:
		s.MetacognitiveReflections++
	case KindWebSearchUsed:
		s.WebSearches++
	case KindPerfectScore:
		s.PerfectScores++
	case KindDimensionCompleted:
		s.DimensionsCompleted++
	}
}

// add stacks the counters of o, used for an archive baseline.
func (s *Stats) add(o Stats) {
	if s.BloomLevelCounts == nil {
		s.BloomLevelCounts = map[int]int{}
	}
	s.TotalInteractions += o.TotalInteractions
	for k, v := range o.BloomLevelCounts {
		s.BloomLevelCounts[k] += v
	}
	s.AvgBloomLevel = avgBloom(s.BloomLevelCounts)
	s.ACDFramesIdentified += o.ACDFramesIdentified
	s.ACDStrategiesIdentified += o.ACDStrategiesIdentified
	s.PowerAnalyses += o.PowerAnalyses
	s.QuotesUsed += o.QuotesUsed
	s.EvaluationsSubmitted += o.EvaluationsSubmitted
	s.MetacognitiveReflections += o.MetacognitiveReflections
	s.WebSearches += o.WebSearches
	s.PerfectScores += o.PerfectScores
	s.DimensionsCompleted += o.DimensionsCompleted
	s.PointsEarned += o.PointsEarned
	s.PointsRedeemed += o.PointsRedeemed
	s.AchievementsUnlocked += o.AchievementsUnlocked
	s.LegacyRecoveredPoints += o.LegacyRecoveredPoints
}

func avgBloom(counts map[int]int) float64 {
	total, weighted := 0, 0
	for level, n := range counts {
		total += n
		weighted += level * n
	}
	if total == 0 {
		return 0
	}
	return math.Round(float64(weighted)/float64(total)*10) / 10
}

// Replay derives stats purely from history. It is deterministic: identical
// input always yields identical output.
func Replay(history []HistoryEntry) Stats {
	return ReplayFrom(NewStats(), history)
}

// ReplayFrom folds history on top of a baseline (an archive's stats).
func ReplayFrom(base Stats, history []HistoryEntry) Stats {
	s := NewStats()
	s.add(base)
	for _, e := range history {
		s.Apply(e)
	}
	return s
}

// Replay recomputes the ledger's stats from its archive and history.
func (l *Ledger) Replay() Stats {
	base := NewStats()
	if l.Archive != nil {
		base = l.Archive.Stats
	}
	return ReplayFrom(base, l.History)
}
