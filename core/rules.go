package core

// Trigger is the accepted event an evaluation runs against.
type Trigger struct {
	Kind     EventKind
	Metadata Metadata
}

// Rule decides whether the ledger, after applying trigger, earns achievements.
// Rules are pure and must not mutate state.
type Rule interface {
	Evaluate(state *Ledger, trigger Trigger) []AchievementID
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(state *Ledger, trigger Trigger) []AchievementID

func (f RuleFunc) Evaluate(state *Ledger, trigger Trigger) []AchievementID { return f(state, trigger) }

// ThresholdRule unlocks ID once Count reaches Min.
type ThresholdRule struct {
	ID    AchievementID
	Min   int64
	Count func(s Stats) int64
}

func (r ThresholdRule) Evaluate(state *Ledger, _ Trigger) []AchievementID {
	if r.Count(state.Stats) >= r.Min {
		return []AchievementID{r.ID}
	}
	return nil
}

// StreakRule unlocks ID when the day streak reaches Days.
type StreakRule struct {
	ID   AchievementID
	Days int
}

func (r StreakRule) Evaluate(state *Ledger, _ Trigger) []AchievementID {
	if state.Streak >= r.Days {
		return []AchievementID{r.ID}
	}
	return nil
}

// AllDimensionsRule unlocks when every dimension has been completed. It
// counts distinct resource ids across the archive and history rather than
// raw events, so a re-completed dimension never counts twice.
type AllDimensionsRule struct{ Dimensions int }

func (r AllDimensionsRule) Evaluate(state *Ledger, trigger Trigger) []AchievementID {
	if trigger.Metadata.Bool(MetaAllDimensionsComplete) {
		return []AchievementID{AchievementAllDimensions}
	}
	if trigger.Kind != KindDimensionCompleted {
		return nil
	}
	seen := map[string]struct{}{}
	if state.Archive != nil {
		for _, id := range state.Archive.Dimensions {
			seen[id] = struct{}{}
		}
	}
	for _, e := range state.History {
		if e.Kind != KindDimensionCompleted {
			continue
		}
		if id := e.Metadata.ResourceID(); id != "" {
			seen[id] = struct{}{}
		}
	}
	if len(seen) >= r.Dimensions {
		return []AchievementID{AchievementAllDimensions}
	}
	return nil
}

// Evaluator runs a rule set and filters out achievements already unlocked.
type Evaluator struct{ rules []Rule }

// NewEvaluator builds an evaluator over rules.
func NewEvaluator(rules ...Rule) *Evaluator { return &Evaluator{rules: rules} }

// DefaultEvaluator carries the standard pedagogical milestones.
func DefaultEvaluator() *Evaluator {
	return NewEvaluator(
		RuleFunc(func(state *Ledger, t Trigger) []AchievementID {
			if t.Kind == KindQuestionBloom5 && state.Stats.BloomLevelCounts[5] >= 1 {
				return []AchievementID{AchievementCriticalThinker}
			}
			return nil
		}),
		ThresholdRule{ID: AchievementACDMaster, Min: 3, Count: func(s Stats) int64 { return int64(s.ACDFramesIdentified) }},
		ThresholdRule{ID: AchievementEvidenceChampion, Min: 10, Count: func(s Stats) int64 { return s.QuotesUsed }},
		ThresholdRule{ID: AchievementTenEvaluations, Min: 10, Count: func(s Stats) int64 { return int64(s.EvaluationsSubmitted) }},
		RuleFunc(func(_ *Ledger, t Trigger) []AchievementID {
			if score, ok := t.Metadata.Int(MetaScore); ok && score == 10 {
				return []AchievementID{AchievementPerfectScore}
			}
			return nil
		}),
		AllDimensionsRule{Dimensions: DimensionCount},
		StreakRule{ID: AchievementWeekStreak, Days: 7},
		StreakRule{ID: AchievementMonthStreak, Days: 30},
		ThresholdRule{ID: AchievementMetacognitiveMaster, Min: 5, Count: func(s Stats) int64 { return int64(s.MetacognitiveReflections) }},
	)
}

// Evaluate returns newly unlocked achievement ids in rule order, each at
// most once and never one the ledger already holds.
func (e *Evaluator) Evaluate(state *Ledger, trigger Trigger) []AchievementID {
	var out []AchievementID
	seen := map[AchievementID]struct{}{}
	for _, r := range e.rules {
		for _, id := range r.Evaluate(state, trigger) {
			if _, dup := seen[id]; dup || state.HasAchievement(id) {
				continue
			}
			if _, ok := LookupAchievement(id); !ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
