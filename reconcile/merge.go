// Package reconcile merges two snapshots of the same learner's ledger, one
// held locally and one received from another device or a remote backup.
package reconcile

import (
	"time"

	"rewardskit/core"
)

// Mode selects how an external snapshot is applied.
type Mode int

const (
	// ModeMerge unions both ledgers.
	ModeMerge Mode = iota
	// ModeReplace restores the external snapshot as authoritative.
	ModeReplace
)

func (m Mode) String() string {
	if m == ModeReplace {
		return "replace"
	}
	return "merge"
}

// Outcome reports which path Merge took.
type Outcome string

const (
	OutcomeKeptLocal    Outcome = "kept_local"
	OutcomeAdoptedReset Outcome = "adopted_reset"
	OutcomeMerged       Outcome = "merged"
	OutcomeReplaced     Outcome = "replaced"
)

// Merge reconciles local with external and returns a new ledger. Neither
// input is mutated. Stats on the result are always a fresh replay of the
// reconciled history; neither side's precomputed stats are trusted.
func Merge(local, external *core.Ledger, mode Mode, now time.Time) (*core.Ledger, Outcome) {
	if local == nil {
		local = core.NewLedger("")
	}
	if external == nil {
		external = core.NewLedger(local.UserID)
	}
	l, e := local.Clone(), external.Clone()

	if e.IsEmpty() && !l.IsEmpty() {
		if e.ResetAt > l.ResetAt {
			e.UserID = pickUser(l.UserID, e.UserID)
			return finish(e, now), OutcomeAdoptedReset
		}
		return l, OutcomeKeptLocal
	}

	// A bare number must never displace a history that explains it.
	if e.LooksCorrupted() && len(l.History) > 0 {
		mode = ModeMerge
	}

	milestones := unionMilestones(l.RecordedMilestones, e.RecordedMilestones)

	if mode == ModeReplace {
		out := e
		out.UserID = pickUser(l.UserID, e.UserID)
		out.RecordedMilestones = milestones
		out.ResetAt = max(l.ResetAt, e.ResetAt)
		return finish(out, now), OutcomeReplaced
	}

	out := core.NewLedger(pickUser(l.UserID, e.UserID))
	out.Archive = laterArchive(l.Archive, e.Archive)
	out.History = unionHistory(l, e, out.Archive)
	out.TotalPoints = max(l.TotalPoints, e.TotalPoints)
	out.SpentPoints = max(l.SpentPoints, e.SpentPoints)
	out.Streak = max(l.Streak, e.Streak)
	out.LastInteraction = max(l.LastInteraction, e.LastInteraction)
	out.ResetAt = max(l.ResetAt, e.ResetAt)
	out.Achievements = unionAchievements(l.Achievements, e.Achievements)
	for k, v := range l.DailyLog {
		out.DailyLog[k] = v
	}
	for k, v := range e.DailyLog {
		out.DailyLog[k] = v
	}
	out.RecordedMilestones = milestones
	return finish(out, now), OutcomeMerged
}

// finish guarantees every point is attributable to a history entry and
// rebuilds the derived projection.
func finish(l *core.Ledger, now time.Time) *core.Ledger {
	l.SchemaVersion = core.CurrentSchemaVersion
	l.RecoverLegacyPoints(core.Millis(now))
	l.Stats = l.Replay()
	l.Recompute()
	return l
}

func pickUser(local, external core.UserID) core.UserID {
	if local != "" {
		return local
	}
	return external
}

// laterArchive keeps the archive that folded the longer prefix of history.
func laterArchive(a, b *core.Archive) *core.Archive {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Through > a.Through:
		return b
	}
	return a
}

// unionHistory concatenates both histories, local first, dropping entries
// already seen by identity. Entries the kept archive already folded are
// dropped from the side that does not own it.
func unionHistory(l, e *core.Ledger, archive *core.Archive) []core.HistoryEntry {
	out := make([]core.HistoryEntry, 0, len(l.History)+len(e.History))
	seen := make(map[string]struct{}, cap(out))
	add := func(side *core.Ledger) {
		owner := archive != nil && side.Archive == archive
		for _, entry := range side.History {
			if archive != nil && !owner && entry.Timestamp <= archive.Through {
				continue
			}
			id := entry.Identity()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, entry)
		}
	}
	add(l)
	add(e)
	core.SortHistory(out)
	return out
}

func unionAchievements(a, b []core.AchievementID) []core.AchievementID {
	out := make([]core.AchievementID, 0, len(a)+len(b))
	seen := map[core.AchievementID]struct{}{}
	for _, list := range [][]core.AchievementID{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// unionMilestones merges two anti-farming registries. A resource key keeps
// its earliest award instant; a daily counter keeps the higher count. The
// result can only make future awards stricter.
func unionMilestones(a, b map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		cur, ok := out[k]
		switch {
		case !ok:
			out[k] = v
		case core.IsDailyMilestoneKey(k):
			out[k] = max(cur, v)
		case v > 0 && (cur <= 0 || v < cur):
			out[k] = v
		}
	}
	return out
}
