package core

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrInsufficientPoints is the only domain error surfaced to callers.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrInvalidAmount rejects non-positive redemptions.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Problem describes one inconsistency found by Verify.
type Problem string

const (
	ProblemStatsDiverged     Problem = "stats_diverged"
	ProblemUnattributedPoint Problem = "unattributed_points"
	ProblemAvailableDrift    Problem = "available_points_drift"
)

// Verify reports inconsistencies between the stored projection and what the
// history alone implies.
func (l *Ledger) Verify() []Problem {
	var out []Problem
	if !l.Stats.Equal(l.Replay()) {
		out = append(out, ProblemStatsDiverged)
	}
	if l.LooksCorrupted() && (l.Archive == nil || l.Archive.Entries == 0) {
		out = append(out, ProblemUnattributedPoint)
	}
	if l.AvailablePoints != l.TotalPoints-l.SpentPoints {
		out = append(out, ProblemAvailableDrift)
	}
	return out
}

// Repair fixes everything Verify can report: a legacy-recovery entry is
// synthesised for points without provenance, stats are replayed and the
// available balance recomputed. It returns what was repaired.
func (l *Ledger) Repair(now int64) []Problem {
	problems := l.Verify()
	if len(problems) == 0 {
		return nil
	}
	l.RecoverLegacyPoints(now)
	l.Stats = l.Replay()
	l.Recompute()
	return problems
}

// RecoverLegacyPoints appends exactly one synthetic entry carrying all of
// TotalPoints when the ledger holds points but no history, so every point
// stays attributable to some entry. The entry is stamped at LastInteraction,
// or now when that is unknown.
func (l *Ledger) RecoverLegacyPoints(now int64) bool {
	if !l.LooksCorrupted() || (l.Archive != nil && l.Archive.Entries > 0) {
		return false
	}
	at := l.LastInteraction
	if at == 0 {
		at = now
	}
	l.History = append(l.History, HistoryEntry{
		ID:           NewEntryID(),
		Kind:         KindLegacyRecovery,
		Label:        "♻️ Puntos recuperados",
		BasePoints:   l.TotalPoints,
		Multiplier:   1,
		EarnedPoints: l.TotalPoints,
		Timestamp:    at,
		Metadata:     Metadata{MetaReason: "history unavailable in snapshot"},
	})
	return true
}

// Prune folds the oldest entries beyond max into the archive so replay stays
// accurate after deletion. max <= 0 disables pruning.
func (l *Ledger) Prune(max int) int {
	if max <= 0 || len(l.History) <= max {
		return 0
	}
	n := len(l.History) - max
	pruned := l.History[:n]
	if l.Archive == nil {
		l.Archive = &Archive{Stats: NewStats()}
	}
	l.Archive.Stats = ReplayFrom(l.Archive.Stats, pruned)
	l.Archive.Entries += n
	for _, e := range pruned {
		l.Archive.Points += e.EarnedPoints
		if e.Timestamp > l.Archive.Through {
			l.Archive.Through = e.Timestamp
		}
		if id := e.Metadata.ResourceID(); e.Kind == KindDimensionCompleted && id != "" && !slices.Contains(l.Archive.Dimensions, id) {
			l.Archive.Dimensions = append(l.Archive.Dimensions, id)
		}
	}
	l.History = append([]HistoryEntry{}, l.History[n:]...)
	return n
}

// InsufficientPointsError wraps ErrInsufficientPoints with the amounts.
func InsufficientPointsError(available, requested int64) error {
	return fmt.Errorf("%w: available %d, requested %d", ErrInsufficientPoints, available, requested)
}
