package core

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
)

// CurrentSchemaVersion is written by EncodeLedger.
const CurrentSchemaVersion = 2

// HistoryEntry is one append-only ledger record. EarnedPoints is the
// persisted outcome of the award, and every replay trusts it rather than
// re-deriving it from BasePoints and Multiplier.
type HistoryEntry struct {
	ID           string    `json:"id,omitempty"`
	Kind         EventKind `json:"kind"`
	Label        string    `json:"label"`
	BasePoints   int64     `json:"basePoints"`
	Multiplier   float64   `json:"multiplier"`
	EarnedPoints int64     `json:"earnedPoints"`
	Timestamp    int64     `json:"timestamp"`
	Metadata     Metadata  `json:"metadata,omitempty"`
}

// NewEntryID returns a fresh identity for a history entry.
func NewEntryID() string { return uuid.NewString() }

// Identity is the de-duplication key used when merging histories. Entries
// written by older clients carry no ID and fall back to (timestamp, kind).
func (e HistoryEntry) Identity() string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("%d:%s", e.Timestamp, e.Kind)
}

// At returns the entry timestamp as a time.Time.
func (e HistoryEntry) At() time.Time { return FromMillis(e.Timestamp) }

// DailyEntry aggregates one local calendar day.
type DailyEntry struct {
	Interactions int   `json:"interactions"`
	Points       int64 `json:"points"`
	BloomLevels  []int `json:"bloomLevels"`
}

// Archive folds history entries pruned from the ledger so replay keeps
// reproducing lifetime statistics.
type Archive struct {
	Through int64 `json:"through"`
	Entries int   `json:"entries"`
	Points  int64 `json:"points"`
	Stats   Stats `json:"stats"`

	// Dimensions holds the distinct resource ids of folded
	// DIMENSION_COMPLETED entries.
	Dimensions []string `json:"dimensions,omitempty"`
}

// Ledger is the per-user persisted rewards state.
type Ledger struct {
	SchemaVersion      int                   `json:"schemaVersion"`
	UserID             UserID                `json:"userId,omitempty"`
	TotalPoints        int64                 `json:"totalPoints"`
	SpentPoints        int64                 `json:"spentPoints"`
	AvailablePoints    int64                 `json:"availablePoints"`
	Streak             int                   `json:"streak"`
	LastInteraction    int64                 `json:"lastInteraction,omitempty"`
	ResetAt            int64                 `json:"resetAt"`
	History            []HistoryEntry        `json:"history"`
	Achievements       []AchievementID       `json:"achievements"`
	DailyLog           map[string]DailyEntry `json:"dailyLog"`
	RecordedMilestones map[string]int64      `json:"recordedMilestones"`
	Stats              Stats                 `json:"stats"`
	Archive            *Archive              `json:"archive,omitempty"`
}

// NewLedger returns the initial state for user.
func NewLedger(user UserID) *Ledger {
	return &Ledger{
		SchemaVersion:      CurrentSchemaVersion,
		UserID:             user,
		History:            []HistoryEntry{},
		Achievements:       []AchievementID{},
		DailyLog:           map[string]DailyEntry{},
		RecordedMilestones: map[string]int64{},
		Stats:              NewStats(),
	}
}

// Recompute derives AvailablePoints from the two stored totals.
func (l *Ledger) Recompute() {
	l.AvailablePoints = l.TotalPoints - l.SpentPoints
}

// IsEmpty reports a structurally empty ledger: no points and no history.
func (l *Ledger) IsEmpty() bool {
	return l.TotalPoints == 0 && len(l.History) == 0
}

// LooksCorrupted reports points without any provenance.
func (l *Ledger) LooksCorrupted() bool {
	return l.TotalPoints > 0 && len(l.History) == 0
}

// HasAchievement reports whether id was already unlocked.
func (l *Ledger) HasAchievement(id AchievementID) bool {
	for _, a := range l.Achievements {
		if a == id {
			return true
		}
	}
	return false
}

// LastInteractionTime returns LastInteraction as a time.Time (zero if unset).
func (l *Ledger) LastInteractionTime() time.Time { return FromMillis(l.LastInteraction) }

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	cp := *l
	cp.History = make([]HistoryEntry, len(l.History))
	for i, e := range l.History {
		e.Metadata = e.Metadata.Clone()
		cp.History[i] = e
	}
	cp.Achievements = append([]AchievementID{}, l.Achievements...)
	cp.DailyLog = make(map[string]DailyEntry, len(l.DailyLog))
	for k, v := range l.DailyLog {
		v.BloomLevels = append([]int{}, v.BloomLevels...)
		cp.DailyLog[k] = v
	}
	cp.RecordedMilestones = make(map[string]int64, len(l.RecordedMilestones))
	for k, v := range l.RecordedMilestones {
		cp.RecordedMilestones[k] = v
	}
	cp.Stats = l.Stats.Clone()
	if l.Archive != nil {
		a := *l.Archive
		a.Stats = l.Archive.Stats.Clone()
		a.Dimensions = append([]string(nil), l.Archive.Dimensions...)
		cp.Archive = &a
	}
	return &cp
}

// SortHistory orders entries ascending by timestamp. Entries sharing a
// timestamp keep their relative order, so an event stays ahead of the
// achievements it unlocked.
func SortHistory(h []HistoryEntry) {
	sort.SliceStable(h, func(i, j int) bool { return h[i].Timestamp < h[j].Timestamp })
}

// ResourceMilestoneKey is the dedupe registry key for a (kind, resource) pair.
func ResourceMilestoneKey(kind EventKind, resourceID string) string {
	return fmt.Sprintf("%s_%s", kind, resourceID)
}

// DailyMilestoneKey is the daily-cap counter key for kind on a local date.
func DailyMilestoneKey(kind EventKind, date string) string {
	return fmt.Sprintf("%s_daily_%s", kind, date)
}

// IsDailyMilestoneKey reports whether key counts daily events rather than
// recording a resource instant.
func IsDailyMilestoneKey(key string) bool {
	return dailyKeyPattern.MatchString(key)
}

var dailyKeyPattern = regexp.MustCompile(`^[A-Z0-9_]+_daily_\d{4}-\d{2}-\d{2}$`)
