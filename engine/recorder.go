package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rewardskit/core"
	"rewardskit/reconcile"
)

const (
	// LegacyStorageKey is the unscoped key written by single-user clients.
	LegacyStorageKey = "rewards_state"
	// DefaultMaxHistory bounds the in-ledger history before folding.
	DefaultMaxHistory = 2000
)

// StorageKey is the per-user key a ledger is persisted under.
func StorageKey(user core.UserID) string { return LegacyStorageKey + "_" + string(user) }

// QuarantineKey is where an undecodable snapshot is preserved verbatim.
func QuarantineKey(user core.UserID, at time.Time) string {
	return fmt.Sprintf("%s_quarantine_%d", StorageKey(user), core.Millis(at))
}

// RejectReason annotates a zero-point RecordEvent call.
type RejectReason string

const (
	RejectNone              RejectReason = ""
	RejectUnknownEvent      RejectReason = "unknown_event"
	RejectDailyLimit        RejectReason = "daily_limit_exceeded"
	RejectDuplicateResource RejectReason = "duplicate_resource"
)

// Result is the outcome of RecordEvent. Rejections are successful calls
// carrying a zero award and a reason; callers must inspect Rejected.
type Result struct {
	PointsAwarded int64                `json:"pointsAwarded"`
	Multiplier    float64              `json:"multiplier"`
	Message       string               `json:"message"`
	Streak        int                  `json:"streak"`
	Rejected      RejectReason         `json:"rejectedReason,omitempty"`
	Achievements  []core.AchievementID `json:"achievements,omitempty"`
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock injects the wall clock.
func WithClock(c Clock) Option { return func(r *Recorder) { r.now = c } }

// WithLocation sets the zone whose calendar days drive streaks and daily caps.
func WithLocation(loc *time.Location) Option { return func(r *Recorder) { r.loc = loc } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(r *Recorder) { r.logger = l } }

// WithMaxHistory bounds the history; 0 disables pruning.
func WithMaxHistory(n int) Option { return func(r *Recorder) { r.maxHistory = n } }

// WithEvaluator replaces the achievement rule set.
func WithEvaluator(e *core.Evaluator) Option { return func(r *Recorder) { r.evaluator = e } }

// Recorder owns one learner's ledger. Every public operation runs to
// completion under the recorder's lock, persists with a single write and
// then notifies the bus.
type Recorder struct {
	user       core.UserID
	storage    Storage
	bus        *EventBus
	evaluator  *core.Evaluator
	now        Clock
	loc        *time.Location
	logger     *slog.Logger
	maxHistory int
	tracer     trace.Tracer

	mu     sync.Mutex
	ledger *core.Ledger
}

// NewRecorder loads (or creates) the ledger for user. A ledger found only
// under LegacyStorageKey is migrated to the scoped key. A snapshot that fails
// to decode is copied to its QuarantineKey before a fresh ledger takes over;
// if that copy cannot be written NewRecorder fails.
func NewRecorder(ctx context.Context, storage Storage, bus *EventBus, user core.UserID, opts ...Option) (*Recorder, error) {
	if storage == nil || bus == nil {
		panic("NewRecorder requires non-nil storage and bus")
	}
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		user:       normalized,
		storage:    storage,
		bus:        bus,
		evaluator:  core.DefaultEvaluator(),
		now:        time.Now,
		loc:        time.Local,
		logger:     slog.Default(),
		maxHistory: DefaultMaxHistory,
		tracer:     otel.Tracer("rewardskit/engine"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("user_id", string(normalized))
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) load(ctx context.Context) error {
	key := StorageKey(r.user)
	raw, found, err := r.storage.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load ledger %s: %w", key, err)
	}
	migrated := false
	if !found {
		raw, found, err = r.storage.Get(ctx, LegacyStorageKey)
		if err != nil {
			return fmt.Errorf("load legacy ledger: %w", err)
		}
		migrated = found
	}

	r.ledger = core.NewLedger(r.user)
	if !found {
		return nil
	}
	l, err := core.DecodeLedger([]byte(raw))
	if err != nil {
		// The raw bytes must survive before anything is written to key.
		qkey := QuarantineKey(r.user, r.now())
		if qerr := r.storage.Set(ctx, qkey, raw); qerr != nil {
			return fmt.Errorf("quarantine undecodable ledger %s: %w", key, errors.Join(err, qerr))
		}
		r.logger.Warn("quarantined undecodable ledger snapshot", "key", key, "quarantine_key", qkey, "error", err)
		return nil
	}
	l.UserID = r.user
	repaired := l.Repair(core.Millis(r.now()))
	if len(repaired) > 0 {
		r.logger.Info("repaired ledger on load", "problems", repaired)
	}
	r.ledger = l
	if migrated {
		r.logger.Info("migrated legacy ledger", "from", LegacyStorageKey, "to", key)
	}
	if migrated || len(repaired) > 0 {
		r.persist(ctx)
	}
	return nil
}

// UserID returns the normalised owner of this ledger.
func (r *Recorder) UserID() core.UserID { return r.user }

// RecordEvent awards points for one pedagogical action.
func (r *Recorder) RecordEvent(ctx context.Context, kind core.EventKind, meta core.Metadata) Result {
	ctx, span := r.tracer.Start(ctx, "rewards.RecordEvent",
		trace.WithAttributes(
			attribute.String("user_id", string(r.user)),
			attribute.String("kind", string(kind)),
		),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.ledger

	def, ok := core.Lookup(kind)
	if !ok {
		r.logger.Debug("ignoring unknown event kind", "kind", kind)
		return r.reject(span, RejectUnknownEvent)
	}

	now := r.now()
	nowMs := core.Millis(now)
	date := core.LocalDate(now, r.loc)

	var dailyKey, resourceKey string
	if def.DailyLimit > 0 {
		dailyKey = core.DailyMilestoneKey(kind, date)
		if l.RecordedMilestones[dailyKey] >= int64(def.DailyLimit) {
			return r.reject(span, RejectDailyLimit)
		}
	}
	resourceID := meta.ResourceID()
	if def.Dedupes() && resourceID != "" {
		resourceKey = core.ResourceMilestoneKey(kind, resourceID)
		if _, seen := l.RecordedMilestones[resourceKey]; seen {
			return r.reject(span, RejectDuplicateResource)
		}
	}

	// Anti-farming registries are updated before any other side effect.
	if dailyKey != "" {
		l.RecordedMilestones[dailyKey]++
	}
	if resourceKey != "" {
		l.RecordedMilestones[resourceKey] = nowMs
	}

	l.Streak = core.NextStreak(l.Streak, l.LastInteractionTime(), now, r.loc)
	l.LastInteraction = nowMs
	mult := core.MultiplierFor(l.Streak)
	earned := core.EarnedPoints(def.BasePoints, mult)

	entryMeta := meta.Clone()
	if resourceID != "" {
		entryMeta[core.MetaResourceID] = resourceID
	}
	r.award(core.HistoryEntry{
		ID:           core.NewEntryID(),
		Kind:         kind,
		Label:        def.Label,
		BasePoints:   def.BasePoints,
		Multiplier:   mult,
		EarnedPoints: earned,
		Timestamp:    nowMs,
		Metadata:     entryMeta,
	})

	day := l.DailyLog[date]
	day.Interactions++
	day.Points += earned
	if level, ok := kind.BloomLevel(); ok {
		day.BloomLevels = append(day.BloomLevels, level)
	} else if level, ok := entryMeta.Int(core.MetaBloomLevel); ok && level >= 1 && level <= 6 {
		day.BloomLevels = append(day.BloomLevels, int(level))
	}
	l.DailyLog[date] = day

	delta := earned
	unlocked := r.evaluator.Evaluate(l, core.Trigger{Kind: kind, Metadata: entryMeta})
	for _, id := range unlocked {
		a, _ := core.LookupAchievement(id)
		l.Achievements = append(l.Achievements, id)
		r.award(a.UnlockEntry(nowMs))
		delta += a.Points
		r.logger.Info("achievement unlocked", "achievement", id, "points", a.Points)
	}
	l.Recompute()
	l.Prune(r.maxHistory)

	r.persist(ctx)
	r.notify(ctx, Change{
		Type:         ChangeRecorded,
		Delta:        delta,
		Kind:         kind,
		Achievements: unlocked,
		At:           now,
	})

	span.SetAttributes(attribute.Int64("points_awarded", earned), attribute.Int("streak", l.Streak))
	return Result{
		PointsAwarded: earned,
		Multiplier:    mult,
		Message:       awardMessage(def, earned, mult),
		Streak:        l.Streak,
		Achievements:  unlocked,
	}
}

func awardMessage(def core.Definition, earned int64, mult float64) string {
	if mult > 1 {
		return fmt.Sprintf("+%d pts · %s (x%.1f)", earned, def.Label, mult)
	}
	return fmt.Sprintf("+%d pts · %s", earned, def.Label)
}

func (r *Recorder) reject(span trace.Span, reason RejectReason) Result {
	span.SetAttributes(attribute.String("rejected", string(reason)))
	return Result{Multiplier: core.MultiplierFor(r.ledger.Streak), Streak: r.ledger.Streak, Rejected: reason}
}

// award appends a positive entry and folds it into totals and stats.
func (r *Recorder) award(e core.HistoryEntry) {
	l := r.ledger
	total, err := core.AddSafe(l.TotalPoints, e.EarnedPoints)
	if err != nil {
		r.logger.Error("points total overflow; entry not counted", "kind", e.Kind, "error", err)
		return
	}
	l.History = append(l.History, e)
	l.TotalPoints = total
	l.Stats.Apply(e)
}

// Redeem spends amount points. It is the only operation that fails with a
// domain error, core.ErrInsufficientPoints, on overdraft.
func (r *Recorder) Redeem(ctx context.Context, amount int64, reason string) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "rewards.Redeem",
		trace.WithAttributes(
			attribute.String("user_id", string(r.user)),
			attribute.Int64("amount", amount),
		),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.ledger

	if amount <= 0 {
		span.SetStatus(codes.Error, "invalid amount")
		return l.AvailablePoints, core.ErrInvalidAmount
	}
	if amount > l.AvailablePoints {
		err := core.InsufficientPointsError(l.AvailablePoints, amount)
		span.RecordError(err)
		span.SetStatus(codes.Error, "insufficient points")
		return l.AvailablePoints, err
	}

	now := r.now()
	label := "🎁 Canje de puntos"
	if reason != "" {
		label += ": " + reason
	}
	e := core.HistoryEntry{
		ID:           core.NewEntryID(),
		Kind:         core.KindPointsRedeemed,
		Label:        label,
		BasePoints:   -amount,
		Multiplier:   1,
		EarnedPoints: -amount,
		Timestamp:    core.Millis(now),
		Metadata:     core.Metadata{core.MetaReason: reason},
	}
	l.History = append(l.History, e)
	l.SpentPoints += amount
	l.Stats.Apply(e)
	l.Recompute()
	l.Prune(r.maxHistory)

	r.persist(ctx)
	r.notify(ctx, Change{Type: ChangeRedeemed, Delta: -amount, At: now})
	return l.AvailablePoints, nil
}

// Reset discards all progress. The reset instant becomes the ledger's reset
// clock and the notification asks listeners to force a remote sync so a
// stale remote copy cannot silently restore the discarded state.
func (r *Recorder) Reset(ctx context.Context) {
	ctx, span := r.tracer.Start(ctx, "rewards.Reset", trace.WithAttributes(attribute.String("user_id", string(r.user))))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	fresh := core.NewLedger(r.user)
	fresh.ResetAt = max(core.Millis(now), r.ledger.ResetAt+1)
	delta := -r.ledger.TotalPoints
	r.ledger = fresh

	r.logger.Info("ledger reset", "reset_at", fresh.ResetAt)
	r.persist(ctx)
	r.notify(ctx, Change{Type: ChangeReset, Delta: delta, ForceSync: true, IsReset: true, At: now})
}

// ExportState serialises the ledger at the current schema version.
func (r *Recorder) ExportState() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return core.EncodeLedger(r.ledger)
}

// ImportState reconciles an external snapshot into the ledger. merge=false
// restores the snapshot as authoritative (subject to the merger's
// protections). Only an undecodable snapshot is an error, and it leaves the
// ledger untouched.
func (r *Recorder) ImportState(ctx context.Context, data []byte, merge bool) (reconcile.Outcome, error) {
	mode := reconcile.ModeReplace
	if merge {
		mode = reconcile.ModeMerge
	}
	ctx, span := r.tracer.Start(ctx, "rewards.ImportState",
		trace.WithAttributes(
			attribute.String("user_id", string(r.user)),
			attribute.String("mode", mode.String()),
		),
	)
	defer span.End()

	external, err := core.DecodeLedger(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return "", fmt.Errorf("import state: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	before := r.ledger.TotalPoints
	merged, outcome := reconcile.Merge(r.ledger, external, mode, now)
	merged.UserID = r.user
	merged.Prune(r.maxHistory)
	r.ledger = merged
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	r.logger.Info("ledger imported", "mode", mode.String(), "outcome", outcome, "total_points", merged.TotalPoints)

	r.persist(ctx)
	r.notify(ctx, Change{
		Type:    ChangeImported,
		Delta:   merged.TotalPoints - before,
		IsReset: outcome == reconcile.OutcomeAdoptedReset,
		At:      now,
	})
	return outcome, nil
}

// State returns a deep copy of the ledger.
func (r *Recorder) State() *core.Ledger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.Clone()
}

// persist writes the ledger with a single Set. Failures are logged and
// swallowed: in-memory state stays authoritative.
func (r *Recorder) persist(ctx context.Context) {
	data, err := core.EncodeLedger(r.ledger)
	if err == nil {
		err = r.storage.Set(ctx, StorageKey(r.user), string(data))
	}
	if err != nil {
		r.logger.Error("persist ledger failed", "error", err)
		trace.SpanFromContext(ctx).RecordError(err)
	}
}

func (r *Recorder) notify(ctx context.Context, ch Change) {
	ch.UserID = r.user
	ch.TotalPoints = r.ledger.TotalPoints
	ch.AvailablePoints = r.ledger.AvailablePoints
	ch.Streak = r.ledger.Streak
	r.bus.Publish(ctx, ch)
}

// IsInsufficientPoints reports whether err is an overdraft from Redeem.
func IsInsufficientPoints(err error) bool { return errors.Is(err, core.ErrInsufficientPoints) }
