package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "rewardskit/adapters/memory"
	"rewardskit/core"
	"rewardskit/reconcile"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type failingStorage struct{ writes int }

func (f *failingStorage) Get(context.Context, string) (string, bool, error) { return "", false, nil }

func (f *failingStorage) Set(context.Context, string, string) error {
	f.writes++
	return errors.New("quota exceeded")
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestRecorder(t *testing.T, store Storage, clock *stepClock, opts ...Option) (*Recorder, *[]Change) {
	t.Helper()
	bus := NewEventBus(DispatchSync)
	var changes []Change
	bus.Subscribe(ChangeAny, func(_ context.Context, c Change) { changes = append(changes, c) })
	base := []Option{WithClock(clock.Now), WithLocation(time.UTC), WithLogger(quietLogger())}
	rec, err := NewRecorder(context.Background(), store, bus, "alice", append(base, opts...)...)
	require.NoError(t, err)
	return rec, &changes
}

func day(n int) time.Time { return time.Date(2025, 5, n, 12, 0, 0, 0, time.UTC) }

func assertAvailability(t *testing.T, l *core.Ledger) {
	t.Helper()
	assert.Equal(t, l.TotalPoints-l.SpentPoints, l.AvailablePoints)
}

func TestRecordFirstEventOnFreshLedger(t *testing.T) {
	store := mem.New()
	rec, changes := newTestRecorder(t, store, &stepClock{now: day(1)})

	res := rec.RecordEvent(context.Background(), core.KindQuestionBloom1, core.Metadata{})
	assert.Equal(t, int64(2), res.PointsAwarded)
	assert.Equal(t, 1.0, res.Multiplier)
	assert.Equal(t, RejectNone, res.Rejected)
	assert.NotEmpty(t, res.Message)

	l := rec.State()
	assert.Equal(t, int64(2), l.TotalPoints)
	assert.Equal(t, 1, l.Streak)
	assert.Len(t, l.History, 1)
	assertAvailability(t, l)

	require.Len(t, *changes, 1)
	c := (*changes)[0]
	assert.Equal(t, ChangeRecorded, c.Type)
	assert.Equal(t, core.UserID("alice"), c.UserID)
	assert.Equal(t, int64(2), c.TotalPoints)
	assert.Equal(t, int64(2), c.Delta)

	_, found, _ := store.Get(context.Background(), StorageKey("alice"))
	assert.True(t, found)
}

func TestDedupeAwardsOnce(t *testing.T) {
	rec, changes := newTestRecorder(t, mem.New(), &stepClock{now: day(1)})
	ctx := context.Background()
	meta := core.Metadata{core.MetaResourceID: "doc1:eval"}

	first := rec.RecordEvent(ctx, core.KindEvaluationSubmitted, meta)
	second := rec.RecordEvent(ctx, core.KindEvaluationSubmitted, meta)

	assert.Equal(t, int64(10), first.PointsAwarded)
	assert.Equal(t, int64(0), second.PointsAwarded)
	assert.Equal(t, RejectDuplicateResource, second.Rejected)
	assert.Len(t, *changes, 1, "a rejected event is neither persisted nor notified")

	l := rec.State()
	assert.Equal(t, int64(10), l.TotalPoints)
	assert.Contains(t, l.RecordedMilestones, "EVALUATION_SUBMITTED_doc1:eval")
}

func TestDedupeNormalisesResourceIDs(t *testing.T) {
	rec, _ := newTestRecorder(t, mem.New(), &stepClock{now: day(1)})
	ctx := context.Background()

	first := rec.RecordEvent(ctx, core.KindTablaACDCompleted, core.Metadata{core.MetaResourceID: "caf\u00e9"})
	second := rec.RecordEvent(ctx, core.KindTablaACDCompleted, core.Metadata{core.MetaResourceID: " cafe\u0301 "})
	assert.Equal(t, int64(40), first.PointsAwarded)
	assert.Equal(t, RejectDuplicateResource, second.Rejected)
}

func TestLowValueEventsAreNotDeduped(t *testing.T) {
	rec, _ := newTestRecorder(t, mem.New(), &stepClock{now: day(1)})
	ctx := context.Background()
	meta := core.Metadata{core.MetaResourceID: "doc1"}

	for i := 0; i < 3; i++ {
		res := rec.RecordEvent(ctx, core.KindQuestionBloom3, meta)
		assert.Equal(t, int64(10), res.PointsAwarded)
	}
}

func TestDailyCap(t *testing.T) {
	clock := &stepClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	rec, _ := newTestRecorder(t, mem.New(), clock)
	ctx := context.Background()
	def, _ := core.Lookup(core.KindWebSearchUsed)
	require.Equal(t, 10, def.DailyLimit)

	awarded := 0
	for i := 0; i < def.DailyLimit+1; i++ {
		res := rec.RecordEvent(ctx, core.KindWebSearchUsed, core.Metadata{core.MetaResourceID: "same-query"})
		if res.PointsAwarded > 0 {
			awarded++
		} else {
			assert.Equal(t, RejectDailyLimit, res.Rejected)
			assert.Equal(t, def.DailyLimit, i)
		}
		clock.Advance(time.Minute)
	}
	assert.Equal(t, def.DailyLimit, awarded)

	l := rec.State()
	assert.Equal(t, int64(def.DailyLimit), l.RecordedMilestones[core.DailyMilestoneKey(core.KindWebSearchUsed, "2025-05-01")])
	assert.Equal(t, int64(150), l.TotalPoints)
	assert.Equal(t, def.DailyLimit, l.Stats.WebSearches)

	clock.now = day(2)
	res := rec.RecordEvent(ctx, core.KindWebSearchUsed, nil)
	assert.Equal(t, int64(15), res.PointsAwarded, "the cap resets on the next local day")
}

func TestSevenConsecutiveDaysUnlockWeekStreakOnce(t *testing.T) {
	clock := &stepClock{now: day(1)}
	rec, _ := newTestRecorder(t, mem.New(), clock)
	ctx := context.Background()

	var last Result
	for d := 1; d <= 7; d++ {
		clock.now = day(d)
		last = rec.RecordEvent(ctx, core.KindQuestionBloom1, nil)
		assert.Equal(t, d, last.Streak)
		if d == 3 {
			assert.Equal(t, 1.2, last.Multiplier)
		}
	}
	assert.Equal(t, 1.5, last.Multiplier)
	assert.Equal(t, int64(3), last.PointsAwarded)
	assert.Equal(t, []core.AchievementID{core.AchievementWeekStreak}, last.Achievements)

	clock.now = day(8)
	again := rec.RecordEvent(ctx, core.KindQuestionBloom1, nil)
	assert.Empty(t, again.Achievements)

	l := rec.State()
	count := 0
	for _, id := range l.Achievements {
		if id == core.AchievementWeekStreak {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, l.Stats.AchievementsUnlocked)
	assert.Empty(t, l.Verify())
	assertAvailability(t, l)
}

func TestStreakSameDayAndGap(t *testing.T) {
	clock := &stepClock{now: day(1)}
	rec, _ := newTestRecorder(t, mem.New(), clock)
	ctx := context.Background()

	rec.RecordEvent(ctx, core.KindNoteCreated, nil)
	clock.Advance(3 * time.Hour)
	res := rec.RecordEvent(ctx, core.KindNoteCreated, nil)
	assert.Equal(t, 1, res.Streak)

	clock.now = day(2)
	assert.Equal(t, 2, rec.RecordEvent(ctx, core.KindNoteCreated, nil).Streak)

	clock.now = day(5)
	assert.Equal(t, 1, rec.RecordEvent(ctx, core.KindNoteCreated, nil).Streak)
}

func TestUnknownEventIsNoop(t *testing.T) {
	store := mem.New()
	rec, changes := newTestRecorder(t, store, &stepClock{now: day(1)})

	res := rec.RecordEvent(context.Background(), core.EventKind("FROM_A_NEWER_CLIENT"), core.Metadata{"x": 1})
	assert.Equal(t, RejectUnknownEvent, res.Rejected)
	assert.Zero(t, res.PointsAwarded)
	assert.Empty(t, rec.State().History)
	assert.Empty(t, *changes)

	_, found, _ := store.Get(context.Background(), StorageKey("alice"))
	assert.False(t, found)
}

func TestRedeem(t *testing.T) {
	rec, changes := newTestRecorder(t, mem.New(), &stepClock{now: day(1)})
	ctx := context.Background()
	rec.RecordEvent(ctx, core.KindQuestionBloom5, nil) // 35 + critical_thinker 100

	before := rec.State()
	require.Equal(t, int64(135), before.AvailablePoints)

	_, err := rec.Redeem(ctx, 1000, "avatar")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInsufficientPoints))
	assert.True(t, IsInsufficientPoints(err))
	assert.Equal(t, before, rec.State(), "a failed redemption leaves the ledger untouched")

	_, err = rec.Redeem(ctx, 0, "nothing")
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	available, err := rec.Redeem(ctx, 35, "avatar")
	require.NoError(t, err)
	assert.Equal(t, int64(100), available)

	l := rec.State()
	assert.Equal(t, int64(135), l.TotalPoints, "redemption never lowers total points")
	assert.Equal(t, int64(35), l.SpentPoints)
	assertAvailability(t, l)
	lastEntry := l.History[len(l.History)-1]
	assert.Equal(t, core.KindPointsRedeemed, lastEntry.Kind)
	assert.Equal(t, int64(-35), lastEntry.EarnedPoints)
	assert.Equal(t, int64(35), l.Stats.PointsRedeemed)
	assert.Empty(t, l.Verify())

	lastChange := (*changes)[len(*changes)-1]
	assert.Equal(t, ChangeRedeemed, lastChange.Type)
	assert.Equal(t, int64(-35), lastChange.Delta)
}

func TestResetForcesSync(t *testing.T) {
	clock := &stepClock{now: day(1)}
	rec, changes := newTestRecorder(t, mem.New(), clock)
	ctx := context.Background()
	rec.RecordEvent(ctx, core.KindEvaluationSubmitted, core.Metadata{core.MetaResourceID: "doc1:eval"})

	clock.Advance(time.Hour)
	rec.Reset(ctx)

	l := rec.State()
	assert.Zero(t, l.TotalPoints)
	assert.Empty(t, l.History)
	assert.Empty(t, l.RecordedMilestones)
	assert.Equal(t, core.Millis(clock.now), l.ResetAt)

	c := (*changes)[len(*changes)-1]
	assert.Equal(t, ChangeReset, c.Type)
	assert.True(t, c.ForceSync)
	assert.True(t, c.IsReset)

	res := rec.RecordEvent(ctx, core.KindEvaluationSubmitted, core.Metadata{core.MetaResourceID: "doc1:eval"})
	assert.Equal(t, int64(10), res.PointsAwarded, "reset clears the dedupe registry")
}

func TestExportImportRoundTrip(t *testing.T) {
	clock := &stepClock{now: day(1)}
	src, _ := newTestRecorder(t, mem.New(), clock)
	ctx := context.Background()
	src.RecordEvent(ctx, core.KindQuestionBloom4, core.Metadata{core.MetaResourceID: "q1"})
	src.RecordEvent(ctx, core.KindNoteCreated, nil)

	snapshot, err := src.ExportState()
	require.NoError(t, err)

	dst, changes := newTestRecorder(t, mem.New(), clock)
	outcome, err := dst.ImportState(ctx, snapshot, false)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeReplaced, outcome)
	assert.Equal(t, src.State().TotalPoints, dst.State().TotalPoints)
	assert.Equal(t, ChangeImported, (*changes)[0].Type)

	outcome, err = dst.ImportState(ctx, snapshot, true)
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeMerged, outcome)
	assert.Equal(t, src.State().TotalPoints, dst.State().TotalPoints, "merging a copy never double-counts")
	assert.Len(t, dst.State().History, 2)

	res := dst.RecordEvent(ctx, core.KindQuestionBloom4, core.Metadata{core.MetaResourceID: "q1"})
	assert.Equal(t, RejectDuplicateResource, res.Rejected, "imported milestones keep guarding against farming")
}

func TestImportRejectsUndecodableSnapshot(t *testing.T) {
	rec, _ := newTestRecorder(t, mem.New(), &stepClock{now: day(1)})
	ctx := context.Background()
	rec.RecordEvent(ctx, core.KindNoteCreated, nil)
	before := rec.State()

	_, err := rec.ImportState(ctx, []byte("{not json"), true)
	require.Error(t, err)
	assert.Equal(t, before, rec.State())
}

func TestImportLegacyNumberRecoversProvenance(t *testing.T) {
	rec, _ := newTestRecorder(t, mem.New(), &stepClock{now: day(1)})
	_, err := rec.ImportState(context.Background(), []byte(`{"totalPoints":150,"history":[]}`), false)
	require.NoError(t, err)

	l := rec.State()
	require.Len(t, l.History, 1)
	assert.Equal(t, int64(150), l.History[0].EarnedPoints)
	assert.Equal(t, int64(150), l.Stats.PointsEarned)
	assert.Zero(t, l.Stats.TotalInteractions)
}

func TestPersistenceFailureIsNotFatal(t *testing.T) {
	store := &failingStorage{}
	rec, changes := newTestRecorder(t, store, &stepClock{now: day(1)})

	res := rec.RecordEvent(context.Background(), core.KindQuestionBloom2, nil)
	assert.Equal(t, int64(5), res.PointsAwarded)
	assert.Equal(t, int64(5), rec.State().TotalPoints)
	assert.Equal(t, 1, store.writes)
	assert.Len(t, *changes, 1)
}

func TestLoadPersistedLedger(t *testing.T) {
	store := mem.New()
	clock := &stepClock{now: day(1)}
	first, _ := newTestRecorder(t, store, clock)
	first.RecordEvent(context.Background(), core.KindQuestionBloom6, nil)

	second, _ := newTestRecorder(t, store, clock)
	assert.Equal(t, first.State().TotalPoints, second.State().TotalPoints)
	assert.Equal(t, first.State().History, second.State().History)
}

func TestLegacyKeyMigration(t *testing.T) {
	store := mem.New()
	ctx := context.Background()
	legacy := `{"totalPoints":7,"spentPoints":0,"streak":1,"lastInteraction":1746000000000,
		"history":[
			{"event":"QUESTION_BLOOM_2","label":"x","basePoints":5,"multiplier":1,"earnedPoints":5,"timestamp":1745990000000},
			{"event":"QUESTION_BLOOM_1","label":"y","basePoints":2,"multiplier":1,"earnedPoints":2,"timestamp":1746000000000}
		]}`
	require.NoError(t, store.Set(ctx, LegacyStorageKey, legacy))

	rec, _ := newTestRecorder(t, store, &stepClock{now: day(1)})
	l := rec.State()
	assert.Equal(t, int64(7), l.AvailablePoints)
	assert.Equal(t, core.KindQuestionBloom1, l.History[1].Kind)
	assert.Equal(t, 2, l.Stats.TotalInteractions)

	scoped, found, err := store.Get(ctx, StorageKey("alice"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, scoped, `"schemaVersion":2`)
}

func TestHistoryPruningKeepsStatsReplayable(t *testing.T) {
	clock := &stepClock{now: day(1)}
	rec, _ := newTestRecorder(t, mem.New(), clock, WithMaxHistory(5))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		rec.RecordEvent(ctx, core.KindNoteCreated, nil)
		clock.Advance(time.Minute)
	}
	l := rec.State()
	assert.Len(t, l.History, 5)
	require.NotNil(t, l.Archive)
	assert.Equal(t, 3, l.Archive.Entries)
	assert.Equal(t, 8, l.Stats.TotalInteractions)
	assert.Empty(t, l.Verify())
}

func TestRegistryNormalisesUsers(t *testing.T) {
	store := mem.New()
	reg := NewRegistry(store, NewEventBus(DispatchSync), WithLogger(quietLogger()), WithClock((&stepClock{now: day(1)}).Now))
	ctx := context.Background()

	a, err := reg.Recorder(ctx, " XyZ9aB ")
	require.NoError(t, err)
	b, err := reg.Recorder(ctx, "XyZ9aB")
	require.NoError(t, err)
	assert.Same(t, a, b)

	a.RecordEvent(ctx, core.KindQuestionBloom6, nil)
	_, found, err := store.Get(ctx, "rewards_state_XyZ9aB")
	require.NoError(t, err)
	assert.True(t, found, "storage key keeps the id's case")

	other, err := reg.Recorder(ctx, "xyz9ab")
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.Zero(t, other.State().TotalPoints, "ids differing only in case are distinct learners")
	assert.Equal(t, []core.UserID{"XyZ9aB", "xyz9ab"}, reg.Users())

	_, err = reg.Recorder(ctx, "  ")
	assert.Error(t, err)
}

func TestMistypedLegacySnapshotKeepsBalance(t *testing.T) {
	store := mem.New()
	ctx := context.Background()
	legacy := `{"totalPoints":"500","spentPoints":0,"streak":"3","lastInteraction":1740000000000,
		"history":[
			{"event":"QUESTION_BLOOM_3","label":"x","basePoints":10,"multiplier":"1","earnedPoints":10,"timestamp":1740000000000,"metadata":"n/a"},
			"garbage"
		],
		"achievements":["critical_thinker", 7],
		"dailyLog":{"2025-02-19":{"interactions":1,"points":10.0,"bloomLevels":["3", "high"]}},
		"recordedMilestones":{"QUESTION_BLOOM_3_2025-02-19":"1","broken":{}}}`
	require.NoError(t, store.Set(ctx, LegacyStorageKey, legacy))

	rec, _ := newTestRecorder(t, store, &stepClock{now: day(1)})
	l := rec.State()
	assert.Equal(t, int64(500), l.TotalPoints)
	require.Len(t, l.History, 1)
	assert.Equal(t, core.KindQuestionBloom3, l.History[0].Kind)
	assert.Equal(t, []int{3}, l.DailyLog["2025-02-19"].BloomLevels)
	assert.Equal(t, []core.AchievementID{core.AchievementCriticalThinker}, l.Achievements)

	rec.RecordEvent(ctx, core.KindQuestionBloom1, nil)
	raw, found, err := store.Get(ctx, StorageKey("alice"))
	require.NoError(t, err)
	require.True(t, found)
	stored, err := core.DecodeLedger([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, int64(502), stored.TotalPoints)
}

func TestUndecodableSnapshotIsQuarantined(t *testing.T) {
	store := mem.New()
	ctx := context.Background()
	const corrupt = `{"totalPoints": 800, "history": [`
	require.NoError(t, store.Set(ctx, StorageKey("alice"), corrupt))

	clock := &stepClock{now: day(1)}
	rec, _ := newTestRecorder(t, store, clock)
	assert.Zero(t, rec.State().TotalPoints)

	rec.RecordEvent(ctx, core.KindQuestionBloom1, nil)
	kept, found, err := store.Get(ctx, QuarantineKey("alice", day(1)))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, corrupt, kept)
}

type readOnlyStorage struct{ value string }

func (s readOnlyStorage) Get(context.Context, string) (string, bool, error) { return s.value, true, nil }

func (s readOnlyStorage) Set(context.Context, string, string) error {
	return errors.New("storage is read-only")
}

func TestUndecodableSnapshotRefusesToLoadWithoutQuarantine(t *testing.T) {
	_, err := NewRecorder(context.Background(), readOnlyStorage{value: "not json"}, NewEventBus(DispatchSync), "alice",
		WithLogger(quietLogger()))
	assert.ErrorContains(t, err, "quarantine")
}

func TestDailyLogTakesBloomLevelFromMetadata(t *testing.T) {
	rec, _ := newTestRecorder(t, mem.New(), &stepClock{now: day(1)})
	rec.RecordEvent(context.Background(), core.KindEvaluationSubmitted, core.Metadata{core.MetaBloomLevel: 4})
	rec.RecordEvent(context.Background(), core.KindQuestionBloom2, core.Metadata{core.MetaBloomLevel: 6})

	assert.Equal(t, []int{4, 2}, rec.State().DailyLog["2025-05-01"].BloomLevels)
}
