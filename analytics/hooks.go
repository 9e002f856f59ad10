package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"rewardskit/core"
	"rewardskit/engine"
)

// Hook receives ledger change notifications for KPI aggregation.
type Hook interface {
	OnChange(c engine.Change)
}

// Attach subscribes hook to every change on bus and returns the unsubscribe func.
func Attach(bus *engine.EventBus, hook Hook) func() {
	return bus.Subscribe(engine.ChangeAny, func(_ context.Context, c engine.Change) { hook.OnChange(c) })
}

// DAU tracks daily active users. Only recorded events count as activity.
type DAU struct {
	mu   sync.Mutex
	loc  *time.Location
	days map[string]map[core.UserID]struct{}
}

// NewDAU buckets activity by calendar day in loc (UTC when nil).
func NewDAU(loc *time.Location) *DAU {
	if loc == nil {
		loc = time.UTC
	}
	return &DAU{loc: loc, days: map[string]map[core.UserID]struct{}{}}
}

func (d *DAU) OnChange(c engine.Change) {
	if c.Type != engine.ChangeRecorded {
		return
	}
	day := core.LocalDate(c.At, d.loc)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
	}
	m[c.UserID] = struct{}{}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

// Days returns every tracked day in ascending order.
func (d *DAU) Days() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.days))
	for k := range d.days {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Counters aggregates point flow and unlocks across learners.
type Counters struct {
	mu           sync.RWMutex
	loc          *time.Location
	awardedByDay map[string]int64
	redeemByDay  map[string]int64
	achievements map[core.AchievementID]int64
	resets       int64
	imports      int64
}

// CountersSnapshot is a point-in-time copy of Counters.
type CountersSnapshot struct {
	PointsAwardedByDay  map[string]int64             `json:"pointsAwardedByDay"`
	PointsRedeemedByDay map[string]int64             `json:"pointsRedeemedByDay"`
	Achievements        map[core.AchievementID]int64 `json:"achievements"`
	Resets              int64                        `json:"resets"`
	Imports             int64                        `json:"imports"`
}

func NewCounters(loc *time.Location) *Counters {
	if loc == nil {
		loc = time.UTC
	}
	return &Counters{
		loc:          loc,
		awardedByDay: map[string]int64{},
		redeemByDay:  map[string]int64{},
		achievements: map[core.AchievementID]int64{},
	}
}

func (c *Counters) OnChange(ch engine.Change) {
	day := core.LocalDate(ch.At, c.loc)
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ch.Type {
	case engine.ChangeRecorded:
		if ch.Delta > 0 {
			c.awardedByDay[day] += ch.Delta
		}
		for _, id := range ch.Achievements {
			c.achievements[id]++
		}
	case engine.ChangeRedeemed:
		c.redeemByDay[day] += -ch.Delta
	case engine.ChangeReset:
		c.resets++
	case engine.ChangeImported:
		c.imports++
	}
}

func (c *Counters) Snapshot() CountersSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := CountersSnapshot{
		PointsAwardedByDay:  make(map[string]int64, len(c.awardedByDay)),
		PointsRedeemedByDay: make(map[string]int64, len(c.redeemByDay)),
		Achievements:        make(map[core.AchievementID]int64, len(c.achievements)),
		Resets:              c.resets,
		Imports:             c.imports,
	}
	for k, v := range c.awardedByDay {
		s.PointsAwardedByDay[k] = v
	}
	for k, v := range c.redeemByDay {
		s.PointsRedeemedByDay[k] = v
	}
	for k, v := range c.achievements {
		s.Achievements[k] = v
	}
	return s
}

// BridgeHook fans one change out to several hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnChange(c engine.Change) {
	for _, h := range b.hooks {
		h.OnChange(c)
	}
}

var (
	_ Hook = (*DAU)(nil)
	_ Hook = (*Counters)(nil)
	_ Hook = (*BridgeHook)(nil)
)
