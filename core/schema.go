package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnsupportedSchema is returned for snapshots written by a newer schema.
var ErrUnsupportedSchema = errors.New("unsupported ledger schema version")

// migration upgrades a raw snapshot from version From to From+1.
type migration struct {
	From  int
	Apply func(raw map[string]any) error
}

// Snapshots without a schemaVersion are version 0: the original client
// format, where history entries name their kind under "event" and the
// reset clock and milestone registry may be missing.
var migrations = []migration{
	{From: 0, Apply: migrateContainers},
	{From: 1, Apply: chain(migrateHistoryKinds, coerceLegacyValues)},
}

func chain(steps ...func(map[string]any) error) func(map[string]any) error {
	return func(raw map[string]any) error {
		for _, step := range steps {
			if err := step(raw); err != nil {
				return err
			}
		}
		return nil
	}
}

// migrateContainers fills the containers every later version relies on.
func migrateContainers(raw map[string]any) error {
	for _, key := range []string{"history", "achievements"} {
		if _, ok := raw[key].([]any); !ok {
			raw[key] = []any{}
		}
	}
	for _, key := range []string{"dailyLog", "recordedMilestones"} {
		if _, ok := raw[key].(map[string]any); !ok {
			raw[key] = map[string]any{}
		}
	}
	if _, ok := raw["resetAt"]; !ok || raw["resetAt"] == nil {
		raw["resetAt"] = json.Number("0")
	}
	if raw["lastInteraction"] == nil {
		delete(raw, "lastInteraction")
	}
	return nil
}

// migrateHistoryKinds renames the per-entry "event" field to "kind".
func migrateHistoryKinds(raw map[string]any) error {
	history, _ := raw["history"].([]any)
	kept := history[:0]
	for _, item := range history {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kept = append(kept, entry)
		if _, has := entry["kind"]; !has {
			if ev, ok := entry["event"]; ok {
				entry["kind"] = ev
			}
		}
		delete(entry, "event")
		if entry["multiplier"] == nil {
			entry["multiplier"] = json.Number("1")
		}
	}
	if history != nil {
		raw["history"] = kept
	}
	return nil
}

// coerceLegacyValues rewrites loosely typed values written by older clients
// (numbers as strings, fractional counters) into the types the ledger
// decodes. Values that cannot be typed are dropped so one bad field never
// costs the whole snapshot. Stats are dropped too: Repair replays them.
func coerceLegacyValues(raw map[string]any) error {
	for _, key := range []string{"totalPoints", "spentPoints", "availablePoints", "streak", "lastInteraction", "resetAt"} {
		coerceIntField(raw, key)
	}
	delete(raw, "stats")
	if id, ok := raw["userId"]; ok {
		if _, isString := id.(string); !isString {
			delete(raw, "userId")
		}
	}

	history, _ := raw["history"].([]any)
	for _, item := range history {
		entry := item.(map[string]any)
		for _, key := range []string{"basePoints", "earnedPoints", "timestamp"} {
			coerceIntField(entry, key)
		}
		if f, ok := floatValue(entry["multiplier"]); ok {
			entry["multiplier"] = f
		} else {
			entry["multiplier"] = json.Number("1")
		}
		for _, key := range []string{"id", "kind", "label"} {
			coerceStringField(entry, key)
		}
		if _, ok := entry["metadata"].(map[string]any); !ok {
			delete(entry, "metadata")
		}
	}

	achievements, _ := raw["achievements"].([]any)
	ids := make([]any, 0, len(achievements))
	for _, a := range achievements {
		if s, ok := a.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	raw["achievements"] = ids

	daily, _ := raw["dailyLog"].(map[string]any)
	for date, item := range daily {
		day, ok := item.(map[string]any)
		if !ok {
			delete(daily, date)
			continue
		}
		coerceIntField(day, "interactions")
		coerceIntField(day, "points")
		levels, _ := day["bloomLevels"].([]any)
		typed := make([]any, 0, len(levels))
		for _, v := range levels {
			if n, ok := intValue(v); ok {
				typed = append(typed, n)
			}
		}
		day["bloomLevels"] = typed
	}

	milestones, _ := raw["recordedMilestones"].(map[string]any)
	for key, v := range milestones {
		if n, ok := intValue(v); ok {
			milestones[key] = n
		} else {
			delete(milestones, key)
		}
	}
	return nil
}

func coerceIntField(m map[string]any, key string) {
	v, ok := m[key]
	if !ok {
		return
	}
	if n, ok := intValue(v); ok {
		m[key] = n
		return
	}
	delete(m, key)
}

func coerceStringField(m map[string]any, key string) {
	switch v := m[key].(type) {
	case nil, string:
	case json.Number:
		m[key] = v.String()
	default:
		delete(m, key)
	}
}

// intValue types v as an integer. Numeric strings are accepted and
// fractional values are rounded.
func intValue(v any) (json.Number, bool) {
	f, ok := floatValue(v)
	if !ok || math.Abs(f) > math.MaxInt64/2 {
		return "", false
	}
	if n, isNum := v.(json.Number); isNum {
		if i, err := n.Int64(); err == nil {
			return json.Number(strconv.FormatInt(i, 10)), true
		}
	}
	return json.Number(strconv.FormatInt(int64(math.Round(f)), 10)), true
}

func floatValue(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = t
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// DecodeLedger parses a snapshot of any supported version and upgrades it
// to CurrentSchemaVersion through the explicit migration chain.
func DecodeLedger(data []byte) (*Ledger, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	if raw == nil {
		return nil, errors.New("decode ledger: snapshot is not an object")
	}

	version := 0
	if v, ok := raw["schemaVersion"].(json.Number); ok {
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("decode ledger: schemaVersion: %w", err)
		}
		version = int(n)
	}
	if version > CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, version)
	}
	for _, m := range migrations {
		if m.From < version {
			continue
		}
		if err := m.Apply(raw); err != nil {
			return nil, fmt.Errorf("migrate ledger v%d: %w", m.From, err)
		}
		version = m.From + 1
	}
	raw["schemaVersion"] = json.Number(fmt.Sprint(CurrentSchemaVersion))

	upgraded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode ledger: %w", err)
	}
	l := NewLedger("")
	if err := json.Unmarshal(upgraded, l); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	l.normalize()
	return l, nil
}

// EncodeLedger writes the current schema.
func EncodeLedger(l *Ledger) ([]byte, error) {
	cp := *l
	cp.SchemaVersion = CurrentSchemaVersion
	return json.Marshal(&cp)
}

// normalize restores invariants a decoded snapshot may violate.
func (l *Ledger) normalize() {
	if l.History == nil {
		l.History = []HistoryEntry{}
	}
	if l.Achievements == nil {
		l.Achievements = []AchievementID{}
	}
	if l.DailyLog == nil {
		l.DailyLog = map[string]DailyEntry{}
	}
	if l.RecordedMilestones == nil {
		l.RecordedMilestones = map[string]int64{}
	}
	if l.Stats.BloomLevelCounts == nil {
		l.Stats.BloomLevelCounts = map[int]int{}
	}
	if l.TotalPoints < 0 {
		l.TotalPoints = 0
	}
	if l.SpentPoints < 0 {
		l.SpentPoints = 0
	}
	l.Recompute()
}
