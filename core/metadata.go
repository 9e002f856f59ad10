package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Metadata is caller-supplied context attached to an event. Values arrive
// either as Go values or as decoded JSON (float64, string, bool), so the
// accessors below accept both.
type Metadata map[string]any

// Well-known metadata keys.
const (
	MetaResourceID            = "resourceId"
	MetaScore                 = "score"
	MetaCount                 = "count"
	MetaBloomLevel            = "bloomLevel"
	MetaAllDimensionsComplete = "allDimensionsComplete"
	MetaMetacognitive         = "metacognitive"
	MetaWebSearch             = "webSearch"
	MetaAchievementID         = "achievementId"
	MetaDescription           = "description"
	MetaReason                = "reason"
)

// Clone returns a shallow copy; nested values are treated as immutable.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	cp := make(Metadata, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// String returns the value at key rendered as a string.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func wholeNumber(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// Int returns the integer value at key, if any. Floats count only when
// they hold a whole number.
func (m Metadata) Int(key string) (int64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return wholeNumber(t)
	case float32:
		return wholeNumber(float64(t))
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return wholeNumber(f)
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Bool reports whether the value at key is truthy.
func (m Metadata) Bool(key string) bool {
	switch t := m[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

// ResourceID returns the NFC-normalised resourceId, or "" when absent.
func (m Metadata) ResourceID() string {
	id := strings.TrimSpace(m.String(MetaResourceID))
	if id == "" {
		return ""
	}
	return norm.NFC.String(id)
}
