package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a learner in the rewards domain.
type UserID string

// NormalizeUserID trims surrounding whitespace. Case is significant: ids
// come from the identity provider and name the storage key verbatim.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty user id")
	}
	return UserID(s), nil
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// Millis converts t to the Unix-millisecond instants stored in snapshots.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// FromMillis converts a snapshot instant back to a time.Time.
// A zero instant maps to the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// LocalDate formats t as the YYYY-MM-DD calendar date in loc.
func LocalDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(time.DateOnly)
}
