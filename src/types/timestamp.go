package types

import (
	"math"
	"time"
)

// Timestamp keys are Unix seconds restricted to the signed 32-bit range.
// Anything outside is treated as unindexable rather than as an error.
const (
	MinTimestamp int64 = math.MinInt32
	MaxTimestamp int64 = math.MaxInt32

	// SecondsPerDay is the width of one day bucket.
	SecondsPerDay int64 = 24 * 60 * 60
)

// InRange reports whether ts fits the key space.
func InRange(ts int64) bool {
	return ts >= MinTimestamp && ts <= MaxTimestamp
}

// Key converts t to a timestamp key. ok is false when t falls outside the key space.
func Key(t time.Time) (ts int64, ok bool) {
	ts = t.Unix()
	return ts, InRange(ts)
}

// Unix returns t as Unix seconds without range checking. Used for query
// boundaries, which may legitimately lie outside the key space.
func Unix(t time.Time) int64 {
	return t.Unix()
}

// DayKey truncates a Unix timestamp to its UTC midnight.
func DayKey(ts int64) int64 {
	d := ts / SecondsPerDay
	if ts%SecondsPerDay < 0 {
		d--
	}
	return d * SecondsPerDay
}

// DayOf returns the UTC midnight key of t.
func DayOf(t time.Time) int64 {
	return DayKey(t.Unix())
}

// StartOfDay returns UTC midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	return time.Unix(DayOf(t), 0).UTC()
}

// FirstDayKey and LastDayKey are the extreme day buckets whose key is in range.
var (
	FirstDayKey = DayKey(MinTimestamp) + SecondsPerDay
	LastDayKey  = DayKey(MaxTimestamp)
)

// TimeOf converts a key back to a UTC time.
func TimeOf(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}
