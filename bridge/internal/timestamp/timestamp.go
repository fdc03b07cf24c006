// Package timestamp derives nanosecond epoch values from the ISO-8601
// strings carried by records and commits.
package timestamp

import (
	"strings"
	"time"
)

// Unknown is the sentinel returned when no input parses.
const Unknown = 0

// Accepted layouts, tried in order. Layouts without a zone are read as UTC.
var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// UnixNano is only defined for years 1678 to 2261.
var (
	minTime = time.Unix(0, -1<<63).UTC()
	maxTime = time.Unix(0, 1<<63-1).UTC()
)

// Parse reads an ISO-8601 wall-clock time. Values outside the int64
// nanosecond range are rejected.
func Parse(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.Before(minTime) || t.After(maxTime) {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// NanosInt parses primary, then fallback, returning Unknown when neither
// parses. Empty strings count as absent.
func NanosInt(primary, fallback string) int64 {
	if t, ok := Parse(primary); ok {
		return t.UnixNano()
	}
	if t, ok := Parse(fallback); ok {
		return t.UnixNano()
	}
	return Unknown
}

// NanosFloat is NanosInt as a floating nanosecond count.
func NanosFloat(primary, fallback string) float64 {
	return float64(NanosInt(primary, fallback))
}

// CommitNanos applies the commit-time rule: when no time string was
// supplied at all, the current wall clock stands in. A supplied but
// unparsable string still yields Unknown.
func CommitNanos(commitTime *string, now func() time.Time) float64 {
	if commitTime == nil {
		if now == nil {
			now = time.Now
		}
		return float64(now().UnixNano())
	}
	return NanosFloat(*commitTime, "")
}
