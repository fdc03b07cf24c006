package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
		ok    bool
	}{
		{"rfc3339 zulu", "2023-11-14T22:13:20Z", 1700000000000000000, true},
		{"rfc3339 millis", "2023-11-14T22:13:20.123Z", 1700000000123000000, true},
		{"rfc3339 nanos", "2023-11-14T22:13:20.123456789Z", 1700000000123456789, true},
		{"offset", "2023-11-15T00:13:20+02:00", 1700000000000000000, true},
		{"compact offset", "2023-11-15T00:13:20.5+0200", 1700000000500000000, true},
		{"no zone is utc", "2023-11-14T22:13:20", 1700000000000000000, true},
		{"space separator", "2023-11-14 22:13:20", 1700000000000000000, true},
		{"date only", "2023-11-14", 1699920000000000000, true},
		{"surrounding space", "  2023-11-14T22:13:20Z ", 1700000000000000000, true},
		{"empty", "", 0, false},
		{"garbage", "yesterday", 0, false},
		{"out of range", "0001-01-01T00:00:00Z", 0, false},
		{"far future", "9999-12-31T00:00:00Z", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.UnixNano())
			}
		})
	}
}

func TestNanosInt(t *testing.T) {
	const good = "2023-11-14T22:13:20Z"
	const goodNs = int64(1700000000000000000)

	tests := []struct {
		name     string
		primary  string
		fallback string
		want     int64
	}{
		{"both absent", "", "", Unknown},
		{"primary wins", good, "2020-01-01T00:00:00Z", goodNs},
		{"primary wins over garbage", good, "junk", goodNs},
		{"fallback on bad primary", "junk", good, goodNs},
		{"fallback on absent primary", "", good, goodNs},
		{"both bad", "junk", "junk", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NanosInt(tt.primary, tt.fallback))
			assert.Equal(t, float64(tt.want), NanosFloat(tt.primary, tt.fallback))
		})
	}
}

func TestCommitNanos(t *testing.T) {
	fixed := time.Unix(1700000000, 42)
	now := func() time.Time { return fixed }

	t.Run("absent uses clock", func(t *testing.T) {
		assert.Equal(t, float64(fixed.UnixNano()), CommitNanos(nil, now))
	})

	t.Run("unparsable stays unknown", func(t *testing.T) {
		s := "not a time"
		assert.Equal(t, float64(Unknown), CommitNanos(&s, now))
	})

	t.Run("empty string stays unknown", func(t *testing.T) {
		s := ""
		assert.Equal(t, float64(Unknown), CommitNanos(&s, now))
	})

	t.Run("parsed", func(t *testing.T) {
		s := "2023-11-14T22:13:20Z"
		assert.Equal(t, float64(1700000000000000000), CommitNanos(&s, now))
	})

	t.Run("nil clock falls back to time.Now", func(t *testing.T) {
		before := time.Now().UnixNano()
		got := CommitNanos(nil, nil)
		assert.GreaterOrEqual(t, got, float64(before))
	})
}
