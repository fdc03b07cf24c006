package blockstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/skybridge/bridge/internal/firehose/firehosetest"
)

func key(i int) string {
	return fmt.Sprintf("cid-%05d", i)
}

func TestStore_PutGet(t *testing.T) {
	s := New()
	s.Put("a", map[string]any{"$type": "x"})

	r, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, "x", r["$type"])

	_, ok = s.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestStore_EvictsOldestBatch(t *testing.T) {
	s := New()
	for i := 0; i < DefaultMaxEntries; i++ {
		s.Put(key(i), map[string]any{"i": i})
	}
	require.Equal(t, DefaultMaxEntries, s.Len(), "no eviction at the limit")

	s.Put(key(DefaultMaxEntries), map[string]any{})

	assert.Equal(t, DefaultMaxEntries+1-DefaultEvictCount, s.Len())
	for i := 0; i < DefaultEvictCount; i++ {
		_, ok := s.Get(key(i))
		require.False(t, ok, "entry %d should be evicted", i)
	}
	for i := DefaultEvictCount; i <= DefaultMaxEntries; i++ {
		_, ok := s.Get(key(i))
		require.True(t, ok, "entry %d should survive", i)
	}
	assert.Equal(t, uint64(DefaultEvictCount), s.Stats().Evictions)
}

func TestStore_EvictionIgnoresAccess(t *testing.T) {
	s := New(WithLimits(4, 2))
	for i := 0; i < 4; i++ {
		s.Put(key(i), nil)
	}
	// Reading the oldest entry does not protect it.
	_, _ = s.Get(key(0))
	s.Put(key(4), nil)

	_, ok := s.Get(key(0))
	assert.False(t, ok)
	_, ok = s.Get(key(1))
	assert.False(t, ok)
	assert.Equal(t, 3, s.Len())
}

func TestStore_OverwriteKeepsPosition(t *testing.T) {
	s := New(WithLimits(3, 1))
	s.Put("a", map[string]any{"v": 1})
	s.Put("b", nil)
	s.Put("c", nil)
	s.Put("a", map[string]any{"v": 2})
	assert.Equal(t, 3, s.Len(), "overwrite does not grow the store")

	r, _ := s.Get("a")
	assert.Equal(t, 2, r["v"])

	s.Put("d", nil)
	_, ok := s.Get("a")
	assert.False(t, ok, "overwritten entry keeps its original insertion slot")
	_, ok = s.Get("b")
	assert.True(t, ok)
}

func TestStore_Clear(t *testing.T) {
	s := New()
	s.Put("a", nil)
	s.Clear()
	assert.Equal(t, 0, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), s.Stats().Clears)

	s.Put("b", nil)
	assert.Equal(t, 1, s.Len())
}

func TestWithLimits_IgnoresInvalid(t *testing.T) {
	tests := []struct {
		name       string
		max, evict int
	}{
		{"zero max", 0, 1},
		{"zero evict", 10, 0},
		{"evict above max", 10, 11},
		{"negative", -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(WithLimits(tt.max, tt.evict))
			assert.Equal(t, DefaultMaxEntries, s.maxEntries)
			assert.Equal(t, DefaultEvictCount, s.evictCount)
		})
	}
}

func TestLoadArchive(t *testing.T) {
	post := firehosetest.Record(t, map[string]any{"$type": "app.bsky.feed.post", "text": "hi"})
	like := firehosetest.Record(t, map[string]any{"$type": "app.bsky.feed.like"})
	notRecord := firehosetest.Block{Data: firehosetest.Encode(t, []any{1, 2})}
	notRecord.CID = firehosetest.Sum(t, notRecord.Data)

	s := New()
	n, err := s.LoadArchive(firehosetest.CAR(t, post, like, notRecord))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, uint64(1), s.Stats().Undecodable)

	r, ok := s.Get(post.CID.String())
	require.True(t, ok)
	assert.Equal(t, "hi", r["text"])
}

func TestLoadArchive_Overwrite(t *testing.T) {
	post := firehosetest.Record(t, map[string]any{"$type": "app.bsky.feed.post"})
	s := New()

	_, err := s.LoadArchive(firehosetest.CAR(t, post))
	require.NoError(t, err)
	_, err = s.LoadArchive(firehosetest.CAR(t, post))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestLoadArchive_Empty(t *testing.T) {
	n, err := New().LoadArchive(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadArchive_Garbage(t *testing.T) {
	_, err := New().LoadArchive([]byte("definitely not a car file"))
	assert.ErrorIs(t, err, ErrArchive)
}

func TestLoadArchive_TruncatedKeepsPrefix(t *testing.T) {
	a := firehosetest.Record(t, map[string]any{"$type": "a"})
	b := firehosetest.Record(t, map[string]any{"$type": "b", "pad": "xxxxxxxxxxxxxxxxxxxxxxxx"})
	blob := firehosetest.CAR(t, a, b)

	s := New()
	n, err := s.LoadArchive(blob[:len(blob)-5])
	assert.ErrorIs(t, err, ErrArchive)
	assert.Equal(t, 1, n)
	_, ok := s.Get(a.CID.String())
	assert.True(t, ok)
}
