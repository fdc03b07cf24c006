// Package blockstore caches decoded repository records by content
// identifier, with count-based FIFO eviction.
package blockstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	car "github.com/ipld/go-car/v2"

	"github.com/telhawk-systems/skybridge/bridge/internal/firehose"
)

const (
	DefaultMaxEntries = 15000
	DefaultEvictCount = 7500
)

// ErrArchive marks a block archive that could not be opened or read.
var ErrArchive = errors.New("blockstore: bad archive")

// Stats are cumulative counters since construction.
type Stats struct {
	Entries     int    `json:"entries"`
	Inserts     uint64 `json:"inserts"`
	Evictions   uint64 `json:"evictions"`
	Undecodable uint64 `json:"undecodable"`
	Clears      uint64 `json:"clears"`
}

// Option configures a Store.
type Option func(*Store)

// WithLimits overrides the eviction threshold and batch size.
// Invalid combinations are ignored.
func WithLimits(maxEntries, evictCount int) Option {
	return func(s *Store) {
		if maxEntries > 0 && evictCount > 0 && evictCount <= maxEntries {
			s.maxEntries = maxEntries
			s.evictCount = evictCount
		}
	}
}

// Store maps identifier strings to decoded records. Once the entry count
// exceeds the limit after an insertion, the oldest-inserted batch is
// dropped regardless of whether it was read.
//
// A Store has a single owner and is not safe for concurrent mutation.
type Store struct {
	maxEntries int
	evictCount int

	entries map[string]map[string]any
	// order holds keys in first-insertion order; overwrites keep their slot.
	order []string

	stats Stats
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		maxEntries: DefaultMaxEntries,
		evictCount: DefaultEvictCount,
		entries:    make(map[string]map[string]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put inserts or overwrites one record.
func (s *Store) Put(id string, record map[string]any) {
	if _, exists := s.entries[id]; !exists {
		s.order = append(s.order, id)
	}
	s.entries[id] = record
	s.stats.Inserts++

	if len(s.entries) > s.maxEntries {
		s.evict()
	}
}

func (s *Store) evict() {
	n := min(s.evictCount, len(s.order))
	for _, id := range s.order[:n] {
		delete(s.entries, id)
	}
	s.order = append([]string(nil), s.order[n:]...)
	s.stats.Evictions += uint64(n)
}

// Get returns the record stored under id.
func (s *Store) Get(id string) (map[string]any, bool) {
	r, ok := s.entries[id]
	return r, ok
}

// Len returns the number of cached records.
func (s *Store) Len() int {
	return len(s.entries)
}

// Clear drops every entry. Called when the feed connection is lost.
func (s *Store) Clear() {
	s.entries = make(map[string]map[string]any)
	s.order = nil
	s.stats.Clears++
}

// Stats returns a snapshot of the counters.
func (s *Store) Stats() Stats {
	st := s.stats
	st.Entries = len(s.entries)
	return st
}

// LoadArchive reads a CARv1 blob and inserts every block that decodes to
// a record map. It returns the number inserted. Blocks that are not
// records are skipped; a damaged archive stops loading with ErrArchive
// after keeping what was read.
func (s *Store) LoadArchive(blob []byte) (int, error) {
	if len(blob) == 0 {
		return 0, nil
	}

	br, err := car.NewBlockReader(bytes.NewReader(blob))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrArchive, err)
	}

	count := 0
	for {
		blk, err := br.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("%w: block %d: %v", ErrArchive, count, err)
		}

		record, err := firehose.DecodeRecord(blk.RawData())
		if err != nil {
			s.stats.Undecodable++
			continue
		}
		s.Put(blk.Cid().String(), record)
		count++
	}
}
