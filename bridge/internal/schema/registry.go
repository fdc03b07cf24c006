package schema

import (
	"fmt"
	"sync"
)

// Registry is an immutable, ordered set of entries keyed by kind.
// Safe for concurrent reads.
type Registry struct {
	entries []Entry
	byKind  map[string]int
}

// New validates entries and builds a registry. Declaration order is kept;
// engine event ids are assigned from it.
func New(entries ...Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		byKind:  make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byKind[e.Kind()]; dup {
			return nil, fmt.Errorf("schema %s: declared twice", e.Kind())
		}
		fields := make([]FieldSpec, len(e.Fields))
		copy(fields, e.Fields)
		e.Fields = fields
		r.byKind[e.Kind()] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// MustNew is New that panics on error. For static tables only.
func MustNew(entries ...Entry) *Registry {
	r, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the entry for a "Stream.Event" kind.
func (r *Registry) Lookup(kind string) (Entry, bool) {
	i, ok := r.byKind[kind]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Entries returns all entries in declaration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Kinds returns the qualified kind names in declaration order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, len(r.entries))
	for i, e := range r.entries {
		kinds[i] = e.Kind()
	}
	return kinds
}

// Streams returns the distinct stream names in first-declaration order.
func (r *Registry) Streams() []string {
	var streams []string
	seen := map[string]bool{}
	for _, e := range r.entries {
		if !seen[e.Stream] {
			seen[e.Stream] = true
			streams = append(streams, e.Stream)
		}
	}
	return streams
}

// Default returns the Bluesky registry. Built once.
var Default = sync.OnceValue(func() *Registry {
	return MustNew(blueskyEntries()...)
})
