// Package engine is the boundary to the complex-event engine: numeric
// stream and event ids, the event envelope, and the sinks that deliver it.
package engine

import (
	"fmt"

	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
)

// ID is the engine's numeric address of one event kind.
type ID struct {
	Stream int `json:"stream_id"`
	Event  int `json:"event_id"`
}

// Catalog assigns ids in registry declaration order. Stream ids count
// distinct streams; event ids are global across streams, the way the
// engine numbers them when the declarations are applied in order.
type Catalog struct {
	ids   map[string]ID
	names []string
}

// NewCatalog numbers every entry of reg.
func NewCatalog(reg *schema.Registry) *Catalog {
	c := &Catalog{ids: make(map[string]ID)}
	streams := make(map[string]int)

	for _, e := range reg.Entries() {
		sid, ok := streams[e.Stream]
		if !ok {
			sid = len(streams)
			streams[e.Stream] = sid
		}
		c.ids[e.Kind()] = ID{Stream: sid, Event: len(c.names)}
		c.names = append(c.names, e.Kind())
	}
	return c
}

// Resolve returns the ids of a "Stream.Event" kind.
func (c *Catalog) Resolve(kind string) (ID, bool) {
	id, ok := c.ids[kind]
	return id, ok
}

// Name maps a global event id back to its kind. Unassigned ids yield
// "UnknownEventId.<n>", which has no schema.
func (c *Catalog) Name(eventID int) string {
	if eventID >= 0 && eventID < len(c.names) {
		return c.names[eventID]
	}
	return fmt.Sprintf("UnknownEventId.%d", eventID)
}

// Len returns the number of event kinds.
func (c *Catalog) Len() int {
	return len(c.names)
}
