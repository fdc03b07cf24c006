package schema

import (
	"fmt"
	"strings"
)

// DDL renders one CREATE STREAM declaration per stream, events and fields
// in registry order. The engine assigns event ids from this order.
func (r *Registry) DDL() string {
	var b strings.Builder
	for i, stream := range r.Streams() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.StreamDDL(stream))
	}
	return b.String()
}

// StreamDDL renders the declaration of a single stream, or "" when the
// stream is unknown.
func (r *Registry) StreamDDL(stream string) string {
	var events []Entry
	for _, e := range r.entries {
		if e.Stream == stream {
			events = append(events, e)
		}
	}
	if len(events) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE STREAM %s {\n", stream)
	for i, e := range events {
		width := 0
		for _, f := range e.Fields {
			width = max(width, len(f.Name))
		}
		fmt.Fprintf(&b, "    EVENT %s {\n", e.Event)
		for j, f := range e.Fields {
			sep := ","
			if j == len(e.Fields)-1 {
				sep = ""
			}
			fmt.Fprintf(&b, "        %-*s : %s%s\n", width, f.Name, f.Type.EngineType(), sep)
		}
		b.WriteString("    }")
		if i < len(events)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	return b.String()
}
