package attributes

import (
	"github.com/telhawk-systems/skybridge/bridge/internal/records"
	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
)

// EncodeFunc builds the vector for one record. It reports false when the
// record is not the variant the handler expects.
type EncodeFunc func(Meta, records.Record) (Vector, bool)

// Handler binds a record type to an event kind and its encoder.
type Handler struct {
	RecordType string
	Stream     string
	Event      string
	Encode     EncodeFunc
	// Sample is a representative record used by VerifyRegistry.
	Sample records.Record
}

// Kind returns the qualified "Stream.Event" name.
func (h Handler) Kind() string {
	return h.Stream + "." + h.Event
}

// Table dispatches records to handlers by "$type". Read-only after
// construction.
type Table struct {
	handlers []Handler
	byType   map[string]int
}

// NewTable builds a table; later handlers for the same type win.
func NewTable(handlers ...Handler) *Table {
	t := &Table{byType: make(map[string]int, len(handlers))}
	for _, h := range handlers {
		if i, ok := t.byType[h.RecordType]; ok {
			t.handlers[i] = h
			continue
		}
		t.byType[h.RecordType] = len(t.handlers)
		t.handlers = append(t.handlers, h)
	}
	return t
}

// Lookup returns the handler for a record type.
func (t *Table) Lookup(recordType string) (Handler, bool) {
	i, ok := t.byType[recordType]
	if !ok {
		return Handler{}, false
	}
	return t.handlers[i], true
}

// Handlers returns the handlers in registration order.
func (t *Table) Handlers() []Handler {
	out := make([]Handler, len(t.handlers))
	copy(out, t.handlers)
	return out
}

// Encode finds the handler for rec and runs it. Unknown records and
// variant mismatches report false.
func (t *Table) Encode(m Meta, rec records.Record) (Handler, Vector, bool) {
	if rec == nil {
		return Handler{}, nil, false
	}
	h, ok := t.Lookup(rec.Type())
	if !ok {
		return Handler{}, nil, false
	}
	v, ok := h.Encode(m, rec)
	if !ok {
		return Handler{}, nil, false
	}
	return h, v, true
}

// DefaultTable maps the six Bluesky record types onto the BlueskyEvents
// stream.
func DefaultTable() *Table {
	return NewTable(
		Handler{
			RecordType: records.TypePost,
			Stream:     schema.StreamBluesky,
			Event:      schema.EventCreatePost,
			Encode: func(m Meta, r records.Record) (Vector, bool) {
				p, ok := r.(records.Post)
				return EncodePost(m, p), ok
			},
			Sample: records.Post{Langs: []string{"en"}},
		},
		Handler{
			RecordType: records.TypeLike,
			Stream:     schema.StreamBluesky,
			Event:      schema.EventCreateLike,
			Encode: func(m Meta, r records.Record) (Vector, bool) {
				l, ok := r.(records.Like)
				return EncodeSubjectRef(m, l.CreatedAt, l.Subject), ok
			},
			Sample: records.Like{},
		},
		Handler{
			RecordType: records.TypeRepost,
			Stream:     schema.StreamBluesky,
			Event:      schema.EventCreateRepost,
			Encode: func(m Meta, r records.Record) (Vector, bool) {
				rp, ok := r.(records.Repost)
				return EncodeSubjectRef(m, rp.CreatedAt, rp.Subject), ok
			},
			Sample: records.Repost{},
		},
		Handler{
			RecordType: records.TypeProfile,
			Stream:     schema.StreamBluesky,
			Event:      schema.EventUpdateProfile,
			Encode: func(m Meta, r records.Record) (Vector, bool) {
				p, ok := r.(records.Profile)
				return EncodeProfile(m, p), ok
			},
			Sample: records.Profile{},
		},
		Handler{
			RecordType: records.TypeFollow,
			Stream:     schema.StreamBluesky,
			Event:      schema.EventCreateFollow,
			Encode: func(m Meta, r records.Record) (Vector, bool) {
				f, ok := r.(records.Follow)
				return EncodeGraph(m, f.CreatedAt, f.Subject), ok
			},
			Sample: records.Follow{},
		},
		Handler{
			RecordType: records.TypeBlock,
			Stream:     schema.StreamBluesky,
			Event:      schema.EventCreateBlock,
			Encode: func(m Meta, r records.Record) (Vector, bool) {
				b, ok := r.(records.Block)
				return EncodeGraph(m, b.CreatedAt, b.Subject), ok
			},
			Sample: records.Block{},
		},
	)
}
