package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/skybridge/bridge/internal/attributes"
)

// Event is one attribute vector addressed to the engine.
type Event struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	StreamID   int               `json:"stream_id"`
	EventID    int               `json:"event_id"`
	Attributes attributes.Vector `json:"attributes"`
	// Line is the flattened text form the engine echoes back in exports.
	Line       string    `json:"line"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewEvent wraps vec for kind with a fresh message id.
func NewEvent(kind string, id ID, vec attributes.Vector) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		StreamID:   id.Stream,
		EventID:    id.Event,
		Attributes: vec,
		Line:       vec.Render(),
		ReceivedAt: time.Now().UTC(),
	}
}
