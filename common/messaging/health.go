package messaging

import (
	"context"
	"time"
)

// Conn is the broker connection state a readiness probe inspects.
type Conn interface {
	IsConnected() bool
	// RTT measures one round trip to the server within ctx.
	RTT(ctx context.Context) (time.Duration, error)
}

// BrokerHealth is the broker section of the readiness report.
type BrokerHealth struct {
	Connected bool    `json:"connected"`
	RTTMillis float64 `json:"rtt_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Ready reports whether events can be handed to the engine.
func (h BrokerHealth) Ready() bool {
	return h.Connected && h.Error == ""
}

// CheckBroker reports c's state. A connected client whose round trip
// fails is not ready: the server stopped answering before the client
// noticed the disconnect.
func CheckBroker(ctx context.Context, c Conn) BrokerHealth {
	if c == nil {
		return BrokerHealth{Error: "no broker connection"}
	}
	if !c.IsConnected() {
		return BrokerHealth{Error: "not connected to message broker"}
	}

	h := BrokerHealth{Connected: true}
	rtt, err := c.RTT(ctx)
	if err != nil {
		h.Error = "round trip failed: " + err.Error()
		return h
	}
	h.RTTMillis = float64(rtt.Microseconds()) / 1000
	return h
}
