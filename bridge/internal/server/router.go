// Package server exposes the bridge's health, readiness and Prometheus
// endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/skybridge/bridge/internal/listener"
	"github.com/telhawk-systems/skybridge/common/httputil"
	"github.com/telhawk-systems/skybridge/common/logging"
	"github.com/telhawk-systems/skybridge/common/messaging"
	"github.com/telhawk-systems/skybridge/common/middleware"
)

// StatsSource reports listener counters.
type StatsSource interface {
	ID() string
	Stats() listener.Stats
}

// DLQStats reports dead letter queue state.
type DLQStats interface {
	Stats(ctx context.Context) map[string]any
}

// Deps are the components inspected by the readiness check. All optional.
type Deps struct {
	Listener StatsSource
	Broker   messaging.Conn
	DLQ      DLQStats
	Logger   *logging.Logger
}

type handler struct {
	deps Deps
}

// NewRouter constructs a ServeMux with the ops routes registered.
func NewRouter(deps Deps) http.Handler {
	h := &handler{deps: deps}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return middleware.RequestID(middleware.AccessLog(logger)(mux))
}

func (h *handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.Status(w, http.StatusOK, "healthy", nil)
}

// Ready fails when a configured broker is disconnected or stops
// answering.
func (h *handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	body := map[string]any{}
	status, code := "ready", http.StatusOK

	if h.deps.Listener != nil {
		body["listener_id"] = h.deps.Listener.ID()
		body["stats"] = h.deps.Listener.Stats()
	}
	if h.deps.Broker != nil {
		health := messaging.CheckBroker(ctx, h.deps.Broker)
		body["broker"] = health
		if !health.Ready() {
			status = "not_ready"
			code = http.StatusServiceUnavailable
		}
	}
	if h.deps.DLQ != nil {
		body["dlq"] = h.deps.DLQ.Stats(ctx)
	}

	httputil.Status(w, code, status, body)
}
