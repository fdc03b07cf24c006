package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Firehose frame metrics
	FramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skybridge_firehose_frames_total",
			Help: "Total number of binary frames received",
		},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skybridge_firehose_frames_dropped_total",
			Help: "Frames discarded before processing, by reason",
		},
		[]string{"reason"},
	)

	CommitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skybridge_firehose_commits_total",
			Help: "Total number of commit frames decoded",
		},
	)

	FrameDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skybridge_firehose_frame_duration_seconds",
			Help:    "Time spent decoding and dispatching one frame",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Operation metrics
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skybridge_operations_total",
			Help: "Create operations by outcome",
		},
		[]string{"outcome"},
	)

	EventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skybridge_engine_events_sent_total",
			Help: "Attribute vectors handed to the engine, by kind",
		},
		[]string{"kind"},
	)

	// Block store metrics
	BlockStoreEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skybridge_blockstore_entries",
			Help: "Current number of cached records",
		},
	)

	BlockStoreEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skybridge_blockstore_evictions_total",
			Help: "Records dropped by FIFO eviction",
		},
	)

	// Connection metrics
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skybridge_firehose_reconnects_total",
			Help: "Reconnect attempts, by reason",
		},
		[]string{"reason"},
	)

	Connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skybridge_firehose_connected",
			Help: "1 while a firehose connection is open",
		},
	)

	// Reverse path metrics
	ComplexEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skybridge_results_complex_events_total",
			Help: "Complex-event exports received, by status",
		},
		[]string{"status"},
	)

	PrimitivesParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skybridge_results_primitives_parsed_total",
			Help: "Primitive events decoded from exports, by kind",
		},
		[]string{"kind"},
	)

	ParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skybridge_results_parse_errors_total",
			Help: "Decoder diagnostics, by kind",
		},
		[]string{"kind"},
	)

	ArchiveErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skybridge_results_archive_errors_total",
			Help: "Complex events that failed to index",
		},
	)
)

// Operation outcomes.
const (
	OutcomeSent         = "sent"
	OutcomeUnresolvable = "unresolvable"
	OutcomeMissing      = "missing"
	OutcomeUnhandled    = "unhandled"
	OutcomeSinkError    = "sink_error"
	OutcomePanic        = "panic"
	OutcomeSkipped      = "skipped"
)
