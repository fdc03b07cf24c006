// Package listener runs the forward path: it receives firehose frames,
// resolves each create operation's record, encodes it, and hands the
// vector to the engine sink.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/skybridge/bridge/internal/attributes"
	"github.com/telhawk-systems/skybridge/bridge/internal/blockstore"
	"github.com/telhawk-systems/skybridge/bridge/internal/engine"
	"github.com/telhawk-systems/skybridge/bridge/internal/firehose"
	"github.com/telhawk-systems/skybridge/bridge/internal/metrics"
	"github.com/telhawk-systems/skybridge/bridge/internal/records"
	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
	"github.com/telhawk-systems/skybridge/bridge/internal/transport"
	"github.com/telhawk-systems/skybridge/common/logging"
)

// Config controls logging cadence and reconnect delays.
type Config struct {
	// SummaryEvery logs a summary after every N events sent.
	SummaryEvery int
	// FrameLogEvery logs frame and commit counts after every N frames.
	FrameLogEvery int
	// ClosedRetryDelay follows a peer closure or read timeout.
	ClosedRetryDelay time.Duration
	// ErrorRetryDelay follows any other failure.
	ErrorRetryDelay time.Duration
}

// DefaultConfig returns the stock cadence: summaries every 100 events,
// frame counts every 1000 frames, retries after 5s or 15s.
func DefaultConfig() Config {
	return Config{
		SummaryEvery:     100,
		FrameLogEvery:    1000,
		ClosedRetryDelay: 5 * time.Second,
		ErrorRetryDelay:  15 * time.Second,
	}
}

// UsageRecorder receives one call per event handed to the sink.
type UsageRecorder interface {
	RecordEvent(kind, repo string)
}

// Deps are the collaborators of a Listener. Zero fields get defaults,
// except Dialer and Sink. Usage is optional.
type Deps struct {
	Dialer  transport.Dialer
	Sink    engine.Sink
	Store   *blockstore.Store
	Table   *attributes.Table
	Catalog *engine.Catalog
	Usage   UsageRecorder
	Logger  *logging.Logger
	Now     func() time.Time
}

// Stats are cumulative counters since construction.
type Stats struct {
	Frames     uint64            `json:"frames"`
	Commits    uint64            `json:"commits"`
	Sent       uint64            `json:"sent"`
	Reconnects uint64            `json:"reconnects"`
	ByKind     map[string]uint64 `json:"by_kind"`
	Outcomes   map[string]uint64 `json:"outcomes"`
}

// Listener owns the block store, counters and sink of one feed
// connection. Frames are handled one at a time; Stats may be read from
// other goroutines.
type Listener struct {
	id      string
	cfg     Config
	dialer  transport.Dialer
	sink    engine.Sink
	store   *blockstore.Store
	table   *attributes.Table
	catalog *engine.Catalog
	usage   UsageRecorder
	logger  *logging.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	stats     Stats
	evictions uint64
}

// New builds a listener. Non-positive config values take defaults.
func New(cfg Config, deps Deps) *Listener {
	def := DefaultConfig()
	if cfg.SummaryEvery <= 0 {
		cfg.SummaryEvery = def.SummaryEvery
	}
	if cfg.FrameLogEvery <= 0 {
		cfg.FrameLogEvery = def.FrameLogEvery
	}
	if cfg.ClosedRetryDelay <= 0 {
		cfg.ClosedRetryDelay = def.ClosedRetryDelay
	}
	if cfg.ErrorRetryDelay <= 0 {
		cfg.ErrorRetryDelay = def.ErrorRetryDelay
	}

	l := &Listener{
		id:      uuid.NewString(),
		cfg:     cfg,
		dialer:  deps.Dialer,
		sink:    deps.Sink,
		store:   deps.Store,
		table:   deps.Table,
		catalog: deps.Catalog,
		usage:   deps.Usage,
		logger:  deps.Logger,
		now:     deps.Now,
		sleep:   sleepContext,
		stats: Stats{
			ByKind:   make(map[string]uint64),
			Outcomes: make(map[string]uint64),
		},
	}
	if l.store == nil {
		l.store = blockstore.New()
	}
	if l.table == nil {
		l.table = attributes.DefaultTable()
	}
	if l.catalog == nil {
		l.catalog = engine.NewCatalog(schema.Default())
	}
	if l.logger == nil {
		l.logger = logging.Discard()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// ID identifies this listener instance in logs.
func (l *Listener) ID() string {
	return l.id
}

// Stats returns a snapshot of the counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stats
	st.ByKind = make(map[string]uint64, len(l.stats.ByKind))
	for k, v := range l.stats.ByKind {
		st.ByKind[k] = v
	}
	st.Outcomes = make(map[string]uint64, len(l.stats.Outcomes))
	for k, v := range l.stats.Outcomes {
		st.Outcomes[k] = v
	}
	return st
}

// Run connects and processes frames until ctx is canceled, reconnecting
// after every failure. The block store is cleared on each disconnect.
func (l *Listener) Run(ctx context.Context) error {
	if l.dialer == nil || l.sink == nil {
		return errors.New("listener: dialer and sink are required")
	}

	for attempt := 1; ; attempt++ {
		connCtx := logging.WithConnID(ctx, fmt.Sprintf("%s-%d", l.id[:8], attempt))
		err := l.session(connCtx)

		l.store.Clear()
		metrics.Connected.Set(0)
		metrics.BlockStoreEntries.Set(0)

		if ctx.Err() != nil {
			l.logger.InfoContext(connCtx, "listener stopped")
			return nil
		}

		delay, reason := l.cfg.ErrorRetryDelay, "error"
		switch {
		case errors.Is(err, transport.ErrClosed):
			delay, reason = l.cfg.ClosedRetryDelay, "closed"
		case errors.Is(err, transport.ErrTimeout):
			delay, reason = l.cfg.ClosedRetryDelay, "timeout"
		}

		l.mu.Lock()
		l.stats.Reconnects++
		l.mu.Unlock()
		metrics.Reconnects.WithLabelValues(reason).Inc()

		if reason == "error" {
			l.logger.ErrorContext(connCtx, "firehose failed, reconnecting",
				logging.Error(err), logging.Reason(reason), "retry_in", delay)
		} else {
			l.logger.WarnContext(connCtx, "firehose disconnected, reconnecting",
				logging.Error(err), logging.Reason(reason), "retry_in", delay)
		}

		if err := l.sleep(ctx, delay); err != nil {
			l.logger.InfoContext(connCtx, "listener stopped")
			return nil
		}
	}
}

func (l *Listener) session(ctx context.Context) error {
	src, err := l.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	metrics.Connected.Set(1)
	l.logger.InfoContext(ctx, "firehose connected")

	for {
		frame, err := src.Next(ctx)
		if err != nil {
			return err
		}
		l.HandleFrame(ctx, frame)
	}
}

// HandleFrame processes one binary frame and returns the number of events
// sent. Malformed and non-commit frames are dropped silently.
func (l *Listener) HandleFrame(ctx context.Context, frame []byte) int {
	start := time.Now()
	defer func() {
		metrics.FrameDuration.Observe(time.Since(start).Seconds())
	}()

	l.mu.Lock()
	l.stats.Frames++
	frames, commits := l.stats.Frames, l.stats.Commits
	l.mu.Unlock()
	metrics.FramesTotal.Inc()

	if frames%uint64(l.cfg.FrameLogEvery) == 0 {
		l.logger.InfoContext(ctx, "firehose progress", "frames", frames, "commits", commits)
	}

	header, commit, err := firehose.DecodeFrame(frame)
	if err != nil {
		reason := "payload_decode"
		if errors.Is(err, firehose.ErrHeaderDecode) {
			reason = "header_decode"
		}
		metrics.FramesDropped.WithLabelValues(reason).Inc()
		l.logger.DebugContext(ctx, "frame dropped", logging.Reason(reason), logging.Error(err))
		return 0
	}
	if commit == nil {
		reason := "not_commit"
		if header.Op == firehose.OpError {
			reason = "error_frame"
		}
		metrics.FramesDropped.WithLabelValues(reason).Inc()
		return 0
	}

	l.mu.Lock()
	l.stats.Commits++
	l.mu.Unlock()
	metrics.CommitsTotal.Inc()

	if _, err := l.store.LoadArchive(commit.Blocks); err != nil {
		l.logger.DebugContext(ctx, "archive incomplete", logging.Repo(commit.Repo), logging.Seq(commit.SeqOr(-1)), logging.Error(err))
	}

	sent := 0
	for _, op := range commit.Ops {
		if l.handleOp(ctx, commit, op) == metrics.OutcomeSent {
			sent++
		}
	}

	st := l.store.Stats()
	metrics.BlockStoreEntries.Set(float64(st.Entries))
	if st.Evictions > l.evictions {
		metrics.BlockStoreEvictions.Add(float64(st.Evictions - l.evictions))
		l.evictions = st.Evictions
	}
	return sent
}

// handleOp never panics; a failure in one operation does not affect the
// rest of the commit.
func (l *Listener) handleOp(ctx context.Context, c *firehose.Commit, op firehose.Op) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.OutcomePanic
			l.logger.ErrorContext(ctx, "operation failed",
				logging.Repo(c.Repo), logging.Seq(c.SeqOr(-1)), logging.Path(op.Path), "panic", fmt.Sprint(r))
		}
		metrics.OperationsTotal.WithLabelValues(outcome).Inc()
		l.mu.Lock()
		l.stats.Outcomes[outcome]++
		l.mu.Unlock()
	}()

	if op.Action != "create" {
		return metrics.OutcomeSkipped
	}
	id, ok := firehose.ResolveCID(op.CID)
	if !ok {
		return metrics.OutcomeUnresolvable
	}
	raw, ok := l.store.Get(id)
	if !ok {
		return metrics.OutcomeMissing
	}

	meta := attributes.NewMeta(op, id, c)
	meta.Now = l.now
	h, vec, ok := l.table.Encode(meta, records.Decode(raw))
	if !ok {
		return metrics.OutcomeUnhandled
	}
	eid, ok := l.catalog.Resolve(h.Kind())
	if !ok {
		return metrics.OutcomeUnhandled
	}

	if err := l.sink.Send(ctx, engine.NewEvent(h.Kind(), eid, vec)); err != nil {
		l.logger.DebugContext(ctx, "send failed", logging.Kind(h.Kind()), logging.Path(op.Path), logging.CID(id), logging.Error(err))
		return metrics.OutcomeSinkError
	}
	metrics.EventsSent.WithLabelValues(h.Kind()).Inc()
	if l.usage != nil {
		l.usage.RecordEvent(h.Kind(), c.Repo)
	}
	l.recordSent(ctx, h.Kind(), op.Path, vec)
	return metrics.OutcomeSent
}

func (l *Listener) recordSent(ctx context.Context, kind, path string, vec attributes.Vector) {
	l.mu.Lock()
	l.stats.Sent++
	l.stats.ByKind[kind]++
	sent := l.stats.Sent
	var summary []any
	if sent%uint64(l.cfg.SummaryEvery) == 0 {
		summary = []any{
			"sent", sent,
			"posts", l.stats.ByKind[schema.KindCreatePost],
			"likes", l.stats.ByKind[schema.KindCreateLike],
			"reposts", l.stats.ByKind[schema.KindCreateRepost],
			"profiles", l.stats.ByKind[schema.KindUpdateProfile],
			"follows", l.stats.ByKind[schema.KindCreateFollow],
			"blocks", l.stats.ByKind[schema.KindCreateBlock],
		}
	}
	l.mu.Unlock()

	if summary == nil {
		return
	}
	l.logger.InfoContext(ctx, "event sample",
		logging.Kind(kind), logging.Path(path), "created_at", vec.Map()["record_created_at"])
	l.logger.InfoContext(ctx, "events sent", summary...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
