// Package dlq keeps complex-event exports that did not decode cleanly on a
// JetStream stream so they can be inspected and replayed.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/skybridge/bridge/internal/complexevent"
	"github.com/telhawk-systems/skybridge/common/logging"
	"github.com/telhawk-systems/skybridge/common/messaging"
	"github.com/telhawk-systems/skybridge/common/messaging/nats"
)

// Failure reasons, used as the final subject token.
const (
	ReasonParseError      = "parse_error"
	ReasonMalformedExport = "malformed_export"
)

// ErrDisabled is returned by read operations on a nil queue.
var ErrDisabled = errors.New("dlq not enabled")

// Publisher is the JetStream surface the queue writes through.
type Publisher interface {
	PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
}

// Entry is one dead-lettered export.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Alias     string    `json:"alias,omitempty"`
	Raw       string    `json:"raw"`
	Errors    []string  `json:"errors"`
	Kinds     []string  `json:"kinds,omitempty"`
}

// ParseFailure builds an entry for a decoded event that carries diagnostics.
func ParseFailure(ce complexevent.ComplexEvent) Entry {
	e := Entry{
		Reason: ReasonParseError,
		Alias:  ce.Alias,
		Raw:    ce.Raw,
		Errors: append([]string(nil), ce.Errors...),
	}
	for _, p := range ce.Primitives {
		if len(p.Errors) > 0 {
			e.Kinds = append(e.Kinds, p.Type)
		}
	}
	return e
}

// MalformedExport builds an entry for an export that could not be split.
func MalformedExport(alias, raw string, err error) Entry {
	return Entry{
		Reason: ReasonMalformedExport,
		Alias:  alias,
		Raw:    raw,
		Errors: []string{err.Error()},
	}
}

// Queue writes entries to the DLQ stream. A nil *Queue is valid and
// drops writes, so callers need not check whether the DLQ is enabled.
type Queue struct {
	pub     Publisher
	stream  jetstream.Stream
	logger  *logging.Logger
	now     func() time.Time
	written atomic.Uint64
}

// New wraps pub. stream may be nil, in which case List, Purge and the
// stream part of Stats are unavailable.
func New(pub Publisher, stream jetstream.Stream, logger *logging.Logger) *Queue {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Queue{pub: pub, stream: stream, logger: logger, now: time.Now}
}

// NewJetStreamQueue ensures the DLQ stream exists and returns a queue on it.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *logging.Logger) (*Queue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.DLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	q := New(js, stream, logger)
	q.logger.Info("DLQ stream ready", "stream", nats.DLQStream.Name)
	return q, nil
}

// Write publishes e to skybridge.dlq.<reason>.
func (q *Queue) Write(ctx context.Context, e Entry) error {
	if q == nil {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = q.now().UTC()
	}
	if e.Reason == "" {
		e.Reason = ReasonParseError
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	if _, err := q.pub.PublishSync(ctx, messaging.DLQSubject(e.Reason), data); err != nil {
		q.logger.ErrorContext(ctx, "failed to publish DLQ entry", logging.Error(err), logging.Reason(e.Reason))
		return fmt.Errorf("publish dlq entry: %w", err)
	}

	q.written.Add(1)
	q.logger.DebugContext(ctx, "DLQ entry published", logging.Reason(e.Reason), logging.Alias(e.Alias))
	return nil
}

// Written reports how many entries this process has published.
func (q *Queue) Written() uint64 {
	if q == nil {
		return 0
	}
	return q.written.Load()
}

// Stats returns local counters plus the stream state when available.
func (q *Queue) Stats(ctx context.Context) map[string]any {
	if q == nil {
		return map[string]any{
			"enabled": false,
			"backend": "jetstream",
		}
	}

	stats := map[string]any{
		"enabled":       true,
		"backend":       "jetstream",
		"written_local": q.written.Load(),
	}
	if q.stream == nil {
		return stats
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	stats["first_seq"] = info.State.FirstSeq
	stats["last_seq"] = info.State.LastSeq
	stats["consumer_count"] = info.State.Consumers
	return stats
}

// List reads up to limit entries from the start of the stream without
// removing them.
func (q *Queue) List(ctx context.Context, limit int) ([]Entry, error) {
	if q == nil {
		return nil, ErrDisabled
	}
	if q.stream == nil {
		return nil, fmt.Errorf("dlq stream not available")
	}
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: messaging.SubjectDLQ + ".>",
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var entries []Entry
	for msg := range msgs.Messages() {
		var e Entry
		if err := json.Unmarshal(msg.Data(), &e); err != nil {
			q.logger.WarnContext(ctx, "skipping unreadable DLQ message", logging.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	if err := msgs.Error(); err != nil {
		q.logger.WarnContext(ctx, "DLQ fetch completed with error", logging.Error(err))
	}
	return entries, nil
}

// Purge removes every entry from the stream.
func (q *Queue) Purge(ctx context.Context) error {
	if q == nil {
		return ErrDisabled
	}
	if q.stream == nil {
		return fmt.Errorf("dlq stream not available")
	}
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.InfoContext(ctx, "DLQ purged")
	return nil
}
