package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/telhawk-systems/skybridge/common/logging"
	"github.com/telhawk-systems/skybridge/common/messaging"
)

// Sink delivers events to the engine.
type Sink interface {
	// Declare announces the stream declarations before any event is sent.
	Declare(ctx context.Context, ddl string) error
	Send(ctx context.Context, ev Event) error
	Close() error
}

// NATSSink publishes each event as JSON on a per-kind subject.
type NATSSink struct {
	pub    messaging.Publisher
	prefix string
}

// NewNATSSink publishes under prefix; empty means the default engine
// subjects.
func NewNATSSink(pub messaging.Publisher, prefix string) *NATSSink {
	return &NATSSink{pub: pub, prefix: prefix}
}

func (s *NATSSink) subject(kind string) string {
	if s.prefix == "" {
		return messaging.EngineEventSubject(kind)
	}
	return s.prefix + "." + kind
}

func (s *NATSSink) ddlSubject() string {
	if s.prefix == "" {
		return messaging.SubjectEngineDDL
	}
	return s.prefix + ".ddl"
}

// Declare publishes the declarations on the DDL subject.
func (s *NATSSink) Declare(ctx context.Context, ddl string) error {
	if err := s.pub.Publish(ctx, s.ddlSubject(), []byte(ddl)); err != nil {
		return fmt.Errorf("publish ddl: %w", err)
	}
	return nil
}

// Send publishes ev with its id and kind as headers.
func (s *NATSSink) Send(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &messaging.Message{
		Subject: s.subject(ev.Kind),
		Data:    data,
		Header: map[string]string{
			"Nats-Msg-Id": ev.ID,
			"Kind":        ev.Kind,
		},
	}
	if err := s.pub.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Close is a no-op; the publisher belongs to the caller.
func (s *NATSSink) Close() error {
	return nil
}

// LogSink writes events to the logger. Used when no broker is configured.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink logs through logger, or discards when nil.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Declare(ctx context.Context, ddl string) error {
	s.logger.InfoContext(ctx, "stream declarations", "ddl", ddl)
	return nil
}

func (s *LogSink) Send(ctx context.Context, ev Event) error {
	s.logger.DebugContext(ctx, "event",
		logging.Kind(ev.Kind),
		"stream_id", ev.StreamID,
		"event_id", ev.EventID,
		"line", ev.Line,
	)
	return nil
}

func (s *LogSink) Close() error {
	return nil
}

// WriterSink writes "<kind>\t<line>" per event, the textual form the
// engine's file source reads. DDL is written as-is.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Declare(_ context.Context, ddl string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.w, ddl)
	return err
}

func (s *WriterSink) Send(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s\t%s\n", ev.Kind, ev.Line)
	return err
}

func (s *WriterSink) Close() error {
	return nil
}
