// Package results consumes complex-event exports from the engine,
// decodes them, and fans the decoded events out to the archive, usage
// stats, the dead letter queue, and an optional JSON line writer.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/telhawk-systems/skybridge/bridge/internal/archive"
	"github.com/telhawk-systems/skybridge/bridge/internal/complexevent"
	"github.com/telhawk-systems/skybridge/bridge/internal/dlq"
	"github.com/telhawk-systems/skybridge/bridge/internal/metrics"
	"github.com/telhawk-systems/skybridge/common/logging"
	"github.com/telhawk-systems/skybridge/common/messaging"
	"github.com/telhawk-systems/skybridge/common/messaging/nats"
)

// AliasHeader carries the query alias when the subject does not.
const AliasHeader = "Alias"

// DefaultConsumerName is the durable JetStream consumer name.
const DefaultConsumerName = "skybridge-results"

// Status labels for metrics.ComplexEventsTotal.
const (
	StatusOK        = "ok"
	StatusPartial   = "partial"
	StatusMalformed = "malformed"
)

// Archiver stores decoded events.
type Archiver interface {
	Index(ctx context.Context, events []complexevent.ComplexEvent) (*archive.IndexResponse, error)
}

// DeadLetters receives exports that did not decode cleanly.
type DeadLetters interface {
	Write(ctx context.Context, e dlq.Entry) error
}

// UsageRecorder counts decoded events per alias.
type UsageRecorder interface {
	RecordComplexEvent(alias string, errs int)
}

// Deps are the consumer's collaborators. Only Decoder is required.
type Deps struct {
	Decoder *complexevent.Decoder
	Archive Archiver
	DLQ     DeadLetters
	Usage   UsageRecorder
	// Output receives one JSON document per decoded event.
	Output io.Writer
	Logger *logging.Logger
}

// Consumer handles one export per message. Safe for concurrent use.
type Consumer struct {
	decoder *complexevent.Decoder
	archive Archiver
	dlq     DeadLetters
	usage   UsageRecorder
	logger  *logging.Logger

	outMu sync.Mutex
	out   *json.Encoder
}

// New builds a consumer.
func New(deps Deps) (*Consumer, error) {
	if deps.Decoder == nil {
		return nil, errors.New("results consumer requires a decoder")
	}
	c := &Consumer{
		decoder: deps.Decoder,
		archive: deps.Archive,
		dlq:     deps.DLQ,
		usage:   deps.Usage,
		logger:  deps.Logger,
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if deps.Output != nil {
		c.out = json.NewEncoder(deps.Output)
	}
	return c, nil
}

// AliasOf returns the query alias of msg: the subject suffix under the
// results namespace, else the Alias header.
func AliasOf(msg *messaging.Message) string {
	if alias := messaging.AliasFromResultsSubject(msg.Subject); alias != "" {
		return alias
	}
	return msg.Get(AliasHeader)
}

// Handle decodes one export. Malformed exports and decoder diagnostics
// go to the DLQ and are not retried. Only an archive failure is
// returned, so durable consumers redeliver the message.
func (c *Consumer) Handle(ctx context.Context, msg *messaging.Message) error {
	alias := AliasOf(msg)
	raw := string(msg.Data)
	log := c.logger.With(logging.Alias(alias), logging.Subject(msg.Subject))

	ce, err := c.decoder.Decode(alias, raw)
	if err != nil {
		metrics.ComplexEventsTotal.WithLabelValues(StatusMalformed).Inc()
		log.WarnContext(ctx, "malformed complex event", logging.Error(err))
		c.deadLetter(ctx, dlq.MalformedExport(alias, raw, err))
		return nil
	}

	for _, p := range ce.Primitives {
		metrics.PrimitivesParsed.WithLabelValues(p.Type).Inc()
		if len(p.Errors) > 0 {
			metrics.ParseErrors.WithLabelValues(p.Type).Add(float64(len(p.Errors)))
		}
	}

	if c.archive != nil {
		resp, err := c.archive.Index(ctx, []complexevent.ComplexEvent{ce})
		if err == nil && resp.Failed > 0 {
			err = fmt.Errorf("index complex event %d: %v", ce.N, resp.Errors)
		}
		if err != nil {
			metrics.ArchiveErrors.Inc()
			return fmt.Errorf("archive: %w", err)
		}
	}

	status := StatusOK
	if len(ce.Errors) > 0 {
		status = StatusPartial
		log.DebugContext(ctx, "complex event decoded with errors", "n", ce.N, "errors", len(ce.Errors))
		c.deadLetter(ctx, dlq.ParseFailure(ce))
	}
	metrics.ComplexEventsTotal.WithLabelValues(status).Inc()

	if c.usage != nil {
		c.usage.RecordComplexEvent(alias, len(ce.Errors))
	}
	c.write(ctx, ce)
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, e dlq.Entry) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Write(ctx, e); err != nil {
		c.logger.WarnContext(ctx, "failed to dead-letter complex event", logging.Reason(e.Reason), logging.Error(err))
	}
}

func (c *Consumer) write(ctx context.Context, ce complexevent.ComplexEvent) {
	if c.out == nil {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if err := c.out.Encode(ce); err != nil {
		c.logger.WarnContext(ctx, "failed to write complex event", logging.Error(err))
	}
}

// Subscribe attaches the consumer to a core NATS queue group.
func (c *Consumer) Subscribe(sub messaging.Subscriber, subject, queue string) (messaging.Subscription, error) {
	if subject == "" {
		subject = messaging.SubjectEngineResults + ".>"
	}
	if queue == "" {
		queue = messaging.QueueResultsWorkers
	}
	s, err := sub.QueueSubscribe(subject, queue, c.Handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.logger.Info("results consumer subscribed", logging.Subject(subject), "queue", queue)
	return s, nil
}

// Consume attaches the consumer to the durable results stream. The
// returned function stops consumption.
func (c *Consumer) Consume(ctx context.Context, js *nats.JetStreamClient, name string) (func(), error) {
	if name == "" {
		name = DefaultConsumerName
	}
	if _, err := js.CreateOrUpdateStream(ctx, nats.ResultsStream); err != nil {
		return nil, fmt.Errorf("results stream: %w", err)
	}
	cfg := nats.DefaultConsumerConfig(name, messaging.SubjectEngineResults+".>")
	if _, err := js.CreateOrUpdateConsumer(ctx, nats.ResultsStream.Name, cfg); err != nil {
		return nil, fmt.Errorf("results consumer: %w", err)
	}
	stop, err := js.ConsumeMessages(ctx, nats.ResultsStream.Name, name, c.Handle)
	if err != nil {
		return nil, err
	}
	c.logger.Info("results consumer attached", "stream", nats.ResultsStream.Name, "consumer", name)
	return stop, nil
}
