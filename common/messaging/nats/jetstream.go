package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/skybridge/common/logging"
	"github.com/telhawk-systems/skybridge/common/messaging"
)

// RedeliverDelay is how long a durable consumer waits before a message
// whose handler failed is delivered again.
const RedeliverDelay = 5 * time.Second

// JetStreamClient adds the bridge's durable streams to a Client.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig describes one of the bridge's streams.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
}

func (s StreamConfig) jetstream() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      s.Name,
		Subjects:  s.Subjects,
		MaxAge:    s.MaxAge,
		MaxBytes:  s.MaxBytes,
		MaxMsgs:   s.MaxMsgs,
		Retention: s.Retention,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardOld,
	}
}

// ConsumerConfig describes a durable pull consumer.
type ConsumerConfig struct {
	Name          string
	FilterSubject string
	AckWait       time.Duration
	// MaxDeliver bounds redeliveries of an export whose archive write
	// keeps failing.
	MaxDeliver    int
	MaxAckPending int
}

// DefaultConsumerConfig suits the results consumer: a failing archive
// gets three attempts per export.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    3,
		MaxAckPending: 100,
	}
}

// NewJetStreamClient connects with cfg and opens JetStream on the
// connection.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &JetStreamClient{Client: client, js: js}, nil
}

// CreateOrUpdateStream makes sure cfg's stream exists with cfg's limits.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, cfg.jetstream())
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

// CreateOrUpdateConsumer makes sure a durable consumer exists on stream.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s on %s: %w", cfg.Name, stream, err)
	}
	return consumer, nil
}

// PublishSync publishes and waits for the stream's acknowledgement.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	return c.js.Publish(ctx, subject, data)
}

// ConsumeMessages runs handler for every message of the durable
// consumer. A handler error naks the message for redelivery after
// RedeliverDelay. The returned function stops consumption.
func (c *JetStreamClient) ConsumeMessages(ctx context.Context, stream, consumer string, handler messaging.Handler) (func(), error) {
	cons, err := c.js.Consumer(ctx, stream, consumer)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer %s on %s: %w", consumer, stream, err)
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		received := time.Now()
		if meta, err := msg.Metadata(); err == nil {
			received = meta.Timestamp
		}
		m := toMessage(msg.Subject(), msg.Data(), msg.Headers(), received)

		if err := handler(consumeCtx, m); err != nil {
			c.logger.Warn("handler failed, redelivering", logging.Subject(m.Subject), "delay", RedeliverDelay, logging.Error(err))
			_ = msg.NakWithDelay(RedeliverDelay)
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start consuming %s: %w", consumer, err)
	}

	return func() {
		cancel()
		cc.Stop()
	}, nil
}

// The bridge's streams.
var (
	// EngineEventsStream keeps an hour of attribute vectors so a
	// restarted engine can replay the recent window.
	EngineEventsStream = StreamConfig{
		Name:      "SKYBRIDGE_EVENTS",
		Subjects:  []string{messaging.SubjectEngineEvents + ".>"},
		MaxAge:    time.Hour,
		MaxBytes:  1 << 30,
		MaxMsgs:   5_000_000,
		Retention: jetstream.LimitsPolicy,
	}

	// ResultsStream queues complex-event exports until a results
	// consumer acknowledges them.
	ResultsStream = StreamConfig{
		Name:      "SKYBRIDGE_RESULTS",
		Subjects:  []string{messaging.SubjectEngineResults + ".>"},
		MaxAge:    24 * time.Hour,
		MaxBytes:  500 << 20,
		MaxMsgs:   1_000_000,
		Retention: jetstream.WorkQueuePolicy,
	}

	// DLQStream keeps a week of exports that did not decode cleanly.
	DLQStream = StreamConfig{
		Name:      "SKYBRIDGE_DLQ",
		Subjects:  []string{messaging.SubjectDLQ + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  100 << 20,
		MaxMsgs:   100_000,
		Retention: jetstream.LimitsPolicy,
	}
)
