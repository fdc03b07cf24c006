// Package nats connects the bridge to NATS: core publish and queue
// subscriptions for engine traffic, JetStream for durable streams.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telhawk-systems/skybridge/common/logging"
	"github.com/telhawk-systems/skybridge/common/messaging"
)

// Config holds connection settings.
type Config struct {
	URL  string
	Name string
	// MaxReconnects of -1 retries forever.
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration

	Username string
	Password string
	Token    string

	Logger *logging.Logger
}

// DefaultConfig connects to a local server and never gives up
// reconnecting, matching the firehose listener's own retry policy.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "skybridge",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

func (cfg Config) options(logger *logging.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Warn("NATS async error", logging.Subject(subject), logging.Error(err))
		}),
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.Username != "" && cfg.Password != "":
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	return opts
}

// Client publishes engine input and subscribes to engine results.
type Client struct {
	conn   *nats.Conn
	logger *logging.Logger
}

// NewClient connects with cfg.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	conn, err := nats.Connect(cfg.URL, cfg.options(logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// Publish sends data on subject.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.conn.Publish(subject, data)
}

// PublishMsg sends msg with its headers.
func (c *Client) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := nats.NewMsg(msg.Subject)
	out.Data = msg.Data
	for k, v := range msg.Header {
		out.Header.Set(k, v)
	}
	return c.conn.PublishMsg(out)
}

// QueueSubscribe delivers each message on subject to one member of
// queue. Handler errors are logged; core NATS has no redelivery.
func (c *Client) QueueSubscribe(subject, queue string, handler messaging.Handler) (messaging.Subscription, error) {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		m := toMessage(msg.Subject, msg.Data, msg.Header, time.Now())
		if err := handler(context.Background(), m); err != nil {
			c.logger.Warn("handler error", logging.Subject(msg.Subject), "queue", queue, logging.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// RTT flushes the connection and times the round trip. ctx must carry a
// deadline.
func (c *Client) RTT(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// IsConnected reports whether the connection is up.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Drain lets subscriptions finish in-flight messages, flushes pending
// publishes and closes.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

// Close closes the connection immediately.
func (c *Client) Close() {
	c.conn.Close()
}

func toMessage(subject string, data []byte, header nats.Header, received time.Time) *messaging.Message {
	m := &messaging.Message{Subject: subject, Data: data, Received: received}
	if len(header) > 0 {
		m.Header = make(map[string]string, len(header))
		for k := range header {
			m.Header[k] = header.Get(k)
		}
	}
	return m
}
