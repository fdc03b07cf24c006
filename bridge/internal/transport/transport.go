// Package transport receives binary firehose frames over a WebSocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the public relay's repository event stream.
const DefaultURL = "wss://bsky.network/xrpc/com.atproto.sync.subscribeRepos"

var (
	// ErrClosed reports a closure by the peer, clean or not.
	ErrClosed = errors.New("connection closed")
	// ErrTimeout reports that no frame or pong arrived within the read timeout.
	ErrTimeout = errors.New("read timeout")
)

// Config holds connection settings.
type Config struct {
	URL              string
	Header           http.Header
	ReadLimit        int64
	HandshakeTimeout time.Duration
	// ReadTimeout bounds the silence between frames; pongs extend it.
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// DefaultConfig returns settings for the public relay: 4 MiB frames,
// pings every 20s, and a 30s read timeout.
func DefaultConfig() Config {
	return Config{
		URL:              DefaultURL,
		ReadLimit:        4 << 20,
		HandshakeTimeout: 45 * time.Second,
		ReadTimeout:      30 * time.Second,
		PingInterval:     20 * time.Second,
	}
}

// Source yields binary frames from one connection.
type Source interface {
	// Next blocks until a binary frame arrives. Text frames are skipped.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Source.
type Dialer interface {
	Dial(ctx context.Context) (Source, error)
}

// WebSocketDialer dials the configured URL with gorilla/websocket.
type WebSocketDialer struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewDialer fills zero fields of cfg from DefaultConfig.
func NewDialer(cfg Config) *WebSocketDialer {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}

	return &WebSocketDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// URL returns the endpoint being dialed.
func (d *WebSocketDialer) URL() string {
	return d.cfg.URL
}

// Dial connects and starts the keepalive. The connection is closed when
// ctx ends.
func (d *WebSocketDialer) Dial(ctx context.Context) (Source, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.cfg.URL, d.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.cfg.URL, err)
	}

	ws.SetReadLimit(d.cfg.ReadLimit)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(d.cfg.ReadTimeout))
	})

	c := &Conn{ws: ws, cfg: d.cfg, done: make(chan struct{})}
	go c.keepalive(ctx)
	return c, nil
}

// Conn is one live WebSocket connection.
type Conn struct {
	ws   *websocket.Conn
	cfg  Config
	done chan struct{}
	once sync.Once
}

func (c *Conn) keepalive(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.ReadTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// Next returns the next binary frame.
func (c *Conn) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return nil, c.classify(ctx, err)
		}
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, c.classify(ctx, err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (c *Conn) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// Close sends a close frame and releases the connection. Safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
