package stats

import (
	"context"
	"sync"
	"time"

	"github.com/telhawk-systems/skybridge/common/logging"
)

// Collector accumulates counts in memory and flushes them to Redis
// periodically. Safe for concurrent use.
type Collector struct {
	client        *Client
	flushInterval time.Duration
	logger        *logging.Logger

	mu      sync.Mutex
	batches map[string]*Batch // scope:name -> batch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector starts a collector that flushes every flushInterval.
func NewCollector(client *Client, flushInterval time.Duration, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.Discard()
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Collector{
		client:        client,
		flushInterval: flushInterval,
		logger:        logger,
		batches:       make(map[string]*Batch),
		ctx:           ctx,
		cancel:        cancel,
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c
}

// RecordEvent counts one attribute vector of kind sent for repo.
func (c *Collector) RecordEvent(kind, repo string) {
	c.record(ScopeKind, kind, repo, 0)
}

// RecordComplexEvent counts one decoded export for alias with its
// number of decoder diagnostics.
func (c *Collector) RecordComplexEvent(alias string, errs int) {
	if alias == "" {
		alias = "_unknown"
	}
	c.record(ScopeAlias, alias, "", int64(errs))
}

func (c *Collector) record(scope, name, repo string, errs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := scope + ":" + name
	b, ok := c.batches[key]
	if !ok {
		b = NewBatch(scope, name)
		c.batches[key] = b
	}
	b.Add(repo, errs)
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *Collector) flush() {
	c.mu.Lock()
	batches := c.batches
	c.batches = make(map[string]*Batch)
	c.mu.Unlock()

	if len(batches) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flushed := 0
	var total int64
	for key, b := range batches {
		if err := c.client.FlushBatch(ctx, b); err != nil {
			c.logger.Error("failed to flush stats batch",
				"scope", b.Scope,
				"name", b.Name,
				"count", b.Count,
				logging.Error(err),
			)
			// Merge back for the next attempt.
			c.mu.Lock()
			if existing, ok := c.batches[key]; ok {
				existing.Merge(b)
			} else {
				c.batches[key] = b
			}
			c.mu.Unlock()
			continue
		}
		flushed++
		total += b.Count
	}

	if flushed > 0 {
		c.logger.Debug("flushed usage stats", "batches", flushed, "total", total)
	}
}

// FlushNow forces an immediate flush.
func (c *Collector) FlushNow() {
	c.flush()
}

// Stop flushes what remains and stops the background loop.
func (c *Collector) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Pending returns unflushed counts keyed by "scope:name".
func (c *Collector) Pending() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.batches))
	for key, b := range c.batches {
		out[key] = b.Count
	}
	return out
}
