// Package archive indexes decoded complex events into OpenSearch.
package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"

	"github.com/telhawk-systems/skybridge/bridge/internal/complexevent"
	"github.com/telhawk-systems/skybridge/common/logging"
)

// Config holds OpenSearch connection and index settings.
type Config struct {
	URL             string
	Username        string
	Password        string
	TLSSkipVerify   bool
	IndexPrefix     string
	ShardCount      int
	ReplicaCount    int
	RefreshInterval string
}

// DefaultConfig returns settings for a single local node.
func DefaultConfig() Config {
	return Config{
		URL:             "https://localhost:9200",
		Username:        "admin",
		Password:        "admin",
		TLSSkipVerify:   true,
		IndexPrefix:     "skybridge-complex-events",
		ShardCount:      1,
		ReplicaCount:    0,
		RefreshInterval: "5s",
	}
}

// IndexResponse summarises one Index call.
type IndexResponse struct {
	Indexed int
	Failed  int
	Errors  []string
}

// Client writes complex events to daily indices.
type Client struct {
	osClient    *opensearch.Client
	config      Config
	logger      *logging.Logger
	initialized bool
}

// NewClient builds a client without contacting the cluster.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = DefaultConfig().IndexPrefix
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &Client{
		osClient: client,
		config:   cfg,
		logger:   logger,
	}, nil
}

// Initialize verifies the connection and installs the index template.
func (c *Client) Initialize(ctx context.Context) error {
	if c.initialized {
		return nil
	}

	info, err := c.osClient.Info(c.osClient.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	if err := c.createIndexTemplate(ctx); err != nil {
		return fmt.Errorf("failed to create index template: %w", err)
	}

	c.initialized = true
	c.logger.InfoContext(ctx, "OpenSearch archive initialized", "index_prefix", c.config.IndexPrefix)
	return nil
}

// IndexName returns the daily index for events received at t.
func (c *Client) IndexName(t time.Time) string {
	return c.config.IndexPrefix + "-" + t.UTC().Format("2006.01.02")
}

// Index bulk-writes events. Per-document failures are reported in the
// response; only an indexer that cannot be created returns an error.
func (c *Client) Index(ctx context.Context, events []complexevent.ComplexEvent) (*IndexResponse, error) {
	resp := &IndexResponse{}
	if len(events) == 0 {
		return resp, nil
	}

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:     c.osClient,
		NumWorkers: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create bulk indexer: %w", err)
	}

	var mu sync.Mutex
	fail := func(msg string) {
		mu.Lock()
		resp.Failed++
		resp.Errors = append(resp.Errors, msg)
		mu.Unlock()
	}

	for _, ce := range events {
		data, err := json.Marshal(Document(ce))
		if err != nil {
			fail(fmt.Sprintf("marshal complex event %d: %v", ce.N, err))
			continue
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action: "index",
			Index:  c.IndexName(ce.ReceivedAt),
			Body:   bytes.NewReader(data),
			OnSuccess: func(context.Context, opensearchutil.BulkIndexerItem, opensearchutil.BulkIndexerResponseItem) {
				mu.Lock()
				resp.Indexed++
				mu.Unlock()
			},
			OnFailure: func(_ context.Context, _ opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					fail(err.Error())
					return
				}
				fail(fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason))
			},
		})
		if err != nil {
			fail(fmt.Sprintf("add to bulk indexer: %v", err))
		}
	}

	if err := bi.Close(ctx); err != nil {
		mu.Lock()
		resp.Errors = append(resp.Errors, fmt.Sprintf("bulk indexer close: %v", err))
		mu.Unlock()
	}

	if resp.Failed > 0 {
		c.logger.WarnContext(ctx, "complex events failed to index", "failed", resp.Failed, "indexed", resp.Indexed)
	}
	return resp, nil
}

// Document is the indexed form of a complex event.
func Document(ce complexevent.ComplexEvent) map[string]any {
	kinds := make([]string, 0, len(ce.Primitives))
	seen := make(map[string]bool)
	for _, p := range ce.Primitives {
		if !seen[p.Type] {
			seen[p.Type] = true
			kinds = append(kinds, p.Type)
		}
	}

	return map[string]any{
		"@timestamp":  ce.ReceivedAt.UTC().Format(time.RFC3339Nano),
		"n":           ce.N,
		"alias":       ce.Alias,
		"core_ts":     ce.Timestamps,
		"first_ts":    ce.FirstTimestamp(),
		"raw":         ce.Raw,
		"kinds":       kinds,
		"primitives":  ce.Primitives,
		"errors":      ce.Errors,
		"error_count": len(ce.Errors),
	}
}

func (c *Client) createIndexTemplate(ctx context.Context) error {
	template := map[string]any{
		"index_patterns": []string{c.config.IndexPrefix + "-*"},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   c.config.ShardCount,
				"number_of_replicas": c.config.ReplicaCount,
				"refresh_interval":   c.config.RefreshInterval,
			},
			"mappings": mappings(),
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	res, err := c.osClient.Indices.PutIndexTemplate(
		c.config.IndexPrefix+"-template",
		bytes.NewReader(body),
		c.osClient.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

func mappings() map[string]any {
	keyword := map[string]any{"type": "keyword"}
	return map[string]any{
		"dynamic": true,
		"dynamic_templates": []map[string]any{
			{
				"strings_as_keywords": map[string]any{
					"match_mapping_type": "string",
					"mapping": map[string]any{
						"type": "text",
						"fields": map[string]any{
							"keyword": map[string]any{
								"type":         "keyword",
								"ignore_above": 256,
							},
						},
					},
				},
			},
		},
		"properties": map[string]any{
			"@timestamp":  map[string]any{"type": "date"},
			"n":           map[string]any{"type": "long"},
			"alias":       keyword,
			"core_ts":     keyword,
			"first_ts":    keyword,
			"kinds":       keyword,
			"error_count": map[string]any{"type": "integer"},
			"errors":      map[string]any{"type": "text"},
			"raw": map[string]any{
				"type":  "text",
				"index": false,
			},
			"primitives": map[string]any{
				"type": "nested",
				"properties": map[string]any{
					"id":     map[string]any{"type": "integer"},
					"type":   keyword,
					"errors": map[string]any{"type": "text"},
					"attr": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"uri":                  keyword,
							"repo":                 keyword,
							"commit_cid":           keyword,
							"subject_uri":          keyword,
							"subject_did":          keyword,
							"record_text":          map[string]any{"type": "text"},
							"description":          map[string]any{"type": "text"},
							"seq":                  map[string]any{"type": "long"},
							"commit_time":          map[string]any{"type": "double"},
							"record_created_at":    map[string]any{"type": "long"},
							"commit_time_readable": keyword,
						},
					},
				},
			},
		},
	}
}
