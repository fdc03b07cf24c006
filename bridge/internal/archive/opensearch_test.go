package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/skybridge/bridge/internal/complexevent"
)

// fakeCluster answers the handful of endpoints the archive uses.
type fakeCluster struct {
	mu        sync.Mutex
	templates map[string]map[string]any
	indices   []string
	docs      []map[string]any
	failItems bool
	infoCode  int
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{templates: map[string]map[string]any{}, infoCode: http.StatusOK}
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/":
		w.WriteHeader(f.infoCode)
		w.Write([]byte(`{"name":"test-node","cluster_name":"test-cluster","version":{"number":"2.11.0"}}`))

	case strings.HasPrefix(r.URL.Path, "/_index_template/"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.templates[strings.TrimPrefix(r.URL.Path, "/_index_template/")] = body
		w.Write([]byte(`{"acknowledged":true}`))

	case r.URL.Path == "/_bulk":
		f.bulk(w, r.Body)

	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}
}

func (f *fakeCluster) bulk(w http.ResponseWriter, body io.Reader) {
	var items []string
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		var action map[string]map[string]any
		if err := json.Unmarshal(sc.Bytes(), &action); err != nil {
			continue
		}
		index, _ := action["index"]["_index"].(string)
		if !sc.Scan() {
			break
		}
		var doc map[string]any
		_ = json.Unmarshal(sc.Bytes(), &doc)

		if f.failItems {
			items = append(items, fmt.Sprintf(
				`{"index":{"_index":%q,"status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse"}}}`, index))
			continue
		}
		f.indices = append(f.indices, index)
		f.docs = append(f.docs, doc)
		items = append(items, fmt.Sprintf(`{"index":{"_index":%q,"_id":"%d","status":201}}`, index, len(f.docs)))
	}
	fmt.Fprintf(w, `{"took":1,"errors":%t,"items":[%s]}`, f.failItems, strings.Join(items, ","))
}

func sampleEvent(n uint64, at time.Time) complexevent.ComplexEvent {
	return complexevent.ComplexEvent{
		N:          n,
		Alias:      "viral_posts",
		Timestamps: "1715000000000000000, 1715000000500000000",
		Raw:        "[1715000000000000000], [(id: 0 attributes: [...])]",
		Primitives: []complexevent.Primitive{
			{ID: 0, Type: "BlueskyEvents.CreatePost", Attributes: map[string]any{"repo": "did:plc:abc"}},
			{ID: 0, Type: "BlueskyEvents.CreatePost", Attributes: map[string]any{"repo": "did:plc:def"}},
			{ID: 3, Type: "BlueskyEvents.CreateLike", Attributes: map[string]any{}, Errors: []string{"oops"}},
		},
		Errors:     []string{"oops"},
		ReceivedAt: at,
	}
}

func newTestClient(t *testing.T, cluster *fakeCluster) *Client {
	t.Helper()
	srv := httptest.NewServer(cluster)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	c, err := NewClient(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestInitialize(t *testing.T) {
	cluster := newFakeCluster()
	c := newTestClient(t, cluster)

	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, c.Initialize(context.Background()), "second call is a no-op")

	tmpl, ok := cluster.templates["skybridge-complex-events-template"]
	require.True(t, ok, "index template installed")
	assert.Equal(t, []any{"skybridge-complex-events-*"}, tmpl["index_patterns"])
}

func TestInitialize_ErrorResponse(t *testing.T) {
	cluster := newFakeCluster()
	cluster.infoCode = http.StatusInternalServerError
	c := newTestClient(t, cluster)

	err := c.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opensearch returned error")
}

func TestIndex(t *testing.T) {
	cluster := newFakeCluster()
	c := newTestClient(t, cluster)

	day1 := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2024, 5, 2, 0, 1, 0, 0, time.UTC)

	resp, err := c.Index(context.Background(), []complexevent.ComplexEvent{
		sampleEvent(1, day1),
		sampleEvent(2, day2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Indexed)
	assert.Equal(t, 0, resp.Failed)
	assert.Empty(t, resp.Errors)

	assert.Equal(t, []string{
		"skybridge-complex-events-2024.05.01",
		"skybridge-complex-events-2024.05.02",
	}, cluster.indices)

	doc := cluster.docs[0]
	assert.Equal(t, "viral_posts", doc["alias"])
	assert.Equal(t, "1715000000000000000", doc["first_ts"])
	assert.Equal(t, []any{"BlueskyEvents.CreatePost", "BlueskyEvents.CreateLike"}, doc["kinds"])
	assert.EqualValues(t, 1, doc["error_count"])
}

func TestIndex_ItemFailures(t *testing.T) {
	cluster := newFakeCluster()
	cluster.failItems = true
	c := newTestClient(t, cluster)

	resp, err := c.Index(context.Background(), []complexevent.ComplexEvent{sampleEvent(1, time.Now())})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Indexed)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "mapper_parsing_exception: failed to parse", resp.Errors[0])
}

func TestIndex_Empty(t *testing.T) {
	c := newTestClient(t, newFakeCluster())

	resp, err := c.Index(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &IndexResponse{}, resp)
}

func TestIndexName(t *testing.T) {
	c, err := NewClient(Config{URL: "http://localhost:9200"}, nil)
	require.NoError(t, err)

	at := time.Date(2024, 12, 31, 22, 0, 0, 0, time.FixedZone("X", -5*3600))
	assert.Equal(t, "skybridge-complex-events-2025.01.01", c.IndexName(at), "dates are taken in UTC")
}
