package listener

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/skybridge/bridge/internal/blockstore"
	"github.com/telhawk-systems/skybridge/bridge/internal/engine"
	"github.com/telhawk-systems/skybridge/bridge/internal/firehose/firehosetest"
	"github.com/telhawk-systems/skybridge/bridge/internal/metrics"
	"github.com/telhawk-systems/skybridge/bridge/internal/records"
	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
	"github.com/telhawk-systems/skybridge/bridge/internal/transport"
	"github.com/telhawk-systems/skybridge/common/logging"
)

const repo = "did:plc:abc123"

type fakeSource struct {
	frames  [][]byte
	err     error
	onDrain func()
}

func (s *fakeSource) Next(ctx context.Context) ([]byte, error) {
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		return f, nil
	}
	if s.onDrain != nil {
		s.onDrain()
	}
	if s.err != nil {
		return nil, s.err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSource) Close() error { return nil }

type dialResult struct {
	src transport.Source
	err error
}

type fakeDialer struct {
	results []dialResult
	calls   int
}

func (d *fakeDialer) Dial(ctx context.Context) (transport.Source, error) {
	r := d.results[min(d.calls, len(d.results)-1)]
	d.calls++
	return r.src, r.err
}

type fakeSink struct {
	mu      sync.Mutex
	events  []engine.Event
	failFor string
	panicOn string
}

func (s *fakeSink) Declare(context.Context, string) error { return nil }

func (s *fakeSink) Send(_ context.Context, ev engine.Event) error {
	if ev.Kind == s.panicOn {
		panic("boom")
	}
	if ev.Kind == s.failFor {
		return errors.New("sink unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func postRecord(text string) map[string]any {
	return map[string]any{
		"$type":     records.TypePost,
		"text":      text,
		"createdAt": "2023-11-14T22:13:21Z",
		"langs":     []any{"en"},
	}
}

func postFrame(t *testing.T, text string) []byte {
	t.Helper()
	post := firehosetest.Record(t, postRecord(text))
	return firehosetest.CommitFrame(t, firehosetest.Commit{
		Repo:   repo,
		Seq:    firehosetest.Ptr(int64(42)),
		Time:   firehosetest.Ptr("2023-11-14T22:13:20Z"),
		Ops:    []firehosetest.Op{{Action: "create", Path: "app.bsky.feed.post/3k", CID: post.CID}},
		Blocks: []firehosetest.Block{post},
	})
}

func newTestListener(sink engine.Sink, dialer transport.Dialer) *Listener {
	return New(Config{}, Deps{Dialer: dialer, Sink: sink})
}

func TestHandleFramePost(t *testing.T) {
	sink := &fakeSink{}
	l := newTestListener(sink, nil)

	sent := l.HandleFrame(context.Background(), postFrame(t, "hello world"))
	require.Equal(t, 1, sent)
	require.Len(t, sink.events, 1)

	ev := sink.events[0]
	assert.Equal(t, schema.KindCreatePost, ev.Kind)
	assert.Equal(t, 0, ev.EventID)

	attrs := ev.Attributes.Map()
	assert.Equal(t, "at://did:plc:abc123/app.bsky.feed.post/3k", attrs["uri"])
	assert.Equal(t, repo, attrs["repo"])
	assert.Equal(t, int64(42), attrs["seq"])
	assert.Equal(t, "hello world", attrs["record_text"])
	assert.Equal(t, float64(1700000000000000000), attrs["commit_time"])
	assert.Equal(t, int64(1700000001000000000), attrs["record_created_at"])
	assert.Equal(t, "en", attrs["langs"])

	st := l.Stats()
	assert.Equal(t, uint64(1), st.Frames)
	assert.Equal(t, uint64(1), st.Commits)
	assert.Equal(t, uint64(1), st.Sent)
	assert.Equal(t, uint64(1), st.ByKind[schema.KindCreatePost])
	assert.Equal(t, uint64(1), st.Outcomes[metrics.OutcomeSent])
}

type fakeUsage struct {
	calls [][2]string
}

func (u *fakeUsage) RecordEvent(kind, repo string) {
	u.calls = append(u.calls, [2]string{kind, repo})
}

func TestHandleFrameRecordsUsage(t *testing.T) {
	usage := &fakeUsage{}
	sink := &fakeSink{failFor: schema.KindCreateLike}
	l := New(Config{}, Deps{Sink: sink, Usage: usage})

	post := firehosetest.Record(t, postRecord("counted"))
	like := firehosetest.Record(t, map[string]any{"$type": records.TypeLike, "createdAt": "2023-11-14T22:13:21Z"})
	frame := firehosetest.CommitFrame(t, firehosetest.Commit{
		Repo: repo,
		Ops: []firehosetest.Op{
			{Action: "create", Path: "app.bsky.feed.post/1", CID: post.CID},
			{Action: "create", Path: "app.bsky.feed.like/2", CID: like.CID},
		},
		Blocks: []firehosetest.Block{post, like},
	})

	require.Equal(t, 1, l.HandleFrame(context.Background(), frame))
	assert.Equal(t, [][2]string{{schema.KindCreatePost, repo}}, usage.calls, "only delivered events are counted")
}

func TestHandleFrameAllKinds(t *testing.T) {
	sink := &fakeSink{}
	l := newTestListener(sink, nil)

	blocks := []firehosetest.Block{
		firehosetest.Record(t, postRecord("p")),
		firehosetest.Record(t, map[string]any{"$type": records.TypeLike, "createdAt": "2023-11-14T22:13:21Z",
			"subject": map[string]any{"uri": "at://did:plc:x/app.bsky.feed.post/1", "cid": "bafy"}}),
		firehosetest.Record(t, map[string]any{"$type": records.TypeRepost, "createdAt": "2023-11-14T22:13:22Z",
			"subject": map[string]any{"uri": "at://did:plc:x/app.bsky.feed.post/1"}}),
		firehosetest.Record(t, map[string]any{"$type": records.TypeProfile, "displayName": "Ada"}),
		firehosetest.Record(t, map[string]any{"$type": records.TypeFollow, "createdAt": "2023-11-14T22:13:23Z", "subject": "did:plc:y"}),
		firehosetest.Record(t, map[string]any{"$type": records.TypeBlock, "createdAt": "2023-11-14T22:13:24Z", "subject": "did:plc:z"}),
	}
	paths := []string{
		"app.bsky.feed.post/1", "app.bsky.feed.like/2", "app.bsky.feed.repost/3",
		"app.bsky.actor.profile/self", "app.bsky.graph.follow/4", "app.bsky.graph.block/5",
	}
	var ops []firehosetest.Op
	for i, b := range blocks {
		ops = append(ops, firehosetest.Op{Action: "create", Path: paths[i], CID: b.CID})
	}

	frame := firehosetest.CommitFrame(t, firehosetest.Commit{Repo: repo, Ops: ops, Blocks: blocks})
	require.Equal(t, 6, l.HandleFrame(context.Background(), frame))
	assert.Equal(t, []string{
		schema.KindCreatePost, schema.KindCreateLike, schema.KindCreateRepost,
		schema.KindUpdateProfile, schema.KindCreateFollow, schema.KindCreateBlock,
	}, sink.kinds())
}

func TestHandleFrameOutcomes(t *testing.T) {
	good := firehosetest.Record(t, postRecord("ok"))
	unknown := firehosetest.Record(t, map[string]any{"$type": "app.bsky.graph.listitem"})
	absent := firehosetest.Sum(t, []byte("never archived"))

	frame := firehosetest.CommitFrame(t, firehosetest.Commit{
		Repo: repo,
		Ops: []firehosetest.Op{
			{Action: "delete", Path: "app.bsky.feed.post/0"},
			{Action: "create", Path: "app.bsky.feed.post/1", CID: cid.Undef},
			{Action: "create", Path: "app.bsky.feed.post/2", CID: absent},
			{Action: "create", Path: "app.bsky.graph.listitem/3", CID: unknown.CID},
			{Action: "update", Path: "app.bsky.feed.post/4", CID: good.CID},
			{Action: "create", Path: "app.bsky.feed.post/5", CID: good.CID},
		},
		Blocks: []firehosetest.Block{good, unknown},
	})

	sink := &fakeSink{}
	l := newTestListener(sink, nil)
	require.Equal(t, 1, l.HandleFrame(context.Background(), frame))

	st := l.Stats()
	assert.Equal(t, uint64(2), st.Outcomes[metrics.OutcomeSkipped])
	assert.Equal(t, uint64(1), st.Outcomes[metrics.OutcomeUnresolvable])
	assert.Equal(t, uint64(1), st.Outcomes[metrics.OutcomeMissing])
	assert.Equal(t, uint64(1), st.Outcomes[metrics.OutcomeUnhandled])
	assert.Equal(t, uint64(1), st.Outcomes[metrics.OutcomeSent])
}

func TestHandleFrameIsolatesFailures(t *testing.T) {
	like := firehosetest.Record(t, map[string]any{"$type": records.TypeLike, "createdAt": "2023-11-14T22:13:21Z"})
	follow := firehosetest.Record(t, map[string]any{"$type": records.TypeFollow, "subject": "did:plc:y"})
	post := firehosetest.Record(t, postRecord("after"))

	frame := firehosetest.CommitFrame(t, firehosetest.Commit{
		Repo: repo,
		Ops: []firehosetest.Op{
			{Action: "create", Path: "app.bsky.feed.like/1", CID: like.CID},
			{Action: "create", Path: "app.bsky.graph.follow/2", CID: follow.CID},
			{Action: "create", Path: "app.bsky.feed.post/3", CID: post.CID},
		},
		Blocks: []firehosetest.Block{like, follow, post},
	})

	sink := &fakeSink{panicOn: schema.KindCreateLike, failFor: schema.KindCreateFollow}
	l := newTestListener(sink, nil)

	require.NotPanics(t, func() {
		assert.Equal(t, 1, l.HandleFrame(context.Background(), frame))
	})
	assert.Equal(t, []string{schema.KindCreatePost}, sink.kinds())

	st := l.Stats()
	assert.Equal(t, uint64(1), st.Outcomes[metrics.OutcomePanic])
	assert.Equal(t, uint64(1), st.Outcomes[metrics.OutcomeSinkError])
}

func TestHandleFrameDropsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"garbage header", []byte{0xff, 0x00}},
		{"not a commit", firehosetest.Frame(t, map[string]any{"op": 1, "t": "#identity"}, map[string]any{"did": repo})},
		{"error frame", firehosetest.Frame(t, map[string]any{"op": -1}, map[string]any{"error": "FutureCursor"})},
		{"bad payload", append(firehosetest.Encode(t, map[string]any{"op": 1, "t": "#commit"}), 0xff)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{}
			l := newTestListener(sink, nil)
			assert.Equal(t, 0, l.HandleFrame(context.Background(), tt.frame))
			assert.Empty(t, sink.events)
			assert.Equal(t, uint64(1), l.Stats().Frames)
			assert.Equal(t, uint64(0), l.Stats().Commits)
		})
	}
}

func TestBlocksSurviveAcrossFrames(t *testing.T) {
	post := firehosetest.Record(t, postRecord("later"))
	archiveOnly := firehosetest.CommitFrame(t, firehosetest.Commit{Repo: repo, Blocks: []firehosetest.Block{post}})
	opOnly := firehosetest.CommitFrame(t, firehosetest.Commit{
		Repo: repo,
		Ops:  []firehosetest.Op{{Action: "create", Path: "app.bsky.feed.post/1", CID: post.CID}},
	})

	sink := &fakeSink{}
	l := newTestListener(sink, nil)
	assert.Equal(t, 0, l.HandleFrame(context.Background(), archiveOnly))
	assert.Equal(t, 1, l.HandleFrame(context.Background(), opOnly))
}

func TestEviction(t *testing.T) {
	sink := &fakeSink{}
	store := blockstore.New(blockstore.WithLimits(4, 2))
	l := New(Config{}, Deps{Sink: sink, Store: store})

	for i := 0; i < 5; i++ {
		l.HandleFrame(context.Background(), postFrame(t, string(rune('a'+i))))
	}
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, uint64(2), store.Stats().Evictions)
	assert.Len(t, sink.events, 5)
}

func TestSummaryLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, slog.LevelInfo, "json")
	l := New(Config{SummaryEvery: 2, FrameLogEvery: 3}, Deps{Sink: &fakeSink{}, Logger: logger})

	for i := 0; i < 3; i++ {
		l.HandleFrame(context.Background(), postFrame(t, "x"))
	}

	out := buf.String()
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte(`"msg":"events sent"`)))
	assert.Contains(t, out, `"sent":2`)
	assert.Contains(t, out, `"posts":2`)
	assert.Contains(t, out, `"msg":"event sample"`)
	assert.Contains(t, out, `"msg":"firehose progress"`)
	assert.Contains(t, out, `"frames":3`)
}

func TestRunReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &fakeSink{}
	dialer := &fakeDialer{results: []dialResult{
		{src: &fakeSource{frames: [][]byte{postFrame(t, "one")}, err: transport.ErrClosed}},
		{err: errors.New("dial tcp: connection refused")},
		{src: &fakeSource{frames: [][]byte{postFrame(t, "two")}, err: transport.ErrTimeout}},
		{src: &fakeSource{onDrain: cancel}},
	}}
	l := newTestListener(sink, dialer)

	var delays []time.Duration
	var storeSizes []int
	l.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		storeSizes = append(storeSizes, l.store.Len())
		return ctx.Err()
	}

	require.NoError(t, l.Run(ctx))

	assert.Equal(t, []time.Duration{5 * time.Second, 15 * time.Second, 5 * time.Second}, delays)
	assert.Equal(t, []int{0, 0, 0}, storeSizes)
	assert.Equal(t, 4, dialer.calls)
	assert.Len(t, sink.events, 2)
	assert.Equal(t, uint64(3), l.Stats().Reconnects)
	assert.Equal(t, 0, l.store.Len())
}

func TestRunStopsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	dialer := &fakeDialer{results: []dialResult{{err: errors.New("refused")}}}
	l := newTestListener(&fakeSink{}, dialer)
	l.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, dialer.calls)
}

func TestRunRequiresCollaborators(t *testing.T) {
	err := New(Config{}, Deps{}).Run(context.Background())
	assert.Error(t, err)
}
