package results

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/skybridge/bridge/internal/archive"
	"github.com/telhawk-systems/skybridge/bridge/internal/complexevent"
	"github.com/telhawk-systems/skybridge/bridge/internal/dlq"
	"github.com/telhawk-systems/skybridge/bridge/internal/engine"
	"github.com/telhawk-systems/skybridge/bridge/internal/parser"
	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
	"github.com/telhawk-systems/skybridge/common/messaging"
)

const (
	cidA = "bafyreigx6zx4jdoqxvd7nrkfrbhuoq7e3ktmxy4atlmbyhd7fuqgqc2yua"
	cidB = "bafyreib2rxk3rybk3aobmv5cjuql3bm2twh4jo5uxgf5kpqcsgz7soiyzi"

	postLine   = "at://did:plc:u/app.bsky.feed.post/id1 " + cidA + " did:plc:u 42 1700000000000000000.000000 hello world 1700000001000000000 en"
	followLine = "did:plc:u " + cidB + " 43 1700000002000000000.000000 1700000002000000000 did:plc:v"

	cleanExport = "[1700000000, 1700000002], [(id: 0 attributes: [" + postLine + "]) (id: 4 attributes: [" + followLine + "])]"
	dirtyExport = "[1700000000], [(id: 4 attributes: [" + followLine + " trailing junk])]"
)

type fakeArchive struct {
	events []complexevent.ComplexEvent
	resp   *archive.IndexResponse
	err    error
}

func (a *fakeArchive) Index(_ context.Context, events []complexevent.ComplexEvent) (*archive.IndexResponse, error) {
	if a.err != nil {
		return nil, a.err
	}
	if a.resp != nil {
		return a.resp, nil
	}
	a.events = append(a.events, events...)
	return &archive.IndexResponse{Indexed: len(events)}, nil
}

type fakeDLQ struct {
	entries []dlq.Entry
}

func (d *fakeDLQ) Write(_ context.Context, e dlq.Entry) error {
	d.entries = append(d.entries, e)
	return nil
}

type fakeUsage struct {
	aliases []string
	errs    []int
}

func (u *fakeUsage) RecordComplexEvent(alias string, errs int) {
	u.aliases = append(u.aliases, alias)
	u.errs = append(u.errs, errs)
}

type harness struct {
	consumer *Consumer
	archive  *fakeArchive
	dlq      *fakeDLQ
	usage    *fakeUsage
	out      *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{archive: &fakeArchive{}, dlq: &fakeDLQ{}, usage: &fakeUsage{}, out: &bytes.Buffer{}}
	c, err := New(Deps{
		Decoder: complexevent.NewDecoder(engine.NewCatalog(schema.Default()), parser.New(schema.Default())),
		Archive: h.archive,
		DLQ:     h.dlq,
		Usage:   h.usage,
		Output:  h.out,
	})
	require.NoError(t, err)
	h.consumer = c
	return h
}

func resultMsg(alias, data string) *messaging.Message {
	return &messaging.Message{Subject: messaging.EngineResultsSubject(alias), Data: []byte(data)}
}

func TestHandle_Clean(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.consumer.Handle(context.Background(), resultMsg("viral_posts", cleanExport)))

	require.Len(t, h.archive.events, 1)
	ce := h.archive.events[0]
	assert.Equal(t, "viral_posts", ce.Alias)
	require.Len(t, ce.Primitives, 2)
	assert.Equal(t, schema.KindCreatePost, ce.Primitives[0].Type)
	assert.Equal(t, schema.KindCreateFollow, ce.Primitives[1].Type)
	assert.Equal(t, "2023-11-14 22:13:20.000 UTC", ce.Primitives[0].Attributes[complexevent.ReadableTimeKey])

	assert.Empty(t, h.dlq.entries)
	assert.Equal(t, []string{"viral_posts"}, h.usage.aliases)
	assert.Equal(t, []int{0}, h.usage.errs)

	var printed map[string]any
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &printed))
	assert.Equal(t, "viral_posts", printed["alias"])
	assert.Equal(t, "1700000000, 1700000002", printed["core_ts"])
}

func TestHandle_DecodeErrors(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.consumer.Handle(context.Background(), resultMsg("q", dirtyExport)))

	require.Len(t, h.archive.events, 1, "partially decoded events are still archived")
	require.Len(t, h.dlq.entries, 1)
	e := h.dlq.entries[0]
	assert.Equal(t, dlq.ReasonParseError, e.Reason)
	assert.Equal(t, "q", e.Alias)
	assert.Equal(t, []string{schema.KindCreateFollow}, e.Kinds)
	assert.NotEmpty(t, e.Errors)
	assert.Equal(t, []int{len(e.Errors)}, h.usage.errs)
}

func TestHandle_Malformed(t *testing.T) {
	h := newHarness(t)

	err := h.consumer.Handle(context.Background(), resultMsg("q", "not an export"))
	require.NoError(t, err, "malformed exports are not retried")

	assert.Empty(t, h.archive.events)
	assert.Empty(t, h.usage.aliases)
	assert.Zero(t, h.out.Len())
	require.Len(t, h.dlq.entries, 1)
	assert.Equal(t, dlq.ReasonMalformedExport, h.dlq.entries[0].Reason)
	assert.Equal(t, "not an export", h.dlq.entries[0].Raw)
}

func TestHandle_ArchiveFailure(t *testing.T) {
	tests := []struct {
		name    string
		archive *fakeArchive
	}{
		{name: "transport error", archive: &fakeArchive{err: errors.New("connection refused")}},
		{name: "item failure", archive: &fakeArchive{resp: &archive.IndexResponse{Failed: 1, Errors: []string{"mapper_parsing_exception"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage := &fakeUsage{}
			c, err := New(Deps{
				Decoder: complexevent.NewDecoder(engine.NewCatalog(schema.Default()), parser.New(schema.Default())),
				Archive: tt.archive,
				Usage:   usage,
			})
			require.NoError(t, err)

			err = c.Handle(context.Background(), resultMsg("q", cleanExport))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "archive")
			assert.Empty(t, usage.aliases, "nothing is counted until the event is stored")
		})
	}
}

func TestHandle_NoCollaborators(t *testing.T) {
	c, err := New(Deps{
		Decoder: complexevent.NewDecoder(engine.NewCatalog(schema.Default()), parser.New(schema.Default())),
	})
	require.NoError(t, err)

	assert.NoError(t, c.Handle(context.Background(), resultMsg("q", cleanExport)))
	assert.NoError(t, c.Handle(context.Background(), resultMsg("q", "garbage")))
}

func TestNew_RequiresDecoder(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestAliasOf(t *testing.T) {
	tests := []struct {
		name string
		msg  *messaging.Message
		want string
	}{
		{
			name: "subject suffix",
			msg:  &messaging.Message{Subject: "skybridge.engine.results.viral_posts"},
			want: "viral_posts",
		},
		{
			name: "header fallback",
			msg:  &messaging.Message{Subject: "custom.results", Header: map[string]string{AliasHeader: "q9"}},
			want: "q9",
		},
		{
			name: "subject wins over header",
			msg:  &messaging.Message{Subject: "skybridge.engine.results.a", Header: map[string]string{AliasHeader: "b"}},
			want: "a",
		},
		{
			name: "none",
			msg:  &messaging.Message{Subject: "custom.results"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AliasOf(tt.msg))
		})
	}
}

type fakeSubscriber struct {
	subject, queue string
	handler        messaging.Handler
}

func (s *fakeSubscriber) QueueSubscribe(subject, queue string, handler messaging.Handler) (messaging.Subscription, error) {
	s.subject, s.queue, s.handler = subject, queue, handler
	return nil, nil
}

func TestSubscribeDefaults(t *testing.T) {
	h := newHarness(t)
	sub := &fakeSubscriber{}

	_, err := h.consumer.Subscribe(sub, "", "")
	require.NoError(t, err)
	assert.Equal(t, "skybridge.engine.results.>", sub.subject)
	assert.Equal(t, messaging.QueueResultsWorkers, sub.queue)

	require.NotNil(t, sub.handler)
	require.NoError(t, sub.handler(context.Background(), resultMsg("via_sub", cleanExport)))
	assert.Equal(t, []string{"via_sub"}, h.usage.aliases)
}
