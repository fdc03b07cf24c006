package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want Record
	}{
		{
			name: "post",
			in: map[string]any{
				"$type":     TypePost,
				"text":      "hello",
				"createdAt": "2023-11-14T22:13:20Z",
				"langs":     []any{"en", "fr"},
				"reply": map[string]any{
					"root":   map[string]any{"uri": "at://r", "cid": "x"},
					"parent": map[string]any{"uri": "at://p"},
				},
			},
			want: Post{
				Text:           "hello",
				CreatedAt:      "2023-11-14T22:13:20Z",
				Langs:          []string{"en", "fr"},
				ReplyRootURI:   "at://r",
				ReplyParentURI: "at://p",
			},
		},
		{
			name: "like",
			in: map[string]any{
				"$type":     TypeLike,
				"createdAt": "t",
				"subject":   map[string]any{"uri": "at://s", "cid": "bafy"},
			},
			want: Like{CreatedAt: "t", Subject: StrongRef{URI: "at://s", CID: "bafy"}},
		},
		{
			name: "repost without subject cid",
			in: map[string]any{
				"$type":   TypeRepost,
				"subject": map[string]any{"uri": "at://s"},
			},
			want: Repost{Subject: StrongRef{URI: "at://s"}},
		},
		{
			name: "profile",
			in:   map[string]any{"$type": TypeProfile, "displayName": "Alice", "description": "hi"},
			want: Profile{DisplayName: "Alice", Description: "hi"},
		},
		{
			name: "follow",
			in:   map[string]any{"$type": TypeFollow, "subject": "did:plc:bob", "createdAt": "t"},
			want: Follow{Subject: "did:plc:bob", CreatedAt: "t"},
		},
		{
			name: "block",
			in:   map[string]any{"$type": TypeBlock, "subject": "did:plc:bob"},
			want: Block{Subject: "did:plc:bob"},
		},
		{
			name: "unknown type",
			in:   map[string]any{"$type": "app.bsky.feed.threadgate"},
			want: Unknown{TypeName: "app.bsky.feed.threadgate", Raw: map[string]any{"$type": "app.bsky.feed.threadgate"}},
		},
		{
			name: "no discriminator",
			in:   map[string]any{"data": 1},
			want: Unknown{Raw: map[string]any{"data": 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.in)
			assert.Equal(t, tt.want, got)
			if u, ok := tt.want.(Unknown); ok {
				assert.Equal(t, u.TypeName, got.Type())
			}
		})
	}
}

func TestDecode_MalformedDegrades(t *testing.T) {
	got := Decode(map[string]any{
		"$type":     TypePost,
		"text":      42,
		"createdAt": []any{"x"},
		"langs":     []any{"en", 7, nil, "de"},
		"reply":     "not a map",
		"embed":     []any{},
	})

	p, ok := got.(Post)
	assert.True(t, ok)
	assert.Equal(t, "", p.Text)
	assert.Equal(t, "", p.CreatedAt)
	assert.Equal(t, []string{"en", "de"}, p.Langs)
	assert.Equal(t, "", p.ReplyRootURI)
	assert.Equal(t, Embed{}, p.Embed)

	like := Decode(map[string]any{"$type": TypeLike, "subject": "at://flat"}).(Like)
	assert.Equal(t, StrongRef{}, like.Subject)
}

func TestDecode_NilMap(t *testing.T) {
	got := Decode(nil)
	assert.Equal(t, Unknown{}, got)
}

func TestClassifyEmbed(t *testing.T) {
	tests := []struct {
		name  string
		embed map[string]any
		want  Embed
	}{
		{
			name:  "images",
			embed: map[string]any{"$type": EmbedImages, "images": []any{map[string]any{}, map[string]any{}}},
			want:  Embed{Type: EmbedImages, ImageCount: 2},
		},
		{
			name:  "images not a list",
			embed: map[string]any{"$type": EmbedImages, "images": "x"},
			want:  Embed{Type: EmbedImages},
		},
		{
			name:  "external",
			embed: map[string]any{"$type": EmbedExternal, "external": map[string]any{"uri": "https://example.com"}},
			want:  Embed{Type: EmbedExternal, ExternalURI: "https://example.com"},
		},
		{
			name:  "record",
			embed: map[string]any{"$type": EmbedRecord, "record": map[string]any{"uri": "at://q"}},
			want:  Embed{Type: EmbedRecord, RecordURI: "at://q"},
		},
		{
			name: "record with image media",
			embed: map[string]any{
				"$type":  EmbedRecordWithMedia,
				"record": map[string]any{"record": map[string]any{"uri": "at://q"}},
				"media":  map[string]any{"$type": EmbedImages, "images": []any{1, 2, 3}},
			},
			want: Embed{Type: EmbedRecordWithMedia, RecordURI: "at://q", ImageCount: 3},
		},
		{
			name: "record with video media",
			embed: map[string]any{
				"$type":  EmbedRecordWithMedia,
				"record": map[string]any{"record": map[string]any{"uri": "at://q"}},
				"media":  map[string]any{"$type": "app.bsky.embed.video"},
			},
			want: Embed{Type: EmbedRecordWithMedia, RecordURI: "at://q"},
		},
		{
			name:  "unknown embed type keeps name",
			embed: map[string]any{"$type": "app.bsky.embed.video"},
			want:  Embed{Type: "app.bsky.embed.video"},
		},
		{
			name:  "absent",
			embed: nil,
			want:  Embed{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyEmbed(tt.embed))
		})
	}
}
