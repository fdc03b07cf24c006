package logging

import (
	"errors"
	"log/slog"
	"testing"
)

func TestStringFields(t *testing.T) {
	tests := []struct {
		name     string
		attr     slog.Attr
		expected string
		key      string
	}{
		{"service", Service("bridge"), "bridge", FieldService},
		{"kind", Kind("BlueskyEvents.CreatePost"), "BlueskyEvents.CreatePost", FieldKind},
		{"repo", Repo("did:plc:abc"), "did:plc:abc", FieldRepo},
		{"path", Path("app.bsky.feed.post/3k"), "app.bsky.feed.post/3k", FieldPath},
		{"cid", CID("bafyrei"), "bafyrei", FieldCID},
		{"subject", Subject("skybridge.events"), "skybridge.events", FieldSubject},
		{"alias", Alias("skybridge-write"), "skybridge-write", FieldAlias},
		{"reason", Reason("header"), "header", FieldReason},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.key {
				t.Errorf("expected key %q, got %q", tt.key, tt.attr.Key)
			}
			if tt.attr.Value.String() != tt.expected {
				t.Errorf("expected value %q, got %q", tt.expected, tt.attr.Value.String())
			}
		})
	}
}

func TestSeq(t *testing.T) {
	attr := Seq(42)
	if attr.Key != FieldSeq {
		t.Errorf("expected key %q, got %q", FieldSeq, attr.Key)
	}
	if attr.Value.Int64() != 42 {
		t.Errorf("expected value 42, got %d", attr.Value.Int64())
	}
}

func TestError(t *testing.T) {
	attr := Error(errors.New("boom"))
	if attr.Key != FieldError {
		t.Errorf("expected key %q, got %q", FieldError, attr.Key)
	}
	if attr.Value.String() != "boom" {
		t.Errorf("expected value %q, got %q", "boom", attr.Value.String())
	}

	if Error(nil).Value.String() != "" {
		t.Error("expected empty value for nil error")
	}
}
