// Package firehose decodes subscribeRepos frames: a CBOR header followed,
// for commits, by a CBOR commit payload.
package firehose

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Header values of a commit frame.
const (
	OpMessage  = 1
	OpError    = -1
	TypeCommit = "#commit"
)

var (
	// ErrHeaderDecode marks a frame whose first object did not decode.
	ErrHeaderDecode = errors.New("header decode failed")
	// ErrPayloadDecode marks a commit frame whose payload did not decode.
	ErrPayloadDecode = errors.New("payload decode failed")
)

// FrameError wraps a decode failure. Raw carries the frame bytes for
// header failures.
type FrameError struct {
	Kind error
	Raw  []byte
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("firehose: %v: %v", e.Kind, e.Err)
}

func (e *FrameError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Header is the first object of every frame.
type Header struct {
	Op int64  `cbor:"op"`
	T  string `cbor:"t"`
}

// IsCommit reports whether the frame carries a commit payload.
func (h Header) IsCommit() bool {
	return h.Op == OpMessage && h.T == TypeCommit
}

// Commit is the payload of a #commit frame. Seq and Time are pointers so
// an absent field is distinguishable from a zero one.
type Commit struct {
	Repo   string  `cbor:"repo"`
	Seq    *int64  `cbor:"seq"`
	Time   *string `cbor:"time"`
	TooBig bool    `cbor:"tooBig"`
	Ops    []Op    `cbor:"ops"`
	Blocks []byte  `cbor:"blocks"`
}

// SeqOr returns the sequence number, or def when absent.
func (c *Commit) SeqOr(def int64) int64 {
	if c == nil || c.Seq == nil {
		return def
	}
	return *c.Seq
}

// Op is one repository operation. CID is left undecoded: a tag-42 link
// for creates and updates, null for deletes.
type Op struct {
	Action string `cbor:"action"`
	Path   string `cbor:"path"`
	CID    any    `cbor:"cid"`
}

// Collection returns the NSID part of the path ("app.bsky.feed.post").
func (o Op) Collection() string {
	for i := 0; i < len(o.Path); i++ {
		if o.Path[i] == '/' {
			return o.Path[:i]
		}
	}
	return o.Path
}

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// headerDecMode keeps map keys generic so any well-formed first object
// decodes.
var headerDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{MaxNestedLevels: 64}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// headerFrom reads op and t from a decoded first object. Missing or
// mistyped fields are left zero, which makes the frame a non-commit.
func headerFrom(v any) Header {
	var h Header
	m, ok := v.(map[any]any)
	if !ok {
		return h
	}
	switch op := m["op"].(type) {
	case int64:
		h.Op = op
	case uint64:
		if op <= 1<<62 {
			h.Op = int64(op)
		}
	}
	if t, ok := m["t"].(string); ok {
		h.T = t
	}
	return h
}

// DecodeFrame splits one binary message. A nil commit with a nil error
// means the frame is well formed but not a commit, including headers
// whose op or t have the wrong type.
func DecodeFrame(data []byte) (Header, *Commit, error) {
	var first any
	rest, err := headerDecMode.UnmarshalFirst(data, &first)
	if err != nil {
		return Header{}, nil, &FrameError{Kind: ErrHeaderDecode, Raw: data, Err: err}
	}
	h := headerFrom(first)
	if !h.IsCommit() {
		return h, nil, nil
	}

	var c Commit
	if err := decMode.Unmarshal(rest, &c); err != nil {
		return h, nil, &FrameError{Kind: ErrPayloadDecode, Err: err}
	}
	return h, &c, nil
}

// DecodeRecord decodes one DAG-CBOR record block into a generic map.
func DecodeRecord(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return m, nil
}
