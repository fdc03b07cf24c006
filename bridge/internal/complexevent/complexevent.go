// Package complexevent decodes the engine's textual complex-event exports
// back into typed attribute maps.
package complexevent

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/skybridge/bridge/internal/engine"
	"github.com/telhawk-systems/skybridge/bridge/internal/parser"
)

// ReadableTimeKey holds the formatted commit time added to decoded
// primitives that carry a commit_time.
const ReadableTimeKey = "commit_time_readable"

// ReadableTimeLayout renders commit times with millisecond precision.
const ReadableTimeLayout = "2006-01-02 15:04:05.000 UTC"

// ErrFormat marks an export that is not "[<timestamps>], [<primitives>]".
var ErrFormat = errors.New("unexpected complex event format")

var (
	exportPattern    = regexp.MustCompile(`(?s)^\[(.+?)\],\s*\[(.*)\]$`)
	primitivePattern = regexp.MustCompile(`(?s)\(id:\s*(\d+)\s*attributes:\s*\[(.*?)\]\)`)
)

// RawPrimitive is one undecoded primitive event of an export.
type RawPrimitive struct {
	ID   string
	Line string
}

// Export is a split but undecoded complex event.
type Export struct {
	Timestamps string
	Primitives []RawPrimitive
}

// Split separates the timestamp block from the primitive events.
func Split(raw string) (Export, error) {
	raw = strings.TrimSpace(raw)
	m := exportPattern.FindStringSubmatch(raw)
	if m == nil {
		return Export{}, fmt.Errorf("%w: %q", ErrFormat, truncate(raw, 200))
	}

	exp := Export{Timestamps: m[1]}
	for _, p := range primitivePattern.FindAllStringSubmatch(m[2], -1) {
		exp.Primitives = append(exp.Primitives, RawPrimitive{ID: p[1], Line: p[2]})
	}
	return exp, nil
}

// Primitive is one decoded primitive event.
type Primitive struct {
	ID         int            `json:"id"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attr"`
	Errors     []string       `json:"errors,omitempty"`
}

// ComplexEvent is a decoded export.
type ComplexEvent struct {
	N          uint64      `json:"n"`
	Alias      string      `json:"alias"`
	Timestamps string      `json:"core_ts"`
	Raw        string      `json:"raw"`
	Primitives []Primitive `json:"primitives"`
	Errors     []string    `json:"errors"`
	ReceivedAt time.Time   `json:"received_at"`
}

// FirstTimestamp returns the first entry of the timestamp block.
func (ce ComplexEvent) FirstTimestamp() string {
	first, _, _ := strings.Cut(ce.Timestamps, ",")
	return strings.TrimSpace(first)
}

// Decoder maps primitive ids to kinds and decodes their lines. Safe for
// concurrent use; N is assigned from a shared counter.
type Decoder struct {
	catalog *engine.Catalog
	parser  *parser.Parser
	count   atomic.Uint64
}

// NewDecoder decodes against catalog and p.
func NewDecoder(catalog *engine.Catalog, p *parser.Parser) *Decoder {
	return &Decoder{catalog: catalog, parser: p}
}

// Decode splits raw and decodes every primitive. Per-primitive
// diagnostics are collected in Errors; only a malformed export fails.
func (d *Decoder) Decode(alias, raw string) (ComplexEvent, error) {
	exp, err := Split(raw)
	if err != nil {
		return ComplexEvent{}, err
	}

	ce := ComplexEvent{
		N:          d.count.Add(1),
		Alias:      alias,
		Timestamps: exp.Timestamps,
		Raw:        strings.TrimSpace(raw),
		Primitives: make([]Primitive, 0, len(exp.Primitives)),
		Errors:     []string{},
		ReceivedAt: time.Now().UTC(),
	}

	for _, rp := range exp.Primitives {
		id, err := strconv.Atoi(rp.ID)
		if err != nil {
			ce.Errors = append(ce.Errors, fmt.Sprintf("Invalid primitive id '%s'", rp.ID))
			continue
		}

		kind := d.catalog.Name(id)
		res := d.parser.Parse(kind, rp.Line)
		AddReadableTime(res.Attributes)

		ce.Primitives = append(ce.Primitives, Primitive{
			ID:         id,
			Type:       kind,
			Attributes: res.Attributes,
			Errors:     res.Errors,
		})
		ce.Errors = append(ce.Errors, res.Errors...)
	}
	return ce, nil
}

// AddReadableTime sets ReadableTimeKey when attrs has a floating
// commit_time in nanoseconds.
func AddReadableTime(attrs map[string]any) {
	ns, ok := attrs["commit_time"].(float64)
	if !ok {
		return
	}
	attrs[ReadableTimeKey] = time.Unix(0, int64(ns)).UTC().Format(ReadableTimeLayout)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
