// Package parser reconstructs typed attributes from the engine's flattened
// text export of one primitive event.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
)

// Reserved diagnostic keys. Schema field names never start with '_'.
const (
	RawKey       = "_RAW_"
	RemainderKey = "_UNPARSED_REMAINDER_"
)

// DefaultMaxLineBytes caps the input evaluated by the patterns.
const DefaultMaxLineBytes = 64 * 1024

// Result is the outcome of decoding one line. Attributes holds a value for
// every schema field, defaulted when extraction failed.
type Result struct {
	Attributes map[string]any `json:"attributes"`
	Errors     []string       `json:"errors"`
}

// OK reports whether the line decoded without diagnostics.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// PostProcessor rewrites the attributes of one kind after field extraction.
type PostProcessor func(attrs map[string]any)

// Option configures a Parser.
type Option func(*Parser)

// WithMaxLineBytes sets the input cap. Non-positive values keep the default.
func WithMaxLineBytes(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxLineBytes = n
		}
	}
}

// WithPostProcessor registers a rewrite step for kind, replacing any
// previous one.
func WithPostProcessor(kind string, fn PostProcessor) Option {
	return func(p *Parser) {
		p.post[kind] = fn
	}
}

// Parser decodes text lines against a registry. It holds only compiled,
// read-only state and is safe for concurrent use.
type Parser struct {
	maxLineBytes int
	kinds        map[string][]field
	post         map[string]PostProcessor
}

type field struct {
	spec schema.FieldSpec
	// anchored matches the token at the start of the remainder; group 1 is the token.
	anchored *regexp.Regexp
	// boundary finds the token after a whitespace boundary; group 1 is the token.
	boundary *regexp.Regexp
	// next is the index of the first later field with a pattern, or -1.
	next int
}

// longInteger is the primary-time shape checked before a free-text
// boundary search.
var longInteger = regexp.MustCompile(`^` + schema.PatternNanos + `(?:\s|$)`)

// New compiles every entry of reg.
func New(reg *schema.Registry, opts ...Option) *Parser {
	p := &Parser{
		maxLineBytes: DefaultMaxLineBytes,
		kinds:        make(map[string][]field),
		post: map[string]PostProcessor{
			schema.KindUpdateProfile: SplitProfile,
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, e := range reg.Entries() {
		fields := make([]field, len(e.Fields))
		for i, spec := range e.Fields {
			fields[i] = compileField(spec)
		}
		for i := range fields {
			fields[i].next = -1
			for j := i + 1; j < len(fields); j++ {
				if fields[j].spec.HasPattern() {
					fields[i].next = j
					break
				}
			}
		}
		p.kinds[e.Kind()] = fields
	}
	return p
}

func compileField(spec schema.FieldSpec) field {
	f := field{spec: spec}
	if !spec.HasPattern() {
		return f
	}
	tail := ""
	if spec.Delimited {
		tail = `(?:\s|$)`
	}
	f.anchored = regexp.MustCompile(`^(` + spec.Pattern + `)` + tail)
	f.boundary = regexp.MustCompile(`\s+(` + spec.Pattern + `)(?:\s|$)`)
	return f
}

var defaultParser = sync.OnceValue(func() *Parser {
	return New(schema.Default())
})

// Parse decodes line with the default Bluesky registry.
func Parse(kind, line string) Result {
	return defaultParser().Parse(kind, line)
}

// Normalize collapses every whitespace run, non-breaking spaces included,
// to one ASCII space and trims both ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Parse decodes one exported line for kind. It never panics and always
// returns a value for every field of a known kind.
func (p *Parser) Parse(kind, line string) Result {
	var errs []string
	if len(line) > p.maxLineBytes {
		line = truncate(line, p.maxLineBytes)
		errs = append(errs, fmt.Sprintf("Input truncated to %d bytes", len(line)))
	}
	normalized := Normalize(line)

	fields, ok := p.kinds[kind]
	if !ok {
		return Result{
			Attributes: map[string]any{RawKey: normalized},
			Errors:     []string{fmt.Sprintf("No schema for event '%s'", kind)},
		}
	}

	attrs := make(map[string]any, len(fields)+1)
	remaining := normalized

	for i, f := range fields {
		spec := f.spec

		var token string
		switch {
		case spec.Type == schema.TypeMultitoken:
			token, remaining = p.freeText(fields, i, remaining)

		case f.anchored != nil:
			rest := strings.TrimLeft(remaining, " ")
			m := f.anchored.FindStringSubmatchIndex(rest)
			if m == nil {
				if !spec.Optional {
					errs = append(errs, fmt.Sprintf("Pattern for '%s' did not match near «%s…»", spec.Name, prefix(rest, 40)))
				}
				attrs[spec.Name] = spec.DefaultValue()
				continue
			}
			token = rest[m[2]:m[3]]
			remaining = rest[m[3]:]

		default:
			attrs[spec.Name] = spec.DefaultValue()
			continue
		}

		value, err := coerce(spec.Type, token)
		if err != nil {
			errs = append(errs, fmt.Sprintf("Conversion error for '%s' from value '%s': %v", spec.Name, token, err))
			value = spec.DefaultValue()
		}
		attrs[spec.Name] = value
	}

	if rest := strings.TrimSpace(remaining); rest != "" {
		errs = append(errs, fmt.Sprintf("Extra unparsed content: '%s'", rest))
		attrs[RemainderKey] = rest
	}

	if fn := p.post[kind]; fn != nil {
		fn(attrs)
	}

	return Result{Attributes: attrs, Errors: errs}
}

// freeText extracts a multitoken value. Its right edge is the first match
// of the next patterned field after a whitespace boundary.
func (p *Parser) freeText(fields []field, i int, remaining string) (string, string) {
	next := fields[i].next
	if next < 0 {
		return strings.TrimSpace(remaining), ""
	}

	if fields[next].spec.Type == schema.TypePrimaryTime &&
		longInteger.MatchString(strings.TrimLeft(remaining, " ")) {
		return "", remaining
	}

	m := fields[next].boundary.FindStringIndex(remaining)
	if m == nil {
		return strings.TrimSpace(remaining), ""
	}
	return strings.TrimSpace(remaining[:m[0]]), strings.TrimSpace(remaining[m[0]:])
}

func coerce(t schema.LogicalType, token string) (any, error) {
	switch t {
	case schema.TypeInt, schema.TypePrimaryTime:
		return strconv.ParseInt(token, 10, 64)
	case schema.TypeDouble:
		return strconv.ParseFloat(token, 64)
	default:
		return strings.TrimSpace(token), nil
	}
}

// SplitProfile replaces profile_text with display_name and description,
// split on the first separator.
func SplitProfile(attrs map[string]any) {
	raw, ok := attrs["profile_text"]
	if !ok {
		return
	}
	delete(attrs, "profile_text")

	text, _ := raw.(string)
	name, desc, _ := strings.Cut(text, schema.ProfileSeparator)
	attrs["display_name"] = name
	attrs["description"] = desc
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func prefix(s string, runes int) string {
	i := 0
	for pos := range s {
		if i == runes {
			return s[:pos]
		}
		i++
	}
	return s
}
