// Package schema holds the declarative, ordered field tables shared by the
// attribute encoders and the text decoder.
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// LogicalType is the declared type of one field.
type LogicalType string

const (
	TypeString      LogicalType = "string"
	TypeInt         LogicalType = "int"
	TypeDouble      LogicalType = "double"
	TypePrimaryTime LogicalType = "primary_time"
	TypeMultitoken  LogicalType = "string_multitoken"
)

// Valid reports whether t is one of the known logical types.
func (t LogicalType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeDouble, TypePrimaryTime, TypeMultitoken:
		return true
	}
	return false
}

// EngineType is the type name used in stream declarations. Free text is a
// plain string to the engine.
func (t LogicalType) EngineType() string {
	if t == TypeMultitoken {
		return string(TypeString)
	}
	return string(t)
}

// FieldSpec describes one positional attribute.
type FieldSpec struct {
	Name    string
	Type    LogicalType
	Pattern string
	// Delimited requires the token to be followed by whitespace or end of input.
	Delimited bool
	Optional  bool
	// Default replaces the type zero value when set.
	Default any
}

// ZeroValue is the type-appropriate fallback: int64(0), float64(0) or "".
func (f FieldSpec) ZeroValue() any {
	switch f.Type {
	case TypeInt, TypePrimaryTime:
		return int64(0)
	case TypeDouble:
		return float64(0)
	default:
		return ""
	}
}

// DefaultValue returns Default when declared, otherwise ZeroValue.
func (f FieldSpec) DefaultValue() any {
	if f.Default != nil {
		return f.Default
	}
	return f.ZeroValue()
}

// HasPattern reports whether the field carries its own token pattern.
func (f FieldSpec) HasPattern() bool {
	return f.Pattern != ""
}

// Entry is the ordered field table of one event kind.
type Entry struct {
	Stream string
	Event  string
	Fields []FieldSpec
}

// Kind returns the qualified "Stream.Event" name.
func (e Entry) Kind() string {
	return e.Stream + "." + e.Event
}

// Names returns the field names in declaration order.
func (e Entry) Names() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// ValidationError reports a malformed entry.
type ValidationError struct {
	Kind  string
	Field string
	Issue string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema %s: %s", e.Kind, e.Issue)
	}
	return fmt.Sprintf("schema %s.%s: %s", e.Kind, e.Field, e.Issue)
}

// Validate checks the entry for structural problems.
func (e Entry) Validate() error {
	kind := e.Kind()
	if e.Stream == "" || e.Event == "" {
		return &ValidationError{Kind: kind, Issue: "stream and event names are required"}
	}
	if strings.ContainsAny(e.Stream+e.Event, ". \t") {
		return &ValidationError{Kind: kind, Issue: "stream and event names must not contain dots or spaces"}
	}
	if len(e.Fields) == 0 {
		return &ValidationError{Kind: kind, Issue: "no fields"}
	}

	seen := make(map[string]bool, len(e.Fields))
	var errs []error
	for _, f := range e.Fields {
		if err := validateField(kind, f, seen); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateField(kind string, f FieldSpec, seen map[string]bool) error {
	fail := func(issue string) error {
		return &ValidationError{Kind: kind, Field: f.Name, Issue: issue}
	}

	if f.Name == "" {
		return fail("empty field name")
	}
	if strings.HasPrefix(f.Name, "_") {
		return fail("field names starting with '_' are reserved")
	}
	if seen[f.Name] {
		return fail("duplicate field name")
	}
	seen[f.Name] = true

	if !f.Type.Valid() {
		return fail(fmt.Sprintf("unknown type %q", f.Type))
	}
	if f.Pattern != "" {
		if _, err := regexp.Compile(f.Pattern); err != nil {
			return fail(fmt.Sprintf("bad pattern: %v", err))
		}
	}
	if f.Type != TypeMultitoken && f.Pattern == "" && !f.Optional {
		return fail("field without a pattern must be optional")
	}
	if f.Default != nil && !defaultMatchesType(f) {
		return fail(fmt.Sprintf("default %v (%T) does not match type %s", f.Default, f.Default, f.Type))
	}
	return nil
}

func defaultMatchesType(f FieldSpec) bool {
	switch f.Default.(type) {
	case int64:
		return f.Type == TypeInt || f.Type == TypePrimaryTime
	case float64:
		return f.Type == TypeDouble
	case string:
		return f.Type == TypeString || f.Type == TypeMultitoken
	}
	return false
}
