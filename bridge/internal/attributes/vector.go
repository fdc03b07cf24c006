// Package attributes maps decoded records to the positional attribute
// vectors the engine stores, one encoder per event kind.
package attributes

import (
	"strconv"
	"strings"

	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
)

// Value is one positional attribute. V holds a string, int64 or float64
// according to Type.
type Value struct {
	Name string             `json:"name"`
	Type schema.LogicalType `json:"type"`
	V    any                `json:"value"`
}

// Vector is the ordered attribute list of one event. Treat as immutable.
type Vector []Value

func str(name, v string) Value {
	return Value{Name: name, Type: schema.TypeString, V: v}
}

func text(name, v string) Value {
	return Value{Name: name, Type: schema.TypeMultitoken, V: v}
}

func integer(name string, v int64) Value {
	return Value{Name: name, Type: schema.TypeInt, V: v}
}

func double(name string, v float64) Value {
	return Value{Name: name, Type: schema.TypeDouble, V: v}
}

func primaryTime(name string, v int64) Value {
	return Value{Name: name, Type: schema.TypePrimaryTime, V: v}
}

// Names returns the attribute names in order.
func (v Vector) Names() []string {
	names := make([]string, len(v))
	for i, a := range v {
		names[i] = a.Name
	}
	return names
}

// Types returns the attribute types in order.
func (v Vector) Types() []schema.LogicalType {
	types := make([]schema.LogicalType, len(v))
	for i, a := range v {
		types[i] = a.Type
	}
	return types
}

// Map returns the attributes keyed by name.
func (v Vector) Map() map[string]any {
	m := make(map[string]any, len(v))
	for _, a := range v {
		m[a.Name] = a.V
	}
	return m
}

// Render produces the engine's flattened text form: values joined by one
// space, doubles with six decimals.
func (v Vector) Render() string {
	parts := make([]string, len(v))
	for i, a := range v {
		parts[i] = renderValue(a.V)
	}
	return strings.Join(parts, " ")
}

func renderValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', 6, 64)
	default:
		return ""
	}
}
