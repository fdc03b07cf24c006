package attributes

import (
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
)

// MismatchError describes an encoder whose output disagrees with the
// registry entry for its kind.
type MismatchError struct {
	Kind     string
	Position int
	Want     string
	Got      string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: position %d: registry has %s, encoder produces %s", e.Kind, e.Position, e.Want, e.Got)
}

// VerifyRegistry encodes each handler's sample record and checks that the
// vector's names, types, and arity match the registry entry position by
// position. It also reports handlers whose kind is not registered.
func VerifyRegistry(reg *schema.Registry, table *Table) error {
	epoch := func() time.Time { return time.Unix(0, 0) }
	var errs []error

	for _, h := range table.Handlers() {
		entry, ok := reg.Lookup(h.Kind())
		if !ok {
			errs = append(errs, fmt.Errorf("%s: handler for %s has no registry entry", h.Kind(), h.RecordType))
			continue
		}
		if h.Sample == nil {
			errs = append(errs, fmt.Errorf("%s: handler has no sample record", h.Kind()))
			continue
		}

		vec, ok := h.Encode(Meta{Now: epoch}, h.Sample)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: sample record %T rejected by its encoder", h.Kind(), h.Sample))
			continue
		}
		errs = append(errs, compare(h.Kind(), entry, vec)...)
	}
	return errors.Join(errs...)
}

func compare(kind string, entry schema.Entry, vec Vector) []error {
	var errs []error
	n := max(len(entry.Fields), len(vec))
	for i := 0; i < n; i++ {
		want, got := "<nothing>", "<nothing>"
		if i < len(entry.Fields) {
			want = fmt.Sprintf("%s:%s", entry.Fields[i].Name, entry.Fields[i].Type)
		}
		if i < len(vec) {
			got = fmt.Sprintf("%s:%s", vec[i].Name, vec[i].Type)
		}
		if want != got {
			errs = append(errs, &MismatchError{Kind: kind, Position: i, Want: want, Got: got})
		}
	}
	return errs
}
