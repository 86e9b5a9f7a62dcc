package spec

import (
	"fmt"
	"strings"
)

// Ref is a parsed symbolic value reference of the form
// "<indicator_id>.<field>@<timing>". Field and Timing may be empty.
type Ref struct {
	ID     string
	Field  string
	Timing string
}

// ParseRef splits a reference string. It never fails on shape alone — a bare
// indicator id parses with an empty field — but rejects empty input.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("empty value reference")
	}
	var r Ref
	if at := strings.IndexByte(s, '@'); at >= 0 {
		r.Timing = s[at+1:]
		s = s[:at]
	}
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		r.ID = s[:dot]
		r.Field = s[dot+1:]
	} else {
		r.ID = s
	}
	if r.ID == "" {
		return Ref{}, fmt.Errorf("reference %q has no indicator id", s)
	}
	return r, nil
}

// String renders the canonical reference form.
func (r Ref) String() string {
	out := r.ID
	if r.Field != "" {
		out += "." + r.Field
	}
	if r.Timing != "" {
		out += "@" + r.Timing
	}
	return out
}

// indicatorFields maps each indicator kind to its addressable output fields.
var indicatorFields = map[IndicatorKind][]string{
	IndMACD:  {"macd", "signal", "hist"},
	IndSMA:   {"value"},
	IndClose: {"value"},
}

// Resolver checks symbolic references against the spec's indicator
// namespace. It is shared by the validator and the engine so both agree on
// what a reference means.
type Resolver struct {
	indicators map[string]Indicator
}

// NewResolver indexes the spec's declared indicators.
func NewResolver(s *Spec) *Resolver {
	idx := make(map[string]Indicator, len(s.DSL.Signal.Indicators))
	for _, ind := range s.DSL.Signal.Indicators {
		idx[ind.ID] = ind
	}
	return &Resolver{indicators: idx}
}

// Indicator looks up a declared indicator by id.
func (rs *Resolver) Indicator(id string) (Indicator, bool) {
	ind, ok := rs.indicators[id]
	return ind, ok
}

// Resolve parses a reference and verifies that it names a declared indicator
// and one of that indicator's fields. A missing field defaults to "value"
// for single-valued indicators and is an error for multi-valued ones.
func (rs *Resolver) Resolve(ref string) (Ref, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return Ref{}, err
	}
	ind, ok := rs.indicators[r.ID]
	if !ok {
		return Ref{}, fmt.Errorf("reference %q: unknown indicator %q", ref, r.ID)
	}
	fields := indicatorFields[ind.Type]
	if r.Field == "" {
		if len(fields) == 1 {
			r.Field = fields[0]
			return r, nil
		}
		return Ref{}, fmt.Errorf("reference %q: indicator %q requires an explicit field (one of %s)",
			ref, r.ID, strings.Join(fields, ", "))
	}
	for _, f := range fields {
		if r.Field == f {
			return r, nil
		}
	}
	return Ref{}, fmt.Errorf("reference %q: indicator %q has no field %q", ref, r.ID, r.Field)
}
