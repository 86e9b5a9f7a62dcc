package spec

import "testing"

func TestDurationSessions(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"1d", 1},
		{"5d", 5},
		{"90m", 1},
		{"390m", 1},
		{"391m", 2},
		{"7h", 2},
		{"6h", 1},
		{"20bars@4h", 10},
		{"1bars@4h", 1},
		{"3bars@1d", 3},
		{"780bars@1m", 2},
		{"5 d", 5},
	}
	for _, tt := range tests {
		got, err := DurationSessions(tt.in)
		if err != nil {
			t.Errorf("DurationSessions(%q) returned error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DurationSessions(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDurationRejectsUnitless(t *testing.T) {
	for _, in := range []string{"", "5", "d5", "five days", "5w", "bars@4h"} {
		if ValidDuration(in) {
			t.Errorf("ValidDuration(%q) = true, want false", in)
		}
		if _, err := DurationSessions(in); err == nil {
			t.Errorf("DurationSessions(%q) succeeded, want error", in)
		}
	}
}

func TestParseRef(t *testing.T) {
	r, err := ParseRef("ma5_1d.value@decision")
	if err != nil {
		t.Fatalf("ParseRef returned error: %v", err)
	}
	if r.ID != "ma5_1d" || r.Field != "value" || r.Timing != "decision" {
		t.Errorf("ParseRef = %+v, want {ma5_1d value decision}", r)
	}
	if r.String() != "ma5_1d.value@decision" {
		t.Errorf("String() = %q, not round-trip stable", r.String())
	}

	bare, err := ParseRef("macd_4h")
	if err != nil {
		t.Fatalf("ParseRef returned error: %v", err)
	}
	if bare.ID != "macd_4h" || bare.Field != "" {
		t.Errorf("ParseRef bare = %+v, want id only", bare)
	}

	if _, err := ParseRef(""); err == nil {
		t.Error("ParseRef(\"\") succeeded, want error")
	}
}

func TestResolverFieldDefaults(t *testing.T) {
	s, err := Normalize(validDraft())
	if err != nil {
		t.Fatalf("Normalize() returned error: %v", err)
	}
	rs := NewResolver(s)

	// Single-valued indicators default to .value.
	r, err := rs.Resolve("ma5_1d")
	if err != nil {
		t.Fatalf("Resolve(ma5_1d) returned error: %v", err)
	}
	if r.Field != "value" {
		t.Errorf("defaulted field = %q, want value", r.Field)
	}

	// MACD has three fields and never defaults.
	if _, err := rs.Resolve("macd_4h"); err == nil {
		t.Error("Resolve(macd_4h) succeeded, want explicit-field error")
	}
	if _, err := rs.Resolve("macd_4h.hist"); err != nil {
		t.Errorf("Resolve(macd_4h.hist) returned error: %v", err)
	}
	if _, err := rs.Resolve("macd_4h.bogus"); err == nil {
		t.Error("Resolve(macd_4h.bogus) succeeded, want unknown-field error")
	}
	if _, err := rs.Resolve("nope.value"); err == nil {
		t.Error("Resolve(nope.value) succeeded, want unknown-indicator error")
	}
}
