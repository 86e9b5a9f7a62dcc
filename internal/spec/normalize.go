package spec

import (
	"encoding/json"
	"fmt"
	"strings"

	"nlquant/internal/domain"
)

// dslLayers are the five layers every spec must declare.
var dslLayers = []string{"atomic", "time", "signal", "logic", "action"}

// Normalize merges hard rules into a draft document, canonicalizes
// identifiers and references, repairs underspecified cross events, and runs
// semantic validation. On failure it returns a VALIDATION_ERROR enumerating
// every violation found, never just the first.
func Normalize(doc map[string]any) (*Spec, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	enforceHardRules(doc)

	var violations []string
	for _, layer := range dslLayers {
		dsl, _ := doc["dsl"].(map[string]any)
		if _, ok := dsl[layer]; !ok {
			violations = append(violations, fmt.Sprintf("dsl missing layer %q", layer))
		}
	}

	s, err := decode(doc)
	if err != nil {
		violations = append(violations, err.Error())
		return nil, domain.ValidationError(violations)
	}

	canonicalize(s)
	violations = append(violations, validate(s)...)
	if len(violations) > 0 {
		return nil, domain.ValidationError(violations)
	}
	return s, nil
}

// decode round-trips the document through JSON into the typed Spec so the
// boundary unmarshallers can absorb the divergent draft shapes.
func decode(doc map[string]any) (*Spec, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding draft: %w", err)
	}
	var s Spec
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("draft does not decode into a strategy spec: %w", err)
	}
	return &s, nil
}

// ---------------------------------------------------------------------------
// Hard rules (unconditional overwrites on the raw document)
// ---------------------------------------------------------------------------

func enforceHardRules(doc map[string]any) {
	doc["timezone"] = FixedTimezone
	doc["calendar"] = map[string]any{"type": "exchange", "value": FixedCalendar}
	doc["decision"] = map[string]any{
		"decision_time_rule": map[string]any{"type": "MARKET_CLOSE_OFFSET", "offset": FixedDecisionOffset},
	}
	execution := subMap(doc, "execution")
	execution["model"] = FixedExecutionModel

	doc["universe"] = coerceUniverse(doc["universe"])

	dsl := subMap(doc, "dsl")
	timeLayer := subMap(dsl, "time")
	timeLayer["primary_tf"] = string(TF1m)
	derived := stringSlice(timeLayer["derived_tfs"])
	for _, tf := range []string{string(TF4h), string(TF1d)} {
		if !contains(derived, tf) {
			derived = append(derived, tf)
		}
	}
	timeLayer["derived_tfs"] = derived
	agg := subMap(timeLayer, "aggregation")
	agg["4h"] = "SESSION_ALIGNED_4H"
	agg["1d"] = "SESSION_ALIGNED_1D"
}

// coerceUniverse accepts a map, a bare symbol string, or a list of symbols
// and always produces a non-empty universe after defaulting.
func coerceUniverse(raw any) map[string]any {
	universe := map[string]any{}
	switch v := raw.(type) {
	case map[string]any:
		for k, val := range v {
			universe[k] = val
		}
	case string:
		if sym := strings.ToUpper(strings.TrimSpace(v)); sym != "" {
			universe["signal_symbol"] = sym
		}
	case []any:
		var symbols []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				if sym := strings.ToUpper(strings.TrimSpace(s)); sym != "" {
					symbols = append(symbols, sym)
				}
			}
		}
		if len(symbols) > 0 {
			universe["signal_symbol"] = symbols[0]
			universe["signal_symbol_fallbacks"] = symbols
		}
	}
	if _, ok := universe["signal_symbol"]; !ok {
		universe["signal_symbol"] = DefaultSignalSymbol
	}
	if _, ok := universe["signal_symbol_fallbacks"]; !ok {
		universe["signal_symbol_fallbacks"] = []any{"NDX", DefaultSignalSymbol}
	}
	if _, ok := universe["trade_symbol"]; !ok {
		universe["trade_symbol"] = DefaultTradeSymbol
	}
	return universe
}

func subMap(parent map[string]any, key string) map[string]any {
	if m, ok := parent[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	parent[key] = m
	return m
}

func stringSlice(raw any) []string {
	items, _ := raw.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Canonicalization
// ---------------------------------------------------------------------------

// canonicalize rewrites the decoded spec into its canonical internal form:
// indicator kind aliases, deterministic fingerprint ids with a rename map,
// duplicate collapse, cross-event field repair, and defaulted fields.
func canonicalize(s *Spec) {
	if s.Name == "" {
		s.Name = "Untitled strategy"
	}
	if s.Risk.Cooldown.Value == "" {
		s.Risk.Cooldown = Cooldown{Scope: "SYMBOL_ACTION", Value: "1d"}
	}
	if s.Risk.MaxOrdersPerDay <= 0 {
		s.Risk.MaxOrdersPerDay = 1
	}
	if s.DSL.Atomic.Symbols == nil {
		s.DSL.Atomic.Symbols = map[string]string{}
	}
	if _, ok := s.DSL.Atomic.Symbols["signal"]; !ok {
		s.DSL.Atomic.Symbols["signal"] = s.Universe.SignalSymbol
	}
	if _, ok := s.DSL.Atomic.Symbols["trade"]; !ok {
		s.DSL.Atomic.Symbols["trade"] = s.Universe.TradeSymbol
	}

	rename := canonicalizeIndicators(s)
	canonicalizeEvents(s, rename)
	canonicalizeRules(s, rename)
	canonicalizeActions(s)
}

// canonicalizeIndicators assigns fingerprint-derived ids, collapses
// duplicates that fingerprint identically, and returns the id rename map.
func canonicalizeIndicators(s *Spec) map[string]string {
	rename := map[string]string{}
	seen := map[string]bool{}
	out := make([]Indicator, 0, len(s.DSL.Signal.Indicators))

	for _, ind := range s.DSL.Signal.Indicators {
		ind.Type = IndicatorKind(strings.ToUpper(strings.TrimSpace(string(ind.Type))))
		if ind.Type == "MA" {
			ind.Type = IndSMA
		}
		if ind.SymbolRef == "" {
			ind.SymbolRef = "signal"
		}
		switch ind.Type {
		case IndMACD:
			if ind.Params.Fast == 0 && ind.Params.Slow == 0 && ind.Params.Signal == 0 {
				ind.Params.Fast, ind.Params.Slow, ind.Params.Signal = 12, 26, 9
			}
			if ind.TF == "" {
				ind.TF = TF4h
			}
			if ind.Align == "" {
				ind.Align = AlignLastClosed
			}
		case IndSMA:
			ind.Params.Window = canonicalWindow(ind.Params.Window)
			if ind.TF == "" {
				ind.TF = TF1d
			}
			if ind.TF == TF1d {
				ind.Params.BarSelection = "LAST_CLOSED_1D"
				ind.Align = AlignCarryForward
			}
		case IndClose:
			if ind.TF == "" {
				ind.TF = TF1m
			}
			if ind.Align == "" {
				ind.Align = AlignLastClosed
			}
		}

		canonical := fingerprintID(ind)
		if ind.ID != "" && ind.ID != canonical {
			rename[ind.ID] = canonical
		}
		ind.ID = canonical
		if seen[canonical] {
			continue // semantically identical duplicate collapses to one
		}
		seen[canonical] = true
		out = append(out, ind)
	}
	s.DSL.Signal.Indicators = out
	return rename
}

// fingerprintID derives a deterministic indicator id from type, timeframe,
// symbol binding, and the parameters that change its meaning.
func fingerprintID(ind Indicator) string {
	suffix := ""
	if ind.SymbolRef != "" && ind.SymbolRef != "signal" {
		suffix = "_" + strings.ToLower(ind.SymbolRef)
	}
	switch ind.Type {
	case IndMACD:
		id := fmt.Sprintf("macd_%s", ind.TF)
		if ind.Params.Fast != 12 || ind.Params.Slow != 26 || ind.Params.Signal != 9 {
			id = fmt.Sprintf("%s_%d_%d_%d", id, ind.Params.Fast, ind.Params.Slow, ind.Params.Signal)
		}
		return id + suffix
	case IndSMA:
		if n, err := WindowBars(ind.Params.Window); err == nil {
			return fmt.Sprintf("ma%d_%s%s", n, ind.TF, suffix)
		}
		return fmt.Sprintf("ma_%s%s", ind.TF, suffix)
	case IndClose:
		return fmt.Sprintf("close_%s%s", ind.TF, suffix)
	default:
		return fmt.Sprintf("%s_%s%s", strings.ToLower(string(ind.Type)), ind.TF, suffix)
	}
}

// canonicalWindow normalizes the loose window phrasings drafts produce.
func canonicalWindow(w string) string {
	trimmed := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(w), " ", ""))
	for _, alias := range []string{"days", "-day", "day"} {
		trimmed = strings.TrimSuffix(trimmed, alias)
	}
	if trimmed == "" {
		return w
	}
	if ValidDuration(trimmed) {
		return trimmed
	}
	// A bare number means daily bars in every draft observed; qualify it.
	if isDigits(trimmed) {
		return trimmed + "d"
	}
	return w
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// canonicalizeEvents rewrites operand references through the rename map and
// repairs cross events whose operands lack field suffixes.
func canonicalizeEvents(s *Spec, rename map[string]string) {
	for i := range s.DSL.Signal.Events {
		ev := &s.DSL.Signal.Events[i]
		ev.A = renameRef(ev.A, rename)
		ev.B = renameRef(ev.B, rename)
		ev.Left = renameRef(ev.Left, rename)
		ev.Right = renameRef(ev.Right, rename)

		switch ev.Type {
		case EventCrossUp, EventCrossDown, EventCrossAny:
			repairCrossEvent(s, ev)
		case EventThreshold:
			ev.Left = defaultField(s, ev.Left)
			ev.Right = defaultField(s, ev.Right)
		}
	}
}

// repairCrossEvent fills canonical .macd/.signal fields when operands omit
// them and exactly one MACD indicator exists on the event's timeframe, and
// forces the second operand to the complementary field if both would
// otherwise compare a value against itself.
func repairCrossEvent(s *Spec, ev *Event) {
	macd := soleMACD(s, ev.TF)
	fill := func(operand, field string) string {
		if operand != "" && strings.Contains(operand, ".") {
			return operand
		}
		if operand != "" {
			return operand + "." + field
		}
		if macd != "" {
			return macd + "." + field
		}
		return operand
	}
	ev.A = fill(ev.A, "macd")
	ev.B = fill(ev.B, "signal")

	ra, errA := ParseRef(ev.A)
	rb, errB := ParseRef(ev.B)
	if errA == nil && errB == nil && ra.ID == rb.ID && ra.Field == rb.Field {
		if ra.Field == "macd" {
			rb.Field = "signal"
		} else {
			rb.Field = "macd"
		}
		ev.B = rb.String()
	}
	if ev.TF == "" {
		if errA == nil {
			if ind, ok := NewResolver(s).Indicator(ra.ID); ok {
				ev.TF = ind.TF
			}
		}
	}
}

// soleMACD returns the id of the only MACD indicator on tf, or "" when zero
// or several exist (repair must not guess between candidates).
func soleMACD(s *Spec, tf Timeframe) string {
	var found string
	for _, ind := range s.DSL.Signal.Indicators {
		if ind.Type != IndMACD {
			continue
		}
		if tf != "" && ind.TF != tf {
			continue
		}
		if found != "" {
			return ""
		}
		found = ind.ID
	}
	return found
}

// defaultField appends ".value" to bare single-valued indicator refs so the
// engine only ever sees fully qualified references.
func defaultField(s *Spec, ref string) string {
	if ref == "" || strings.Contains(ref, ".") {
		return ref
	}
	if ind, ok := NewResolver(s).Indicator(ref); ok && ind.Type != IndMACD {
		return ref + ".value"
	}
	return ref
}

func renameRef(ref string, rename map[string]string) string {
	if ref == "" || len(rename) == 0 {
		return ref
	}
	r, err := ParseRef(ref)
	if err != nil {
		return ref
	}
	if canonical, ok := rename[r.ID]; ok {
		r.ID = canonical
		return r.String()
	}
	return ref
}

func canonicalizeRules(s *Spec, rename map[string]string) {
	for i := range s.DSL.Logic.Rules {
		renameCondition(&s.DSL.Logic.Rules[i].When, rename)
	}
}

func renameCondition(c *Condition, rename map[string]string) {
	switch c.Kind() {
	case CondAll:
		for i := range c.All {
			renameCondition(&c.All[i], rename)
		}
	case CondAny:
		for i := range c.Any {
			renameCondition(&c.Any[i], rename)
		}
	case CondCompare:
		if c.Compare.A.Ref != "" {
			c.Compare.A.Ref = renameRef(c.Compare.A.Ref, rename)
		}
		if c.Compare.B.Ref != "" {
			c.Compare.B.Ref = renameRef(c.Compare.B.Ref, rename)
		}
	}
}

func canonicalizeActions(s *Spec) {
	for i := range s.DSL.Action.Actions {
		act := &s.DSL.Action.Actions[i]
		act.Side = strings.ToUpper(strings.TrimSpace(act.Side))
		if act.Type == "" {
			act.Type = "ORDER"
		}
		if act.OrderType == "" {
			act.OrderType = FixedExecutionModel
		}
		if act.SymbolRef == "" {
			act.SymbolRef = "trade"
		}
		if act.Cooldown == "" {
			act.Cooldown = s.Risk.Cooldown.Value
		}
		if act.IdempotencyScope == "" {
			act.IdempotencyScope = "DECISION_DAY"
		}
	}
}
