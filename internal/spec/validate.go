package spec

import (
	"fmt"
)

// comparison operators accepted in threshold events and rule comparisons.
var compareOps = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true,
}

var qtyModes = map[QtyMode]bool{
	QtyFractionOfPosition: true,
	QtyFractionOfCash:     true,
	QtyFractionOfEquity:   true,
	QtyNotionalUSD:        true,
	QtyShares:             true,
}

// validate performs semantic validation on a canonicalized spec and returns
// every violation found. Hard-rule fields are re-checked here even though
// the normalizer overwrites them, so a spec constructed by other means fails
// loudly instead of simulating under the wrong regime.
func validate(s *Spec) []string {
	var v []string

	if s.Timezone != FixedTimezone {
		v = append(v, fmt.Sprintf("timezone must be %s", FixedTimezone))
	}
	if s.Calendar.Value != FixedCalendar {
		v = append(v, fmt.Sprintf("calendar must be %s", FixedCalendar))
	}
	if s.Decision.DecisionTimeRule.Offset != FixedDecisionOffset {
		v = append(v, fmt.Sprintf("decision offset must be %s, got %q", FixedDecisionOffset, s.Decision.DecisionTimeRule.Offset))
	}
	if s.Execution.Model != FixedExecutionModel {
		v = append(v, fmt.Sprintf("execution.model must be %s", FixedExecutionModel))
	}
	if s.Universe.SignalSymbol == "" || s.Universe.TradeSymbol == "" {
		v = append(v, "universe must declare signal_symbol and trade_symbol")
	}
	if lb := s.DSL.Atomic.Constants.Lookback; lb != "" && !ValidDuration(lb) {
		v = append(v, fmt.Sprintf("atomic.constants.lookback %q must include units", lb))
	}

	v = append(v, validateIndicators(s)...)
	resolver := NewResolver(s)
	v = append(v, validateEvents(s, resolver)...)
	v = append(v, validateRules(s, resolver)...)
	v = append(v, validateActions(s)...)
	return v
}

func validateIndicators(s *Spec) []string {
	var v []string
	if len(s.DSL.Signal.Indicators) == 0 {
		v = append(v, "dsl.signal.indicators is empty")
	}
	for _, ind := range s.DSL.Signal.Indicators {
		switch ind.Type {
		case IndMACD:
			if ind.Params.Fast <= 0 || ind.Params.Slow <= 0 || ind.Params.Signal <= 0 {
				v = append(v, fmt.Sprintf("indicator %q: MACD requires positive fast/slow/signal spans", ind.ID))
			}
		case IndSMA:
			if !ValidDuration(ind.Params.Window) {
				v = append(v, fmt.Sprintf("indicator %q: window %q must include units", ind.ID, ind.Params.Window))
			}
		case IndClose:
			// no params
		default:
			v = append(v, fmt.Sprintf("indicator %q: unsupported type %q", ind.ID, ind.Type))
		}
		switch ind.TF {
		case TF1m, TF4h, TF1d:
		default:
			v = append(v, fmt.Sprintf("indicator %q: unsupported timeframe %q", ind.ID, ind.TF))
		}
		if _, ok := s.DSL.Atomic.Symbols[ind.SymbolRef]; !ok {
			v = append(v, fmt.Sprintf("indicator %q: symbol_ref %q is not declared in atomic.symbols", ind.ID, ind.SymbolRef))
		}
	}
	return v
}

func validateEvents(s *Spec, resolver *Resolver) []string {
	var v []string
	if len(s.DSL.Signal.Events) == 0 {
		v = append(v, "dsl.signal.events is empty")
	}
	for _, ev := range s.DSL.Signal.Events {
		if ev.ID == "" {
			v = append(v, "event with empty id")
			continue
		}
		switch ev.Type {
		case EventCrossUp, EventCrossDown, EventCrossAny:
			for _, operand := range []string{ev.A, ev.B} {
				if operand == "" {
					v = append(v, fmt.Sprintf("event %q: cross requires operands a and b", ev.ID))
					continue
				}
				if _, err := resolver.Resolve(operand); err != nil {
					v = append(v, fmt.Sprintf("event %q: %v", ev.ID, err))
				}
			}
		case EventThreshold:
			if ev.Left == "" {
				v = append(v, fmt.Sprintf("event %q: threshold requires a left operand", ev.ID))
			} else if _, err := resolver.Resolve(ev.Left); err != nil {
				v = append(v, fmt.Sprintf("event %q: %v", ev.ID, err))
			}
			if !compareOps[ev.Op] {
				v = append(v, fmt.Sprintf("event %q: unsupported comparison operator %q", ev.ID, ev.Op))
			}
			if ev.Value == nil && ev.Right == "" {
				v = append(v, fmt.Sprintf("event %q: threshold requires a constant value or a right operand", ev.ID))
			}
			if ev.Right != "" {
				if _, err := resolver.Resolve(ev.Right); err != nil {
					v = append(v, fmt.Sprintf("event %q: %v", ev.ID, err))
				}
			}
		default:
			v = append(v, fmt.Sprintf("event %q: unsupported type %q", ev.ID, ev.Type))
		}
	}
	return v
}

func validateRules(s *Spec, resolver *Resolver) []string {
	var v []string
	if len(s.DSL.Logic.Rules) == 0 {
		v = append(v, "dsl.logic.rules is empty")
	}
	events := map[string]bool{}
	for _, ev := range s.DSL.Signal.Events {
		events[ev.ID] = true
	}
	actions := map[string]bool{}
	for _, act := range s.DSL.Action.Actions {
		actions[act.ID] = true
	}
	for _, rule := range s.DSL.Logic.Rules {
		v = append(v, validateCondition(&rule.When, rule.ID, events, resolver)...)
		if len(rule.Then) == 0 {
			v = append(v, fmt.Sprintf("rule %q: then must list at least one action", rule.ID))
		}
		for _, actionID := range rule.Then {
			if !actions[actionID] {
				v = append(v, fmt.Sprintf("rule %q: unknown action %q", rule.ID, actionID))
			}
		}
	}
	return v
}

func validateCondition(c *Condition, ruleID string, events map[string]bool, resolver *Resolver) []string {
	var v []string
	switch c.Kind() {
	case CondAll:
		for i := range c.All {
			v = append(v, validateCondition(&c.All[i], ruleID, events, resolver)...)
		}
	case CondAny:
		for i := range c.Any {
			v = append(v, validateCondition(&c.Any[i], ruleID, events, resolver)...)
		}
	case CondEventWithin:
		if !events[c.EventWithin.EventID] {
			v = append(v, fmt.Sprintf("rule %q: unknown event %q", ruleID, c.EventWithin.EventID))
		}
		if !ValidDuration(c.EventWithin.Lookback) {
			v = append(v, fmt.Sprintf("rule %q: lookback %q must include units", ruleID, c.EventWithin.Lookback))
		}
	case CondEvent:
		if !events[c.Event.EventID] {
			v = append(v, fmt.Sprintf("rule %q: unknown event %q", ruleID, c.Event.EventID))
		}
		if c.Event.Scope != "" && !ValidDuration(c.Event.Scope) {
			v = append(v, fmt.Sprintf("rule %q: event scope %q must include units", ruleID, c.Event.Scope))
		}
	case CondCompare:
		if !compareOps[c.Compare.Op] {
			v = append(v, fmt.Sprintf("rule %q: unsupported comparison operator %q", ruleID, c.Compare.Op))
		}
		for _, operand := range []Operand{c.Compare.A, c.Compare.B} {
			if operand.Ref == "" {
				continue
			}
			if _, err := resolver.Resolve(operand.Ref); err != nil {
				v = append(v, fmt.Sprintf("rule %q: %v", ruleID, err))
			}
		}
	default:
		v = append(v, fmt.Sprintf("rule %q: condition node has no recognizable operator", ruleID))
	}
	return v
}

func validateActions(s *Spec) []string {
	var v []string
	if len(s.DSL.Action.Actions) == 0 {
		v = append(v, "dsl.action.actions is empty")
	}
	for _, act := range s.DSL.Action.Actions {
		if act.Side != "BUY" && act.Side != "SELL" {
			v = append(v, fmt.Sprintf("action %q: side must be BUY or SELL, got %q", act.ID, act.Side))
		}
		if !qtyModes[act.Qty.Mode] {
			v = append(v, fmt.Sprintf("action %q: unsupported qty mode %q", act.ID, act.Qty.Mode))
		}
		if act.Qty.Value <= 0 {
			v = append(v, fmt.Sprintf("action %q: qty value must be positive", act.ID))
		}
		if !ValidDuration(act.Cooldown) {
			v = append(v, fmt.Sprintf("action %q: cooldown %q must include units", act.ID, act.Cooldown))
		}
		if _, ok := s.DSL.Atomic.Symbols[act.SymbolRef]; !ok {
			v = append(v, fmt.Sprintf("action %q: symbol_ref %q is not declared in atomic.symbols", act.ID, act.SymbolRef))
		}
	}
	return v
}
