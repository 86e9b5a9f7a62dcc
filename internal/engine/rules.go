package engine

import (
	"nlquant/internal/spec"
)

// evaluator resolves rule condition trees against precomputed indicator and
// event state. Evaluation is a pure function of session index: no side
// effects and no access to later sessions.
type evaluator struct {
	set      *indicatorSet
	hits     eventHits
	resolver *spec.Resolver
}

func newEvaluator(set *indicatorSet, hits eventHits, s *spec.Spec) *evaluator {
	return &evaluator{set: set, hits: hits, resolver: spec.NewResolver(s)}
}

// eval walks the condition tree at session i. Children of all/any are
// always evaluated (no short circuit) so explainability logging sees every
// branch. Unresolvable operands make their node false, never an error.
func (e *evaluator) eval(c *spec.Condition, i int) bool {
	switch c.Kind() {
	case spec.CondAll:
		ok := true
		for j := range c.All {
			if !e.eval(&c.All[j], i) {
				ok = false
			}
		}
		return ok
	case spec.CondAny:
		ok := false
		for j := range c.Any {
			if e.eval(&c.Any[j], i) {
				ok = true
			}
		}
		return ok
	case spec.CondEventWithin:
		lookback, err := spec.DurationSessions(c.EventWithin.Lookback)
		if err != nil {
			return false
		}
		return e.hits.firedWithin(c.EventWithin.EventID, i, lookback)
	case spec.CondEvent:
		scope := 1
		if c.Event.Scope != "" {
			n, err := spec.DurationSessions(c.Event.Scope)
			if err != nil {
				return false
			}
			scope = n
		}
		return e.hits.firedWithin(c.Event.EventID, i, scope)
	case spec.CondCompare:
		a, okA := e.operand(c.Compare.A, i)
		b, okB := e.operand(c.Compare.B, i)
		if !okA || !okB {
			return false
		}
		return compare(c.Compare.Op, a, b)
	default:
		return false
	}
}

func (e *evaluator) operand(o spec.Operand, i int) (float64, bool) {
	if o.Value != nil {
		return *o.Value, true
	}
	ref, err := e.resolver.Resolve(o.Ref)
	if err != nil {
		return 0, false
	}
	return e.set.valueAt(i, ref)
}
