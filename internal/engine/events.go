package engine

import (
	"math"

	"nlquant/internal/spec"
)

// epsilon for threshold comparisons: avoids floating-point false
// negatives/positives on equality boundaries.
const cmpEpsilon = 1e-12

// hit is one event occurrence. session is the usable-session index the
// occurrence maps onto; visibleFrom is the earliest session whose decision
// time can observe it (a pulse in a session's final 4h segment closes after
// that session's decision and only becomes visible the next session).
type hit struct {
	session     int
	visibleFrom int
}

// eventHits indexes occurrences per event id.
type eventHits map[string][]hit

// detectEvents evaluates every declared event against the indicator set.
func detectEvents(set *indicatorSet, s *spec.Spec) eventHits {
	hits := eventHits{}
	resolver := spec.NewResolver(s)
	for _, ev := range s.DSL.Signal.Events {
		switch ev.Type {
		case spec.EventCrossUp, spec.EventCrossDown, spec.EventCrossAny:
			hits[ev.ID] = detectCross(set, resolver, ev)
		case spec.EventThreshold:
			hits[ev.ID] = detectThreshold(set, resolver, ev)
		}
	}
	return hits
}

// detectCross finds edge-triggered crossings of operand a over/under b on
// the event's timeframe. A crossing is a one-element pulse: true only at the
// index where the relation flips, never carried forward.
func detectCross(set *indicatorSet, resolver *spec.Resolver, ev spec.Event) []hit {
	refA, errA := resolver.Resolve(ev.A)
	refB, errB := resolver.Resolve(ev.B)
	if errA != nil || errB != nil {
		return nil
	}
	tf := ev.TF
	if tf == "" {
		if ind, ok := resolver.Indicator(refA.ID); ok {
			tf = ind.TF
		}
	}

	a := set.seriesFor(refA, tf)
	b := set.seriesFor(refB, tf)
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var out []hit
	for i := 1; i < n; i++ {
		if !defined(a[i-1]) || !defined(a[i]) || !defined(b[i-1]) || !defined(b[i]) {
			continue
		}
		down := a[i-1] >= b[i-1] && a[i] < b[i]
		up := a[i-1] <= b[i-1] && a[i] > b[i]
		fired := false
		switch ev.Type {
		case spec.EventCrossDown:
			fired = down
		case spec.EventCrossUp:
			fired = up
		case spec.EventCrossAny:
			fired = down || up
		}
		if fired {
			out = append(out, set.hitAt(tf, i))
		}
	}
	return out
}

// seriesFor returns a ref's value series on tf: per 4h segment, or per
// session for daily series.
func (set *indicatorSet) seriesFor(ref spec.Ref, tf spec.Timeframe) []float64 {
	switch tf {
	case spec.TF4h:
		return set.onSegments[ref.ID][ref.Field]
	case spec.TF1d:
		return set.onDays[ref.ID][ref.Field]
	}
	return nil
}

// hitAt maps a series index on tf to its session and visibility.
func (set *indicatorSet) hitAt(tf spec.Timeframe, idx int) hit {
	switch tf {
	case spec.TF4h:
		seg := set.view.segments[roleSignal]
		// Cross series may come from either role; segment layouts are
		// per-session identical, so session mapping via the signal role is
		// exact whenever the index is in range.
		if idx < len(seg) {
			s := seg[idx].sessionIdx
			visible := s
			if seg[idx].end.After(set.view.frames[s].session.Decision()) {
				visible = s + 1
			}
			return hit{session: s, visibleFrom: visible}
		}
		return hit{session: idx, visibleFrom: idx}
	case spec.TF1d:
		// A daily bar closes after its own session's decision.
		return hit{session: idx, visibleFrom: idx + 1}
	}
	return hit{session: idx, visibleFrom: idx}
}

// detectThreshold evaluates the comparison at every session's decision.
func detectThreshold(set *indicatorSet, resolver *spec.Resolver, ev spec.Event) []hit {
	ref, err := resolver.Resolve(ev.Left)
	if err != nil {
		return nil
	}
	var refRight *spec.Ref
	if ev.Right != "" {
		r, err := resolver.Resolve(ev.Right)
		if err != nil {
			return nil
		}
		refRight = &r
	}
	var out []hit
	for i := range set.view.frames {
		left, ok := set.valueAt(i, ref)
		if !ok {
			continue
		}
		var right float64
		switch {
		case refRight != nil:
			r, ok := set.valueAt(i, *refRight)
			if !ok {
				continue
			}
			right = r
		case ev.Value != nil:
			right = *ev.Value
		default:
			continue
		}
		if compare(ev.Op, left, right) {
			out = append(out, hit{session: i, visibleFrom: i})
		}
	}
	return out
}

// compare applies op with the epsilon tolerance.
func compare(op string, l, r float64) bool {
	d := l - r
	switch op {
	case "<":
		return d < -cmpEpsilon
	case "<=":
		return d <= cmpEpsilon
	case ">":
		return d > cmpEpsilon
	case ">=":
		return d >= -cmpEpsilon
	case "==":
		return math.Abs(d) <= cmpEpsilon
	case "!=":
		return math.Abs(d) > cmpEpsilon
	}
	return false
}

// firedWithin reports whether the event fired in the inclusive trailing
// window of lookback sessions ending at session i, considering only hits
// already visible at i's decision.
func (hits eventHits) firedWithin(eventID string, i, lookback int) bool {
	low := i - lookback + 1
	if low < 0 {
		low = 0
	}
	for _, h := range hits[eventID] {
		if h.session >= low && h.session <= i && h.visibleFrom <= i {
			return true
		}
	}
	return false
}
