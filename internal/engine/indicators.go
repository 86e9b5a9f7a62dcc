package engine

import (
	"math"

	"nlquant/internal/spec"
)

// nan marks an undefined series element (insufficient history). It is never
// substituted with zero; downstream evaluation treats it as "cannot fire".
var nan = math.NaN()

func defined(v float64) bool { return !math.IsNaN(v) }

// ema computes an exponential moving average with smoothing 2/(span+1),
// initialized at the first value.
func ema(values []float64, span int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// macdSeries computes the MACD line, signal line, and histogram over closes.
func macdSeries(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	emaFast := ema(closes, fast)
	emaSlow := ema(closes, slow)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig = ema(line, signal)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// smaSeries computes the trailing mean of the previous n elements — the
// value at index i covers [i-n, i), so only fully closed elements
// contribute. Undefined (NaN) until n priors exist.
func smaSeries(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < n {
			out[i] = nan
			continue
		}
		sum := 0.0
		for j := i - n; j < i; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(n)
	}
	return out
}

// indicatorSet holds every computed indicator series plus the sampled
// per-session decision-time values.
type indicatorSet struct {
	view *marketView
	spc  *spec.Spec

	// onSegments[id][field] is a per-4h-segment series for the indicator's
	// role; onDays[id][field] is per-usable-session (daily close based).
	onSegments map[string]map[string][]float64
	onDays     map[string]map[string][]float64

	// atDecision[i][id.field] is the resolved value at session i's decision.
	atDecision []map[string]float64
}

// computeIndicators evaluates every declared indicator over the market view.
func computeIndicators(view *marketView, s *spec.Spec) *indicatorSet {
	set := &indicatorSet{
		view:       view,
		spc:        s,
		onSegments: map[string]map[string][]float64{},
		onDays:     map[string]map[string][]float64{},
	}
	for _, ind := range s.DSL.Signal.Indicators {
		set.compute(ind)
	}
	set.sampleDecisions()
	return set
}

func (set *indicatorSet) roleOf(ind spec.Indicator) role {
	if ind.SymbolRef == "trade" {
		return roleTrade
	}
	return roleSignal
}

// dailyCloses returns the per-usable-session close series for a role.
func (set *indicatorSet) dailyCloses(r role) []float64 {
	out := make([]float64, len(set.view.frames))
	for i, f := range set.view.frames {
		if r == roleTrade {
			out[i] = f.closeTrade
		} else {
			out[i] = f.closeSignal
		}
	}
	return out
}

func (set *indicatorSet) segmentCloses(r role) []float64 {
	segs := set.view.segments[r]
	out := make([]float64, len(segs))
	for i, seg := range segs {
		out[i] = seg.close
	}
	return out
}

func (set *indicatorSet) compute(ind spec.Indicator) {
	r := set.roleOf(ind)
	switch ind.TF {
	case spec.TF4h:
		closes := set.segmentCloses(r)
		fields := map[string][]float64{}
		switch ind.Type {
		case spec.IndMACD:
			line, sig, hist := macdSeries(closes, ind.Params.Fast, ind.Params.Slow, ind.Params.Signal)
			fields["macd"], fields["signal"], fields["hist"] = line, sig, hist
		case spec.IndSMA:
			if n, err := spec.WindowBars(ind.Params.Window); err == nil {
				fields["value"] = smaSeries(closes, n)
			}
		case spec.IndClose:
			fields["value"] = closes
		}
		set.onSegments[ind.ID] = fields
	case spec.TF1d:
		closes := set.dailyCloses(r)
		fields := map[string][]float64{}
		switch ind.Type {
		case spec.IndMACD:
			line, sig, hist := macdSeries(closes, ind.Params.Fast, ind.Params.Slow, ind.Params.Signal)
			fields["macd"], fields["signal"], fields["hist"] = line, sig, hist
		case spec.IndSMA:
			if n, err := spec.WindowBars(ind.Params.Window); err == nil {
				fields["value"] = smaSeries(closes, n)
			}
		case spec.IndClose:
			fields["value"] = closes
		}
		set.onDays[ind.ID] = fields
	case spec.TF1m:
		// Sampled directly at decision time; nothing precomputed.
	}
}

// lastClosedSegment returns the index of the latest segment for role r whose
// end is at or before the decision of session i, or -1.
func (set *indicatorSet) lastClosedSegment(r role, i int) int {
	decision := set.view.frames[i].session.Decision()
	idx := -1
	for j, seg := range set.view.segments[r] {
		if seg.end.After(decision) {
			break
		}
		idx = j
	}
	return idx
}

// sampleDecisions resolves every indicator field at each session's decision
// time. 1m indicators read the decision bar; 4h indicators read the last
// closed segment; 1d indicators read the prior session (never the current,
// still-forming daily bar).
func (set *indicatorSet) sampleDecisions() {
	set.atDecision = make([]map[string]float64, len(set.view.frames))
	for i := range set.view.frames {
		vals := map[string]float64{}
		for _, ind := range set.spc.DSL.Signal.Indicators {
			r := set.roleOf(ind)
			switch ind.TF {
			case spec.TF1m:
				if ind.Type == spec.IndClose {
					f := set.view.frames[i]
					if r == roleTrade {
						vals[ind.ID+".value"] = f.decisionTrade
					} else {
						vals[ind.ID+".value"] = f.decisionSignal
					}
				}
			case spec.TF4h:
				idx := set.lastClosedSegment(r, i)
				if idx < 0 {
					continue
				}
				for field, series := range set.onSegments[ind.ID] {
					if idx < len(series) && defined(series[idx]) {
						vals[ind.ID+"."+field] = series[idx]
					}
				}
			case spec.TF1d:
				if i == 0 {
					continue // no closed daily bar yet
				}
				for field, series := range set.onDays[ind.ID] {
					// smaSeries already shifts its window to closed bars
					// only; point-in-time series sample the prior session.
					idx := i
					if ind.Type != spec.IndSMA {
						idx = i - 1
					}
					if idx < len(series) && defined(series[idx]) {
						vals[ind.ID+"."+field] = series[idx]
					}
				}
			}
		}
		set.atDecision[i] = vals
	}
}

// valueAt resolves a parsed reference at session i. The boolean is false
// when the indicator has no defined value there.
func (set *indicatorSet) valueAt(i int, ref spec.Ref) (float64, bool) {
	v, ok := set.atDecision[i][ref.ID+"."+ref.Field]
	return v, ok
}
