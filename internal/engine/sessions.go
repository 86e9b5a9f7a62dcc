package engine

import (
	"context"
	"fmt"
	"time"

	"nlquant/internal/domain"
	"nlquant/internal/marketdata"
	"nlquant/internal/spec"
)

// role distinguishes the two tracked symbols.
type role int

const (
	roleSignal role = iota
	roleTrade
)

// frame is one usable session with its partitioned bars and the prices the
// evaluator and executor need.
type frame struct {
	session        domain.Session
	signalBars     []domain.MinuteBar
	tradeBars      []domain.MinuteBar
	decisionSignal float64 // close of last signal bar at or before decision
	decisionTrade  float64
	closeSignal    float64 // close of last signal bar at or before session close
	closeTrade     float64
}

// segment is one closed session-aligned 4h window for one role.
type segment struct {
	sessionIdx int // index into frames
	end        time.Time
	close      float64
}

// marketView is everything the indicator and event stages read: usable
// frames in chronological order plus the derived 4h segment series.
type marketView struct {
	frames     []frame
	segments   [2][]segment // indexed by role
	resolved   string       // signal symbol actually served
	isFallback bool
	skipped    []domain.SkippedSession
	total      int
}

// fetchResult carries one symbol's bars out of the concurrent fetch.
type fetchResult struct {
	role     role
	symbol   string
	fallback bool
	bars     []domain.MinuteBar
	err      error
}

// buildMarketView fetches each symbol once over the whole range
// (concurrently for the two roles), partitions bars per session, applies the
// usability gate, and derives the 4h segment series.
func buildMarketView(ctx context.Context, provider marketdata.Provider, s *spec.Spec, sessions []domain.Session) (*marketView, error) {
	rangeStart := sessions[0].Open
	rangeEnd := sessions[len(sessions)-1].Close

	results := make(chan fetchResult, 2)
	go func() {
		sym, fb, bars, err := fetchSignal(ctx, provider, s, rangeStart, rangeEnd)
		results <- fetchResult{role: roleSignal, symbol: sym, fallback: fb, bars: bars, err: err}
	}()
	go func() {
		bars, err := provider.MinuteBars(ctx, s.Universe.TradeSymbol, rangeStart, rangeEnd)
		results <- fetchResult{role: roleTrade, symbol: s.Universe.TradeSymbol, bars: bars, err: err}
	}()

	var signal, trade fetchResult
	for i := 0; i < 2; i++ {
		r := <-results
		if r.role == roleSignal {
			signal = r
		} else {
			trade = r
		}
	}
	if signal.err != nil {
		return nil, signal.err
	}
	if trade.err != nil {
		return nil, trade.err
	}

	view := &marketView{resolved: signal.symbol, isFallback: signal.fallback, total: len(sessions)}
	signalBySession := partition(signal.bars, sessions)
	tradeBySession := partition(trade.bars, sessions)

	for i, sess := range sessions {
		date := sess.Date.Format("2006-01-02")
		sBars, tBars := signalBySession[i], tradeBySession[i]
		if len(sBars) == 0 {
			view.skipped = append(view.skipped, domain.SkippedSession{
				SessionDate: date, Reason: domain.SkipMissingSignalBars, Symbol: signal.symbol,
			})
			continue
		}
		if len(tBars) == 0 {
			view.skipped = append(view.skipped, domain.SkippedSession{
				SessionDate: date, Reason: domain.SkipMissingTradeBars, Symbol: trade.symbol,
			})
			continue
		}
		decSignal := lastBarAtOrBefore(sBars, sess.Decision())
		closeSignal := lastBarAtOrBefore(sBars, sess.Close)
		decTrade := lastBarAtOrBefore(tBars, sess.Decision())
		closeTrade := lastBarAtOrBefore(tBars, sess.Close)
		if decSignal == nil || closeSignal == nil || decTrade == nil || closeTrade == nil {
			view.skipped = append(view.skipped, domain.SkippedSession{
				SessionDate: date, Reason: domain.SkipMissingDecisionOrCloseBar,
				Detail: fmt.Sprintf("open=%s close=%s", sess.Open.Format(time.RFC3339), sess.Close.Format(time.RFC3339)),
			})
			continue
		}

		idx := len(view.frames)
		view.frames = append(view.frames, frame{
			session:        sess,
			signalBars:     sBars,
			tradeBars:      tBars,
			decisionSignal: decSignal.Close,
			decisionTrade:  decTrade.Close,
			closeSignal:    closeSignal.Close,
			closeTrade:     closeTrade.Close,
		})
		for _, seg := range sessionSegments(sess) {
			if c, ok := segmentClose(sBars, seg.start, seg.end); ok {
				view.segments[roleSignal] = append(view.segments[roleSignal], segment{sessionIdx: idx, end: seg.end, close: c})
			}
			if c, ok := segmentClose(tBars, seg.start, seg.end); ok {
				view.segments[roleTrade] = append(view.segments[roleTrade], segment{sessionIdx: idx, end: seg.end, close: c})
			}
		}
	}
	return view, nil
}

// fetchSignal fetches signal-symbol bars, walking the declared fallbacks in
// order when the primary has no data.
func fetchSignal(ctx context.Context, provider marketdata.Provider, s *spec.Spec, start, end time.Time) (string, bool, []domain.MinuteBar, error) {
	candidates := []string{s.Universe.SignalSymbol}
	for _, fb := range s.Universe.SignalSymbolFallbacks {
		if fb != s.Universe.SignalSymbol {
			candidates = append(candidates, fb)
		}
	}
	var lastErr error
	for i, sym := range candidates {
		bars, err := provider.MinuteBars(ctx, sym, start, end)
		if err == nil {
			return sym, i > 0, bars, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", false, nil, ctx.Err()
		}
	}
	return "", false, nil, lastErr
}

// partition splits ascending bars into per-session buckets using each
// session's [open, close] interval. Bars outside every session are dropped.
func partition(bars []domain.MinuteBar, sessions []domain.Session) [][]domain.MinuteBar {
	out := make([][]domain.MinuteBar, len(sessions))
	cursor := 0
	for i, sess := range sessions {
		for cursor < len(bars) && bars[cursor].TS.Before(sess.Open) {
			cursor++
		}
		start := cursor
		for cursor < len(bars) && !bars[cursor].TS.After(sess.Close) {
			cursor++
		}
		if cursor > start {
			out[i] = bars[start:cursor]
		}
	}
	return out
}

// lastBarAtOrBefore returns the latest bar whose timestamp is at or before
// ts, or nil.
func lastBarAtOrBefore(bars []domain.MinuteBar, ts time.Time) *domain.MinuteBar {
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].TS.After(ts) {
			return &bars[i]
		}
	}
	return nil
}

type window struct {
	start, end time.Time
}

// sessionSegments splits a session at open+4h into two segments, or one when
// the session (an early close) is shorter than 4 hours.
func sessionSegments(sess domain.Session) []window {
	mid := sess.Open.Add(4 * time.Hour)
	if !mid.Before(sess.Close) {
		return []window{{start: sess.Open, end: sess.Close}}
	}
	return []window{{start: sess.Open, end: mid}, {start: mid, end: sess.Close}}
}

// segmentClose returns the close of the last bar inside [start, end].
func segmentClose(bars []domain.MinuteBar, start, end time.Time) (float64, bool) {
	var last float64
	found := false
	for _, b := range bars {
		if b.TS.Before(start) || b.TS.After(end) {
			continue
		}
		last = b.Close
		found = true
	}
	return last, found
}
