// Package engine runs point-in-time-correct backtests of compiled strategy
// specs: sessions from the exchange calendar, multi-timeframe indicators
// sampled at decision time, edge-triggered events, a rule evaluator, and a
// Market-On-Close executor with cooldowns and cost modeling.
package engine

import (
	"context"
	"log/slog"
	"time"

	"nlquant/internal/calendar"
	"nlquant/internal/domain"
	"nlquant/internal/marketdata"
	"nlquant/internal/spec"
)

// ProgressHook receives (sessions processed, sessions total, last session
// close). It is advisory only: panics are swallowed and its behavior can
// never change the simulation outcome.
type ProgressHook func(done, total int, lastClose time.Time)

// Resolved records the inputs the run actually used after fallback
// resolution.
type Resolved struct {
	SignalSymbol string `json:"signal_symbol"`
	TradeSymbol  string `json:"trade_symbol"`
	IsFallback   bool   `json:"is_fallback"`
	Calendar     string `json:"calendar"`
	Execution    string `json:"execution"`
}

// Result is everything one backtest run produces.
type Result struct {
	Equity   []domain.EquityPoint `json:"equity"`
	Trades   []domain.Trade       `json:"trades"`
	KPIs     domain.KPIs          `json:"kpis"`
	Health   domain.DataHealth    `json:"data_health"`
	Resolved Resolved             `json:"resolved"`
}

// Engine wires the calendar and market-data collaborators.
type Engine struct {
	calendar calendar.Calendar
	provider marketdata.Provider
	logger   *slog.Logger
	progress ProgressHook
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithProgress installs a progress hook.
func WithProgress(hook ProgressHook) EngineOption {
	return func(e *Engine) { e.progress = hook }
}

// New creates an Engine.
func New(cal calendar.Calendar, provider marketdata.Provider, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{calendar: cal, provider: provider, logger: logger}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// maximum skipped-session samples carried in errors and health reports.
const (
	gapSampleErr    = 20
	gapSampleHealth = 50
)

// Run simulates the strategy over [start, end]. The simulation core is
// strictly sequential: cooldown and ledger state carry forward session to
// session. Only the two symbol fetches run concurrently.
func (e *Engine) Run(ctx context.Context, s *spec.Spec, start, end time.Time) (*Result, error) {
	// Re-check the regime fields so a spec built outside the normalizer
	// cannot simulate under the wrong rules.
	if s.Timezone != spec.FixedTimezone {
		return nil, domain.ValidationError([]string{"timezone must be " + spec.FixedTimezone})
	}
	if s.Calendar.Value != spec.FixedCalendar {
		return nil, domain.ValidationError([]string{"calendar must be " + spec.FixedCalendar})
	}
	if s.Execution.Model != spec.FixedExecutionModel {
		return nil, domain.ValidationError([]string{"execution.model must be " + spec.FixedExecutionModel})
	}

	sessions, err := e.calendar.Sessions(ctx, start, end)
	if err != nil {
		return nil, err
	}
	e.logger.Info("backtest starting",
		"strategy_id", s.StrategyID,
		"sessions", len(sessions),
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"))

	view, err := buildMarketView(ctx, e.provider, s, sessions)
	if err != nil {
		return nil, err
	}

	if len(view.frames) == 0 {
		sample := view.skipped
		if len(sample) > gapSampleErr {
			sample = sample[:gapSampleErr]
		}
		return nil, domain.E(domain.ErrDataUnavailable, "insufficient market data for requested range", map[string]any{
			"start":            start.Format("2006-01-02"),
			"end":              end.Format("2006-01-02"),
			"total_sessions":   view.total,
			"skipped_sessions": sample,
		})
	}

	set := computeIndicators(view, s)
	hits := detectEvents(set, s)
	eval := newEvaluator(set, hits, s)

	exec := newExecutor(s, view, set, eval)
	initial := exec.initialEquity()
	exec.run(e.report)

	gaps := view.skipped
	if len(gaps) > gapSampleHealth {
		gaps = gaps[:gapSampleHealth]
	}
	missing := 0.0
	if view.total > 0 {
		missing = float64(len(view.skipped)) / float64(view.total)
	}

	result := &Result{
		Equity: exec.equity,
		Trades: exec.trades,
		KPIs:   computeKPIs(initial, exec.equity, exec.trades),
		Health: domain.DataHealth{
			TotalSessions:   view.total,
			UsedSessions:    len(view.frames),
			SkippedSessions: len(view.skipped),
			MissingRatio:    missing,
			Gaps:            gaps,
		},
		Resolved: Resolved{
			SignalSymbol: view.resolved,
			TradeSymbol:  s.Universe.TradeSymbol,
			IsFallback:   view.isFallback,
			Calendar:     spec.FixedCalendar,
			Execution:    spec.FixedExecutionModel,
		},
	}
	e.logger.Info("backtest finished",
		"strategy_id", s.StrategyID,
		"used_sessions", len(view.frames),
		"trades", len(exec.trades),
		"return_pct", result.KPIs.ReturnPct)
	return result, nil
}

// report invokes the progress hook, swallowing panics so a misbehaving hook
// cannot abort the run.
func (e *Engine) report(done, total int, lastClose time.Time) {
	if e.progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("progress hook panicked", "cause", r)
		}
	}()
	e.progress(done, total, lastClose)
}
