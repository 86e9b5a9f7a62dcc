// Package domain holds the value types shared between the strategy compiler,
// the backtest engine, and the data layer.
package domain

import "time"

// MinuteBar is a single 1-minute OHLCV bar as returned by a market-data
// provider. Timestamps are UTC and mark the bar open.
type MinuteBar struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// Session is one exchange trading day bounded by its open and close.
type Session struct {
	Date  time.Time // midnight in the exchange timezone
	Open  time.Time
	Close time.Time
}

// Decision returns the decision timestamp for the session (close − 2 minutes).
func (s Session) Decision() time.Time {
	return s.Close.Add(-2 * time.Minute)
}

// SkipReason classifies why a session was excluded from trading eligibility.
type SkipReason string

const (
	SkipMissingSignalBars         SkipReason = "missing_signal_bars"
	SkipMissingTradeBars          SkipReason = "missing_trade_bars"
	SkipMissingDecisionOrCloseBar SkipReason = "missing_decision_or_close_bar"
)

// SkippedSession records a session that could not be traded, with enough
// context to diagnose the gap without re-running.
type SkippedSession struct {
	SessionDate string     `json:"session_date"`
	Reason      SkipReason `json:"reason"`
	Symbol      string     `json:"symbol,omitempty"`
	Detail      string     `json:"detail,omitempty"`
}

// TradeCost is the cost breakdown attached to every simulated fill.
type TradeCost struct {
	SlippageBps        float64 `json:"slippage_bps"`
	CommissionPerTrade float64 `json:"commission_per_trade"`
}

// TradeWhy explains a trade: which rule and action fired and the indicator
// values consulted at the decision. Required for audit; a trade must be
// explainable without re-running the simulation.
type TradeWhy struct {
	RuleID     string             `json:"rule_id"`
	ActionID   string             `json:"action_id"`
	Indicators map[string]float64 `json:"indicators"`
}

// Trade is one simulated fill. Under the MOC execution model the fill time is
// always the session close.
type Trade struct {
	DecisionTime time.Time `json:"decision_time"`
	FillTime     time.Time `json:"fill_time"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Qty          float64   `json:"qty"`
	FillPrice    float64   `json:"fill_price"`
	Cost         TradeCost `json:"cost"`
	Why          TradeWhy  `json:"why"`
	PnL          *float64  `json:"pnl,omitempty"`
	PnLPct       *float64  `json:"pnl_pct,omitempty"`
}

// EquityPoint is one mark-to-market observation of the ledger.
type EquityPoint struct {
	T time.Time `json:"t"`
	V float64   `json:"v"`
}

// KPIs summarizes a backtest run.
type KPIs struct {
	ReturnPct float64 `json:"return_pct"`
	Sharpe    float64 `json:"sharpe"`
	MaxDDPct  float64 `json:"max_dd_pct"`
	Trades    int     `json:"trades"`
	WinRate   float64 `json:"win_rate"`
}

// DataHealth aggregates per-session data gaps for one run.
type DataHealth struct {
	TotalSessions   int              `json:"total_sessions"`
	UsedSessions    int              `json:"used_sessions"`
	SkippedSessions int              `json:"skipped_sessions_count"`
	MissingRatio    float64          `json:"missing_ratio"`
	Gaps            []SkippedSession `json:"gaps"`
}
