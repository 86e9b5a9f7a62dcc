package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"nlquant/internal/calendar"
	"nlquant/internal/domain"
	"nlquant/internal/marketdata"
	"nlquant/internal/spec"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildSpec normalizes and finalizes a draft document, failing the test on
// any violation.
func buildSpec(t *testing.T, doc map[string]any) *spec.Spec {
	t.Helper()
	s, err := spec.Normalize(doc)
	if err != nil {
		t.Fatalf("Normalize() returned error: %v", err)
	}
	if err := s.Finalize(); err != nil {
		t.Fatal(err)
	}
	return s
}

// alwaysSellDoc is a strategy whose single rule is true at every session: a
// threshold event comparing the decision close against zero, driving one
// SELL action.
func alwaysSellDoc(fraction float64, cooldown string) map[string]any {
	return map[string]any{
		"name":     "always trim",
		"universe": map[string]any{"signal_symbol": "QQQ", "trade_symbol": "TQQQ"},
		"dsl": map[string]any{
			"atomic": map[string]any{
				"symbols":   map[string]any{"signal": "QQQ", "trade": "TQQQ"},
				"constants": map[string]any{"initial_position_qty": 100, "initial_cash": 0},
			},
			"time": map[string]any{},
			"signal": map[string]any{
				"indicators": []any{
					map[string]any{"id": "close_1m", "type": "CLOSE", "tf": "1m", "symbol_ref": "signal", "params": map[string]any{}},
				},
				"events": []any{
					map[string]any{"id": "always_on", "type": "THRESHOLD", "left": "close_1m", "op": ">=", "value": 0},
				},
			},
			"logic": map[string]any{
				"rules": []any{
					map[string]any{"id": "r0", "when": map[string]any{"event_id": "always_on"}, "then": []any{"trim"}},
				},
			},
			"action": map[string]any{
				"actions": []any{
					map[string]any{
						"id": "trim", "side": "SELL",
						"qty":      map[string]any{"mode": "FRACTION_OF_POSITION", "value": fraction},
						"cooldown": cooldown,
					},
				},
			},
		},
	}
}

func runBacktest(t *testing.T, s *spec.Spec, provider marketdata.Provider, start, end time.Time) *Result {
	t.Helper()
	cal, err := calendar.NewXNYS()
	if err != nil {
		t.Fatal(err)
	}
	eng := New(cal, provider, discardLogger())
	result, err := eng.Run(context.Background(), s, start, end)
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	return result
}

func TestEndToEndAlwaysTrueSell(t *testing.T) {
	s := buildSpec(t, alwaysSellDoc(0.25, "1d"))
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)
	result := runBacktest(t, s, marketdata.NewSynthetic(), start, end)

	if result.Health.UsedSessions == 0 {
		t.Fatal("no usable sessions")
	}
	// Expected decay: each fire sells floor(25% of the then-current
	// position); sub-unit orders are skipped silently.
	pos := 100.0
	var wantQty []float64
	for i := 0; i < result.Health.UsedSessions; i++ {
		q := float64(int(pos * 0.25))
		if q < 1 {
			continue
		}
		wantQty = append(wantQty, q)
		pos -= q
	}
	if len(result.Trades) != len(wantQty) {
		t.Fatalf("trades = %d, want %d", len(result.Trades), len(wantQty))
	}
	for i, trade := range result.Trades {
		if trade.Qty != wantQty[i] {
			t.Errorf("trade %d qty = %v, want %v (25%% of then-current position)", i, trade.Qty, wantQty[i])
		}
		if trade.Side != "SELL" {
			t.Errorf("trade %d side = %q, want SELL", i, trade.Side)
		}
		if !trade.FillTime.Equal(result.Equity[i].T) {
			t.Errorf("trade %d fill time = %v, want session close %v", i, trade.FillTime, result.Equity[i].T)
		}
		if !trade.DecisionTime.Equal(trade.FillTime.Add(-2 * time.Minute)) {
			t.Errorf("trade %d decision = %v, want fill - 2m", i, trade.DecisionTime)
		}
		if trade.Why.RuleID != "r0" || trade.Why.ActionID != "trim" {
			t.Errorf("trade %d why = %+v, want rule r0 / action trim", i, trade.Why)
		}
		if len(trade.Why.Indicators) == 0 {
			t.Errorf("trade %d missing indicator snapshot", i)
		}
		if trade.PnL == nil {
			t.Errorf("trade %d missing realized pnl", i)
		}
	}
	if pos < 0 {
		t.Errorf("position went negative: %v", pos)
	}
	if result.KPIs.Trades != len(result.Trades) {
		t.Errorf("KPIs.Trades = %d, want %d", result.KPIs.Trades, len(result.Trades))
	}
}

func TestCooldownBlocksRefires(t *testing.T) {
	s := buildSpec(t, alwaysSellDoc(0.05, "3d"))
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)
	result := runBacktest(t, s, marketdata.NewSynthetic(), start, end)

	if len(result.Trades) < 2 {
		t.Fatalf("trades = %d, want at least 2 to observe the cooldown", len(result.Trades))
	}
	// Map fill times to equity (session) indices.
	sessionIdx := map[time.Time]int{}
	for i, p := range result.Equity {
		sessionIdx[p.T] = i
	}
	prev := -10
	for i, trade := range result.Trades {
		idx, ok := sessionIdx[trade.FillTime]
		if !ok {
			t.Fatalf("trade %d fill time %v is not a session close", i, trade.FillTime)
		}
		if i > 0 && idx-prev < 3 {
			t.Errorf("trade %d fired %d sessions after previous, want >= 3", i, idx-prev)
		}
		prev = idx
	}
}

// perturbingProvider rewrites the bars strictly after the decision time
// (ET 15:59 and later) on one target date to wildly different prices. Bars
// after an earlier session's decision feed the next session's indicators, so
// only the final session's tail can be perturbed without legitimately
// changing later decisions.
type perturbingProvider struct {
	inner marketdata.Provider
	date  string // ET date, 2006-01-02
	loc   *time.Location
}

func (p *perturbingProvider) MinuteBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error) {
	bars, err := p.inner.MinuteBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MinuteBar, len(bars))
	copy(out, bars)
	for i := range out {
		et := out[i].TS.In(p.loc)
		if et.Format("2006-01-02") == p.date && et.Hour() == 15 && et.Minute() >= 59 {
			out[i].Open *= 7
			out[i].High *= 7
			out[i].Low *= 7
			out[i].Close *= 7
		}
	}
	return out, nil
}

func macdTrimDoc() map[string]any {
	return map[string]any{
		"name":     "macd bear trim",
		"universe": map[string]any{"signal_symbol": "QQQ", "trade_symbol": "TQQQ"},
		"dsl": map[string]any{
			"atomic": map[string]any{
				"symbols":   map[string]any{"signal": "QQQ", "trade": "TQQQ"},
				"constants": map[string]any{"initial_position_qty": 100, "initial_cash": 0},
			},
			"time": map[string]any{},
			"signal": map[string]any{
				"indicators": []any{
					map[string]any{"id": "macd_4h", "type": "MACD", "tf": "4h", "symbol_ref": "signal",
						"params": map[string]any{"fast": 12, "slow": 26, "signal": 9}},
					map[string]any{"id": "ma5_1d", "type": "SMA", "tf": "1d", "symbol_ref": "signal",
						"params": map[string]any{"window": "5d"}},
					map[string]any{"id": "close_1m", "type": "CLOSE", "tf": "1m", "symbol_ref": "signal", "params": map[string]any{}},
				},
				"events": []any{
					map[string]any{"id": "bear_cross", "type": "CROSS_DOWN", "tf": "4h",
						"a": "macd_4h.macd", "b": "macd_4h.signal"},
				},
			},
			"logic": map[string]any{
				"rules": []any{
					map[string]any{"id": "r0", "when": map[string]any{"all": []any{
						map[string]any{"event_within": map[string]any{"event_id": "bear_cross", "lookback": "5d"}},
						map[string]any{"lt": map[string]any{"a": "close_1m.value", "b": "ma5_1d.value"}},
					}}, "then": []any{"trim"}},
				},
			},
			"action": map[string]any{
				"actions": []any{
					map[string]any{"id": "trim", "side": "SELL",
						"qty":      map[string]any{"mode": "FRACTION_OF_POSITION", "value": 0.3},
						"cooldown": "1d"},
				},
			},
		},
	}
}

func TestNoLookahead(t *testing.T) {
	s := buildSpec(t, macdTrimDoc())
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)
	loc, _ := time.LoadLocation("America/New_York")

	base := runBacktest(t, s, marketdata.NewSynthetic(), start, end)
	perturbed := runBacktest(t, s, &perturbingProvider{
		inner: marketdata.NewSynthetic(),
		date:  "2024-03-28", // final session in range
		loc:   loc,
	}, start, end)

	// Perturbing bars strictly after the last decision may change that
	// session's fill price (the close is after the decision by definition)
	// but must not change which sessions trade, the quantities, or any
	// decision-time indicator value.
	if len(base.Trades) != len(perturbed.Trades) {
		t.Fatalf("trade counts differ: %d vs %d", len(base.Trades), len(perturbed.Trades))
	}
	for i := range base.Trades {
		bt, pt := base.Trades[i], perturbed.Trades[i]
		if !bt.DecisionTime.Equal(pt.DecisionTime) {
			t.Errorf("trade %d decision times differ: %v vs %v", i, bt.DecisionTime, pt.DecisionTime)
		}
		if bt.Qty != pt.Qty {
			t.Errorf("trade %d quantities differ: %v vs %v", i, bt.Qty, pt.Qty)
		}
		if bt.FillTime.In(loc).Format("2006-01-02") != "2024-03-28" && bt.FillPrice != pt.FillPrice {
			t.Errorf("trade %d fill prices differ before the perturbed session: %v vs %v", i, bt.FillPrice, pt.FillPrice)
		}
		for key, v := range bt.Why.Indicators {
			if pv, ok := pt.Why.Indicators[key]; !ok || pv != v {
				t.Errorf("trade %d indicator %s differs: %v vs %v", i, key, v, pv)
			}
		}
	}
}

func TestBuyClampNeverOverspends(t *testing.T) {
	doc := alwaysSellDoc(0.25, "1d")
	dsl := doc["dsl"].(map[string]any)
	dsl["atomic"].(map[string]any)["constants"] = map[string]any{"initial_position_qty": 0, "initial_cash": 5000}
	dsl["action"].(map[string]any)["actions"] = []any{
		map[string]any{"id": "add", "side": "BUY",
			"qty":      map[string]any{"mode": "FRACTION_OF_CASH", "value": 0.5},
			"cooldown": "1d"},
	}
	dsl["logic"].(map[string]any)["rules"] = []any{
		map[string]any{"id": "r0", "when": map[string]any{"event_id": "always_on"}, "then": []any{"add"}},
	}
	doc["execution"] = map[string]any{"slippage_bps": 5, "commission_per_trade": 1.0}
	s := buildSpec(t, doc)

	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 28, 0, 0, 0, 0, time.UTC)
	result := runBacktest(t, s, marketdata.NewSynthetic(), start, end)

	if len(result.Trades) == 0 {
		t.Fatal("no BUY trades executed")
	}
	cash := 5000.0
	for i, trade := range result.Trades {
		if trade.Side != "BUY" {
			t.Fatalf("trade %d side = %q, want BUY", i, trade.Side)
		}
		cost := trade.Qty*trade.FillPrice + trade.Cost.CommissionPerTrade
		if cost > cash+1e-9 {
			t.Errorf("trade %d cost %.4f exceeds available cash %.4f", i, cost, cash)
		}
		cash -= cost
	}
	if cash < 0 {
		t.Errorf("cash went negative: %v", cash)
	}
}

// gappyProvider drops all trade-symbol bars on the given ET dates.
type gappyProvider struct {
	inner     marketdata.Provider
	symbol    string
	skipDates map[string]bool
	loc       *time.Location
}

func (p *gappyProvider) MinuteBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error) {
	bars, err := p.inner.MinuteBars(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if symbol != p.symbol {
		return bars, nil
	}
	var out []domain.MinuteBar
	for _, b := range bars {
		if p.skipDates[b.TS.In(p.loc).Format("2006-01-02")] {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func TestSkippedSessionLedger(t *testing.T) {
	s := buildSpec(t, alwaysSellDoc(0.25, "1d"))
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	loc, _ := time.LoadLocation("America/New_York")
	provider := &gappyProvider{
		inner:     marketdata.NewSynthetic(),
		symbol:    "TQQQ",
		skipDates: map[string]bool{"2024-03-05": true, "2024-03-07": true},
		loc:       loc,
	}
	result := runBacktest(t, s, provider, start, end)

	if result.Health.TotalSessions != 5 {
		t.Errorf("total sessions = %d, want 5", result.Health.TotalSessions)
	}
	if result.Health.UsedSessions != 3 {
		t.Errorf("used sessions = %d, want 3", result.Health.UsedSessions)
	}
	if result.Health.SkippedSessions != 2 {
		t.Fatalf("skipped sessions = %d, want 2", result.Health.SkippedSessions)
	}
	for _, gap := range result.Health.Gaps {
		if gap.Reason != domain.SkipMissingTradeBars {
			t.Errorf("gap reason = %q, want %q", gap.Reason, domain.SkipMissingTradeBars)
		}
		if gap.Symbol != "TQQQ" {
			t.Errorf("gap symbol = %q, want TQQQ", gap.Symbol)
		}
	}
	if want := 2.0 / 5.0; result.Health.MissingRatio != want {
		t.Errorf("missing ratio = %v, want %v", result.Health.MissingRatio, want)
	}
}

// failingProvider always reports no data.
type failingProvider struct{}

func (failingProvider) MinuteBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.MinuteBar, error) {
	return nil, domain.E(domain.ErrDataUnavailable, "no data", map[string]any{"symbol": symbol})
}

func TestRunDataUnavailable(t *testing.T) {
	s := buildSpec(t, alwaysSellDoc(0.25, "1d"))
	cal, err := calendar.NewXNYS()
	if err != nil {
		t.Fatal(err)
	}
	eng := New(cal, failingProvider{}, discardLogger())
	_, err = eng.Run(context.Background(), s,
		time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC))
	if !domain.IsCode(err, domain.ErrDataUnavailable) {
		t.Fatalf("error = %v, want DATA_UNAVAILABLE", err)
	}
}

func TestProgressHookPanicsAreSwallowed(t *testing.T) {
	s := buildSpec(t, alwaysSellDoc(0.25, "1d"))
	cal, err := calendar.NewXNYS()
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	eng := New(cal, marketdata.NewSynthetic(), discardLogger(), WithProgress(func(done, total int, lastClose time.Time) {
		calls++
		panic("hook bug")
	}))
	result, err := eng.Run(context.Background(), s,
		time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if calls == 0 {
		t.Error("progress hook never invoked")
	}
	if result.Health.UsedSessions != 5 {
		t.Errorf("used sessions = %d, want 5 despite panicking hook", result.Health.UsedSessions)
	}
}

func TestRunRejectsForeignRegime(t *testing.T) {
	s := buildSpec(t, alwaysSellDoc(0.25, "1d"))
	s.Timezone = "Asia/Tokyo"
	cal, err := calendar.NewXNYS()
	if err != nil {
		t.Fatal(err)
	}
	eng := New(cal, marketdata.NewSynthetic(), discardLogger())
	_, err = eng.Run(context.Background(), s,
		time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC))
	if !domain.IsCode(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want VALIDATION_ERROR", err)
	}
}
