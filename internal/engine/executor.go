package engine

import (
	"math"
	"time"

	"nlquant/internal/domain"
	"nlquant/internal/spec"
)

// ledger is the mutable simulation state carried session to session.
type ledger struct {
	positionQty float64
	cash        float64
	avgCost     float64
}

// executor runs the sequential per-session simulation: mark equity, evaluate
// rules, dispatch matched actions through the cooldown gate, and mutate the
// ledger.
type executor struct {
	spc       *spec.Spec
	view      *marketView
	set       *indicatorSet
	eval      *evaluator
	led       ledger
	lastFired map[string]int // action id -> session index of last fill
	cooldowns map[string]int // action id -> cooldown in sessions
	equity    []domain.EquityPoint
	trades    []domain.Trade
}

func newExecutor(s *spec.Spec, view *marketView, set *indicatorSet, eval *evaluator) *executor {
	led := ledger{positionQty: 100.0}
	if q := s.DSL.Atomic.Constants.InitialPositionQty; q != nil {
		led.positionQty = *q
	}
	if c := s.DSL.Atomic.Constants.InitialCash; c != nil {
		led.cash = *c
	}
	led.avgCost = view.frames[0].closeTrade

	cooldowns := make(map[string]int, len(s.DSL.Action.Actions))
	for _, act := range s.DSL.Action.Actions {
		if n, err := spec.DurationSessions(act.Cooldown); err == nil {
			cooldowns[act.ID] = n
		} else {
			cooldowns[act.ID] = 1
		}
	}
	return &executor{
		spc:       s,
		view:      view,
		set:       set,
		eval:      eval,
		led:       led,
		lastFired: map[string]int{},
		cooldowns: cooldowns,
	}
}

// initialEquity is the mark-to-market value before the first session trades.
func (x *executor) initialEquity() float64 {
	return x.led.cash + x.led.positionQty*x.view.frames[0].closeTrade
}

// run simulates every usable session in chronological order. report is
// called after each session; it is advisory and must not affect state.
func (x *executor) run(report func(done, total int, lastClose time.Time)) {
	actions := make(map[string]spec.Action, len(x.spc.DSL.Action.Actions))
	for _, act := range x.spc.DSL.Action.Actions {
		actions[act.ID] = act
	}
	maxOrders := x.spc.Risk.MaxOrdersPerDay

	for i, f := range x.view.frames {
		// Equity is marked at the close before this session's fills so the
		// curve reflects the state the decision was made in.
		x.equity = append(x.equity, domain.EquityPoint{
			T: f.session.Close,
			V: x.led.cash + x.led.positionQty*f.closeTrade,
		})

		orders := 0
		for ri := range x.spc.DSL.Logic.Rules {
			rule := &x.spc.DSL.Logic.Rules[ri]
			if !x.eval.eval(&rule.When, i) {
				continue
			}
			for _, actionID := range rule.Then {
				if maxOrders > 0 && orders >= maxOrders {
					break
				}
				act, ok := actions[actionID]
				if !ok {
					continue
				}
				if last, fired := x.lastFired[actionID]; fired && i-last < x.cooldowns[actionID] {
					continue
				}
				if trade, ok := x.fill(i, rule.ID, act); ok {
					x.trades = append(x.trades, trade)
					x.lastFired[actionID] = i
					orders++
				}
			}
		}
		if report != nil {
			report(i+1, len(x.view.frames), f.session.Close)
		}
	}
}

// fill sizes and executes one action at session i's close. Orders below one
// whole unit are skipped without emitting a trade or arming the cooldown.
func (x *executor) fill(i int, ruleID string, act spec.Action) (domain.Trade, bool) {
	f := x.view.frames[i]
	rawPx := f.closeTrade
	slippage := x.spc.Execution.SlippageBps
	commission := x.spc.Execution.CommissionPerTrade

	var fillPx float64
	if act.Side == "SELL" {
		fillPx = rawPx * (1.0 - slippage/10000.0)
	} else {
		fillPx = rawPx * (1.0 + slippage/10000.0)
	}
	if fillPx <= 0 {
		return domain.Trade{}, false
	}

	equityNow := x.led.cash + x.led.positionQty*rawPx
	qty := 0.0
	switch act.Qty.Mode {
	case spec.QtyFractionOfPosition:
		qty = math.Floor(x.led.positionQty * act.Qty.Value)
		if qty > x.led.positionQty {
			qty = math.Floor(x.led.positionQty)
		}
	case spec.QtyFractionOfCash:
		qty = math.Floor(x.led.cash * act.Qty.Value / fillPx)
	case spec.QtyFractionOfEquity:
		qty = math.Floor(equityNow * act.Qty.Value / fillPx)
	case spec.QtyNotionalUSD:
		qty = math.Floor(act.Qty.Value / fillPx)
	case spec.QtyShares:
		qty = math.Floor(act.Qty.Value)
		if act.Side == "SELL" && qty > x.led.positionQty {
			qty = math.Floor(x.led.positionQty)
		}
	}

	if act.Side == "BUY" {
		// Never spend more than available cash, including commission.
		for qty >= 1 && qty*fillPx+commission > x.led.cash {
			qty--
		}
	}
	if qty < 1 {
		return domain.Trade{}, false
	}

	trade := domain.Trade{
		DecisionTime: f.session.Decision(),
		FillTime:     f.session.Close,
		Symbol:       x.spc.Universe.TradeSymbol,
		Side:         act.Side,
		Qty:          qty,
		FillPrice:    fillPx,
		Cost: domain.TradeCost{
			SlippageBps:        slippage,
			CommissionPerTrade: commission,
		},
		Why: domain.TradeWhy{
			RuleID:     ruleID,
			ActionID:   act.ID,
			Indicators: snapshotValues(x.set.atDecision[i]),
		},
	}

	if act.Side == "SELL" {
		proceeds := qty*fillPx - commission
		realized := (fillPx - x.led.avgCost) * qty
		pnlPct := 0.0
		if x.led.avgCost > 0 {
			pnlPct = (fillPx/x.led.avgCost - 1.0) * 100.0
		}
		x.led.cash += proceeds
		x.led.positionQty -= qty
		trade.PnL = &realized
		trade.PnLPct = &pnlPct
	} else {
		cost := qty*fillPx + commission
		newQty := x.led.positionQty + qty
		x.led.avgCost = (x.led.avgCost*x.led.positionQty + fillPx*qty) / newQty
		x.led.cash -= cost
		x.led.positionQty = newQty
	}
	return trade, true
}

// snapshotValues copies the decision-time indicator map so later sessions
// cannot mutate an emitted trade's audit trail.
func snapshotValues(vals map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(vals))
	for k, v := range vals {
		out[k] = v
	}
	return out
}
