package compiler

// seedDraft is the deterministic known-good strategy applied when no draft
// source is configured: trim a TQQQ position by 30% at the close whenever a
// 4h MACD bearish cross happened within the last five sessions and the QQQ
// price sits below its 5-day moving average.
func seedDraft(nl string) map[string]any {
	name := nl
	if len(name) > 80 {
		name = name[:80] + "..."
	}
	if name == "" {
		name = "Seed strategy"
	}
	return map[string]any{
		"name": name,
		"universe": map[string]any{
			"signal_symbol": "QQQ",
			"signal_symbol_fallbacks": []any{"NDX", "QQQ"},
			"trade_symbol": "TQQQ",
		},
		"execution": map[string]any{
			"slippage_bps": 2,
			"commission_per_trade": 0.0,
		},
		"risk": map[string]any{
			"cooldown": map[string]any{"scope": "SYMBOL_ACTION", "value": "1d"},
			"max_orders_per_day": 1,
		},
		"dsl": map[string]any{
			"atomic": map[string]any{
				"symbols": map[string]any{"signal": "QQQ", "trade": "TQQQ"},
				"constants": map[string]any{
					"sell_fraction": 0.3,
					"lookback": "5d",
				},
			},
			"time": map[string]any{
				"primary_tf": "1m",
				"derived_tfs": []any{"4h", "1d"},
				"aggregation": map[string]any{"4h": "SESSION_ALIGNED_4H", "1d": "SESSION_ALIGNED_1D"},
			},
			"signal": map[string]any{
				"indicators": []any{
					map[string]any{
						"id": "macd_4h", "symbol_ref": "signal", "tf": "4h", "type": "MACD",
						"params": map[string]any{"fast": 12, "slow": 26, "signal": 9},
						"align": "LAST_CLOSED",
					},
					map[string]any{
						"id": "ma5_1d", "symbol_ref": "signal", "tf": "1d", "type": "SMA",
						"params": map[string]any{"window": "5d", "bar_selection": "LAST_CLOSED_1D"},
						"align": "CARRY_FORWARD",
					},
					map[string]any{
						"id": "close_1m", "symbol_ref": "signal", "tf": "1m", "type": "CLOSE",
						"params": map[string]any{},
						"align": "LAST_CLOSED",
					},
				},
				"events": []any{
					map[string]any{
						"id": "macd_bear_cross", "type": "CROSS_DOWN",
						"a": "macd_4h.macd", "b": "macd_4h.signal", "tf": "4h",
					},
				},
			},
			"logic": map[string]any{
				"rules": []any{
					map[string]any{
						"id": "r0",
						"when": map[string]any{
							"all": []any{
								map[string]any{"event_within": map[string]any{"event_id": "macd_bear_cross", "lookback": "5d"}},
								map[string]any{"lt": map[string]any{"a": "close_1m.value@decision", "b": "ma5_1d.value@decision"}},
							},
						},
						"then": []any{"sell_trade_symbol_partial"},
					},
				},
			},
			"action": map[string]any{
				"actions": []any{
					map[string]any{
						"id": "sell_trade_symbol_partial", "type": "ORDER",
						"symbol_ref": "trade", "side": "SELL",
						"qty": map[string]any{"mode": "FRACTION_OF_POSITION", "value": 0.3},
						"order_type": "MOC",
						"time_in_force": "DAY",
						"cooldown": "1d",
						"idempotency_scope": "DECISION_DAY",
					},
				},
			},
		},
	}
}
