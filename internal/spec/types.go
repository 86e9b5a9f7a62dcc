// Package spec defines the five-layer strategy DSL document, its normalizer
// and validator, symbolic reference resolution, and content-addressed
// versioning.
//
// External drafts are loosely shaped JSON (LLM output or caller-supplied
// documents). Everything is funnelled into ONE canonical internal
// representation at the JSON boundary: string value refs ("macd_4h.macd"),
// null-padded object shapes from strict LLM schemas, qty "mode" vs "type",
// and rule targets as strings vs {"action_id": ...} objects all decode into
// the same typed structs.
package spec

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Hard-rule constants. These are overwritten onto every spec, never merely
// checked.
const (
	FixedTimezone       = "America/New_York"
	FixedCalendar       = "XNYS"
	FixedDecisionOffset = "-2m"
	FixedExecutionModel = "MOC"

	DefaultSignalSymbol = "QQQ"
	DefaultTradeSymbol  = "TQQQ"
)

// Timeframe identifies a bar granularity.
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF4h Timeframe = "4h"
	TF1d Timeframe = "1d"
)

// IndicatorKind is the closed set of indicator types.
type IndicatorKind string

const (
	IndMACD  IndicatorKind = "MACD"
	IndSMA   IndicatorKind = "SMA"
	IndClose IndicatorKind = "CLOSE"
)

// EventKind is the closed set of event types.
type EventKind string

const (
	EventCrossUp   EventKind = "CROSS_UP"
	EventCrossDown EventKind = "CROSS_DOWN"
	EventCrossAny  EventKind = "CROSS"
	EventThreshold EventKind = "THRESHOLD"
)

// QtyMode is the closed set of order sizing modes.
type QtyMode string

const (
	QtyFractionOfPosition QtyMode = "FRACTION_OF_POSITION"
	QtyFractionOfCash     QtyMode = "FRACTION_OF_CASH"
	QtyFractionOfEquity   QtyMode = "FRACTION_OF_EQUITY"
	QtyNotionalUSD        QtyMode = "NOTIONAL_USD"
	QtyShares             QtyMode = "SHARES"
)

// Alignment controls how a slower timeframe is sampled at a decision point.
type Alignment string

const (
	AlignLastClosed   Alignment = "LAST_CLOSED"
	AlignCarryForward Alignment = "CARRY_FORWARD"
)

// Spec is the root strategy document. Immutable once produced; any change
// requires recomputing StrategyVersion.
type Spec struct {
	StrategyID      string    `json:"strategy_id"`
	StrategyVersion string    `json:"strategy_version"`
	Name            string    `json:"name"`
	Timezone        string    `json:"timezone"`
	Calendar        Calendar  `json:"calendar"`
	Universe        Universe  `json:"universe"`
	Decision        Decision  `json:"decision"`
	Execution       Execution `json:"execution"`
	Risk            Risk      `json:"risk"`
	DSL             DSL       `json:"dsl"`
	Meta            Meta      `json:"meta"`
}

type Calendar struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type Universe struct {
	SignalSymbol          string   `json:"signal_symbol"`
	SignalSymbolFallbacks []string `json:"signal_symbol_fallbacks,omitempty"`
	TradeSymbol           string   `json:"trade_symbol"`
}

type Decision struct {
	DecisionTimeRule DecisionTimeRule `json:"decision_time_rule"`
}

type DecisionTimeRule struct {
	Type   string `json:"type"`
	Offset string `json:"offset"`
}

type Execution struct {
	Model              string  `json:"model"`
	SlippageBps        float64 `json:"slippage_bps"`
	CommissionPerTrade float64 `json:"commission_per_trade"`
}

type Risk struct {
	Cooldown        Cooldown `json:"cooldown"`
	MaxOrdersPerDay int      `json:"max_orders_per_day"`
}

type Cooldown struct {
	Scope string `json:"scope"`
	Value string `json:"value"`
}

type Meta struct {
	CreatedAt           string `json:"created_at"`
	Author              string `json:"author,omitempty"`
	Notes               string `json:"notes,omitempty"`
	Mode                string `json:"mode"`
	LLMUsed             bool   `json:"llm_used"`
	FallbackSeedApplied bool   `json:"fallback_seed_applied,omitempty"`
}

// DSL holds the five strategy layers.
type DSL struct {
	Atomic AtomicLayer `json:"atomic"`
	Time   TimeLayer   `json:"time"`
	Signal SignalLayer `json:"signal"`
	Logic  LogicLayer  `json:"logic"`
	Action ActionLayer `json:"action"`
}

type AtomicLayer struct {
	Symbols   map[string]string `json:"symbols"`
	Constants Constants         `json:"constants"`
}

// Constants carries the ledger seeds plus any generic numeric constants a
// draft declares (sell fractions and the like end up in Values).
type Constants struct {
	InitialPositionQty *float64           `json:"initial_position_qty,omitempty"`
	InitialCash        *float64           `json:"initial_cash,omitempty"`
	Lookback           string             `json:"lookback,omitempty"`
	Values             map[string]float64 `json:"values,omitempty"`
}

// UnmarshalJSON accepts a flat constants object and sorts unrecognized
// numeric keys into Values.
func (c *Constants) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, val := range raw {
		switch key {
		case "initial_position_qty":
			if err := json.Unmarshal(val, &c.InitialPositionQty); err != nil {
				return fmt.Errorf("constants.%s: %w", key, err)
			}
		case "initial_cash":
			if err := json.Unmarshal(val, &c.InitialCash); err != nil {
				return fmt.Errorf("constants.%s: %w", key, err)
			}
		case "lookback":
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				// Bare integer lookbacks are preserved so validation can
				// reject them with a proper violation.
				var n json.Number
				if err2 := json.Unmarshal(val, &n); err2 != nil {
					return fmt.Errorf("constants.lookback: %w", err)
				}
				s = n.String()
			}
			c.Lookback = s
		case "values":
			if err := json.Unmarshal(val, &c.Values); err != nil {
				return fmt.Errorf("constants.values: %w", err)
			}
		default:
			var f float64
			if err := json.Unmarshal(val, &f); err != nil {
				continue // non-numeric extras are dropped
			}
			if c.Values == nil {
				c.Values = map[string]float64{}
			}
			c.Values[key] = f
		}
	}
	return nil
}

type TimeLayer struct {
	PrimaryTF   Timeframe         `json:"primary_tf"`
	DerivedTFs  []Timeframe       `json:"derived_tfs"`
	Aggregation map[string]string `json:"aggregation"`
}

type SignalLayer struct {
	Indicators []Indicator `json:"indicators"`
	Events     []Event     `json:"events"`
}

type LogicLayer struct {
	Rules []Rule `json:"rules"`
}

type ActionLayer struct {
	Actions []Action `json:"actions"`
}

// Indicator declares a named value series computed per run.
type Indicator struct {
	ID        string          `json:"id"`
	Type      IndicatorKind   `json:"type"`
	TF        Timeframe       `json:"tf"`
	SymbolRef string          `json:"symbol_ref"`
	Params    IndicatorParams `json:"params"`
	Align     Alignment       `json:"align,omitempty"`
}

type IndicatorParams struct {
	Fast         int    `json:"fast,omitempty"`
	Slow         int    `json:"slow,omitempty"`
	Signal       int    `json:"signal,omitempty"`
	Window       string `json:"window,omitempty"`
	BarSelection string `json:"bar_selection,omitempty"`
}

// UnmarshalJSON tolerates numeric windows ("window": 5); the bare number is
// kept as-is so the validator can flag the missing unit.
func (p *IndicatorParams) UnmarshalJSON(data []byte) error {
	type alias IndicatorParams
	var a struct {
		alias
		Window json.RawMessage `json:"window,omitempty"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = IndicatorParams(a.alias)
	if len(a.Window) > 0 && string(a.Window) != "null" {
		var s string
		if err := json.Unmarshal(a.Window, &s); err != nil {
			var n json.Number
			if err2 := json.Unmarshal(a.Window, &n); err2 != nil {
				return fmt.Errorf("params.window: %w", err)
			}
			s = n.String()
		}
		p.Window = s
	}
	return nil
}

// Event declares a boolean signal derived from indicator series. Cross events
// use A/B; threshold events use Left, Op, and Value or Right.
type Event struct {
	ID    string    `json:"id"`
	Type  EventKind `json:"type"`
	TF    Timeframe `json:"tf,omitempty"`
	A     string    `json:"a,omitempty"`
	B     string    `json:"b,omitempty"`
	Left  string    `json:"left,omitempty"`
	Op    string    `json:"op,omitempty"`
	Value *float64  `json:"value,omitempty"`
	Right string    `json:"right,omitempty"`
}

// UnmarshalJSON accepts both historical event shapes: plain string operands
// and the null-padded object shape used by strict LLM schemas, where cross
// operands arrive as left/right plus a direction field.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string    `json:"id"`
		Type      string    `json:"type"`
		TF        Timeframe `json:"tf"`
		A         *string   `json:"a"`
		B         *string   `json:"b"`
		Left      *string   `json:"left"`
		Right     *string   `json:"right"`
		Direction *string   `json:"direction"`
		Op        *string   `json:"op"`
		Value     *float64  `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.ID = raw.ID
	e.Type = EventKind(strings.ToUpper(strings.TrimSpace(raw.Type)))
	e.TF = raw.TF
	if raw.A != nil {
		e.A = *raw.A
	}
	if raw.B != nil {
		e.B = *raw.B
	}
	if raw.Left != nil {
		e.Left = *raw.Left
	}
	if raw.Right != nil {
		e.Right = *raw.Right
	}
	if raw.Op != nil {
		e.Op = *raw.Op
	}
	e.Value = raw.Value

	switch e.Type {
	case EventCrossUp, EventCrossDown, EventCrossAny:
		// Strict-schema drafts put cross operands in left/right.
		if e.A == "" && e.Left != "" {
			e.A, e.Left = e.Left, ""
		}
		if e.B == "" && e.Right != "" {
			e.B, e.Right = e.Right, ""
		}
		if e.Type == EventCrossAny && raw.Direction != nil {
			switch strings.ToUpper(*raw.Direction) {
			case "UP":
				e.Type = EventCrossUp
			case "DOWN":
				e.Type = EventCrossDown
			}
		}
		e.Op, e.Value = "", nil
	case EventThreshold:
		if e.Left == "" && e.A != "" {
			e.Left, e.A = e.A, ""
		}
		if e.Right == "" && e.B != "" {
			e.Right, e.B = e.B, ""
		}
	}
	return nil
}

// Rule pairs a boolean condition tree with an ordered list of action ids.
type Rule struct {
	ID   string     `json:"id"`
	When Condition  `json:"when"`
	Then ActionRefs `json:"then"`
}

// ActionRefs decodes from ["sell_x"] as well as [{"action_id": "sell_x"}].
type ActionRefs []string

func (r *ActionRefs) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ActionRefs, 0, len(raw))
	for i, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj struct {
			ActionID string `json:"action_id"`
		}
		if err := json.Unmarshal(item, &obj); err != nil || obj.ActionID == "" {
			return fmt.Errorf("then[%d]: expected action id string or {action_id}", i)
		}
		out = append(out, obj.ActionID)
	}
	*r = out
	return nil
}

// Action describes an order template dispatched when a rule fires.
type Action struct {
	ID               string `json:"id"`
	Type             string `json:"type"`
	SymbolRef        string `json:"symbol_ref"`
	Side             string `json:"side"`
	Qty              Qty    `json:"qty"`
	OrderType        string `json:"order_type"`
	TimeInForce      string `json:"time_in_force,omitempty"`
	Cooldown         string `json:"cooldown"`
	IdempotencyScope string `json:"idempotency_scope,omitempty"`
}

// Qty is an order size: a mode plus a value interpreted per mode.
type Qty struct {
	Mode  QtyMode `json:"mode"`
	Value float64 `json:"value"`
}

// UnmarshalJSON accepts the sizing mode under either "mode" or the older
// "type" key and normalizes FIXED/ABSOLUTE aliases to SHARES.
func (q *Qty) UnmarshalJSON(data []byte) error {
	var raw struct {
		Mode  string  `json:"mode"`
		Type  string  `json:"type"`
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	mode := raw.Mode
	if mode == "" {
		mode = raw.Type
	}
	mode = strings.ToUpper(strings.TrimSpace(mode))
	switch mode {
	case "FIXED", "ABSOLUTE", "SHARES":
		q.Mode = QtyShares
	default:
		q.Mode = QtyMode(mode)
	}
	q.Value = raw.Value
	return nil
}
