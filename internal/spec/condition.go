package spec

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ConditionKind enumerates the closed set of condition node variants so the
// evaluator can match exhaustively.
type ConditionKind int

const (
	CondInvalid ConditionKind = iota
	CondAll
	CondAny
	CondEventWithin
	CondEvent
	CondCompare
)

// Condition is one node of a rule's boolean tree. Exactly one variant field
// is set; Kind reports which.
type Condition struct {
	All         []Condition  `json:"all,omitempty"`
	Any         []Condition  `json:"any,omitempty"`
	EventWithin *EventWithin `json:"event_within,omitempty"`
	Event       *EventScope  `json:"event,omitempty"`
	Compare     *Compare     `json:"-"`
}

// EventWithin is true when the event fired within the trailing lookback
// window of sessions ending at the current session.
type EventWithin struct {
	EventID  string `json:"event_id"`
	Lookback string `json:"lookback"`
}

// EventScope is a bare event reference, optionally scoped to a lookback.
type EventScope struct {
	EventID string `json:"event_id"`
	Scope   string `json:"scope,omitempty"`
}

// Compare is a binary comparison between two resolved operands.
type Compare struct {
	Op string  `json:"op"`
	A  Operand `json:"a"`
	B  Operand `json:"b"`
}

// Operand is either a numeric literal or a value reference like
// "ma5_1d.value@decision".
type Operand struct {
	Ref   string
	Value *float64
}

func (o Operand) MarshalJSON() ([]byte, error) {
	if o.Value != nil {
		return json.Marshal(*o.Value)
	}
	return json.Marshal(o.Ref)
}

func (o *Operand) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		o.Value = &f
		o.Ref = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("operand must be a number or a value reference")
	}
	o.Ref = s
	o.Value = nil
	return nil
}

// Kind reports which variant this node is. A node with no variant set (or an
// unrecognized draft shape) is CondInvalid and must be rejected by
// validation, never silently evaluated as false.
func (c *Condition) Kind() ConditionKind {
	switch {
	case len(c.All) > 0:
		return CondAll
	case len(c.Any) > 0:
		return CondAny
	case c.EventWithin != nil:
		return CondEventWithin
	case c.Event != nil:
		return CondEvent
	case c.Compare != nil:
		return CondCompare
	default:
		return CondInvalid
	}
}

// comparison key shorthands accepted in draft JSON, checked in fixed order.
var comparisonOps = []struct{ key, op string }{
	{"lt", "<"}, {"lte", "<="}, {"gt", ">"}, {"gte", ">="}, {"eq", "=="}, {"ne", "!="},
}

// UnmarshalJSON accepts the draft condition shapes:
//
//	{"all": [...]}                        {"any": [...]}
//	{"event_within": {"event_id", "lookback"}}
//	{"event": {"event_id", "scope"}}      {"event_id": "x"}
//	{"lt": {"a", "b"}} / {"gt": ...} / ...
//	{"op": {"op": ">=", "a", "b"}}
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Condition{}

	if v, ok := raw["all"]; ok {
		return json.Unmarshal(v, &c.All)
	}
	if v, ok := raw["any"]; ok {
		return json.Unmarshal(v, &c.Any)
	}
	if v, ok := raw["event_within"]; ok {
		c.EventWithin = &EventWithin{}
		return json.Unmarshal(v, c.EventWithin)
	}
	if v, ok := raw["event"]; ok {
		c.Event = &EventScope{}
		if err := json.Unmarshal(v, c.Event); err == nil {
			return nil
		}
		// {"event": "event_id"} shorthand
		var id string
		if err := json.Unmarshal(v, &id); err != nil {
			return fmt.Errorf("event condition: %w", err)
		}
		c.Event = &EventScope{EventID: id}
		return nil
	}
	if v, ok := raw["event_id"]; ok {
		c.Event = &EventScope{}
		if err := json.Unmarshal(v, &c.Event.EventID); err != nil {
			return err
		}
		if s, ok := raw["scope"]; ok {
			if err := json.Unmarshal(s, &c.Event.Scope); err != nil {
				return err
			}
		}
		return nil
	}
	for _, alias := range comparisonOps {
		if v, ok := raw[alias.key]; ok {
			c.Compare = &Compare{Op: alias.op}
			return json.Unmarshal(v, c.Compare)
		}
	}
	if v, ok := raw["op"]; ok {
		c.Compare = &Compare{}
		if err := json.Unmarshal(v, c.Compare); err != nil {
			return err
		}
		c.Compare.Op = strings.TrimSpace(c.Compare.Op)
		return nil
	}
	// Leave the node CondInvalid; validation rejects it with context.
	return nil
}

// MarshalJSON writes the canonical condition shape.
func (c Condition) MarshalJSON() ([]byte, error) {
	switch (&c).Kind() {
	case CondAll:
		return json.Marshal(map[string]any{"all": c.All})
	case CondAny:
		return json.Marshal(map[string]any{"any": c.Any})
	case CondEventWithin:
		return json.Marshal(map[string]any{"event_within": c.EventWithin})
	case CondEvent:
		return json.Marshal(map[string]any{"event": c.Event})
	case CondCompare:
		switch c.Compare.Op {
		case "<":
			return json.Marshal(map[string]any{"lt": map[string]any{"a": c.Compare.A, "b": c.Compare.B}})
		case ">":
			return json.Marshal(map[string]any{"gt": map[string]any{"a": c.Compare.A, "b": c.Compare.B}})
		default:
			return json.Marshal(map[string]any{"op": c.Compare})
		}
	default:
		return []byte("{}"), nil
	}
}
