package types

import "github.com/shopspring/decimal"

// DecisionActionType tags the variant of a DecisionAction.
type DecisionActionType string

const (
	ActionNoop                  DecisionActionType = "NOOP"
	ActionEntryProbe            DecisionActionType = "ENTRY_PROBE"
	ActionAddPosition           DecisionActionType = "ADD_POSITION"
	ActionExitMarket            DecisionActionType = "EXIT_MARKET"
	ActionCancelOpenEntryOrders DecisionActionType = "CANCEL_OPEN_ENTRY_ORDERS"
)

// DecisionAction is the tagged-variant output of DecisionEngine.Evaluate.
// Order-producing variants (ENTRY_PROBE, ADD_POSITION, EXIT_MARKET) carry
// Side/Quantity/ReduceOnly/ExpectedPrice; NOOP and
// CANCEL_OPEN_ENTRY_ORDERS leave them zero-valued.
type DecisionAction struct {
	Type          DecisionActionType `json:"type"`
	Symbol        string             `json:"symbol"`
	EventTimeMs   int64              `json:"event_time_ms"`
	Reason        string             `json:"reason"`
	Side          Side               `json:"side,omitempty"`
	Quantity      decimal.Decimal    `json:"quantity,omitempty"`
	ReduceOnly    bool               `json:"reduceOnly,omitempty"`
	ExpectedPrice decimal.Decimal    `json:"expectedPrice,omitempty"`
	Tag           string             `json:"tag,omitempty"`
}

// Noop builds a NOOP action with the given reason.
func Noop(symbol string, eventTimeMs int64, reason string) DecisionAction {
	return DecisionAction{Type: ActionNoop, Symbol: symbol, EventTimeMs: eventTimeMs, Reason: reason}
}

// DecisionRecord is the immutable record of one DecisionEngine evaluation:
// its inputs, the action list it produced, and a state snapshot taken at
// decision time. Appended to the in-memory ledger and to the decision JSONL.
type DecisionRecord struct {
	Symbol          string          `json:"symbol"`
	EventTimeMs     int64           `json:"event_time_ms"`
	CanonicalTimeMs int64           `json:"canonical_time_ms"`
	Gate            GateResult      `json:"gate"`
	Metrics         MetricsEnvelope `json:"metrics"`
	Actions         []DecisionAction `json:"actions"`
	StateSnapshot   *SymbolState    `json:"state_snapshot"`
}
