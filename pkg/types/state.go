package types

import "github.com/shopspring/decimal"

// OrderStatus is the terminal/non-terminal lifecycle of a tracked order.
type OrderStatus string

const (
	OrderNew       OrderStatus = "NEW"
	OrderFilled    OrderStatus = "FILLED"
	OrderCanceled  OrderStatus = "CANCELED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderExpired   OrderStatus = "EXPIRED"
	OrderPartial   OrderStatus = "PARTIALLY_FILLED"
)

// IsTerminal reports whether an order in this status should be removed from
// open_orders.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	default:
		return false
	}
}

// OpenOrder is a tracked resting order, keyed by orderId in SymbolState.
type OpenOrder struct {
	OrderID     string          `json:"orderId"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	ReduceOnly  bool            `json:"reduceOnly"`
	Status      OrderStatus     `json:"status"`
	SentAtMs    int64           `json:"sentAtMs"`
	ExpectedPx  decimal.Decimal `json:"expectedPrice"`
	Tag         string          `json:"tag,omitempty"` // e.g. "add" for ADD_POSITION orders
}

// ExecQuality tracks recent fill quality, used to decide when execution is
// considered "poor" (§4.7 TRADE_UPDATE handling).
type ExecQuality struct {
	Poor               bool      `json:"poor"`
	RecentLatencyMs    []int64   `json:"recent_latency_ms"`
	RecentSlippageBps  []float64 `json:"recent_slippage_bps"`
}

const execQualityRingCap = 20

// PushLatency appends a latency sample, trimming the ring to its cap.
func (q *ExecQuality) PushLatency(ms int64) {
	q.RecentLatencyMs = append(q.RecentLatencyMs, ms)
	if len(q.RecentLatencyMs) > execQualityRingCap {
		q.RecentLatencyMs = q.RecentLatencyMs[len(q.RecentLatencyMs)-execQualityRingCap:]
	}
}

// PushSlippage appends a slippage-bps sample, trimming the ring to its cap.
func (q *ExecQuality) PushSlippage(bps float64) {
	q.RecentSlippageBps = append(q.RecentSlippageBps, bps)
	if len(q.RecentSlippageBps) > execQualityRingCap {
		q.RecentSlippageBps = q.RecentSlippageBps[len(q.RecentSlippageBps)-execQualityRingCap:]
	}
}

// Position is the open position held for a symbol, if any.
//
// UnrealizedPnLPct is interpreted uniformly as a percentage (0.12 == 12%),
// matching the profit-lock-drawdown and add-to-winner thresholds, which only
// make sense at percentage magnitudes. The venue-event handler that derives
// this field from raw account data is responsible for normalizing to this
// convention (spec.md §9 open question: the venue sometimes reports a signed
// USDT amount instead).
type Position struct {
	Side             PositionSide    `json:"side"`
	Qty              decimal.Decimal `json:"qty"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	UnrealizedPnLPct float64         `json:"unrealized_pnl_pct"`
	AddsUsed         int             `json:"adds_used"`
	PeakPnLPct       float64         `json:"peak_pnl_pct"`
}

// SymbolState is the mutable state exclusively owned by one SymbolActor.
type SymbolState struct {
	Symbol              string                `json:"symbol"`
	Halted              bool                  `json:"halted"`
	AvailableBalance    decimal.Decimal       `json:"available_balance"`
	WalletBalance       decimal.Decimal       `json:"wallet_balance"`
	Position            *Position             `json:"position,omitempty"`
	OpenOrders          map[string]OpenOrder  `json:"open_orders"`
	HasOpenEntryOrder   bool                  `json:"has_open_entry_order"`
	CooldownUntilMs     int64                 `json:"cooldown_until_ms"`
	LastExitEventTimeMs int64                 `json:"last_exit_event_time_ms"`
	ExecQuality         ExecQuality           `json:"exec_quality"`

	// Cached from the last metrics envelope; used only for cooldown
	// calculation on later exits (§4.7).
	LastDeltaZ           float64 `json:"-"`
	LastPrintsPerSecond  float64 `json:"-"`
}

// NewSymbolState returns a freshly-initialized state for a symbol.
func NewSymbolState(symbol string) *SymbolState {
	return &SymbolState{
		Symbol:     symbol,
		OpenOrders: make(map[string]OpenOrder),
	}
}

// Clone returns a deep copy of the state. State snapshots passed to loggers
// and decision records are always deep copies; the live state is never
// exposed by reference (§4.7).
func (s *SymbolState) Clone() *SymbolState {
	if s == nil {
		return nil
	}
	out := *s
	out.OpenOrders = make(map[string]OpenOrder, len(s.OpenOrders))
	for k, v := range s.OpenOrders {
		out.OpenOrders[k] = v
	}
	if s.Position != nil {
		p := *s.Position
		out.Position = &p
	}
	out.ExecQuality.RecentLatencyMs = append([]int64(nil), s.ExecQuality.RecentLatencyMs...)
	out.ExecQuality.RecentSlippageBps = append([]float64(nil), s.ExecQuality.RecentSlippageBps...)
	return &out
}

// RecomputeHasOpenEntryOrder recomputes HasOpenEntryOrder from the current
// open-orders map: true iff any tracked order is not reduceOnly.
func (s *SymbolState) RecomputeHasOpenEntryOrder() {
	for _, o := range s.OpenOrders {
		if !o.ReduceOnly {
			s.HasOpenEntryOrder = true
			return
		}
	}
	s.HasOpenEntryOrder = false
}
