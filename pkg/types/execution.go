package types

import "github.com/shopspring/decimal"

// ExecutionEventType tags the push-stream events the execution connector
// emits (§6).
type ExecutionEventType string

const (
	EventAccountUpdate     ExecutionEventType = "ACCOUNT_UPDATE"
	EventOrderUpdate       ExecutionEventType = "ORDER_UPDATE"
	EventTradeUpdate       ExecutionEventType = "TRADE_UPDATE"
	EventOpenOrdersSnapshot ExecutionEventType = "OPEN_ORDERS_SNAPSHOT"
	EventSystemHalt        ExecutionEventType = "SYSTEM_HALT"
	EventSystemResume      ExecutionEventType = "SYSTEM_RESUME"
)

// ExecutionEvent is the tagged variant the connector's push stream emits.
// Only the fields relevant to Type are populated; all carry Symbol and
// EventTimeMs (events that concern every symbol, such as a feed-level
// SYSTEM_HALT, use an empty Symbol to mean "all").
type ExecutionEvent struct {
	Type        ExecutionEventType `json:"type"`
	Symbol      string             `json:"symbol"`
	EventTimeMs int64              `json:"event_time_ms"`
	Reason      string             `json:"reason,omitempty"`

	// ACCOUNT_UPDATE
	AvailableBalance decimal.Decimal `json:"available_balance,omitempty"`
	WalletBalance    decimal.Decimal `json:"wallet_balance,omitempty"`
	PositionAmt      decimal.Decimal `json:"position_amt,omitempty"`
	EntryPrice       decimal.Decimal `json:"entry_price,omitempty"`
	UnrealizedPnLPct float64         `json:"unrealized_pnl_pct,omitempty"`

	// ORDER_UPDATE
	Order *OpenOrder `json:"order,omitempty"`

	// OPEN_ORDERS_SNAPSHOT
	OpenOrders []OpenOrder `json:"open_orders,omitempty"`

	// TRADE_UPDATE
	OrderID      string          `json:"orderId,omitempty"`
	FillPrice    decimal.Decimal `json:"fill_price,omitempty"`
	FillQty      decimal.Decimal `json:"fill_qty,omitempty"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl,omitempty"`
	OrderTag     string          `json:"order_tag,omitempty"`
}

// OrderRequest is the shape Orchestrator.executeActions sends to the
// execution connector's PlaceOrder.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// OrderType is MARKET or LIMIT, per the connector contract (§6). Only
// MARKET is produced by DecisionEngine today.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// PlaceOrderResult is the connector's PlaceOrder response.
type PlaceOrderResult struct {
	OrderID string
}
