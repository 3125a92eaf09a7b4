// Package execution defines the execution-venue connector contract
// (spec.md §6) and a Binance USDT-M futures implementation of it. The core
// (Orchestrator, SymbolActor) depends on the Connector interface only.
package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// Connector is the execution venue collaborator: the six venue operations
// of spec.md §6 plus the Connect/Disconnect lifecycle. The core depends on
// these methods only.
type Connector interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.PlaceOrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	ExpectedPrice(ctx context.Context, symbol string, side types.Side, orderType types.OrderType) (decimal.Decimal, bool)
	// Events returns the push-stream channel. Implementations emit onto it
	// for the lifetime of the connector; closed on Disconnect.
	Events() <-chan types.ExecutionEvent
	// SyncState requests an ACCOUNT_UPDATE + OPEN_ORDERS_SNAPSHOT for every
	// tracked symbol, emitted onto Events().
	SyncState(ctx context.Context, symbols []string) error
	Connect(ctx context.Context) error
	Disconnect() error
}
