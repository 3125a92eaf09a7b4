package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

func TestUnrealizedPnLPctNormalizesAgainstMargin(t *testing.T) {
	pct := unrealizedPnLPct(decimal.NewFromFloat(25), decimal.NewFromFloat(500))
	require.InDelta(t, 0.05, pct, 1e-9)
}

func TestUnrealizedPnLPctZeroMarginReturnsZero(t *testing.T) {
	pct := unrealizedPnLPct(decimal.NewFromFloat(25), decimal.Zero)
	require.Zero(t, pct)
}

func TestParseUserStreamEventAccountUpdateNormalizesPnL(t *testing.T) {
	raw := []byte(`{
		"e": "ACCOUNT_UPDATE", "E": 1700000000000,
		"a": {
			"P": [{"s": "BTCUSDT", "pa": "1.5", "ep": "50000", "up": "150", "iw": "1000"}],
			"B": [{"a": "USDT", "wb": "9000"}]
		}
	}`)

	ev, ok := parseUserStreamEvent(raw)
	require.True(t, ok)
	require.Equal(t, types.EventAccountUpdate, ev.Type)
	require.Equal(t, "BTCUSDT", ev.Symbol)
	require.True(t, ev.PositionAmt.Equal(decimal.NewFromFloat(1.5)))
	require.InDelta(t, 0.15, ev.UnrealizedPnLPct, 1e-9)
	require.True(t, ev.WalletBalance.Equal(decimal.NewFromFloat(9000)))
}

func TestParseUserStreamEventOrderTradeUpdateTerminalMapsToTradeUpdate(t *testing.T) {
	raw := []byte(`{
		"e": "ORDER_TRADE_UPDATE", "E": 1700000000001,
		"o": {"s": "ETHUSDT", "S": "BUY", "q": "2", "X": "FILLED", "i": 42,
			"R": false, "L": "3000", "l": "2", "rp": "10", "c": "probe-1"}
	}`)

	ev, ok := parseUserStreamEvent(raw)
	require.True(t, ok)
	require.Equal(t, types.EventTradeUpdate, ev.Type)
	require.Equal(t, "42", ev.OrderID)
	require.True(t, ev.FillPrice.Equal(decimal.NewFromFloat(3000)))
	require.True(t, ev.RealizedPnL.Equal(decimal.NewFromFloat(10)))
}

func TestParseUserStreamEventOrderTradeUpdateOpenMapsToOrderUpdate(t *testing.T) {
	raw := []byte(`{
		"e": "ORDER_TRADE_UPDATE", "E": 1700000000002,
		"o": {"s": "ETHUSDT", "S": "SELL", "q": "1", "X": "NEW", "i": 7,
			"R": true, "L": "0", "l": "0", "rp": "0", "c": "exit-1"}
	}`)

	ev, ok := parseUserStreamEvent(raw)
	require.True(t, ok)
	require.Equal(t, types.EventOrderUpdate, ev.Type)
	require.NotNil(t, ev.Order)
	require.True(t, ev.Order.ReduceOnly)
	require.Equal(t, types.OrderNew, ev.Order.Status)
}

func TestParseUserStreamEventUnknownTypeReturnsFalse(t *testing.T) {
	_, ok := parseUserStreamEvent([]byte(`{"e": "LISTEN_KEY_EXPIRED", "E": 1}`))
	require.False(t, ok)
}

func TestMapFuturesOrderStatus(t *testing.T) {
	cases := map[string]types.OrderStatus{
		"FILLED":           types.OrderFilled,
		"CANCELED":         types.OrderCanceled,
		"REJECTED":         types.OrderRejected,
		"EXPIRED":          types.OrderExpired,
		"PARTIALLY_FILLED": types.OrderPartial,
		"NEW":              types.OrderNew,
	}
	for in, want := range cases {
		require.Equal(t, want, mapFuturesOrderStatus(in))
	}
}
