package cvd

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

func trade(side types.Side, qty string, t int64) types.Trade {
	q, _ := decimal.NewFromString(qty)
	return types.Trade{Side: side, Quantity: q, EventTimeMs: t}
}

func TestEngineAccumulatesSignedVolume(t *testing.T) {
	e := New([]int{60})
	e.Add(trade(types.SideBuy, "2", 0))
	e.Add(trade(types.SideSell, "1", 10))
	snap := e.Snapshot()
	require.InDelta(t, 1.0, snap[60].Cvd, 1e-9)
}

func TestEngineEvictsOutsideWindow(t *testing.T) {
	e := New([]int{1})
	e.Add(trade(types.SideBuy, "5", 0))
	e.Add(trade(types.SideBuy, "1", 2000))
	snap := e.Snapshot()
	require.InDelta(t, 1.0, snap[1].Cvd, 1e-9)
}

func TestExhaustionRequiresDecelerationSameSign(t *testing.T) {
	history := []float64{0, 10, 16, 19}
	require.True(t, isExhausted(history))
	require.False(t, isExhausted([]float64{0, 10, 22, 40}))
}
