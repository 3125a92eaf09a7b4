package legacymetrics

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/orderflow-engine/internal/cvd"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

func lvl(price, size string) types.PriceLevel {
	p, _ := decimal.NewFromString(price)
	s, _ := decimal.NewFromString(size)
	return types.PriceLevel{Price: p, Size: s}
}

func TestObiFromLevelsBidHeavy(t *testing.T) {
	bids := []types.PriceLevel{lvl("10", "10")}
	asks := []types.PriceLevel{lvl("11", "1")}
	deep, weighted := obiFromLevels(bids, asks)
	require.Greater(t, deep, 0.0)
	require.Greater(t, weighted, 0.0)
}

func TestZScoreFlatSeriesIsZero(t *testing.T) {
	require.InDelta(t, 0.0, zScore([]float64{0.1, 0.1, 0.1}), 1e-9)
}

func TestComputeUsesCvdSlopeFromCurrentSnapshot(t *testing.T) {
	engine := cvd.New([]int{60})
	c := NewComputer(60)

	engine.Add(types.Trade{Side: types.SideBuy, Quantity: decimal.NewFromInt(5), EventTimeMs: 1})
	engine.Snapshot() // cvd=5, delta=0 (no prior history)

	engine.Add(types.Trade{Side: types.SideBuy, Quantity: decimal.NewFromInt(3), EventTimeMs: 2})
	snap := engine.Snapshot() // cvd=8, delta=3, ending at this cycle

	m := c.Compute(nil, nil, snap)
	require.Equal(t, 3.0, m.CvdSlope)
}

func TestAbsorptionDetectorFlagsHighRatio(t *testing.T) {
	d := NewAbsorptionDetector()
	bestBid := decimal.NewFromInt(100)
	bestAsk := decimal.NewFromInt(101)
	tr := types.Trade{Side: types.SideBuy, Quantity: decimal.NewFromInt(50), EventTimeMs: 1}
	d.Observe(tr, bestBid, bestAsk)
	d.Observe(tr, bestBid, bestAsk)
	snap := d.Snapshot()
	require.True(t, snap.Absorbing)
}
