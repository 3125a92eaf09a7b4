package legacymetrics

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

const absorptionWindow = 20

type absorptionSample struct {
	consumedSize float64
	priceMove    float64
	side         types.Side
}

// AbsorptionDetector is the SPEC_FULL.md §12 addition: it tracks whether
// aggressive volume at the best price is being absorbed without the price
// moving, by comparing consumed resting size against price displacement
// over a short rolling window. It is non-authoritative — nothing in
// DecisionEngine reads it; it exists for ingestion-path observability and
// the WebSocket payload's "absorption" field.
type AbsorptionDetector struct {
	mu          sync.Mutex
	samples     []absorptionSample
	lastBestBid decimal.Decimal
	lastBestAsk decimal.Decimal
}

// NewAbsorptionDetector constructs an empty detector.
func NewAbsorptionDetector() *AbsorptionDetector {
	return &AbsorptionDetector{}
}

// Observe records one trade against the best bid/ask in effect at the time
// of the trade.
func (a *AbsorptionDetector) Observe(trade types.Trade, bestBid, bestAsk decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	qty, _ := trade.Quantity.Float64()
	var priceMove float64
	if trade.Side == types.SideBuy && !a.lastBestAsk.IsZero() {
		priceMove, _ = bestAsk.Sub(a.lastBestAsk).Float64()
	} else if trade.Side == types.SideSell && !a.lastBestBid.IsZero() {
		priceMove, _ = a.lastBestBid.Sub(bestBid).Float64()
	}

	a.samples = append(a.samples, absorptionSample{consumedSize: qty, priceMove: priceMove, side: trade.Side})
	if len(a.samples) > absorptionWindow {
		a.samples = a.samples[len(a.samples)-absorptionWindow:]
	}
	a.lastBestBid = bestBid
	a.lastBestAsk = bestAsk
}

// Snapshot computes the current absorption reading: the side with the more
// recent aggressive flow, and the ratio of consumed size to price
// displacement (higher ratio == more size absorbed per unit of price move).
func (a *AbsorptionDetector) Snapshot() types.AbsorptionReading {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.samples) == 0 {
		return types.AbsorptionReading{}
	}

	var consumed, move float64
	side := a.samples[len(a.samples)-1].side
	for _, s := range a.samples {
		consumed += s.consumedSize
		move += absf(s.priceMove)
	}

	var ratio float64
	absorbing := false
	if move == 0 {
		ratio = consumed
		absorbing = consumed > 0
	} else {
		ratio = consumed / move
		absorbing = ratio > 1
	}

	return types.AbsorptionReading{Absorbing: absorbing, Side: side, Ratio: ratio}
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
