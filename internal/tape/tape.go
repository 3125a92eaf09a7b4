// Package tape implements TradeTape: a sliding time window of aggressive
// trades, with the derived metrics spec.md §3 describes (aggressive
// buy/sell volume, trade count, size-bucket histogram, bid-hit-to-ask-lift
// ratio, same-side burst count, prints/sec).
package tape

import (
	"sort"
	"sync"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// Tape is one symbol's rolling trade-tape window.
type Tape struct {
	mu        sync.Mutex
	windowMs  int64
	trades    []types.Trade
}

// New constructs a Tape with the given rolling-window width in
// milliseconds (default 60000 per spec.md §6).
func New(windowMs int64) *Tape {
	return &Tape{windowMs: windowMs}
}

// Add appends a trade and evicts everything older than the window relative
// to the trade's own event time (the tape is indexed by exchange event
// time, not wall clock, per spec.md §3).
func (t *Tape) Add(trade types.Trade) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades = append(t.trades, trade)
	cutoff := trade.EventTimeMs - t.windowMs
	i := 0
	for i < len(t.trades) && t.trades[i].EventTimeMs < cutoff {
		i++
	}
	if i > 0 {
		t.trades = append([]types.Trade(nil), t.trades[i:]...)
	}
}

// Snapshot computes the current derived metrics over the window.
func (t *Tape) Snapshot() types.TradeTapeSnapshot {
	t.mu.Lock()
	trades := append([]types.Trade(nil), t.trades...)
	windowMs := t.windowMs
	t.mu.Unlock()

	var snap types.TradeTapeSnapshot
	if len(trades) == 0 {
		return snap
	}

	var buyVol, sellVol float64
	sizes := make([]float64, 0, len(trades))
	burst, maxBurst := 1, 1
	var prevSide types.Side

	for i, tr := range trades {
		qty, _ := tr.Quantity.Float64()
		sizes = append(sizes, qty)
		if tr.Side == types.SideBuy {
			buyVol += qty
		} else {
			sellVol += qty
		}
		if i > 0 {
			if tr.Side == prevSide {
				burst++
				if burst > maxBurst {
					maxBurst = burst
				}
			} else {
				burst = 1
			}
		}
		prevSide = tr.Side
	}

	snap.AggressiveBuyVolume = buyVol
	snap.AggressiveSellVolume = sellVol
	snap.TradeCount = len(trades)
	snap.SameSideBurst = maxBurst
	if buyVol > 0 {
		snap.BidHitToAskLift = sellVol / buyVol
	}

	snap.SizeBuckets = sizeBuckets(sizes)

	spanMs := trades[len(trades)-1].EventTimeMs - trades[0].EventTimeMs
	if spanMs <= 0 {
		spanMs = windowMs
	}
	if spanMs > 0 {
		snap.PrintsPerSecond = float64(len(trades)) / (float64(spanMs) / 1000.0)
	}
	return snap
}

// sizeBuckets returns the two threshold boundaries splitting trade sizes
// into small/medium/large. With >= 10 samples, thresholds are the 33rd and
// 66th percentile; below that, 1/10th and full scale of the max observed
// size (spec.md §3).
func sizeBuckets(sizes []float64) []float64 {
	if len(sizes) == 0 {
		return nil
	}
	sorted := append([]float64(nil), sizes...)
	sort.Float64s(sorted)
	if len(sorted) >= 10 {
		return []float64{percentile(sorted, 0.33), percentile(sorted, 0.66)}
	}
	max := sorted[len(sorted)-1]
	return []float64{max / 10, max}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
