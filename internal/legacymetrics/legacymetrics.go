// Package legacymetrics computes the derived-indicator snapshot spec.md §3
// calls LegacyMetrics: OBI deep/weighted, delta Z, CVD slope, OI delta.
package legacymetrics

import (
	"math"
	"sync"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

const (
	obiDepth        = 20
	ratioHistoryCap = 20
)

// Computer accumulates the rolling state LegacyMetrics needs beyond a single
// book/tape snapshot: the trade-side-imbalance history used to Z-score
// delta_z.
type Computer struct {
	mu            sync.Mutex
	ratioHistory  []float64
	primaryTfSec  int

	// oi_delta has no backing feed: spec.md §6's market data feeds list
	// only depth-diff and aggTrade channels, no open-interest stream. The
	// field is carried for shape-compatibility with the spec's data model
	// and is always zero until an OI feed is wired in.
	oiDelta float64
}

// NewComputer constructs a Computer. primaryTimeframeSec selects which
// CvdEngine horizon backs cvd_slope (the shortest configured timeframe).
func NewComputer(primaryTimeframeSec int) *Computer {
	return &Computer{primaryTfSec: primaryTimeframeSec}
}

// ObserveTrade updates the rolling trade-imbalance history used for delta_z.
func (c *Computer) ObserveTrade(tape types.TradeTapeSnapshot) {
	total := tape.AggressiveBuyVolume + tape.AggressiveSellVolume
	if total <= 0 {
		return
	}
	ratio := (tape.AggressiveBuyVolume - tape.AggressiveSellVolume) / total

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ratioHistory = append(c.ratioHistory, ratio)
	if len(c.ratioHistory) > ratioHistoryCap {
		c.ratioHistory = c.ratioHistory[len(c.ratioHistory)-ratioHistoryCap:]
	}
}

// Compute derives the full LegacyMetrics snapshot from the current book
// top-N levels, the trade tape, and the already-computed CVD snapshot for
// this cycle (cvd_slope reads cvdSnap[primaryTfSec].Delta, the delta ending
// at the current reading — callers must take the CvdEngine snapshot before
// calling Compute, not after, or cvd_slope reports the prior cycle's delta).
func (c *Computer) Compute(bids, asks []types.PriceLevel, cvdSnap map[int]types.CvdReading) types.LegacyMetrics {
	obiDeep, obiWeighted := obiFromLevels(bids, asks)

	c.mu.Lock()
	deltaZ := zScore(c.ratioHistory)
	oiDelta := c.oiDelta
	c.mu.Unlock()

	return types.LegacyMetrics{
		ObiWeighted:   obiWeighted,
		ObiDeep:       obiDeep,
		ObiDivergence: obiWeighted - obiDeep,
		DeltaZ:        deltaZ,
		CvdSlope:      cvdSnap[c.primaryTfSec].Delta,
		OiDelta:       oiDelta,
	}
}

func obiFromLevels(bids, asks []types.PriceLevel) (deep, weighted float64) {
	var bidSum, askSum, wBidSum, wAskSum float64
	n := obiDepth
	for i, l := range bids {
		if i >= n {
			break
		}
		qty, _ := l.Size.Float64()
		bidSum += qty
		wBidSum += qty / float64(i+1)
	}
	for i, l := range asks {
		if i >= n {
			break
		}
		qty, _ := l.Size.Float64()
		askSum += qty
		wAskSum += qty / float64(i+1)
	}
	if bidSum+askSum > 0 {
		deep = (bidSum - askSum) / (bidSum + askSum)
	}
	if wBidSum+wAskSum > 0 {
		weighted = (wBidSum - wAskSum) / (wBidSum + wAskSum)
	}
	return deep, weighted
}

func zScore(samples []float64) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(n)

	var variance float64
	for _, s := range samples {
		d := s - mean
		variance += d * d
	}
	variance /= float64(n)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	latest := samples[n-1]
	return (latest - mean) / stddev
}
