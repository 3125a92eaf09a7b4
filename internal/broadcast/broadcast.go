// Package broadcast implements BroadcastGate (spec.md §4.4): a throttled
// per-symbol emitter that fires on every trade and every applied depth
// diff, builds the full metrics envelope plus top-20 book levels, and fans
// the result out to WebSocket subscribers and to Orchestrator.ingest.
package broadcast

import (
	"sync"
	"time"

	"github.com/atlas-desktop/orderflow-engine/internal/book"
	"github.com/atlas-desktop/orderflow-engine/internal/cvd"
	"github.com/atlas-desktop/orderflow-engine/internal/legacymetrics"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// Reason names why a broadcast was triggered.
type Reason string

const (
	ReasonTrade Reason = "trade"
	ReasonDepth Reason = "depth"
)

// Inputs bundles everything one symbol's broadcast needs to build its
// envelope and WS payload; FeedIngestor owns all of these per symbol.
type Inputs struct {
	Book        *book.State
	Tape        types.TradeTapeSnapshot
	CvdEngine   *cvd.Engine
	Legacy      *legacymetrics.Computer
	Absorption  types.AbsorptionReading
}

// Gate is the throttled emitter. One Gate instance serves all symbols.
type Gate struct {
	mu           sync.Mutex
	lastEmitMs   map[string]int64
	throttleMs   int64

	onIngest    func(types.MetricsEnvelope)
	onWSMessage func(types.WSMessage)

	nowFn func() int64
}

// New constructs a Gate. onIngest feeds Orchestrator.Ingest; onWSMessage
// feeds the WebSocket hub's broadcast.
func New(throttleMs int64, onIngest func(types.MetricsEnvelope), onWSMessage func(types.WSMessage)) *Gate {
	return &Gate{
		lastEmitMs:  make(map[string]int64),
		throttleMs:  throttleMs,
		onIngest:    onIngest,
		onWSMessage: onWSMessage,
		nowFn:       func() int64 { return time.Now().UnixMilli() },
	}
}

// Trigger evaluates the per-symbol throttle and, if it has elapsed, builds
// and emits the envelope and WS payload. exchangeEventTimeMs is the event
// time of the triggering trade or diff.
func (g *Gate) Trigger(symbol string, reason Reason, in Inputs, exchangeEventTimeMs int64) {
	nowMs := g.nowFn()

	g.mu.Lock()
	last, ok := g.lastEmitMs[symbol]
	if ok && nowMs-last < g.throttleMs {
		g.mu.Unlock()
		return
	}
	g.lastEmitMs[symbol] = nowMs
	g.mu.Unlock()

	bids, asks := in.Book.TopLevels(20)
	bestBid, bestAsk, haveBoth := in.Book.BestBidAsk()

	// Snapshot must run before Compute: it's the only place that appends
	// this cycle's cvd reading to the engine's history, and Compute reads
	// cvd_slope out of that same snapshot rather than re-deriving it.
	cvdSnap := in.CvdEngine.Snapshot()

	var legacy *types.LegacyMetrics
	var spreadPct float64
	var bestBidF, bestAskF, midPrice float64
	if haveBoth {
		bestBidF, _ = bestBid.Float64()
		bestAskF, _ = bestAsk.Float64()
		midPrice = (bestBidF + bestAskF) / 2
		if midPrice > 0 {
			spreadPct = (bestAskF - bestBidF) / midPrice
		}
		m := in.Legacy.Compute(bids, asks, cvdSnap)
		legacy = &m
	}

	envelope := types.MetricsEnvelope{
		Symbol:              symbol,
		CanonicalTimeMs:     nowMs,
		ExchangeEventTimeMs: exchangeEventTimeMs,
		SpreadPct:           spreadPct,
		PrintsPerSecond:     in.Tape.PrintsPerSecond,
		BestBid:             bestBidF,
		BestAsk:             bestAskF,
		LegacyMetrics:       legacy,
	}

	msg := types.WSMessage{
		Type:         "metrics",
		Symbol:       symbol,
		EventTimeMs:  exchangeEventTimeMs,
		State:        in.Book.UIState(),
		TimeAndSales: in.Tape,
		Cvd: types.CvdPayload{
			Tf1m:  cvdSnap[60],
			Tf5m:  cvdSnap[300],
			Tf15m: cvdSnap[900],
		},
		Absorption:    in.Absorption,
		LegacyMetrics: legacy,
		Bids:          bids,
		Asks:          asks,
		BestBid:       bestBidF,
		BestAsk:       bestAskF,
		SpreadPct:     spreadPct,
		MidPrice:      midPrice,
		LastUpdateID:  in.Book.LastUpdateID(),
	}

	if g.onWSMessage != nil {
		g.onWSMessage(msg)
	}
	if g.onIngest != nil {
		g.onIngest(envelope)
	}
}
