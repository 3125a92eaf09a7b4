// Package ingest implements FeedIngestor (spec.md §4.3): the single
// multiplexed-stream demuxer that dispatches depth diffs and trades per
// symbol into the book/tape/cvd/legacy-metrics pipeline and the
// broadcast gate.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/internal/book"
	"github.com/atlas-desktop/orderflow-engine/internal/broadcast"
	"github.com/atlas-desktop/orderflow-engine/internal/cvd"
	"github.com/atlas-desktop/orderflow-engine/internal/legacymetrics"
	"github.com/atlas-desktop/orderflow-engine/internal/tape"
	"github.com/atlas-desktop/orderflow-engine/pkg/config"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

const reconnectDelay = 5 * time.Second

type symbolPipeline struct {
	book       *book.State
	tape       *tape.Tape
	cvd        *cvd.Engine
	legacy     *legacymetrics.Computer
	absorption *legacymetrics.AbsorptionDetector
	resyncing  bool
}

// Ingestor is the FeedIngestor. It owns exactly one active Source
// connection over the current union of required symbols and reconciles on
// change (spec.md §4.3).
type Ingestor struct {
	cfg     *config.Config
	source  Source
	fetcher *book.Fetcher
	gate    *broadcast.Gate
	logger  *zap.Logger

	mu        sync.Mutex
	required  map[string]bool
	pipelines map[string]*symbolPipeline

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Ingestor. The caller supplies the fetcher (already
// configured) and broadcast gate to wire into.
func New(cfg *config.Config, source Source, fetcher *book.Fetcher, gate *broadcast.Gate, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		cfg:       cfg,
		source:    source,
		fetcher:   fetcher,
		gate:      gate,
		logger:    logger.Named("ingest"),
		required:  make(map[string]bool),
		pipelines: make(map[string]*symbolPipeline),
	}
}

// SetRequiredSymbols reconciles the union of client-required symbols. If the
// set differs from the active one, the ingestor reconnects with the new
// union (spec.md §4.3: "reconciles required vs active and reconnects if the
// set differs").
func (ing *Ingestor) SetRequiredSymbols(ctx context.Context, symbols []string) {
	ing.mu.Lock()
	next := make(map[string]bool, len(symbols))
	changed := false
	for _, s := range symbols {
		next[s] = true
		if !ing.required[s] {
			changed = true
		}
		if _, ok := ing.pipelines[s]; !ok {
			ing.pipelines[s] = ing.newPipeline(s)
		}
	}
	if len(next) != len(ing.required) {
		changed = true
	}
	ing.required = next
	ing.mu.Unlock()

	if changed {
		ing.restart(ctx)
	}
}

func (ing *Ingestor) newPipeline(symbol string) *symbolPipeline {
	return &symbolPipeline{
		book:       book.New(symbol, ing.cfg.MaxGapTolerance),
		tape:       tape.New(ing.cfg.TradeWindowMs),
		cvd:        cvd.New(ing.cfg.CvdTimeframesSec),
		legacy:     legacymetrics.NewComputer(minTimeframe(ing.cfg.CvdTimeframesSec)),
		absorption: legacymetrics.NewAbsorptionDetector(),
	}
}

func minTimeframe(tfs []int) int {
	if len(tfs) == 0 {
		return 60
	}
	min := tfs[0]
	for _, t := range tfs[1:] {
		if t < min {
			min = t
		}
	}
	return min
}

// restart tears down any existing connection and opens a new one over the
// current required-symbol set.
func (ing *Ingestor) restart(ctx context.Context) {
	if ing.cancel != nil {
		ing.cancel()
		<-ing.done
	}

	ing.mu.Lock()
	symbols := make([]string, 0, len(ing.required))
	for s := range ing.required {
		symbols = append(symbols, s)
	}
	for _, p := range ing.pipelines {
		ing.fetcher.Register(p.book)
	}
	ing.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	ing.cancel = cancel
	ing.done = make(chan struct{})
	go ing.run(runCtx, symbols)
}

func (ing *Ingestor) run(ctx context.Context, symbols []string) {
	defer close(ing.done)
	if len(symbols) == 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		depthCh, tradeCh, errCh := ing.source.Connect(ctx, symbols)

		// Request a snapshot for every symbol on each (re)connect: this
		// seeds books that are still UNSEEDED and re-seeds the books kept
		// from before the reconnect (spec.md §4.3).
		for _, s := range symbols {
			go ing.fetcher.RequestSnapshot(ctx, s)
		}

	drain:
		for {
			select {
			case <-ctx.Done():
				return
			case diff, ok := <-depthCh:
				if !ok {
					break drain
				}
				ing.handleDepthForSymbol(ctx, diff.Symbol, diff)
			case trade, ok := <-tradeCh:
				if !ok {
					break drain
				}
				ing.handleTradeForSymbol(trade.Symbol, trade)
			case err, ok := <-errCh:
				if ok && err != nil {
					ing.logger.Warn("feed disconnected", zap.Error(err))
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// HealthSnapshot returns each tracked symbol's current book UI state, for
// the /healthz surface (SPEC_FULL.md supplemented feature).
func (ing *Ingestor) HealthSnapshot() map[string]types.BookUIState {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	out := make(map[string]types.BookUIState, len(ing.pipelines))
	for s, p := range ing.pipelines {
		out[s] = p.book.UIState()
	}
	return out
}

func (ing *Ingestor) pipelineFor(symbol string) *symbolPipeline {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	p, ok := ing.pipelines[symbol]
	if !ok {
		p = ing.newPipeline(symbol)
		ing.pipelines[symbol] = p
	}
	return p
}

// handleDepthForSymbol is the per-symbol depth dispatch (spec.md §4.3):
// apply the diff; on Desync, invoke the fetcher unless already resyncing;
// on Buffered while UNSEEDED, invoke the fetcher too (this is how the first
// seed is requested).
func (ing *Ingestor) handleDepthForSymbol(ctx context.Context, symbol string, diff types.DepthDiff) {
	p := ing.pipelineFor(symbol)
	outcome := p.book.ApplyDiff(diff)

	switch outcome {
	case types.Desync:
		if !p.resyncing {
			p.resyncing = true
			p.book.MarkResyncing()
			go ing.fetcher.RequestSnapshot(ctx, symbol)
		}
	case types.Buffered:
		if p.book.UIState() == types.BookUnseeded {
			go ing.fetcher.RequestSnapshot(ctx, symbol)
		}
	case types.Applied:
		p.resyncing = false
		ing.broadcastFor(symbol, p, broadcast.ReasonDepth, diff.EventTimeMs)
	}
}

// handleTradeForSymbol is the per-symbol trade dispatch (spec.md §4.3):
// TradeTape.add, CvdEngine.add, LegacyMetrics.add_trade, AbsorptionDetector
// update, then BroadcastGate.
func (ing *Ingestor) handleTradeForSymbol(symbol string, trade types.Trade) {
	p := ing.pipelineFor(symbol)
	p.tape.Add(trade)
	p.cvd.Add(trade)
	p.legacy.ObserveTrade(p.tape.Snapshot())
	bestBid, bestAsk, _ := p.book.BestBidAsk()
	p.absorption.Observe(trade, bestBid, bestAsk)
	ing.broadcastFor(symbol, p, broadcast.ReasonTrade, trade.EventTimeMs)
}

func (ing *Ingestor) broadcastFor(symbol string, p *symbolPipeline, reason broadcast.Reason, eventTimeMs int64) {
	in := broadcast.Inputs{
		Book:       p.book,
		Tape:       p.tape.Snapshot(),
		CvdEngine:  p.cvd,
		Legacy:     p.legacy,
		Absorption: p.absorption.Snapshot(),
	}
	ing.gate.Trigger(symbol, reason, in, eventTimeMs)
}

// Stop cancels the active connection, if any, and waits for shutdown.
func (ing *Ingestor) Stop() {
	if ing.cancel != nil {
		ing.cancel()
		<-ing.done
	}
}
