// Package orchestrator implements Orchestrator (spec.md §4.8): the actor
// map keyed by symbol, the execution-symbol gate, and the bridge between
// DecisionEngine's action list and the execution connector.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/internal/actor"
	"github.com/atlas-desktop/orderflow-engine/internal/decision"
	"github.com/atlas-desktop/orderflow-engine/internal/errkind"
	"github.com/atlas-desktop/orderflow-engine/internal/execlog"
	"github.com/atlas-desktop/orderflow-engine/internal/execution"
	"github.com/atlas-desktop/orderflow-engine/internal/gate"
	"github.com/atlas-desktop/orderflow-engine/pkg/config"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

const restTimeout = 10 * time.Second

// Orchestrator owns the actor map and bridges DecisionEngine's output to
// the execution connector.
type Orchestrator struct {
	cfg       *config.Config
	connector execution.Connector
	logger    *execlog.Logger
	zlog      *zap.Logger

	onExecutionSymbolsChanged func([]string)

	mu                  sync.Mutex
	actors              map[string]*actor.Actor
	executionSymbols    map[string]bool // empty set means "all symbols allowed"
	realizedPnlBySymbol map[string]decimal.Decimal
	decisionLedger      []types.DecisionRecord

	executionEnabled bool
	connected        bool
}

// New constructs an Orchestrator. executionEnabled/connected start false;
// callers flip them once the connector has successfully connected and the
// operator has armed live execution.
func New(cfg *config.Config, connector execution.Connector, logger *execlog.Logger, zlog *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg: cfg, connector: connector, logger: logger, zlog: zlog.Named("orchestrator"),
		actors:              make(map[string]*actor.Actor),
		executionSymbols:    make(map[string]bool),
		realizedPnlBySymbol: make(map[string]decimal.Decimal),
	}
}

// SetExecutionEnabled arms or disarms order placement. Metrics ingestion
// and decision evaluation continue either way; only executeActions is
// gated.
func (o *Orchestrator) SetExecutionEnabled(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executionEnabled = enabled
}

// SetConnected records connector connectivity, the other executeActions
// gate.
func (o *Orchestrator) SetConnected(connected bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected = connected
}

// SetCapitalSettings replaces the live sizing-capital knob (spec.md §9's
// other orchestrator-guarded runtime-mutable config, alongside
// execution_symbols). DecisionEngine reads cfg.CapitalSettings directly on
// every call, so the new values take effect on the next decision without
// restarting the actor.
func (o *Orchestrator) SetCapitalSettings(settings config.CapitalSettings) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg.CapitalSettings = settings
}

// OnExecutionSymbolsChanged registers a callback invoked whenever
// SetExecutionSymbols changes the set, so a caller (main wiring) can
// propagate it to the FeedIngestor's required-symbol union.
func (o *Orchestrator) OnExecutionSymbolsChanged(fn func([]string)) {
	o.onExecutionSymbolsChanged = fn
}

func (o *Orchestrator) actorFor(symbol string) *actor.Actor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.unsafeActorFor(symbol)
}

func (o *Orchestrator) unsafeActorFor(symbol string) *actor.Actor {
	a, ok := o.actors[symbol]
	if !ok {
		deps := decision.Deps{ExpectedPrice: o.expectedPrice}
		a = actor.New(symbol, o.cfg, deps, actor.Callbacks{
			OnDecisionRecord: o.onDecisionRecord,
			OnActions:        o.executeActions,
		}, o.zlog)
		o.actors[symbol] = a
	}
	return a
}

func (o *Orchestrator) expectedPrice(symbol string, side types.Side) (decimal.Decimal, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()
	return o.connector.ExpectedPrice(ctx, symbol, side, types.OrderTypeMarket)
}

// allowsSymbol reports whether execution_symbols permits ingestion for
// symbol: an empty set means every symbol is allowed.
func (o *Orchestrator) allowsSymbol(symbol string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.executionSymbols) == 0 {
		return true
	}
	return o.executionSymbols[symbol]
}

// Ingest is the live-feed entry point (spec.md §4.8): runs the Gate,
// logs the metrics line, and enqueues to the symbol's actor.
func (o *Orchestrator) Ingest(metrics types.MetricsEnvelope) {
	if !o.allowsSymbol(metrics.Symbol) {
		return
	}
	result := gate.Evaluate(metrics, o.cfg)
	o.logger.LogMetrics(metrics.Symbol, metrics.CanonicalTimeMs, metrics.ExchangeEventTimeMs, result, metrics)
	o.actorFor(metrics.Symbol).Enqueue(actor.Envelope{Gate: &result, Metrics: &metrics})
}

// IngestLoggedMetrics is ReplayRunner's entry point for a metrics line
// that already carries a computed gate result — the Gate is NOT re-run
// and the line is NOT re-logged (spec.md §4.10).
func (o *Orchestrator) IngestLoggedMetrics(result types.GateResult, metrics types.MetricsEnvelope) {
	if !o.allowsSymbol(metrics.Symbol) {
		return
	}
	o.actorFor(metrics.Symbol).Enqueue(actor.Envelope{Gate: &result, Metrics: &metrics})
}

func (o *Orchestrator) onDecisionRecord(record types.DecisionRecord) {
	o.mu.Lock()
	o.decisionLedger = append(o.decisionLedger, record)
	o.mu.Unlock()
	o.logger.LogDecision(record)
}

// IngestExecutionEvent handles a live push-stream event from the
// connector: logs it with a state projection and enqueues it to the
// owning actor, accumulating realized PnL from TRADE_UPDATE.
func (o *Orchestrator) IngestExecutionEvent(ev types.ExecutionEvent) {
	o.dispatchExecutionEvent(ev, true)
}

// IngestExecutionReplay is ReplayRunner's entry point for a logged
// execution line: same dispatch, without re-logging (spec.md §4.10).
func (o *Orchestrator) IngestExecutionReplay(ev types.ExecutionEvent) {
	o.dispatchExecutionEvent(ev, false)
}

func (o *Orchestrator) dispatchExecutionEvent(ev types.ExecutionEvent, logIt bool) {
	if ev.Type == types.EventTradeUpdate && !ev.RealizedPnL.IsZero() {
		o.mu.Lock()
		o.realizedPnlBySymbol[ev.Symbol] = o.realizedPnlBySymbol[ev.Symbol].Add(ev.RealizedPnL)
		o.mu.Unlock()
	}

	var symbols []string
	if ev.Symbol == "" {
		symbols = o.allSymbols()
	} else {
		symbols = []string{ev.Symbol}
	}
	for _, sym := range symbols {
		a := o.actorFor(sym)
		a.Enqueue(actor.Envelope{Execution: &ev})
		if logIt {
			o.logger.LogExecution(ev, a.State())
		}
	}
}

func (o *Orchestrator) allSymbols() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.actors))
	for s := range o.actors {
		out = append(out, s)
	}
	return out
}

// RealizedPnL returns the accumulated realized PnL for a symbol.
func (o *Orchestrator) RealizedPnL(symbol string) decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.realizedPnlBySymbol[symbol]
}

// executeActions serializes a symbol's DecisionAction list into connector
// calls. Gated by execution_enabled and connected (spec.md §4.8).
func (o *Orchestrator) executeActions(symbol string, actions []types.DecisionAction, state *types.SymbolState) {
	o.mu.Lock()
	enabled := o.executionEnabled
	connected := o.connected
	o.mu.Unlock()
	if !enabled || !connected {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()

	for _, act := range actions {
		switch act.Type {
		case types.ActionNoop:
			continue
		case types.ActionCancelOpenEntryOrders:
			o.cancelOpenEntryOrders(ctx, symbol, state)
		case types.ActionExitMarket, types.ActionEntryProbe, types.ActionAddPosition:
			o.submitOrder(ctx, symbol, act)
		}
	}
}

func (o *Orchestrator) submitOrder(ctx context.Context, symbol string, act types.DecisionAction) {
	req := types.OrderRequest{
		Symbol: symbol, Side: act.Side, Type: types.OrderTypeMarket,
		Quantity: act.Quantity, ReduceOnly: act.ReduceOnly,
	}
	result, err := o.connector.PlaceOrder(ctx, req)
	if err != nil {
		o.zlog.Warn("connector_error placing order", zap.String("symbol", symbol), zap.String("action", string(act.Type)), zap.Error(fmt.Errorf("%w: %v", errkind.ErrConnectorError, err)))
		return
	}

	tag := act.Tag
	if act.Type == types.ActionAddPosition && tag == "" {
		tag = "add"
	}
	now := time.Now().UnixMilli()
	o.actorFor(symbol).Enqueue(actor.Envelope{Execution: &types.ExecutionEvent{
		Type: types.EventOrderUpdate, Symbol: symbol, EventTimeMs: now,
		Order: &types.OpenOrder{
			OrderID: result.OrderID, Symbol: symbol, Side: act.Side, Quantity: act.Quantity,
			ReduceOnly: act.ReduceOnly, Status: types.OrderNew, SentAtMs: now,
			ExpectedPx: act.ExpectedPrice, Tag: tag,
		},
	}})
}

func (o *Orchestrator) cancelOpenEntryOrders(ctx context.Context, symbol string, state *types.SymbolState) {
	for _, ord := range state.OpenOrders {
		if ord.ReduceOnly {
			continue
		}
		if err := o.connector.CancelOrder(ctx, symbol, ord.OrderID); err != nil {
			o.zlog.Warn("connector_error canceling order", zap.String("symbol", symbol), zap.String("orderId", ord.OrderID), zap.Error(fmt.Errorf("%w: %v", errkind.ErrConnectorError, err)))
		}
	}
}

// SetExecutionSymbols replaces the execution-symbol set (spec.md §4.8):
// dropped symbols have their open orders canceled and their actor and
// realized-pnl tally discarded; newly added symbols get an actor
// pre-created. The connector is then asked to sync state, and the
// registered callback (if any) is told to refresh market-data
// subscriptions.
func (o *Orchestrator) SetExecutionSymbols(ctx context.Context, symbols []string) error {
	next := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		next[s] = true
	}

	o.mu.Lock()
	var dropped []string
	for s := range o.executionSymbols {
		if !next[s] {
			dropped = append(dropped, s)
		}
	}
	o.executionSymbols = next
	o.mu.Unlock()

	for _, s := range dropped {
		if err := o.connector.CancelAllOpenOrders(ctx, s); err != nil {
			o.zlog.Warn("connector_error cancel_all_open_orders on symbol drop", zap.String("symbol", s), zap.Error(err))
		}
		o.mu.Lock()
		if a, ok := o.actors[s]; ok {
			a.Stop()
			delete(o.actors, s)
		}
		delete(o.realizedPnlBySymbol, s)
		o.mu.Unlock()
	}

	for _, s := range symbols {
		o.actorFor(s)
	}

	if err := o.connector.SyncState(ctx, symbols); err != nil {
		return fmt.Errorf("orchestrator: sync_state: %w", err)
	}
	if o.onExecutionSymbolsChanged != nil {
		o.onExecutionSymbolsChanged(symbols)
	}
	return nil
}

// HaltAll sends SYSTEM_HALT to every tracked symbol's actor (spec.md §7
// logger_drop propagation policy: beyond drop_halt_threshold, all actors
// halt and require an explicit SYSTEM_RESUME).
func (o *Orchestrator) HaltAll(reason string) {
	now := time.Now().UnixMilli()
	for _, sym := range o.allSymbols() {
		o.actorFor(sym).Enqueue(actor.Envelope{Execution: &types.ExecutionEvent{
			Type: types.EventSystemHalt, Symbol: sym, EventTimeMs: now, Reason: reason,
		}})
	}
}

// ResetForReplay clears actors, the decision ledger, and realized-pnl
// tallies (spec.md §4.8), leaving execution_symbols untouched.
func (o *Orchestrator) ResetForReplay() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range o.actors {
		a.Stop()
	}
	o.actors = make(map[string]*actor.Actor)
	o.realizedPnlBySymbol = make(map[string]decimal.Decimal)
	o.decisionLedger = nil
}

// DecisionLedger returns the accumulated decision records, in append
// order.
func (o *Orchestrator) DecisionLedger() []types.DecisionRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.DecisionRecord, len(o.decisionLedger))
	copy(out, o.decisionLedger)
	return out
}

// StateSnapshot returns a deep copy of every tracked symbol's state, keyed
// by symbol.
func (o *Orchestrator) StateSnapshot() map[string]*types.SymbolState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]*types.SymbolState, len(o.actors))
	for s, a := range o.actors {
		out[s] = a.State()
	}
	return out
}

// Flush blocks until every actor has drained its current queue —
// ReplayRunner uses this before hashing the final state.
func (o *Orchestrator) Flush() {
	o.mu.Lock()
	actors := make([]*actor.Actor, 0, len(o.actors))
	for _, a := range o.actors {
		actors = append(actors, a)
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Add(1)
		go func(a *actor.Actor) {
			defer wg.Done()
			done := make(chan struct{})
			a.Enqueue(actor.Envelope{Barrier: func() { close(done) }})
			<-done
		}(a)
	}
	wg.Wait()
}
