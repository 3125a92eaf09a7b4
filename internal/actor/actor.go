// Package actor implements SymbolActor (spec.md §4.7): a FIFO envelope
// queue and single-flight processor, one per symbol, giving strict
// per-symbol serialization of SymbolState mutations. Grounded on
// workers.Pool's worker-loop/panic-recovery idiom, narrowed from an N-
// worker pool down to exactly one worker per symbol (the ordering
// guarantee the pool itself never gave).
package actor

import (
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/internal/decision"
	"github.com/atlas-desktop/orderflow-engine/pkg/config"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

var decimalTenThousand = decimal.NewFromInt(10000)

// Envelope is the tagged union SymbolActor's queue carries: exactly one of
// Metrics or Execution is set.
type Envelope struct {
	Gate      *types.GateResult
	Metrics   *types.MetricsEnvelope
	Execution *types.ExecutionEvent

	// Barrier, if set, is invoked synchronously once this envelope reaches
	// the front of the queue — a flush point for callers (tests, replay)
	// that need to know every prior envelope has finished processing.
	Barrier func()
}

// Callbacks are the side effects a processing step may trigger. Both
// are invoked synchronously from within the single-flight step — the
// actor does not process its next envelope until they return (spec.md §5
// suspension points).
type Callbacks struct {
	OnDecisionRecord func(types.DecisionRecord)
	OnActions        func(symbol string, actions []types.DecisionAction, state *types.SymbolState)
}

// Actor is one SymbolActor.
type Actor struct {
	symbol string
	cfg    *config.Config
	deps   decision.Deps
	cb     Callbacks
	logger *zap.Logger

	queue chan Envelope
	done  chan struct{}

	state *types.SymbolState
}

// New constructs and starts an Actor's processing goroutine.
func New(symbol string, cfg *config.Config, deps decision.Deps, cb Callbacks, logger *zap.Logger) *Actor {
	a := &Actor{
		symbol: symbol,
		cfg:    cfg,
		deps:   deps,
		cb:     cb,
		logger: logger.Named("actor").With(zap.String("symbol", symbol)),
		queue:  make(chan Envelope, 1024),
		done:   make(chan struct{}),
		state:  types.NewSymbolState(symbol),
	}
	go a.run()
	return a
}

// Enqueue schedules an envelope for processing. Never blocks the caller
// beyond the queue's capacity.
func (a *Actor) Enqueue(env Envelope) {
	a.queue <- env
}

// State returns a deep copy of the actor's current state. Never returns
// the live pointer (spec.md §4.7).
func (a *Actor) State() *types.SymbolState {
	return a.state.Clone()
}

// Stop closes the queue to new envelopes, waits for the goroutine to
// process the envelopes already queued, and returns once it has exited.
func (a *Actor) Stop() {
	close(a.queue)
	<-a.done
}

func (a *Actor) run() {
	defer close(a.done)
	for env := range a.queue {
		a.step(env)
	}
}

// step processes exactly one envelope with panic recovery, matching the
// worker pool's discipline that one task's failure never takes the loop
// down with it.
func (a *Actor) step(env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("recovered from panic processing envelope", zap.Any("panic", r))
		}
	}()

	switch {
	case env.Metrics != nil:
		a.processMetrics(*env.Gate, *env.Metrics)
	case env.Execution != nil:
		a.processExecution(*env.Execution)
	case env.Barrier != nil:
		env.Barrier()
	}
}

func (a *Actor) processMetrics(gate types.GateResult, metrics types.MetricsEnvelope) {
	if metrics.LegacyMetrics != nil {
		a.state.LastDeltaZ = metrics.LegacyMetrics.DeltaZ
		a.state.LastPrintsPerSecond = metrics.PrintsPerSecond
	}

	actions := decision.Evaluate(a.symbol, metrics.ExchangeEventTimeMs, gate, metrics, a.state, a.cfg, a.deps)

	record := types.DecisionRecord{
		Symbol: a.symbol, EventTimeMs: metrics.ExchangeEventTimeMs, CanonicalTimeMs: metrics.CanonicalTimeMs,
		Gate: gate, Metrics: metrics, Actions: actions, StateSnapshot: a.state.Clone(),
	}
	if a.cb.OnDecisionRecord != nil {
		a.cb.OnDecisionRecord(record)
	}

	hasAction := false
	for _, act := range actions {
		if act.Type != types.ActionNoop {
			hasAction = true
			break
		}
	}
	if hasAction && a.cb.OnActions != nil {
		a.cb.OnActions(a.symbol, actions, a.state)
	}
}

func (a *Actor) processExecution(ev types.ExecutionEvent) {
	switch ev.Type {
	case types.EventSystemHalt:
		a.state.Halted = true
	case types.EventSystemResume:
		a.state.Halted = false

	case types.EventOrderUpdate:
		if ev.Order == nil {
			return
		}
		if ev.Order.Status.IsTerminal() {
			delete(a.state.OpenOrders, ev.Order.OrderID)
		} else {
			a.state.OpenOrders[ev.Order.OrderID] = *ev.Order
		}
		a.state.RecomputeHasOpenEntryOrder()

	case types.EventOpenOrdersSnapshot:
		next := make(map[string]types.OpenOrder, len(ev.OpenOrders))
		for _, o := range ev.OpenOrders {
			next[o.OrderID] = o
		}
		a.state.OpenOrders = next
		a.state.RecomputeHasOpenEntryOrder()

	case types.EventTradeUpdate:
		a.applyTradeUpdate(ev)

	case types.EventAccountUpdate:
		a.applyAccountUpdate(ev)
	}
}

func (a *Actor) applyTradeUpdate(ev types.ExecutionEvent) {
	order, known := a.state.OpenOrders[ev.OrderID]
	if !known {
		return
	}

	latencyMs := ev.EventTimeMs - order.SentAtMs
	if latencyMs < 0 {
		latencyMs = 0
	}
	a.state.ExecQuality.PushLatency(latencyMs)

	if order.ExpectedPx.IsPositive() && ev.FillPrice.IsPositive() {
		diff := ev.FillPrice.Sub(order.ExpectedPx).Abs()
		slippageBps, _ := diff.Div(order.ExpectedPx).Mul(decimalTenThousand).Float64()
		a.state.ExecQuality.PushSlippage(slippageBps)
	}

	a.state.ExecQuality.Poor = avg(a.state.ExecQuality.RecentLatencyMs) > 2000 ||
		avgF(a.state.ExecQuality.RecentSlippageBps) > 30

	if order.Tag == "add" && a.state.Position != nil {
		if a.state.Position.AddsUsed < 2 {
			a.state.Position.AddsUsed++
		}
	}
}

func (a *Actor) applyAccountUpdate(ev types.ExecutionEvent) {
	a.state.AvailableBalance = ev.AvailableBalance
	a.state.WalletBalance = ev.WalletBalance

	if ev.PositionAmt.IsZero() {
		if a.state.Position != nil {
			cooldownMs := decision.ComputeCooldownMs(a.state.LastDeltaZ, a.state.LastPrintsPerSecond, a.cfg.CooldownMinMs, a.cfg.CooldownMaxMs)
			a.state.CooldownUntilMs = ev.EventTimeMs + cooldownMs
			a.state.LastExitEventTimeMs = ev.EventTimeMs
			a.state.Position = nil
		}
		return
	}

	side := types.PositionLong
	if ev.PositionAmt.IsNegative() {
		side = types.PositionShort
	}

	if a.state.Position == nil {
		a.state.Position = &types.Position{Side: side}
	}
	pos := a.state.Position
	pos.Side = side
	pos.Qty = ev.PositionAmt.Abs()
	pos.EntryPrice = ev.EntryPrice
	pos.UnrealizedPnLPct = ev.UnrealizedPnLPct
	pos.PeakPnLPct = math.Max(pos.PeakPnLPct, ev.UnrealizedPnLPct)
}

func avg(xs []int64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum int64
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func avgF(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
