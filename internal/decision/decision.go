// Package decision implements DecisionEngine (spec.md §4.6): a pure
// mapping (gate result, metrics, symbol state) -> ordered DecisionAction
// list. The one external collaborator it takes, ExpectedPriceFn, resolves
// a market-order quote; Evaluate calls it itself when it needs a price for
// sizing. Apart from that call DecisionEngine performs no I/O and mutates
// no state, so the same (gate, metrics, state) and the same quote always
// yield the same actions.
package decision

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/orderflow-engine/pkg/config"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// ExpectedPriceFn resolves the market-order quote DecisionEngine needs to
// size an entry or add. ok is false when no quote is currently available
// (e.g. connector disconnected), in which case the engine NOOPs rather than
// sizing against a stale or zero price.
type ExpectedPriceFn func(symbol string, side types.Side) (price decimal.Decimal, ok bool)

// Deps bundles DecisionEngine's one external collaborator.
type Deps struct {
	ExpectedPrice ExpectedPriceFn
}

// Evaluate runs the full rule set for one symbol at one point in time and
// returns an ordered action list, never empty (an empty result is coerced
// to [NOOP]).
func Evaluate(symbol string, eventTimeMs int64, gate types.GateResult, metrics types.MetricsEnvelope, state *types.SymbolState, cfg *config.Config, deps Deps) []types.DecisionAction {
	// Rule 1.
	if !gate.Passed {
		reason := "gate_fail:unknown"
		if gate.Reason != nil {
			reason = "gate_fail:" + string(*gate.Reason)
		}
		return []types.DecisionAction{types.Noop(symbol, eventTimeMs, reason)}
	}

	var actions []types.DecisionAction

	// Rule 2.
	if state.Halted && state.HasOpenEntryOrder {
		actions = append(actions, types.DecisionAction{
			Type: types.ActionCancelOpenEntryOrders, Symbol: symbol, EventTimeMs: eventTimeMs,
			Reason: "halted_with_open_entry_order",
		})
	}

	if state.Position == nil {
		actions = append(actions, evaluateEntry(symbol, eventTimeMs, metrics, state, cfg, deps)...)
	} else {
		actions = append(actions, evaluatePosition(symbol, eventTimeMs, metrics, state, cfg, deps)...)
	}

	if len(actions) == 0 {
		actions = append(actions, types.Noop(symbol, eventTimeMs, "noop"))
	}
	return actions
}

// evaluateEntry implements rule 3.
func evaluateEntry(symbol string, eventTimeMs int64, metrics types.MetricsEnvelope, state *types.SymbolState, cfg *config.Config, deps Deps) []types.DecisionAction {
	switch {
	case state.Halted:
		return []types.DecisionAction{types.Noop(symbol, eventTimeMs, "halted")}
	case state.HasOpenEntryOrder:
		return []types.DecisionAction{types.Noop(symbol, eventTimeMs, "has_open_entry_order")}
	case len(state.OpenOrders) > 0:
		return []types.DecisionAction{types.Noop(symbol, eventTimeMs, "open_orders_present")}
	case eventTimeMs < state.CooldownUntilMs:
		return []types.DecisionAction{types.Noop(symbol, eventTimeMs, "cooldown")}
	}

	if metrics.LegacyMetrics == nil {
		return []types.DecisionAction{types.Noop(symbol, eventTimeMs, "missing_metrics")}
	}

	side := signSide(metrics.LegacyMetrics.DeltaZ)
	if side == "" {
		return []types.DecisionAction{types.Noop(symbol, eventTimeMs, "delta_z_flat")}
	}

	price, ok := deps.ExpectedPrice(symbol, side)
	if !ok || !price.IsPositive() {
		return []types.DecisionAction{types.Noop(symbol, eventTimeMs, "no_expected_price")}
	}

	qty := probeQuantity(cfg, price)
	if !qty.IsPositive() {
		return []types.DecisionAction{types.Noop(symbol, eventTimeMs, "probe_qty_not_positive")}
	}

	return []types.DecisionAction{{
		Type: types.ActionEntryProbe, Symbol: symbol, EventTimeMs: eventTimeMs,
		Reason: "entry_probe", Side: side, Quantity: qty, ReduceOnly: false, ExpectedPrice: price,
	}}
}

// evaluatePosition implements rule 4: exits are first-match-wins; adds are
// only considered once no exit fired this tick.
func evaluatePosition(symbol string, eventTimeMs int64, metrics types.MetricsEnvelope, state *types.SymbolState, cfg *config.Config, deps Deps) []types.DecisionAction {
	pos := state.Position

	if pos.PeakPnLPct > 0.5 && (pos.PeakPnLPct-pos.UnrealizedPnLPct) > 0.2 {
		return []types.DecisionAction{exitMarket(symbol, eventTimeMs, pos, deps, "profit_lock_drawdown")}
	}

	if metrics.LegacyMetrics != nil {
		dz := metrics.LegacyMetrics.DeltaZ
		slope := metrics.LegacyMetrics.CvdSlope
		if pos.Side == types.PositionLong && dz < -3 && slope < -0.5 {
			return []types.DecisionAction{exitMarket(symbol, eventTimeMs, pos, deps, "reversal_exit_long")}
		}
		if pos.Side == types.PositionShort && dz > 3 && slope > 0.5 {
			return []types.DecisionAction{exitMarket(symbol, eventTimeMs, pos, deps, "reversal_exit_short")}
		}
	}

	if state.ExecQuality.Poor && len(state.ExecQuality.RecentLatencyMs) >= 3 {
		return []types.DecisionAction{exitMarket(symbol, eventTimeMs, pos, deps, "emergency_exec_quality_exit")}
	}

	if !state.Halted && pos.AddsUsed < 2 && pos.UnrealizedPnLPct > 0.10 && !state.ExecQuality.Poor && metrics.LegacyMetrics != nil {
		side := signSide(metrics.LegacyMetrics.DeltaZ)
		matches := (side == types.SideBuy && pos.Side == types.PositionLong) || (side == types.SideSell && pos.Side == types.PositionShort)
		if matches {
			if price, ok := deps.ExpectedPrice(symbol, side); ok && price.IsPositive() {
				qty := probeQuantity(cfg, price)
				if qty.IsPositive() {
					return []types.DecisionAction{{
						Type: types.ActionAddPosition, Symbol: symbol, EventTimeMs: eventTimeMs,
						Reason: "add_to_winner", Side: side, Quantity: qty, ReduceOnly: false,
						ExpectedPrice: price, Tag: "add",
					}}
				}
			}
		}
	}

	return nil
}

func exitMarket(symbol string, eventTimeMs int64, pos *types.Position, deps Deps, reason string) types.DecisionAction {
	exitSide := types.SideSell
	if pos.Side == types.PositionShort {
		exitSide = types.SideBuy
	}
	price, _ := deps.ExpectedPrice(symbol, exitSide)
	return types.DecisionAction{
		Type: types.ActionExitMarket, Symbol: symbol, EventTimeMs: eventTimeMs,
		Reason: reason, Side: exitSide, Quantity: pos.Qty, ReduceOnly: true, ExpectedPrice: price,
	}
}

// probeQuantity implements spec.md §9's documented (and flagged-ambiguous)
// sizing formula: initial_margin * max_leverage / expected_price, rounded
// to 6 decimals. Commentary in the source this was distilled from suggests
// a risk_per_trade_percent formula may have been intended instead; this
// preserves the existing documented behavior rather than silently
// resolving the ambiguity (spec.md §9 open question).
func probeQuantity(cfg *config.Config, price decimal.Decimal) decimal.Decimal {
	margin := cfg.CapitalSettings.InitialMarginUSDT
	leverage := cfg.CapitalSettings.MaxLeverage
	if margin <= 0 || leverage <= 0 {
		return decimal.Zero
	}
	notional := decimal.NewFromFloat(margin * leverage)
	qty := notional.DivRound(price, 6)
	return qty
}

func signSide(deltaZ float64) types.Side {
	switch {
	case deltaZ > 0:
		return types.SideBuy
	case deltaZ < 0:
		return types.SideSell
	default:
		return ""
	}
}

// ComputeCooldownMs implements the cooldown formula (spec.md §4.6):
// clamp(round(200 * (|delta_z| + prints_per_second/10)), min, max). The
// actor calls this on exit using the delta_z/prints_per_second cached from
// the most recent metrics envelope (spec.md §4.7), not values from the
// execution event that triggered the exit.
func ComputeCooldownMs(lastDeltaZ, lastPrintsPerSecond float64, minMs, maxMs int64) int64 {
	raw := int64(math.Round(200 * (math.Abs(lastDeltaZ) + lastPrintsPerSecond/10)))
	return clamp(raw, minMs, maxMs)
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
