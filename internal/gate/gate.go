// Package gate implements the pure data-quality gate (spec.md §4.5):
// gate(envelope, config) -> GateResult. It has no side effects and depends
// only on its arguments (invariant 4, spec.md §8).
package gate

import (
	"math"

	"github.com/atlas-desktop/orderflow-engine/pkg/config"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// Evaluate runs the configured gate mode against one metrics envelope.
//
// V1_NO_LATENCY passes iff all required metrics are finite numbers,
// spread_pct <= max_spread_pct, and |obi_deep| >= min_obi_deep;
// network_latency_ms is always nil in this mode (spec.md §9 open question:
// V1 must never gate on latency).
//
// V2_NETWORK_LATENCY additionally requires
// max(0, canonical_time_ms - exchange_event_time_ms) <= max_network_latency_ms.
//
// Reason priority when multiple checks fail:
// missing_metrics > spread_too_wide > insufficient_liquidity > network_latency_too_high.
func Evaluate(env types.MetricsEnvelope, cfg *config.Config) types.GateResult {
	result := types.GateResult{Mode: cfg.GateMode}

	metricsPresent := env.LegacyMetrics != nil &&
		isFinite(env.SpreadPct) &&
		isFinite(env.LegacyMetrics.ObiDeep) &&
		isFinite(env.LegacyMetrics.DeltaZ) &&
		isFinite(env.LegacyMetrics.CvdSlope) &&
		isFinite(env.PrintsPerSecond)

	result.Checks.MetricsPresent = metricsPresent

	if !metricsPresent {
		reason := types.ReasonMissingMetrics
		result.Reason = &reason
		result.NetworkLatencyMs = nil
		return result
	}

	spreadOK := env.SpreadPct <= cfg.MaxSpreadPct
	liquidityOK := math.Abs(env.LegacyMetrics.ObiDeep) >= cfg.MinObiDeep
	result.Checks.SpreadOK = spreadOK
	result.Checks.LiquidityOK = liquidityOK

	var networkOK = true
	var latencyMs *int64
	if cfg.GateMode == types.GateV2NetworkLatency {
		lat := env.CanonicalTimeMs - env.ExchangeEventTimeMs
		if lat < 0 {
			lat = 0
		}
		latencyMs = &lat
		networkOK = lat <= cfg.MaxNetworkLatencyMs
	}
	result.Checks.NetworkLatencyOK = networkOK
	result.NetworkLatencyMs = latencyMs

	switch {
	case !spreadOK:
		reason := types.ReasonSpreadTooWide
		result.Reason = &reason
	case !liquidityOK:
		reason := types.ReasonInsufficientLiquidity
		result.Reason = &reason
	case !networkOK:
		reason := types.ReasonNetworkLatencyTooHigh
		result.Reason = &reason
	}

	result.Passed = result.Reason == nil
	return result
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
