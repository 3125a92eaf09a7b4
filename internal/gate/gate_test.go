package gate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/orderflow-engine/pkg/config"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// S4 — Gate V1 pass.
func TestGateV1Pass(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.GateMode = types.GateV1NoLatency
	cfg.MaxSpreadPct = 0.08
	cfg.MinObiDeep = 0.05

	env := types.MetricsEnvelope{
		SpreadPct:       0.01,
		PrintsPerSecond: 4,
		LegacyMetrics: &types.LegacyMetrics{
			ObiDeep:  0.3,
			DeltaZ:   1.1,
			CvdSlope: 0.2,
		},
	}
	result := Evaluate(env, cfg)
	require.True(t, result.Passed)
	require.Nil(t, result.NetworkLatencyMs)
}

// S5 — Gate V2 latency fail.
func TestGateV2LatencyFail(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.GateMode = types.GateV2NetworkLatency
	cfg.MaxNetworkLatencyMs = 100
	cfg.MaxSpreadPct = 0.08
	cfg.MinObiDeep = 0.05

	env := types.MetricsEnvelope{
		SpreadPct:           0.01,
		PrintsPerSecond:     4,
		CanonicalTimeMs:     2000,
		ExchangeEventTimeMs: 1,
		LegacyMetrics: &types.LegacyMetrics{
			ObiDeep:  0.3,
			DeltaZ:   1.1,
			CvdSlope: 0.2,
		},
	}
	result := Evaluate(env, cfg)
	require.False(t, result.Passed)
	require.NotNil(t, result.Reason)
	require.Equal(t, types.ReasonNetworkLatencyTooHigh, *result.Reason)
	require.NotNil(t, result.NetworkLatencyMs)
	require.EqualValues(t, 1999, *result.NetworkLatencyMs)
}

func TestGateMissingMetricsReason(t *testing.T) {
	cfg := config.DefaultConfig()
	result := Evaluate(types.MetricsEnvelope{}, cfg)
	require.False(t, result.Passed)
	require.Equal(t, types.ReasonMissingMetrics, *result.Reason)
}

func TestGateReasonPriorityPrefersSpreadOverLiquidity(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxSpreadPct = 0.01
	cfg.MinObiDeep = 0.5
	env := types.MetricsEnvelope{
		SpreadPct: 0.5, // fails both spread and liquidity
		LegacyMetrics: &types.LegacyMetrics{
			ObiDeep: 0.01,
		},
	}
	result := Evaluate(env, cfg)
	require.Equal(t, types.ReasonSpreadTooWide, *result.Reason)
}

func TestGatePurityDeterministic(t *testing.T) {
	cfg := config.DefaultConfig()
	env := types.MetricsEnvelope{
		SpreadPct: 0.01,
		LegacyMetrics: &types.LegacyMetrics{
			ObiDeep: 0.3, DeltaZ: 1, CvdSlope: 0.1,
		},
	}
	r1 := Evaluate(env, cfg)
	r2 := Evaluate(env, cfg)
	require.Equal(t, r1, r2)
}
