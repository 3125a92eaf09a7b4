package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/internal/execlog"
	"github.com/atlas-desktop/orderflow-engine/internal/orchestrator"
	"github.com/atlas-desktop/orderflow-engine/pkg/config"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// noopConnector satisfies execution.Connector without touching a network;
// replay dispatches no orders (executeActions is gated by
// execution_enabled, left false here). ExpectedPrice is still called by
// DecisionEngine for sizing and reports no quote; the other methods are
// unused in practice but must exist to satisfy the interface.
type noopConnector struct {
	events chan types.ExecutionEvent
}

func newNoopConnector() *noopConnector { return &noopConnector{events: make(chan types.ExecutionEvent)} }

func (c *noopConnector) PlaceOrder(context.Context, types.OrderRequest) (types.PlaceOrderResult, error) {
	return types.PlaceOrderResult{}, nil
}
func (c *noopConnector) CancelOrder(context.Context, string, string) error   { return nil }
func (c *noopConnector) CancelAllOpenOrders(context.Context, string) error   { return nil }
func (c *noopConnector) ExpectedPrice(context.Context, string, types.Side, types.OrderType) (decimal.Decimal, bool) {
	return decimal.Zero, false
}
func (c *noopConnector) Events() <-chan types.ExecutionEvent { return c.events }
func (c *noopConnector) SyncState(context.Context, []string) error { return nil }
func (c *noopConnector) Connect(context.Context) error             { return nil }
func (c *noopConnector) Disconnect() error                         { return nil }

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

func newTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	cfg := config.DefaultConfig()
	lg := execlog.New(t.TempDir(), 100, 200, nil, zap.NewNop())
	t.Cleanup(lg.Close)
	return orchestrator.New(cfg, newNoopConnector(), lg, zap.NewNop())
}

func metricsLineJSON(eventTimeMs int64, deltaZ float64) string {
	return `{"canonical_time_ms":` + itoa(eventTimeMs) + `,"exchange_event_time_ms":` + itoa(eventTimeMs) +
		`,"symbol":"BTCUSDT","gate":{"passed":true,"mode":"V1_NO_LATENCY"},"metrics":{"symbol":"BTCUSDT","canonical_time_ms":` + itoa(eventTimeMs) +
		`,"exchange_event_time_ms":` + itoa(eventTimeMs) + `,"prints_per_second":5,"spread_pct":0.01,"legacyMetrics":{"delta_z":` + ftoa(deltaZ) + `,"cvd_slope":0.1,"obi_deep":0.1}}}`
}

func metricsOnlyLineJSON(eventTimeMs int64, deltaZ float64) string {
	return `{"canonical_time_ms":` + itoa(eventTimeMs) + `,"exchange_event_time_ms":` + itoa(eventTimeMs) +
		`,"symbol":"BTCUSDT","metrics":{"symbol":"BTCUSDT","canonical_time_ms":` + itoa(eventTimeMs) +
		`,"exchange_event_time_ms":` + itoa(eventTimeMs) + `,"prints_per_second":5,"spread_pct":0.01,"legacyMetrics":{"delta_z":` + ftoa(deltaZ) + `,"cvd_slope":0.1,"obi_deep":0.1}}}`
}

func itoa(v int64) string {
	return (func() string {
		b := make([]byte, 0, 20)
		if v == 0 {
			return "0"
		}
		neg := v < 0
		if neg {
			v = -v
		}
		for v > 0 {
			b = append([]byte{byte('0' + v%10)}, b...)
			v /= 10
		}
		if neg {
			b = append([]byte{'-'}, b...)
		}
		return string(b)
	})()
}

func ftoa(f float64) string {
	// Simple fixed-format helper sufficient for test fixtures.
	neg := f < 0
	if neg {
		f = -f
	}
	whole := int64(f)
	frac := int64((f - float64(whole)) * 100)
	s := itoa(whole) + "." + itoa(frac)
	if neg {
		s = "-" + s
	}
	return s
}

func TestRunProducesStableDeterminismHashes(t *testing.T) {
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "metrics.jsonl")
	executionPath := filepath.Join(dir, "execution.jsonl")

	writeLines(t, metricsPath, []string{
		metricsLineJSON(1000, 2.0),
		metricsLineJSON(2000, -4.0),
	})
	writeLines(t, executionPath, []string{})

	orch1 := newTestOrchestrator(t)
	result1, err := Run(orch1, metricsPath, executionPath)
	require.NoError(t, err)

	orch2 := newTestOrchestrator(t)
	result2, err := Run(orch2, metricsPath, executionPath)
	require.NoError(t, err)

	require.Equal(t, result1.DecisionHash, result2.DecisionHash)
	require.Equal(t, result1.FinalStateHash, result2.FinalStateHash)
	require.NotEmpty(t, result1.DecisionLedger)
}

func TestRunMergesByEventTimeAcrossStreams(t *testing.T) {
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "metrics.jsonl")
	executionPath := filepath.Join(dir, "execution.jsonl")

	writeLines(t, metricsPath, []string{metricsLineJSON(5000, 1.0)})
	writeLines(t, executionPath, []string{
		`{"event":{"type":"SYSTEM_HALT","symbol":"BTCUSDT","event_time_ms":1000},"state":null}`,
		`{"event":{"type":"SYSTEM_RESUME","symbol":"BTCUSDT","event_time_ms":2000},"state":null}`,
	})

	orch := newTestOrchestrator(t)
	result, err := Run(orch, metricsPath, executionPath)
	require.NoError(t, err)

	st := result.FinalState["BTCUSDT"]
	require.NotNil(t, st)
	require.False(t, st.Halted)
}

func TestRunFallsBackToIngestWhenGateMissing(t *testing.T) {
	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "metrics.jsonl")
	executionPath := filepath.Join(dir, "execution.jsonl")

	writeLines(t, metricsPath, []string{metricsOnlyLineJSON(1000, 2.0)})
	writeLines(t, executionPath, []string{})

	orch := newTestOrchestrator(t)
	result, err := Run(orch, metricsPath, executionPath)
	require.NoError(t, err)

	require.NotEmpty(t, result.DecisionLedger)
	st := result.FinalState["BTCUSDT"]
	require.NotNil(t, st)
}
