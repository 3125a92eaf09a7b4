package execlog

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

func TestLogMetricsWritesJSONLByUTCDate(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 100, 200, nil, zap.NewNop())
	t.Cleanup(l.Close)

	eventTime := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC).UnixMilli()
	l.LogMetrics("BTCUSDT", eventTime, eventTime, types.GateResult{Passed: true}, types.MetricsEnvelope{Symbol: "BTCUSDT"})
	l.Close()

	path := filepath.Join(dir, "metrics_20260102.jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	require.Contains(t, scanner.Text(), "BTCUSDT")
}

func TestEnqueueOverflowIncrementsDropCounters(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, 1, 200, nil, zap.NewNop())
	t.Cleanup(l.Close)

	for i := 0; i < 50; i++ {
		l.enqueue(logItem{kind: streamMetrics, eventTimeMs: time.Now().UnixMilli(), payload: map[string]int{"i": i}})
	}

	require.Greater(t, l.DropTotal(), int64(0))
}

func TestDropSpikeInvokesCallback(t *testing.T) {
	dir := t.TempDir()
	var called int64
	l := New(dir, 1, 1, func(n int64) { called = n }, zap.NewNop())
	t.Cleanup(l.Close)

	l.dropWindow.Store(5)
	l.checkDropWindow()
	require.Equal(t, int64(5), called)
}
