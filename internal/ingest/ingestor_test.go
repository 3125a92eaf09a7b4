package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/internal/book"
	"github.com/atlas-desktop/orderflow-engine/internal/broadcast"
	"github.com/atlas-desktop/orderflow-engine/pkg/config"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

type nopSource struct{}

func (nopSource) Connect(ctx context.Context, symbols []string) (<-chan types.DepthDiff, <-chan types.Trade, <-chan error) {
	d := make(chan types.DepthDiff)
	tr := make(chan types.Trade)
	e := make(chan error)
	return d, tr, e
}

// countingRestClient records how many snapshots were requested.
type countingRestClient struct{ calls atomic.Int32 }

func (c *countingRestClient) FetchDepthSnapshot(context.Context, string) (types.Snapshot, error) {
	c.calls.Add(1)
	return types.Snapshot{}, nil
}

func newTestIngestor(t *testing.T, onIngest func(types.MetricsEnvelope)) (*Ingestor, *countingRestClient) {
	cfg := config.DefaultConfig()
	client := &countingRestClient{}
	fetcher := book.NewFetcher(client, zap.NewNop(), book.FetcherConfig{MinBackoffMs: 5000, MaxBackoffMs: 120000, MinIntervalMs: 60000}, nil)
	bgate := broadcast.New(0, onIngest, nil)
	return New(cfg, nopSource{}, fetcher, bgate, zap.NewNop()), client
}

func TestHandleDepthUnseededTriggersSnapshot(t *testing.T) {
	var emitted int
	ing, client := newTestIngestor(t, func(types.MetricsEnvelope) { emitted++ })
	ing.handleDepthForSymbol(context.Background(), "BTCUSDT", types.DepthDiff{Symbol: "BTCUSDT", U: 1, U2: 1})
	// Buffered outcome while UNSEEDED: no broadcast fires yet.
	require.Equal(t, 0, emitted)
	require.Eventually(t, func() bool { return client.calls.Load() > 0 }, time.Second, time.Millisecond)
}

func TestHandleDepthAppliedTriggersBroadcast(t *testing.T) {
	var emitted int
	ing, _ := newTestIngestor(t, func(types.MetricsEnvelope) { emitted++ })
	p := ing.pipelineFor("BTCUSDT")
	p.book.ApplySnapshot(types.Snapshot{LastUpdateID: 100})

	ing.handleDepthForSymbol(context.Background(), "BTCUSDT", types.DepthDiff{Symbol: "BTCUSDT", U: 101, U2: 101})
	require.Equal(t, 1, emitted)
}

func TestHandleTradeUpdatesTapeAndBroadcasts(t *testing.T) {
	var emitted int
	ing, _ := newTestIngestor(t, func(types.MetricsEnvelope) { emitted++ })
	p := ing.pipelineFor("BTCUSDT")
	p.book.ApplySnapshot(types.Snapshot{LastUpdateID: 1})

	qty := decimal.NewFromInt(1)
	ing.handleTradeForSymbol("BTCUSDT", types.Trade{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: qty, EventTimeMs: 1})
	require.Equal(t, 1, emitted)
	require.Equal(t, 1, p.tape.Snapshot().TradeCount)
}
