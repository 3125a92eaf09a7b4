package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/internal/book"
	"github.com/atlas-desktop/orderflow-engine/internal/broadcast"
	"github.com/atlas-desktop/orderflow-engine/internal/execlog"
	"github.com/atlas-desktop/orderflow-engine/internal/ingest"
	"github.com/atlas-desktop/orderflow-engine/pkg/config"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

type fakeRestClient struct{}

func (fakeRestClient) FetchDepthSnapshot(context.Context, string) (types.Snapshot, error) {
	return types.Snapshot{}, nil
}

type fakeSource struct{}

func (fakeSource) Connect(context.Context, []string) (<-chan types.DepthDiff, <-chan types.Trade, <-chan error) {
	d := make(chan types.DepthDiff)
	tr := make(chan types.Trade)
	e := make(chan error)
	close(d)
	close(tr)
	close(e)
	return d, tr, e
}

func newTestServer(t *testing.T) *Server {
	cfg := config.DefaultConfig()
	fetcher := book.NewFetcher(fakeRestClient{}, zap.NewNop(), book.FetcherConfig{
		MinBackoffMs: cfg.SnapshotBackoffMinMs, MaxBackoffMs: cfg.SnapshotBackoffMaxMs, MinIntervalMs: cfg.SnapshotMinIntervalMs,
	}, nil)
	g := broadcast.New(cfg.BroadcastThrottleMs, nil, nil)
	ing := ingest.New(cfg, fakeSource{}, fetcher, g, zap.NewNop())
	lg := execlog.New(t.TempDir(), 100, 200, nil, zap.NewNop())
	t.Cleanup(lg.Close)

	hub := NewHub(zap.NewNop(), nil)
	go hub.Run()

	return NewServer(DefaultServerConfig(), zap.NewNop(), hub, ing, fetcher, lg)
}

func TestHandleHealthzReturnsOK(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealthz(rec, req)

	require.Equal(t, 200, rec.Code)

	var resp healthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Book)
}
