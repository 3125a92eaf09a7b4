package orchestrator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/internal/execlog"
	"github.com/atlas-desktop/orderflow-engine/pkg/config"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

type noopConnector struct{ events chan types.ExecutionEvent }

func newNoopConnector() *noopConnector { return &noopConnector{events: make(chan types.ExecutionEvent)} }

func (c *noopConnector) PlaceOrder(context.Context, types.OrderRequest) (types.PlaceOrderResult, error) {
	return types.PlaceOrderResult{}, nil
}
func (c *noopConnector) CancelOrder(context.Context, string, string) error { return nil }
func (c *noopConnector) CancelAllOpenOrders(context.Context, string) error { return nil }
func (c *noopConnector) ExpectedPrice(context.Context, string, types.Side, types.OrderType) (decimal.Decimal, bool) {
	return decimal.Zero, false
}
func (c *noopConnector) Events() <-chan types.ExecutionEvent      { return c.events }
func (c *noopConnector) SyncState(context.Context, []string) error { return nil }
func (c *noopConnector) Connect(context.Context) error              { return nil }
func (c *noopConnector) Disconnect() error                          { return nil }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *config.Config) {
	cfg := config.DefaultConfig()
	lg := execlog.New(t.TempDir(), 100, 200, nil, zap.NewNop())
	t.Cleanup(lg.Close)
	return New(cfg, newNoopConnector(), lg, zap.NewNop()), cfg
}

func TestSetCapitalSettingsMutatesSharedConfig(t *testing.T) {
	orch, cfg := newTestOrchestrator(t)

	orch.SetCapitalSettings(config.CapitalSettings{InitialMarginUSDT: 250, MaxLeverage: 20})

	require.Equal(t, 250.0, cfg.CapitalSettings.InitialMarginUSDT)
	require.Equal(t, 20.0, cfg.CapitalSettings.MaxLeverage)
}
