package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// WSSource is the reference Source implementation: one multiplexed
// gorilla/websocket connection carrying a depth-diff stream (~100ms
// cadence) and an aggTrade stream per symbol (spec.md §6). Grounded on
// the shape of binance.go's subscribeToStreams/readWebSocket/
// handleWebSocketMessage, trimmed to the observable contract only — no
// authenticated/user-data handling lives here (out of scope, §1).
type WSSource struct {
	baseURL string
	logger  *zap.Logger
}

// NewWSSource constructs a WSSource against a multiplexed combined-stream
// endpoint, e.g. "wss://fstream.example.com/stream".
func NewWSSource(baseURL string, logger *zap.Logger) *WSSource {
	return &WSSource{baseURL: baseURL, logger: logger.Named("ingest.ws")}
}

type combinedStreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wireDepthDiff struct {
	U  int64      `json:"U"`
	U2 int64      `json:"u"`
	B  [][]string `json:"b"`
	A  [][]string `json:"a"`
}

type wireTrade struct {
	P string `json:"p"`
	Q string `json:"q"`
	T int64  `json:"T"`
	M bool   `json:"m"`
}

// Connect dials the combined stream for the given symbols and starts a
// background reader. The returned channels close when the connection drops;
// the caller (FeedIngestor) is responsible for reconnecting.
func (w *WSSource) Connect(ctx context.Context, symbols []string) (<-chan types.DepthDiff, <-chan types.Trade, <-chan error) {
	depthCh := make(chan types.DepthDiff, 256)
	tradeCh := make(chan types.Trade, 256)
	errCh := make(chan error, 1)

	url := w.streamURL(symbols)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		errCh <- fmt.Errorf("ingest: dial %s: %w", url, err)
		close(depthCh)
		close(tradeCh)
		close(errCh)
		return depthCh, tradeCh, errCh
	}

	go w.readLoop(ctx, conn, depthCh, tradeCh, errCh)
	return depthCh, tradeCh, errCh
}

func (w *WSSource) streamURL(symbols []string) string {
	parts := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		lower := strings.ToLower(s)
		parts = append(parts, lower+"@depth", lower+"@aggTrade")
	}
	return w.baseURL + "?streams=" + strings.Join(parts, "/")
}

func (w *WSSource) readLoop(ctx context.Context, conn *websocket.Conn, depthCh chan<- types.DepthDiff, tradeCh chan<- types.Trade, errCh chan<- error) {
	defer conn.Close()
	defer close(depthCh)
	defer close(tradeCh)
	defer close(errCh)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			errCh <- fmt.Errorf("ingest: feed_disconnect: %w", err)
			return
		}
		if err := w.dispatch(raw, depthCh, tradeCh); err != nil {
			w.logger.Warn("unparsable feed message", zap.Error(err))
		}
	}
}

func (w *WSSource) dispatch(raw []byte, depthCh chan<- types.DepthDiff, tradeCh chan<- types.Trade) error {
	var env combinedStreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	symbol := strings.ToUpper(strings.SplitN(env.Stream, "@", 2)[0])

	switch {
	case strings.HasSuffix(env.Stream, "@depth"):
		var wd wireDepthDiff
		if err := json.Unmarshal(env.Data, &wd); err != nil {
			return err
		}
		diff, err := toDepthDiff(symbol, wd)
		if err != nil {
			return err
		}
		depthCh <- diff
	case strings.HasSuffix(env.Stream, "@aggTrade"):
		var wt wireTrade
		if err := json.Unmarshal(env.Data, &wt); err != nil {
			return err
		}
		trade, err := toTrade(symbol, wt)
		if err != nil {
			return err
		}
		tradeCh <- trade
	}
	return nil
}

func toDepthDiff(symbol string, wd wireDepthDiff) (types.DepthDiff, error) {
	bids, err := toLevels(wd.B)
	if err != nil {
		return types.DepthDiff{}, err
	}
	asks, err := toLevels(wd.A)
	if err != nil {
		return types.DepthDiff{}, err
	}
	return types.DepthDiff{
		Symbol: symbol,
		U:      wd.U, U2: wd.U2,
		Bids: bids, Asks: asks,
		EventTimeMs: time.Now().UnixMilli(),
	}, nil
}

func toLevels(raw [][]string) ([]types.DepthDiffLevel, error) {
	out := make([]types.DepthDiffLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("ingest: malformed level %v", pair)
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, err
		}
		size, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, types.DepthDiffLevel{Price: price, Size: size})
	}
	return out, nil
}

func toTrade(symbol string, wt wireTrade) (types.Trade, error) {
	price, err := decimal.NewFromString(wt.P)
	if err != nil {
		return types.Trade{}, err
	}
	qty, err := decimal.NewFromString(wt.Q)
	if err != nil {
		return types.Trade{}, err
	}
	side := types.SideBuy
	if wt.M {
		side = types.SideSell
	}
	return types.Trade{Symbol: symbol, Price: price, Quantity: qty, Side: side, EventTimeMs: wt.T}, nil
}
