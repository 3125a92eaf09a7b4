package execution

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// Config carries the credentials and endpoints for a Binance USDT-M
// futures connection. Grounded on adapters.BinanceConfig, narrowed to the
// futures REST/WS hosts and the operations Connector exposes.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // default https://fapi.binance.com
	WSBaseURL string // default wss://fstream.binance.com/ws
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://fapi.binance.com"
	}
	if c.WSBaseURL == "" {
		c.WSBaseURL = "wss://fstream.binance.com/ws"
	}
	return c
}

// BinanceFutures implements Connector against Binance's USDT-M futures
// REST + user-data-stream API. Grounded on
// adapters.BinanceAdapter.{signedRequest,sign,PlaceOrder,CancelOrder}, with
// the spot-specific balance/ticker plumbing dropped in favor of the
// futures endpoints the connector contract actually needs.
type BinanceFutures struct {
	logger *zap.Logger
	cfg    Config

	httpClient *http.Client
	limiter    *rate.Limiter

	mu         sync.Mutex
	listenKey  string
	wsConn     *websocket.Conn
	events     chan types.ExecutionEvent
	cancelFunc context.CancelFunc
}

// NewBinanceFutures constructs a connector. Rate limiting follows Binance's
// documented 2400 req/min weight cap, approximated here as a flat
// request-per-second budget.
func NewBinanceFutures(logger *zap.Logger, cfg Config) *BinanceFutures {
	cfg = cfg.withDefaults()
	return &BinanceFutures{
		logger:     logger.Named("execution.binance_futures"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(20), 40),
		events:     make(chan types.ExecutionEvent, 1024),
	}
}

func (b *BinanceFutures) Events() <-chan types.ExecutionEvent { return b.events }

// Connect obtains a listenKey and opens the user-data-stream websocket.
func (b *BinanceFutures) Connect(ctx context.Context) error {
	listenKey, err := b.startUserDataStream(ctx)
	if err != nil {
		return fmt.Errorf("execution: start user data stream: %w", err)
	}

	b.mu.Lock()
	b.listenKey = listenKey
	runCtx, cancel := context.WithCancel(ctx)
	b.cancelFunc = cancel
	b.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(runCtx, b.cfg.WSBaseURL+"/"+listenKey, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("execution: dial user stream: %w", err)
	}

	b.mu.Lock()
	b.wsConn = conn
	b.mu.Unlock()

	go b.readLoop(runCtx, conn)
	go b.keepAliveLoop(runCtx)
	return nil
}

func (b *BinanceFutures) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelFunc != nil {
		b.cancelFunc()
	}
	if b.wsConn != nil {
		err := b.wsConn.Close()
		b.wsConn = nil
		return err
	}
	return nil
}

func (b *BinanceFutures) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.PlaceOrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity.String())
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	resp, err := b.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return types.PlaceOrderResult{}, fmt.Errorf("execution: place_order: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return types.PlaceOrderResult{}, fmt.Errorf("execution: place_order failed (%d): %s", resp.StatusCode, body)
	}

	var out struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return types.PlaceOrderResult{}, fmt.Errorf("execution: parse place_order response: %w", err)
	}
	return types.PlaceOrderResult{OrderID: strconv.FormatInt(out.OrderID, 10)}, nil
}

func (b *BinanceFutures) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	resp, err := b.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params)
	if err != nil {
		return fmt.Errorf("execution: cancel_order: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("execution: cancel_order failed (%d): %s", resp.StatusCode, body)
	}
	return nil
}

func (b *BinanceFutures) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	resp, err := b.signedRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	if err != nil {
		return fmt.Errorf("execution: cancel_all_open_orders: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("execution: cancel_all_open_orders failed (%d): %s", resp.StatusCode, body)
	}
	return nil
}

// ExpectedPrice returns the venue's current best ask (BUY) / best bid
// (SELL) from the book ticker, per spec.md §6. LIMIT quoting is not
// produced by DecisionEngine today, so only MARKET is handled.
func (b *BinanceFutures) ExpectedPrice(ctx context.Context, symbol string, side types.Side, orderType types.OrderType) (decimal.Decimal, bool) {
	if orderType != types.OrderTypeMarket {
		return decimal.Zero, false
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return decimal.Zero, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.BaseURL+"/fapi/v1/ticker/bookTicker?symbol="+symbol, nil)
	if err != nil {
		return decimal.Zero, false
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, false
	}

	var out struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, false
	}

	raw := out.AskPrice
	if side == types.SideSell {
		raw = out.BidPrice
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}

// unrealizedPnLPct normalizes Binance's raw unrealizedProfit (USDT) onto
// this codebase's percent-of-margin convention used by the
// profit-lock-drawdown and add-to-winner thresholds. initialMargin is the
// margin denominator: the REST account snapshot's initialMargin in
// SyncState, the user-data stream's isolated wallet figure ("iw") in
// ACCOUNT_UPDATE events. A non-positive margin (cross-margin positions
// report iw=0) yields 0 pct.
func unrealizedPnLPct(unrealizedProfit, initialMargin decimal.Decimal) float64 {
	if !initialMargin.IsPositive() {
		return 0
	}
	pct, _ := unrealizedProfit.Div(initialMargin).Float64()
	return pct
}

// SyncState requests a full account snapshot and emits it as
// ACCOUNT_UPDATE + OPEN_ORDERS_SNAPSHOT events per symbol.
func (b *BinanceFutures) SyncState(ctx context.Context, symbols []string) error {
	account, err := b.fetchAccount(ctx)
	if err != nil {
		return fmt.Errorf("execution: sync_state account: %w", err)
	}
	now := time.Now().UnixMilli()

	bySymbol := make(map[string][]types.OpenOrder)
	for _, sym := range symbols {
		orders, err := b.fetchOpenOrders(ctx, sym)
		if err != nil {
			b.logger.Warn("sync_state open orders failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		bySymbol[sym] = orders
	}

	for _, pos := range account.Positions {
		b.events <- types.ExecutionEvent{
			Type: types.EventAccountUpdate, Symbol: pos.Symbol, EventTimeMs: now,
			PositionAmt: pos.PositionAmt, EntryPrice: pos.EntryPrice,
			UnrealizedPnLPct: unrealizedPnLPct(pos.UnrealizedProfit, pos.InitialMargin),
		}
	}
	for sym, orders := range bySymbol {
		b.events <- types.ExecutionEvent{Type: types.EventOpenOrdersSnapshot, Symbol: sym, EventTimeMs: now, OpenOrders: orders}
	}
	return nil
}

func (b *BinanceFutures) signedRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Response, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	params.Set("signature", b.sign(query))

	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
	return b.httpClient.Do(req)
}

func (b *BinanceFutures) sign(data string) string {
	h := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

type futuresAccount struct {
	Positions []futuresPosition `json:"positions"`
}

type futuresPosition struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	UnrealizedProfit decimal.Decimal `json:"unrealizedProfit"`
	InitialMargin    decimal.Decimal `json:"initialMargin"`
}

func (b *BinanceFutures) fetchAccount(ctx context.Context) (*futuresAccount, error) {
	resp, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v2/account", url.Values{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get account failed (%d): %s", resp.StatusCode, body)
	}
	var out futuresAccount
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BinanceFutures) fetchOpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	resp, err := b.signedRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("get open orders failed (%d): %s", resp.StatusCode, body)
	}

	var raw []struct {
		OrderID    int64  `json:"orderId"`
		Side       string `json:"side"`
		OrigQty    string `json:"origQty"`
		ReduceOnly bool   `json:"reduceOnly"`
		Status     string `json:"status"`
		Price      string `json:"price"`
		Time       int64  `json:"time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	out := make([]types.OpenOrder, 0, len(raw))
	for _, o := range raw {
		qty, _ := decimal.NewFromString(o.OrigQty)
		px, _ := decimal.NewFromString(o.Price)
		out = append(out, types.OpenOrder{
			OrderID: strconv.FormatInt(o.OrderID, 10), Symbol: symbol, Side: types.Side(o.Side),
			Quantity: qty, ReduceOnly: o.ReduceOnly, Status: types.OrderStatus(o.Status),
			SentAtMs: o.Time, ExpectedPx: px,
		})
	}
	return out, nil
}

func (b *BinanceFutures) startUserDataStream(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ListenKey, nil
}

func (b *BinanceFutures) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.cfg.BaseURL+"/fapi/v1/listenKey", nil)
			if err != nil {
				continue
			}
			req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)
			if resp, err := b.httpClient.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}
}

// readLoop parses user-data-stream events and forwards them onto Events().
// A read error not caused by cancelling ctx (Disconnect cancels it first)
// is surfaced as a SYSTEM_HALT with an empty Symbol, which the
// orchestrator applies to every tracked symbol; the events channel is
// closed when the loop returns.
func (b *BinanceFutures) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(b.events)
	defer conn.Close()

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
			b.logger.Warn("user stream disconnected", zap.Error(err))
			if ctx.Err() == nil {
				b.events <- types.ExecutionEvent{Type: types.EventSystemHalt, EventTimeMs: time.Now().UnixMilli(), Reason: "user_stream_disconnect"}
			}
			return
		}
		ev, ok := parseUserStreamEvent(raw)
		if ok {
			b.events <- ev
		}
	}
}

type userStreamEnvelope struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

// parseUserStreamEvent maps Binance's ACCOUNT_UPDATE/ORDER_TRADE_UPDATE
// payload shapes onto types.ExecutionEvent. Only the fields the connector
// contract names are extracted; the rest of Binance's payload is ignored.
func parseUserStreamEvent(raw []byte) (types.ExecutionEvent, bool) {
	var env userStreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.ExecutionEvent{}, false
	}

	switch env.EventType {
	case "ACCOUNT_UPDATE":
		var payload struct {
			Update struct {
				Positions []struct {
					Symbol        string `json:"s"`
					PositionAmt   string `json:"pa"`
					EntryPrice    string `json:"ep"`
					UnrealizedPnL string `json:"up"`
					InitialMargin string `json:"iw"`
				} `json:"P"`
				Balances []struct {
					Asset         string `json:"a"`
					WalletBalance string `json:"wb"`
				} `json:"B"`
			} `json:"a"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return types.ExecutionEvent{}, false
		}
		if len(payload.Update.Positions) == 0 {
			return types.ExecutionEvent{}, false
		}
		p := payload.Update.Positions[0]
		amt, _ := decimal.NewFromString(p.PositionAmt)
		entry, _ := decimal.NewFromString(p.EntryPrice)
		upnl, _ := decimal.NewFromString(p.UnrealizedPnL)
		margin, _ := decimal.NewFromString(p.InitialMargin)
		var wallet decimal.Decimal
		if len(payload.Update.Balances) > 0 {
			wallet, _ = decimal.NewFromString(payload.Update.Balances[0].WalletBalance)
		}
		return types.ExecutionEvent{
			Type: types.EventAccountUpdate, Symbol: p.Symbol, EventTimeMs: env.EventTime,
			PositionAmt: amt, EntryPrice: entry, WalletBalance: wallet,
			UnrealizedPnLPct: unrealizedPnLPct(upnl, margin),
		}, true

	case "ORDER_TRADE_UPDATE":
		var payload struct {
			Order struct {
				Symbol        string `json:"s"`
				Side          string `json:"S"`
				OrigQty       string `json:"q"`
				Status        string `json:"X"`
				OrderID       int64  `json:"i"`
				ReduceOnly    bool   `json:"R"`
				FillPrice     string `json:"L"`
				FillQty       string `json:"l"`
				RealizedPnL   string `json:"rp"`
				ClientOrderID string `json:"c"`
			} `json:"o"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return types.ExecutionEvent{}, false
		}
		o := payload.Order
		status := mapFuturesOrderStatus(o.Status)
		ev := types.ExecutionEvent{
			Symbol: o.Symbol, EventTimeMs: env.EventTime,
			OrderID: strconv.FormatInt(o.OrderID, 10), OrderTag: o.ClientOrderID,
		}
		qty, _ := decimal.NewFromString(o.OrigQty)
		if status.IsTerminal() {
			fillPrice, _ := decimal.NewFromString(o.FillPrice)
			fillQty, _ := decimal.NewFromString(o.FillQty)
			realized, _ := decimal.NewFromString(o.RealizedPnL)
			ev.Type = types.EventTradeUpdate
			ev.FillPrice = fillPrice
			ev.FillQty = fillQty
			ev.RealizedPnL = realized
			return ev, true
		}
		ev.Type = types.EventOrderUpdate
		ev.Order = &types.OpenOrder{
			OrderID: ev.OrderID, Symbol: o.Symbol, Side: types.Side(o.Side), Quantity: qty,
			ReduceOnly: o.ReduceOnly, Status: status, SentAtMs: env.EventTime,
		}
		return ev, true
	}
	return types.ExecutionEvent{}, false
}

func mapFuturesOrderStatus(s string) types.OrderStatus {
	switch s {
	case "FILLED":
		return types.OrderFilled
	case "CANCELED":
		return types.OrderCanceled
	case "REJECTED":
		return types.OrderRejected
	case "EXPIRED":
		return types.OrderExpired
	case "PARTIALLY_FILLED":
		return types.OrderPartial
	default:
		return types.OrderNew
	}
}
