package book

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// BinanceRestClient implements RestClient against Binance USDT-M futures'
// unauthenticated depth-snapshot endpoint. Grounded on
// adapters.BinanceAdapter's plain http.Client GET pattern, narrowed to the
// one public, unsigned call SnapshotFetcher needs.
type BinanceRestClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBinanceRestClient constructs a client against baseURL (e.g.
// "https://fapi.binance.com").
func NewBinanceRestClient(baseURL string) *BinanceRestClient {
	return &BinanceRestClient{baseURL: baseURL, httpClient: &http.Client{Timeout: restTimeout}}
}

type wireDepthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// FetchDepthSnapshot fetches a 1000-level order book snapshot for symbol.
func (c *BinanceRestClient) FetchDepthSnapshot(ctx context.Context, symbol string) (types.Snapshot, error) {
	url := fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=1000", c.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.Snapshot{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.Snapshot{}, fmt.Errorf("rest_timeout: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
		retryAfter := 60 * time.Second
		if h := resp.Header.Get("Retry-After"); h != "" {
			if secs, err := strconv.Atoi(h); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return types.Snapshot{}, &RateLimitError{RetryAfter: retryAfter}
	}
	if resp.StatusCode != http.StatusOK {
		return types.Snapshot{}, fmt.Errorf("rest_http_error: unexpected status %d for %s", resp.StatusCode, symbol)
	}

	var wire wireDepthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return types.Snapshot{}, fmt.Errorf("rest_http_error: decode snapshot for %s: %w", symbol, err)
	}

	bids, err := decodeLevels(wire.Bids)
	if err != nil {
		return types.Snapshot{}, err
	}
	asks, err := decodeLevels(wire.Asks)
	if err != nil {
		return types.Snapshot{}, err
	}
	return types.Snapshot{LastUpdateID: wire.LastUpdateID, Bids: bids, Asks: asks}, nil
}

func decodeLevels(raw [][]string) ([]types.PriceLevel, error) {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) != 2 {
			return nil, fmt.Errorf("rest_http_error: malformed price level %v", pair)
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("rest_http_error: bad price %q: %w", pair[0], err)
		}
		size, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("rest_http_error: bad size %q: %w", pair[1], err)
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}
