package book

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/orderflow-engine/internal/errkind"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

const (
	consecutiveErrorsBeforeStale = 4
	restTimeout                  = 10 * time.Second
)

// RestClient is the narrow REST contract SnapshotFetcher depends on. A real
// implementation lives behind the exchange connector, which is out of scope
// beyond this observable contract (spec.md §1).
type RestClient interface {
	// FetchDepthSnapshot fetches {lastUpdateId, bids, asks} for symbol,
	// limit=1000. On an HTTP 429/418, err must be a *RateLimitError.
	FetchDepthSnapshot(ctx context.Context, symbol string) (types.Snapshot, error)
}

// RateLimitError signals a 429/418 response; RetryAfter is the venue's
// advertised backoff window.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return "rest_rate_limit: retry after " + e.RetryAfter.String() }

type symbolFetchState struct {
	lastAttemptMs    int64
	lastOKMs         int64
	backoffMs        int64
	consecutiveErrs  int
}

// Fetcher is the rate-limited REST snapshot fetcher described in
// spec.md §4.2.
type Fetcher struct {
	client RestClient
	logger *zap.Logger
	limiter *rate.Limiter

	minBackoffMs int64
	maxBackoffMs int64
	minIntervalMs int64

	mu                sync.Mutex
	perSymbol         map[string]*symbolFetchState
	globalBackoffUntilMs int64

	books map[string]*State
	onStale func(symbol string)
}

// FetcherConfig bundles the tunables SnapshotFetcher needs.
type FetcherConfig struct {
	MinBackoffMs  int64
	MaxBackoffMs  int64
	MinIntervalMs int64
}

// NewFetcher constructs a Fetcher. onStale is invoked once a symbol escalates
// to STALE after repeated consecutive failures.
func NewFetcher(client RestClient, logger *zap.Logger, cfg FetcherConfig, onStale func(symbol string)) *Fetcher {
	return &Fetcher{
		client:        client,
		logger:        logger.Named("snapshot"),
		limiter:       rate.NewLimiter(rate.Every(50*time.Millisecond), 5),
		minBackoffMs:  cfg.MinBackoffMs,
		maxBackoffMs:  cfg.MaxBackoffMs,
		minIntervalMs: cfg.MinIntervalMs,
		perSymbol:     make(map[string]*symbolFetchState),
		books:         make(map[string]*State),
		onStale:       onStale,
	}
}

// GlobalBackoffUntilMs returns the epoch-ms deadline before which every
// snapshot call is gated, for health output (spec.md §5 "Shared resources").
func (f *Fetcher) GlobalBackoffUntilMs() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.globalBackoffUntilMs
}

// Register associates a symbol's book with the fetcher so a successful fetch
// can call ApplySnapshot directly.
func (f *Fetcher) Register(book *State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[book.Symbol()] = book
	if _, ok := f.perSymbol[book.Symbol()]; !ok {
		f.perSymbol[book.Symbol()] = &symbolFetchState{backoffMs: f.minBackoffMs}
	}
}

// RequestSnapshot asks the fetcher to (re)seed symbol's book. It is the
// caller's responsibility to mark the book RESYNCING first when appropriate
// (spec.md §4.3's FeedIngestor does this for non-UNSEEDED desyncs).
func (f *Fetcher) RequestSnapshot(ctx context.Context, symbol string) {
	nowMs := nowMillis()

	f.mu.Lock()
	st, ok := f.perSymbol[symbol]
	if !ok {
		st = &symbolFetchState{backoffMs: f.minBackoffMs}
		f.perSymbol[symbol] = st
	}
	bk := f.books[symbol]
	unseeded := bk != nil && bk.UIState() == types.BookUnseeded

	if nowMs < f.globalBackoffUntilMs {
		f.mu.Unlock()
		f.logger.Debug("global backoff active, skipping", zap.String("symbol", symbol))
		return
	}
	if !unseeded {
		throttle := f.minIntervalMs
		if st.backoffMs > throttle {
			throttle = st.backoffMs
		}
		if nowMs-st.lastAttemptMs < throttle {
			f.mu.Unlock()
			return
		}
	}
	st.lastAttemptMs = nowMs
	f.mu.Unlock()

	if err := f.limiter.Wait(ctx); err != nil {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, restTimeout)
	defer cancel()

	snap, err := f.client.FetchDepthSnapshot(fetchCtx, symbol)
	if err != nil {
		f.handleFailure(symbol, err)
		return
	}
	f.handleSuccess(symbol, snap)
}

func (f *Fetcher) handleSuccess(symbol string, snap types.Snapshot) {
	f.mu.Lock()
	st := f.perSymbol[symbol]
	st.lastOKMs = nowMillis()
	st.backoffMs = f.minBackoffMs
	st.consecutiveErrs = 0
	bk := f.books[symbol]
	f.mu.Unlock()

	if bk != nil {
		bk.ApplySnapshot(snap)
	}
	f.logger.Info("snapshot applied", zap.String("symbol", symbol), zap.Int64("last_update_id", snap.LastUpdateID))
}

func (f *Fetcher) handleFailure(symbol string, cause error) {
	var rl *RateLimitError
	f.mu.Lock()
	st := f.perSymbol[symbol]
	st.consecutiveErrs++

	var wrapped error
	switch {
	case errors.As(cause, &rl):
		f.globalBackoffUntilMs = nowMillis() + rl.RetryAfter.Milliseconds()
		st.backoffMs = min64(st.backoffMs*2, f.maxBackoffMs)
		wrapped = fmt.Errorf("%w: %v", errkind.ErrRestRateLimit, cause)
	case errors.Is(cause, context.DeadlineExceeded):
		wrapped = fmt.Errorf("%w: %v", errkind.ErrRestTimeout, cause)
	default:
		wrapped = fmt.Errorf("%w: %v", errkind.ErrRestHTTPError, cause)
	}
	f.logger.Warn("snapshot fetch failed", zap.String("symbol", symbol), zap.Error(wrapped), zap.Int("consecutive_errors", st.consecutiveErrs))

	escalate := st.consecutiveErrs >= consecutiveErrorsBeforeStale
	bk := f.books[symbol]
	f.mu.Unlock()

	if escalate && bk != nil {
		bk.MarkStale()
		if f.onStale != nil {
			f.onStale(symbol)
		}
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func nowMillis() int64 { return time.Now().UnixMilli() }
