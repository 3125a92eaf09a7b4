// Package book implements per-symbol L2 order-book reconstruction:
// sequence-validated application of depth diffs against periodic REST
// snapshots, with tolerant gap repair and bounded buffering while
// unseeded or resyncing (spec.md §4.1).
package book

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

const bufferCap = 1000

// State is one symbol's reconstructed order book. It is exclusively owned
// by the ingestion goroutine for its symbol; the mutex below guards only
// the rare cross-goroutine read (health output, WS snapshot serialization)
// and is never contended by the owning goroutine's own hot path.
type State struct {
	mu sync.RWMutex

	symbol       string
	bids         map[string]decimal.Decimal
	asks         map[string]decimal.Decimal
	lastUpdateID int64
	buffer       []types.DepthDiff
	uiState      types.BookUIState
	stats        types.BookStats
	maxGapTol    int64

	lastEventTimeMs int64
}

// New constructs an unseeded book for a symbol. maxGapTolerance is the
// tolerant-gap threshold (spec.md §9 open question: configurable, default
// 100).
func New(symbol string, maxGapTolerance int64) *State {
	return &State{
		symbol:    symbol,
		bids:      make(map[string]decimal.Decimal),
		asks:      make(map[string]decimal.Decimal),
		uiState:   types.BookUnseeded,
		maxGapTol: maxGapTolerance,
	}
}

// UIState returns the current lifecycle label.
func (s *State) UIState() types.BookUIState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uiState
}

// Stats returns a copy of the lifetime counters.
func (s *State) Stats() types.BookStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// LastUpdateID returns the current last applied update id.
func (s *State) LastUpdateID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdateID
}

func priceKey(p decimal.Decimal) string { return p.String() }

// ApplySnapshot clears the book, loads the snapshot's levels, sets
// last_update_id, transitions to LIVE, then replays the buffer: diffs with
// u <= last_update_id are dropped as stale, the remainder applied in
// arrival order via ApplyDiff (spec.md §4.1).
func (s *State) ApplySnapshot(snap types.Snapshot) {
	s.mu.Lock()
	s.bids = make(map[string]decimal.Decimal, len(snap.Bids))
	s.asks = make(map[string]decimal.Decimal, len(snap.Asks))
	for _, l := range snap.Bids {
		if l.Size.IsPositive() {
			s.bids[priceKey(l.Price)] = l.Size
		}
	}
	for _, l := range snap.Asks {
		if l.Size.IsPositive() {
			s.asks[priceKey(l.Price)] = l.Size
		}
	}
	s.lastUpdateID = snap.LastUpdateID
	s.uiState = types.BookLive

	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	for _, diff := range pending {
		if diff.U2 <= snap.LastUpdateID {
			continue
		}
		s.ApplyDiff(diff)
	}
}

// ApplyDiff applies one incremental depth diff and reports the outcome
// (spec.md §4.1, invariants 1-2).
func (s *State) ApplyDiff(diff types.DepthDiff) types.ApplyOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uiState == types.BookUnseeded || s.uiState == types.BookResyncing {
		s.buffer = append(s.buffer, diff)
		if len(s.buffer) > bufferCap {
			s.buffer = s.buffer[len(s.buffer)-bufferCap:]
		}
		s.stats.Buffered++
		return types.Buffered
	}

	if diff.U2 <= s.lastUpdateID {
		s.stats.Dropped++
		return types.Applied
	}

	gap := diff.U - (s.lastUpdateID + 1)
	switch {
	case gap <= 0 && diff.U2 >= s.lastUpdateID+1:
		s.apply(diff)
		return types.Applied
	case gap > 0 && gap <= s.maxGapTol:
		s.apply(diff)
		return types.Applied
	default:
		s.stats.Desyncs++
		return types.Desync
	}
}

// apply performs the actual level mutation and bookkeeping. Caller must
// hold s.mu.
func (s *State) apply(diff types.DepthDiff) {
	for _, lvl := range diff.Bids {
		applyLevel(s.bids, lvl)
	}
	for _, lvl := range diff.Asks {
		applyLevel(s.asks, lvl)
	}
	s.lastUpdateID = diff.U2
	s.lastEventTimeMs = diff.EventTimeMs
	s.stats.Applied++
	if s.uiState == types.BookStale {
		s.uiState = types.BookLive
	}
}

func applyLevel(side map[string]decimal.Decimal, lvl types.DepthDiffLevel) {
	key := priceKey(lvl.Price)
	if lvl.Size.Sign() <= 0 {
		delete(side, key)
		return
	}
	side[key] = lvl.Size
}

// MarkStale transitions the book to STALE (SnapshotFetcher escalation after
// repeated REST failures, §4.2).
func (s *State) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uiState == types.BookLive {
		s.uiState = types.BookStale
	}
}

// MarkResyncing transitions to RESYNCING so subsequent diffs buffer instead
// of applying, until the next ApplySnapshot.
func (s *State) MarkResyncing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uiState != types.BookUnseeded {
		s.uiState = types.BookResyncing
	}
}

// TopLevels returns up to n levels per side, bids descending, asks
// ascending, copied by value (never exposes the live map).
func (s *State) TopLevels(n int) (bids, asks []types.PriceLevel) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bids = sortedLevels(s.bids, n, true)
	asks = sortedLevels(s.asks, n, false)
	return bids, asks
}

func sortedLevels(side map[string]decimal.Decimal, n int, descending bool) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(side))
	for k, v := range side {
		p, err := decimal.NewFromString(k)
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: p, Size: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// BestBidAsk returns the best bid and ask prices, and whether the book has
// data on both sides (legacyMetrics is null in the broadcast payload when
// either side is empty, §4.4).
func (s *State) BestBidAsk() (bestBid, bestAsk decimal.Decimal, ok bool) {
	bids, asks := s.TopLevels(1)
	if len(bids) == 0 || len(asks) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return bids[0].Price, asks[0].Price, true
}

// LastEventTimeMs returns the EventTimeMs of the most recently applied
// diff. WSSource stamps diffs with their local receive time.
func (s *State) LastEventTimeMs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastEventTimeMs
}

// Symbol returns the book's symbol.
func (s *State) Symbol() string { return s.symbol }
