// Package types holds the value types shared across the orderflow engine:
// book state, trades, metrics envelopes, decisions, and symbol state.
package types

import "github.com/shopspring/decimal"

// BookUIState is the UI-facing lifecycle label for a symbol's book.
type BookUIState string

const (
	BookUnseeded  BookUIState = "UNSEEDED"
	BookResyncing BookUIState = "RESYNCING"
	BookLive      BookUIState = "LIVE"
	BookStale     BookUIState = "STALE"
)

// PriceLevel is a single (price, size) rung of the book. Size is always
// positive; a size of zero means the level has been deleted and is never
// stored.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// DepthDiff is an incremental depth update per the exchange wire shape
// {U, u, b[], a[]}.
type DepthDiff struct {
	Symbol        string               `json:"symbol"`
	U             int64                `json:"U"`
	U2            int64                `json:"u"`
	Bids          []DepthDiffLevel     `json:"b"`
	Asks          []DepthDiffLevel     `json:"a"`
	EventTimeMs   int64                `json:"eventTimeMs"`
}

// DepthDiffLevel is one (price, size) pair within a DepthDiff. Size of zero
// deletes the level.
type DepthDiffLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Snapshot is a REST depth snapshot: {lastUpdateId, bids, asks}.
type Snapshot struct {
	LastUpdateID int64
	Bids         []PriceLevel
	Asks         []PriceLevel
}

// ApplyOutcome is the result of BookState.ApplyDiff.
type ApplyOutcome int

const (
	Applied ApplyOutcome = iota
	Buffered
	Desync
)

func (o ApplyOutcome) String() string {
	switch o {
	case Applied:
		return "Applied"
	case Buffered:
		return "Buffered"
	case Desync:
		return "Desync"
	default:
		return "Unknown"
	}
}

// BookStats tallies the lifetime counters a BookState keeps about itself.
type BookStats struct {
	Applied  int64 `json:"applied"`
	Dropped  int64 `json:"dropped"`
	Buffered int64 `json:"buffered"`
	Desyncs  int64 `json:"desyncs"`
}
