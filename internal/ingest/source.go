package ingest

import (
	"context"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// Source is the narrow observable contract the FeedIngestor depends on for
// the exchange's multiplexed market-data stream. A real implementation's
// reconnect/parse internals are out of scope beyond this contract
// (spec.md §1); WSSource below is the reference implementation used when a
// live exchange connection is wanted, and tests supply a fake.
type Source interface {
	// Connect opens exactly one multiplexed subscription for the given
	// symbol set. It returns a depth-diff channel, a trade channel, and an
	// error channel that receives one error when the connection drops
	// (all three channels close together). Calling Connect again with a
	// different symbol set supersedes any previous connection.
	Connect(ctx context.Context, symbols []string) (depth <-chan types.DepthDiff, trades <-chan types.Trade, errs <-chan error)
}
