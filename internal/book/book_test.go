package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func lvl(price, size string) types.DepthDiffLevel {
	return types.DepthDiffLevel{Price: dec(price), Size: dec(size)}
}

// S1 — Seed-then-diff.
func TestApplySnapshotThenDiff(t *testing.T) {
	b := New("BTCUSDT", 100)
	b.ApplySnapshot(types.Snapshot{
		LastUpdateID: 100,
		Bids:         []types.PriceLevel{{Price: dec("10"), Size: dec("1")}},
		Asks:         []types.PriceLevel{{Price: dec("11"), Size: dec("1")}},
	})
	require.Equal(t, types.BookLive, b.UIState())

	outcome := b.ApplyDiff(types.DepthDiff{
		U: 101, U2: 101,
		Bids: []types.DepthDiffLevel{lvl("10", "2")},
	})
	require.Equal(t, types.Applied, outcome)
	require.EqualValues(t, 101, b.LastUpdateID())

	bids, _ := b.TopLevels(5)
	require.Len(t, bids, 1)
	require.True(t, bids[0].Size.Equal(dec("2")))
}

// S2 — Tolerant gap.
func TestApplyDiffTolerantGap(t *testing.T) {
	b := New("BTCUSDT", 100)
	b.ApplySnapshot(types.Snapshot{
		LastUpdateID: 100,
		Bids:         []types.PriceLevel{{Price: dec("10"), Size: dec("1")}},
		Asks:         []types.PriceLevel{{Price: dec("11"), Size: dec("1")}},
	})
	b.ApplyDiff(types.DepthDiff{U: 101, U2: 101, Bids: []types.DepthDiffLevel{lvl("10", "2")}})

	outcome := b.ApplyDiff(types.DepthDiff{
		U: 110, U2: 111,
		Asks: []types.DepthDiffLevel{lvl("11", "0")},
	})
	require.Equal(t, types.Applied, outcome)
	require.EqualValues(t, 111, b.LastUpdateID())
	require.EqualValues(t, 0, b.Stats().Desyncs)

	_, asks := b.TopLevels(5)
	require.Len(t, asks, 0)
}

// S3 — Hard desync.
func TestApplyDiffHardDesync(t *testing.T) {
	b := New("BTCUSDT", 100)
	b.ApplySnapshot(types.Snapshot{
		LastUpdateID: 100,
		Bids:         []types.PriceLevel{{Price: dec("10"), Size: dec("1")}},
		Asks:         []types.PriceLevel{{Price: dec("11"), Size: dec("1")}},
	})

	outcome := b.ApplyDiff(types.DepthDiff{U: 500, U2: 500})
	require.Equal(t, types.Desync, outcome)
	require.EqualValues(t, 1, b.Stats().Desyncs)
	require.EqualValues(t, 100, b.LastUpdateID())
}

func TestApplyDiffBuffersWhileUnseeded(t *testing.T) {
	b := New("BTCUSDT", 100)
	outcome := b.ApplyDiff(types.DepthDiff{U: 1, U2: 1})
	require.Equal(t, types.Buffered, outcome)
	require.EqualValues(t, 1, b.Stats().Buffered)
}

func TestApplySnapshotReplaysBufferDroppingStale(t *testing.T) {
	b := New("BTCUSDT", 100)
	b.ApplyDiff(types.DepthDiff{U: 50, U2: 50})  // buffered, stale once seeded
	b.ApplyDiff(types.DepthDiff{U: 101, U2: 101, Bids: []types.DepthDiffLevel{lvl("10", "3")}})

	b.ApplySnapshot(types.Snapshot{
		LastUpdateID: 100,
		Bids:         []types.PriceLevel{{Price: dec("10"), Size: dec("1")}},
		Asks:         []types.PriceLevel{{Price: dec("11"), Size: dec("1")}},
	})

	require.EqualValues(t, 101, b.LastUpdateID())
	bids, _ := b.TopLevels(5)
	require.Len(t, bids, 1)
	require.True(t, bids[0].Size.Equal(dec("3")))
}

func TestNegativeOrZeroSizeNeverStored(t *testing.T) {
	b := New("BTCUSDT", 100)
	b.ApplySnapshot(types.Snapshot{LastUpdateID: 1})
	b.ApplyDiff(types.DepthDiff{U: 2, U2: 2, Bids: []types.DepthDiffLevel{lvl("10", "0")}})
	bids, _ := b.TopLevels(5)
	require.Len(t, bids, 0)
}
