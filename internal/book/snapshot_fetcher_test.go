package book

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

type fakeRestClient struct {
	snap types.Snapshot
	err  error
	calls int
}

func (f *fakeRestClient) FetchDepthSnapshot(ctx context.Context, symbol string) (types.Snapshot, error) {
	f.calls++
	return f.snap, f.err
}

func TestFetcherAppliesSnapshotOnSuccess(t *testing.T) {
	bk := New("BTCUSDT", 100)
	client := &fakeRestClient{snap: types.Snapshot{LastUpdateID: 42}}
	f := NewFetcher(client, zap.NewNop(), FetcherConfig{MinBackoffMs: 5000, MaxBackoffMs: 120000, MinIntervalMs: 60000}, nil)
	f.Register(bk)

	f.RequestSnapshot(context.Background(), "BTCUSDT")
	require.Equal(t, 1, client.calls)
	require.EqualValues(t, 42, bk.LastUpdateID())
	require.Equal(t, types.BookLive, bk.UIState())
}

func TestFetcherEscalatesToStaleAfterConsecutiveFailures(t *testing.T) {
	bk := New("BTCUSDT", 100)
	bk.ApplySnapshot(types.Snapshot{LastUpdateID: 1})
	client := &fakeRestClient{err: &RateLimitError{RetryAfter: 0}}
	var staleCalled bool
	f := NewFetcher(client, zap.NewNop(), FetcherConfig{MinBackoffMs: 1, MaxBackoffMs: 2, MinIntervalMs: 0}, func(symbol string) {
		staleCalled = true
	})
	f.Register(bk)

	for i := 0; i < consecutiveErrorsBeforeStale; i++ {
		f.RequestSnapshot(context.Background(), "BTCUSDT")
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, staleCalled)
	require.Equal(t, types.BookStale, bk.UIState())
}
