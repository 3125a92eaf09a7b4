package api

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// These tests call addClient/removeClient/dispatch directly rather than
// going through Run()'s channels, so assertions don't race the hub's own
// goroutine.

func TestHubDispatchFansOutOnlyToSubscribedSymbol(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)

	btc := &Client{id: "btc", hub: hub, send: make(chan []byte, 4), symbols: map[string]bool{"BTCUSDT": true}}
	eth := &Client{id: "eth", hub: hub, send: make(chan []byte, 4), symbols: map[string]bool{"ETHUSDT": true}}
	hub.addClient(btc)
	hub.addClient(eth)

	hub.dispatch(types.WSMessage{Type: "metrics", Symbol: "BTCUSDT"})

	require.Len(t, btc.send, 1)
	msg := <-btc.send
	require.Contains(t, string(msg), "BTCUSDT")
	require.Empty(t, eth.send)
}

func TestHubNotifiesSymbolSetChangedOnRegisterAndUnregister(t *testing.T) {
	var lastUnion []string
	hub := NewHub(zap.NewNop(), func(symbols []string) { lastUnion = symbols })

	c := &Client{id: "c1", hub: hub, send: make(chan []byte, 1), symbols: map[string]bool{"BTCUSDT": true}}
	hub.addClient(c)
	require.ElementsMatch(t, []string{"BTCUSDT"}, lastUnion)

	hub.removeClient(c)
	require.Empty(t, lastUnion)
}

func TestClientCountTracksRegistrations(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)

	c := &Client{id: "c1", hub: hub, send: make(chan []byte, 1), symbols: map[string]bool{"BTCUSDT": true}}
	hub.addClient(c)
	require.Equal(t, 1, hub.ClientCount())

	hub.removeClient(c)
	require.Equal(t, 0, hub.ClientCount())
}
