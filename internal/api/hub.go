// Package api provides the WebSocket fan-out and the HTTP server exposing
// /ws and /healthz (spec.md §6 "Client fan-out"; SPEC_FULL.md's supplemented
// health/readiness surface). Grounded on the teacher's websocket.go
// Hub/Client register-unregister-broadcast loop, narrowed from a
// subscribe/unsubscribe channel protocol to the spec's connect-time
// `?symbols=` query list.
package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

const (
	writeTimeout  = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
	readLimitBytes = 65536
)

// Client is one WebSocket subscriber, pinned to the symbol set it connected
// with.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	symbols map[string]bool
}

// Hub fans MetricsEnvelope broadcasts out to every connected client whose
// symbol set contains the message's symbol. One Hub serves the whole
// process.
type Hub struct {
	logger *zap.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan types.WSMessage

	mu      sync.RWMutex
	clients map[*Client]bool

	onSymbolSetChanged func([]string)
}

// NewHub constructs a Hub. onSymbolSetChanged, if non-nil, is invoked with
// the union of every connected client's symbols whenever a client connects
// or disconnects — wired by callers to FeedIngestor.SetRequiredSymbols.
func NewHub(logger *zap.Logger, onSymbolSetChanged func([]string)) *Hub {
	return &Hub{
		logger:             logger.Named("hub"),
		register:           make(chan *Client),
		unregister:         make(chan *Client),
		broadcast:          make(chan types.WSMessage, 1024),
		clients:            make(map[*Client]bool),
		onSymbolSetChanged: onSymbolSetChanged,
	}
}

// Run drives the hub's event loop. Call in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case msg := <-h.broadcast:
			h.dispatch(msg)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.logger.Debug("client registered", zap.String("id", c.id))
	h.notifySymbolSetChanged()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug("client unregistered", zap.String("id", c.id))
	h.notifySymbolSetChanged()
}

func (h *Hub) dispatch(msg types.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast message failed", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.symbols[msg.Symbol] {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("client send buffer full, dropping", zap.String("client", c.id))
		}
	}
}

// Publish enqueues a message for fan-out. Non-blocking: a full broadcast
// channel drops the message rather than stall the broadcast gate's caller.
func (h *Hub) Publish(msg types.WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("hub broadcast channel full, dropping message", zap.String("symbol", msg.Symbol))
	}
}

// notifySymbolSetChanged recomputes the union of every connected client's
// symbols and, if a callback is registered, reports it.
func (h *Hub) notifySymbolSetChanged() {
	if h.onSymbolSetChanged == nil {
		return
	}
	h.mu.RLock()
	union := make(map[string]bool)
	for c := range h.clients {
		for s := range c.symbols {
			union[s] = true
		}
	}
	h.mu.RUnlock()

	symbols := make([]string, 0, len(union))
	for s := range union {
		symbols = append(symbols, s)
	}
	h.onSymbolSetChanged(symbols)
}

// ClientCount reports the number of connected clients, for health output.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func newClient(id string, hub *Hub, conn *websocket.Conn, symbols []string) *Client {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return &Client{id: id, hub: hub, conn: conn, send: make(chan []byte, 256), symbols: set}
}

// readPump discards inbound client frames (the protocol is server-push
// only) but must still run to detect disconnects and answer pings.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(readLimitBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
