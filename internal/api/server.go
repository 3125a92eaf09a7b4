package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/internal/book"
	"github.com/atlas-desktop/orderflow-engine/internal/execlog"
	"github.com/atlas-desktop/orderflow-engine/internal/ingest"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// ServerConfig bundles the HTTP server's listen address and timeouts.
type ServerConfig struct {
	Host         string
	Port         int
	WebSocketPath string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns sane defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host: "0.0.0.0", Port: 8080, WebSocketPath: "/ws",
		ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second,
	}
}

// Server is the HTTP/WebSocket surface: /ws for the client fan-out and
// /healthz for liveness (spec.md §6; SPEC_FULL.md's supplemented health
// surface). No other HTTP admin endpoint exists (spec.md §1 Non-goals).
type Server struct {
	cfg        ServerConfig
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader

	hub     *Hub
	ingestor *ingest.Ingestor
	fetcher *book.Fetcher
	execLog *execlog.Logger
}

// NewServer constructs the API server. hub, ingestor, fetcher, and execLog
// are read-only collaborators this package never mutates.
func NewServer(cfg ServerConfig, logger *zap.Logger, hub *Hub, ingestor *ingest.Ingestor, fetcher *book.Fetcher, execLog *execlog.Logger) *Server {
	s := &Server{
		cfg: cfg, logger: logger.Named("api"), router: mux.NewRouter(),
		hub: hub, ingestor: ingestor, fetcher: fetcher, execLog: execLog,
		upgrader: websocket.Upgrader{
			ReadBufferSize: 4096, WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc(s.cfg.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server. Blocks until it exits or is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"*"},
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr: addr, Handler: handler,
		ReadTimeout: s.cfg.ReadTimeout, WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("starting api server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthzResponse is the /healthz shape (SPEC_FULL.md supplemented
// feature): per-symbol book UI state, logger queue depth/drop total, and
// the global REST backoff deadline.
type healthzResponse struct {
	Status             string                       `json:"status"`
	Book               map[string]types.BookUIState `json:"book"`
	LoggerQueueDepth    int                          `json:"logger_queue_depth"`
	LoggerDropTotal     int64                        `json:"logger_drop_total"`
	GlobalBackoffUntilMs int64                       `json:"global_backoff_until_ms"`
	ConnectedClients    int                          `json:"connected_clients"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{
		Status:               "ok",
		Book:                 s.ingestor.HealthSnapshot(),
		LoggerQueueDepth:     s.execLog.QueueDepth(),
		LoggerDropTotal:      s.execLog.DropTotal(),
		GlobalBackoffUntilMs: s.fetcher.GlobalBackoffUntilMs(),
		ConnectedClients:     s.hub.ClientCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleWebSocket upgrades the connection and pins it to the symbols named
// in the `?symbols=S1,S2` query string (spec.md §6 "Client fan-out").
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	var symbols []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			symbols = append(symbols, s)
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), s.hub, conn, symbols)
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}
