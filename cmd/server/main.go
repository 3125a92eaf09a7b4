// Package main is the entry point for the orderflow engine server: wires
// the market-data pipeline (FeedIngestor, BroadcastGate), the decision
// pipeline (SymbolActor, Orchestrator), the execution connector, the
// OrchestratorLogger, and the HTTP/WebSocket surface.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/orderflow-engine/internal/api"
	"github.com/atlas-desktop/orderflow-engine/internal/book"
	"github.com/atlas-desktop/orderflow-engine/internal/broadcast"
	"github.com/atlas-desktop/orderflow-engine/internal/execlog"
	"github.com/atlas-desktop/orderflow-engine/internal/execution"
	"github.com/atlas-desktop/orderflow-engine/internal/ingest"
	"github.com/atlas-desktop/orderflow-engine/internal/orchestrator"
	"github.com/atlas-desktop/orderflow-engine/pkg/config"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

const shutdownTimeout = 10 * time.Second

func main() {
	host := flag.String("host", "0.0.0.0", "API server host")
	port := flag.Int("port", 8080, "API server port")
	configPath := flag.String("config", "", "Path to YAML config file (optional; defaults used otherwise)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	executionEnabled := flag.Bool("execution-enabled", false, "Arm live order placement (false runs metrics/decisions only)")
	symbolsFlag := flag.String("symbols", "BTCUSDT,ETHUSDT", "Comma-separated execution symbol set")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting orderflow engine",
		zap.String("host", *host), zap.Int("port", *port),
		zap.Bool("executionEnabled", *executionEnabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var orch *orchestrator.Orchestrator
	execLog := execlog.New(cfg.LogsDir, cfg.LoggerQueueLimit, cfg.LoggerDropHaltThreshold, func(n int64) {
		logger.Warn("logger drop spike, halting all symbols", zap.Int64("n", n))
		orch.HaltAll("logger_drop_spike")
	}, logger)
	defer execLog.Close()

	connector := execution.NewBinanceFutures(logger, execution.Config{
		APIKey:    os.Getenv("BINANCE_API_KEY"),
		APISecret: os.Getenv("BINANCE_API_SECRET"),
	})

	orch = orchestrator.New(cfg, connector, execLog, logger)
	orch.SetExecutionEnabled(*executionEnabled)

	restClient := book.NewBinanceRestClient("https://fapi.binance.com")
	fetcher := book.NewFetcher(restClient, logger, book.FetcherConfig{
		MinBackoffMs: cfg.SnapshotBackoffMinMs, MaxBackoffMs: cfg.SnapshotBackoffMaxMs, MinIntervalMs: cfg.SnapshotMinIntervalMs,
	}, func(symbol string) {
		logger.Warn("book escalated to STALE", zap.String("symbol", symbol))
	})

	var ingestor *ingest.Ingestor
	hub := api.NewHub(logger, func(symbols []string) { ingestor.SetRequiredSymbols(ctx, symbols) })
	go hub.Run()

	bgate := broadcast.New(cfg.BroadcastThrottleMs, orch.Ingest, hub.Publish)

	source := ingest.NewWSSource("wss://fstream.binance.com/stream", logger)
	ingestor = ingest.New(cfg, source, fetcher, bgate, logger)

	server := api.NewServer(api.ServerConfig{
		Host: *host, Port: *port, WebSocketPath: "/ws",
		ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second,
	}, logger, hub, ingestor, fetcher, execLog)

	if err := connector.Connect(ctx); err != nil {
		logger.Error("connector connect failed, continuing without live execution", zap.Error(err))
	} else {
		orch.SetConnected(true)
		go drainConnectorEvents(ctx, connector, orch)
	}

	symbols := splitSymbols(*symbolsFlag)
	if err := orch.SetExecutionSymbols(ctx, symbols); err != nil {
		logger.Warn("set_execution_symbols failed", zap.Error(err))
	}
	ingestor.SetRequiredSymbols(ctx, symbols)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server stopped", zap.Error(err))
		}
	}()

	<-sigCh
	logger.Info("shutting down")
	cancel()
	connector.Disconnect()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", zap.Error(err))
	}
}

func drainConnectorEvents(ctx context.Context, connector execution.Connector, orch *orchestrator.Orchestrator) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-connector.Events():
			if !ok {
				return
			}
			if ev.Type == types.EventSystemHalt {
				// A feed-level disconnect forces reconnect; the user-data
				// stream's own disconnect path raises this directly
				// (spec.md §7 feed_disconnect propagation policy).
			}
			orch.IngestExecutionEvent(ev)
		}
	}
}

func splitSymbols(raw string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				out = append(out, raw[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
