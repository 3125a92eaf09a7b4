// Package execlog implements OrchestratorLogger (spec.md §4.9): three
// JSONL streams (metrics, execution, decision) written through a single
// bounded in-memory queue, rotated daily by the UTC date of each record's
// own event_time_ms. Grounded on events.EventBus's bounded-channel,
// drop-counted publish discipline, narrowed from a pub/sub fan-out to a
// single file-writing consumer.
package execlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

type streamKind string

const (
	streamMetrics   streamKind = "metrics"
	streamExecution streamKind = "execution"
	streamDecision  streamKind = "decision"
)

type logItem struct {
	kind        streamKind
	eventTimeMs int64
	payload     interface{}
}

// metricsLine is the on-disk shape for the metrics stream (spec.md §6).
type metricsLine struct {
	CanonicalTimeMs     int64               `json:"canonical_time_ms"`
	ExchangeEventTimeMs int64               `json:"exchange_event_time_ms"`
	Symbol              string              `json:"symbol"`
	Gate                types.GateResult    `json:"gate"`
	Metrics             types.MetricsEnvelope `json:"metrics"`
}

// executionLine wraps the raw connector event plus a state projection
// (spec.md §6).
type executionLine struct {
	Event types.ExecutionEvent `json:"event"`
	State *types.SymbolState   `json:"state"`
}

// Logger is the OrchestratorLogger.
type Logger struct {
	dir               string
	queueLimit        int
	dropHaltThreshold int
	onDropSpike       func(n int64)
	logger            *zap.Logger

	queue chan logItem

	mu    sync.Mutex
	files map[string]*os.File

	dropTotal  atomic.Int64
	dropWindow atomic.Int64

	done      chan struct{}
	tickerDone chan struct{}
	closeOnce sync.Once
}

// New constructs and starts a Logger writing under dir.
func New(dir string, queueLimit, dropHaltThreshold int, onDropSpike func(n int64), logger *zap.Logger) *Logger {
	if queueLimit <= 0 {
		queueLimit = 5000
	}
	if dropHaltThreshold <= 0 {
		dropHaltThreshold = 200
	}
	l := &Logger{
		dir: dir, queueLimit: queueLimit, dropHaltThreshold: dropHaltThreshold,
		onDropSpike: onDropSpike, logger: logger.Named("execlog"),
		queue: make(chan logItem, queueLimit), files: make(map[string]*os.File),
		done: make(chan struct{}), tickerDone: make(chan struct{}),
	}
	go l.flush()
	go l.watchDropRate()
	return l
}

// LogMetrics enqueues a metrics-stream line.
func (l *Logger) LogMetrics(symbol string, canonicalTimeMs, exchangeEventTimeMs int64, gate types.GateResult, metrics types.MetricsEnvelope) {
	l.enqueue(logItem{kind: streamMetrics, eventTimeMs: exchangeEventTimeMs, payload: metricsLine{
		CanonicalTimeMs: canonicalTimeMs, ExchangeEventTimeMs: exchangeEventTimeMs, Symbol: symbol, Gate: gate, Metrics: metrics,
	}})
}

// LogExecution enqueues an execution-stream line.
func (l *Logger) LogExecution(ev types.ExecutionEvent, state *types.SymbolState) {
	l.enqueue(logItem{kind: streamExecution, eventTimeMs: ev.EventTimeMs, payload: executionLine{Event: ev, State: state}})
}

// LogDecision enqueues a decision-stream line.
func (l *Logger) LogDecision(record types.DecisionRecord) {
	l.enqueue(logItem{kind: streamDecision, eventTimeMs: record.EventTimeMs, payload: record})
}

// enqueue is the non-blocking publish: on overflow the item is dropped and
// both counters incremented (spec.md §4.9).
func (l *Logger) enqueue(item logItem) {
	select {
	case l.queue <- item:
	default:
		l.dropTotal.Add(1)
		l.dropWindow.Add(1)
		l.logger.Warn("execlog queue full, dropping item", zap.String("stream", string(item.kind)))
	}
}

// flush is the single writer goroutine: one file handle per (kind, date),
// cooperatively draining the queue.
func (l *Logger) flush() {
	defer close(l.done)
	for item := range l.queue {
		if err := l.write(item); err != nil {
			l.logger.Error("execlog write failed", zap.String("stream", string(item.kind)), zap.Error(err))
		}
	}
}

func (l *Logger) write(item logItem) error {
	f, err := l.fileFor(item.kind, item.eventTimeMs)
	if err != nil {
		return err
	}
	line, err := json.Marshal(item.payload)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = f.Write(line)
	return err
}

func (l *Logger) fileFor(kind streamKind, eventTimeMs int64) (*os.File, error) {
	date := time.UnixMilli(eventTimeMs).UTC().Format("20060102")
	key := string(kind) + "_" + date

	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.files[key]; ok {
		return f, nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("execlog: mkdir %s: %w", l.dir, err)
	}
	path := filepath.Join(l.dir, key+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("execlog: open %s: %w", path, err)
	}
	l.files[key] = f
	return f, nil
}

// watchDropRate checks drop_window against the halt threshold every 10
// seconds and resets it (spec.md §4.9).
func (l *Logger) watchDropRate() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.checkDropWindow()
		case <-l.tickerDone:
			return
		}
	}
}

// checkDropWindow resets drop_window and invokes onDropSpike with the count
// it held when that count reached the halt threshold.
func (l *Logger) checkDropWindow() {
	n := l.dropWindow.Swap(0)
	if n >= int64(l.dropHaltThreshold) && l.onDropSpike != nil {
		l.onDropSpike(n)
	}
}

// DropTotal returns the lifetime drop count, for health output.
func (l *Logger) DropTotal() int64 { return l.dropTotal.Load() }

// QueueDepth returns the number of items currently buffered, for the
// /healthz surface.
func (l *Logger) QueueDepth() int { return len(l.queue) }

// Close drains the queue and closes every open file handle.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.queue)
		<-l.done
		close(l.tickerDone)

		l.mu.Lock()
		defer l.mu.Unlock()
		for _, f := range l.files {
			f.Close()
		}
	})
}
