// Package cvd implements CvdEngine: multi-horizon cumulative volume delta
// with exhaustion detection (spec.md §3).
package cvd

import (
	"sync"

	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

type sample struct {
	signedVolume float64
	timeMs       int64
}

type horizon struct {
	windowMs int64
	samples  []sample

	// last few computed CVD readings, used for exhaustion detection.
	history []float64
}

const exhaustionHistoryLen = 4

// Engine tracks CVD for a fixed set of timeframes.
type Engine struct {
	mu        sync.Mutex
	horizons  map[int]*horizon // keyed by timeframe seconds
	order     []int
}

// New constructs an Engine for the given timeframes, in seconds (default
// {60, 300, 900} per spec.md §6).
func New(timeframesSec []int) *Engine {
	e := &Engine{horizons: make(map[int]*horizon, len(timeframesSec))}
	for _, tf := range timeframesSec {
		e.horizons[tf] = &horizon{windowMs: int64(tf) * 1000}
		e.order = append(e.order, tf)
	}
	return e
}

// Add records one trade's signed volume (positive for buy-aggressor,
// negative for sell-aggressor) into every tracked horizon.
func (e *Engine) Add(trade types.Trade) {
	qty, _ := trade.Quantity.Float64()
	signed := qty
	if trade.Side == types.SideSell {
		signed = -qty
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tf := range e.order {
		h := e.horizons[tf]
		h.samples = append(h.samples, sample{signedVolume: signed, timeMs: trade.EventTimeMs})
		cutoff := trade.EventTimeMs - h.windowMs
		i := 0
		for i < len(h.samples) && h.samples[i].timeMs < cutoff {
			i++
		}
		if i > 0 {
			h.samples = append([]sample(nil), h.samples[i:]...)
		}
	}
}

// Snapshot computes {cvd, delta, exhaustion} for every tracked timeframe.
func (e *Engine) Snapshot() map[int]types.CvdReading {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[int]types.CvdReading, len(e.order))
	for _, tf := range e.order {
		h := e.horizons[tf]
		var cvd float64
		for _, s := range h.samples {
			cvd += s.signedVolume
		}

		var delta float64
		if len(h.history) > 0 {
			delta = cvd - h.history[len(h.history)-1]
		}

		h.history = append(h.history, cvd)
		if len(h.history) > exhaustionHistoryLen {
			h.history = h.history[len(h.history)-exhaustionHistoryLen:]
		}

		out[tf] = types.CvdReading{
			Cvd:        cvd,
			Delta:      delta,
			Exhaustion: isExhausted(h.history),
		}
	}
	return out
}

// isExhausted reports a monotonic-deceleration pattern: the magnitude of
// successive cvd deltas strictly shrinking across the retained history,
// while keeping the same sign of movement.
func isExhausted(history []float64) bool {
	if len(history) < 3 {
		return false
	}
	deltas := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		deltas = append(deltas, history[i]-history[i-1])
	}
	if len(deltas) < 2 {
		return false
	}
	sign := sgn(deltas[0])
	if sign == 0 {
		return false
	}
	for i := 1; i < len(deltas); i++ {
		if sgn(deltas[i]) != sign {
			return false
		}
		if abs(deltas[i]) >= abs(deltas[i-1]) {
			return false
		}
	}
	return true
}

func sgn(f float64) int {
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	default:
		return 0
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
