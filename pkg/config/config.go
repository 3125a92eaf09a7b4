// Package config carries the orderflow engine's frozen runtime
// configuration. Every field is immutable after construction except
// CapitalSettings (spec.md §9 "Config objects"), which
// Orchestrator.SetCapitalSettings rewrites under the orchestrator's own
// mutex rather than through a general-purpose settings map. The live
// execution-symbol set is held by the orchestrator itself
// (Orchestrator.SetExecutionSymbols), not in ExecutionSymbols.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"github.com/atlas-desktop/orderflow-engine/pkg/types"
)

// Config is the frozen configuration struct. Field names mirror spec.md §6's
// configuration table.
type Config struct {
	// Gate
	MaxSpreadPct         float64        `json:"max_spread_pct" mapstructure:"max_spread_pct"`
	MinObiDeep           float64        `json:"min_obi_deep" mapstructure:"min_obi_deep"`
	GateMode             types.GateMode `json:"gate_mode" mapstructure:"gate_mode"`
	MaxNetworkLatencyMs  int64          `json:"max_network_latency_ms" mapstructure:"max_network_latency_ms"`

	// Sizing
	MaxLeverage       float64 `json:"max_leverage" mapstructure:"max_leverage"`
	InitialMarginUSDT float64 `json:"initial_margin_usdt" mapstructure:"initial_margin_usdt"`

	// Cooldown
	CooldownMinMs int64 `json:"cooldown_min_ms" mapstructure:"cooldown_min_ms"`
	CooldownMaxMs int64 `json:"cooldown_max_ms" mapstructure:"cooldown_max_ms"`

	// Logger
	LoggerQueueLimit        int `json:"logger_queue_limit" mapstructure:"logger_queue_limit"`
	LoggerDropHaltThreshold int `json:"logger_drop_halt_threshold" mapstructure:"logger_drop_halt_threshold"`
	LogsDir                 string `json:"logs_dir" mapstructure:"logs_dir"`

	// Snapshot fetcher
	SnapshotMinIntervalMs  int64 `json:"snapshot_min_interval_ms" mapstructure:"snapshot_min_interval_ms"`
	SnapshotBackoffMinMs   int64 `json:"snapshot_backoff_min_ms" mapstructure:"snapshot_backoff_min_ms"`
	SnapshotBackoffMaxMs   int64 `json:"snapshot_backoff_max_ms" mapstructure:"snapshot_backoff_max_ms"`

	// Book
	// MaxGapTolerance is the tolerant-gap threshold (spec.md §9 open
	// question: this was previously baked in as the literal 100; it is a
	// config field here, defaulting to 100).
	MaxGapTolerance int64 `json:"max_gap_tolerance" mapstructure:"max_gap_tolerance"`

	// Broadcast / tape / cvd
	BroadcastThrottleMs int64 `json:"broadcast_throttle_ms" mapstructure:"broadcast_throttle_ms"`
	TradeWindowMs       int64 `json:"trade_window_ms" mapstructure:"trade_window_ms"`
	CvdTimeframesSec    []int `json:"cvd_timeframes" mapstructure:"cvd_timeframes"`

	// Mutable runtime knobs. Orchestrator.SetCapitalSettings rewrites
	// CapitalSettings in this shared struct under the Orchestrator's mutex,
	// and DecisionEngine reads it on every sizing call. ExecutionSymbols is
	// not updated by Orchestrator.SetExecutionSymbols, which keeps the live
	// set in the orchestrator.
	CapitalSettings   CapitalSettings `json:"capital_settings" mapstructure:"capital_settings"`
	ExecutionSymbols  []string        `json:"execution_symbols" mapstructure:"execution_symbols"`
}

// CapitalSettings is the mutable sizing-capital knob named in spec.md §9.
type CapitalSettings struct {
	InitialMarginUSDT float64 `json:"initial_margin_usdt" mapstructure:"initial_margin_usdt"`
	MaxLeverage        float64 `json:"max_leverage" mapstructure:"max_leverage"`
}

// DefaultConfig returns the literal defaults quoted in spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		MaxSpreadPct:        0.08,
		MinObiDeep:          0.05,
		GateMode:            types.GateV1NoLatency,
		MaxNetworkLatencyMs: 250,

		MaxLeverage:       10,
		InitialMarginUSDT: 50,

		CooldownMinMs: 5000,
		CooldownMaxMs: 60000,

		LoggerQueueLimit:        5000,
		LoggerDropHaltThreshold: 200,
		LogsDir:                 "logs/orchestrator",

		SnapshotMinIntervalMs: 60000,
		SnapshotBackoffMinMs:  5000,
		SnapshotBackoffMaxMs:  120000,

		MaxGapTolerance: 100,

		BroadcastThrottleMs: 250,
		TradeWindowMs:       60000,
		CvdTimeframesSec:    []int{60, 300, 900},

		CapitalSettings: CapitalSettings{InitialMarginUSDT: 50, MaxLeverage: 10},
	}
}

// Load reads a YAML configuration file into a Config seeded with defaults.
// Environment-variable binding is explicitly out of scope (spec.md §1); this
// reads the given file only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return cfg, nil
}
