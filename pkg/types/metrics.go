package types

// CvdTimeframe is one of CvdEngine's tracked horizons, in seconds.
type CvdTimeframe int

// CvdReading is the per-timeframe output of CvdEngine.
type CvdReading struct {
	Cvd        float64 `json:"cvd"`
	Delta      float64 `json:"delta"`
	Exhaustion bool    `json:"exhaustion"`
}

// TradeTapeSnapshot is TradeTape's derived-metric output over its rolling
// window.
type TradeTapeSnapshot struct {
	AggressiveBuyVolume  float64   `json:"aggressiveBuyVolume"`
	AggressiveSellVolume float64   `json:"aggressiveSellVolume"`
	TradeCount           int       `json:"tradeCount"`
	SizeBuckets          []float64 `json:"sizeBuckets"`
	BidHitToAskLift      float64   `json:"bidHitToAskLift"`
	SameSideBurst        int       `json:"sameSideBurst"`
	PrintsPerSecond      float64   `json:"printsPerSecond"`
}

// AbsorptionReading is the non-authoritative absorption detector's output
// (SPEC_FULL §12 addition): whether aggressive volume at the best price is
// being absorbed without the price moving.
type AbsorptionReading struct {
	Absorbing bool    `json:"absorbing"`
	Side      Side    `json:"side"`
	Ratio     float64 `json:"ratio"`
}

// LegacyMetrics is the derived-indicator snapshot: OBI, delta Z, CVD slope,
// OI deltas.
type LegacyMetrics struct {
	ObiWeighted   float64 `json:"obi_weighted"`
	ObiDeep       float64 `json:"obi_deep"`
	ObiDivergence float64 `json:"obi_divergence"`
	DeltaZ        float64 `json:"delta_z"`
	CvdSlope      float64 `json:"cvd_slope"`
	OiDelta       float64 `json:"oi_delta"`
}

// MetricsEnvelope is the unit BroadcastGate emits per throttled broadcast.
type MetricsEnvelope struct {
	Symbol              string         `json:"symbol"`
	CanonicalTimeMs      int64          `json:"canonical_time_ms"`
	ExchangeEventTimeMs  int64          `json:"exchange_event_time_ms"`
	SpreadPct            float64        `json:"spread_pct"`
	PrintsPerSecond      float64        `json:"prints_per_second"`
	BestBid              float64        `json:"best_bid"`
	BestAsk              float64        `json:"best_ask"`
	LegacyMetrics        *LegacyMetrics `json:"legacyMetrics"`
}

// GateReason names why a gate check failed.
type GateReason string

const (
	ReasonMissingMetrics       GateReason = "missing_metrics"
	ReasonSpreadTooWide        GateReason = "spread_too_wide"
	ReasonInsufficientLiquidity GateReason = "insufficient_liquidity"
	ReasonNetworkLatencyTooHigh GateReason = "network_latency_too_high"
)

// GateMode selects whether the Gate considers network latency.
type GateMode string

const (
	GateV1NoLatency      GateMode = "V1"
	GateV2NetworkLatency GateMode = "V2"
)

// GateChecks records the individual pass/fail of each check the Gate ran,
// for observability.
type GateChecks struct {
	MetricsPresent   bool `json:"metrics_present"`
	SpreadOK         bool `json:"spread_ok"`
	LiquidityOK      bool `json:"liquidity_ok"`
	NetworkLatencyOK bool `json:"network_latency_ok"`
}

// GateResult is the pure output of Gate.Evaluate.
type GateResult struct {
	Mode            GateMode    `json:"mode"`
	Passed          bool        `json:"passed"`
	Reason          *GateReason `json:"reason,omitempty"`
	NetworkLatencyMs *int64     `json:"network_latency_ms"`
	Checks          GateChecks  `json:"checks"`
}
