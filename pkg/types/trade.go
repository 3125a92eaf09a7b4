package types

import "github.com/shopspring/decimal"

// Side is the aggressive (taker) side of a trade, or the side of a position
// or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide labels an open position's direction.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Trade is a single aggregated trade print. Side is the taker (aggressor)
// side; the wire's "buyer is maker" flag inverts to taker=sell.
type Trade struct {
	Symbol      string          `json:"symbol"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Side        Side            `json:"side"`
	EventTimeMs int64           `json:"eventTimeMs"`
}
