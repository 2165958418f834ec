package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TrailMode selects how a position's protective stop trails price.
type TrailMode uint8

const (
	TrailModeUnknown TrailMode = iota
	TrailModeVolatilityChannel
	TrailModeMovingAverage
	TrailModeSwingPoint
)

// String implements fmt.Stringer.
func (m TrailMode) String() string {
	switch m {
	case TrailModeVolatilityChannel:
		return "volatility_channel"
	case TrailModeMovingAverage:
		return "moving_average"
	case TrailModeSwingPoint:
		return "swing_point"
	default:
		return "unknown"
	}
}

// ParseTrailMode converts a config string into a TrailMode.
func ParseTrailMode(s string) (TrailMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "volatility_channel", "atr", "chandelier":
		return TrailModeVolatilityChannel, true
	case "moving_average", "ma":
		return TrailModeMovingAverage, true
	case "swing_point", "swing":
		return TrailModeSwingPoint, true
	default:
		return TrailModeUnknown, false
	}
}

// Position is an open holding in one symbol.
//
// Qty is signed: positive for long, negative for short. The book is the only
// writer; everything else sees copies.
type Position struct {
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Qty            decimal.Decimal `json:"qty"`
	AvgPrice       decimal.Decimal `json:"avgPrice"`
	EntryPrice     decimal.Decimal `json:"entryPrice"`
	InitialStop    decimal.Decimal `json:"initialStop"`
	RiskUnit       decimal.Decimal `json:"riskUnit"`
	OriginalQty    decimal.Decimal `json:"originalQty"`
	SizedQty       decimal.Decimal `json:"sizedQty"`
	Adds           int             `json:"adds"`
	AddsAuthorized int             `json:"addsAuthorized"`
	TrailMode      TrailMode       `json:"trailMode"`
	TrailLevel     decimal.Decimal `json:"trailLevel"`
	HighWater      decimal.Decimal `json:"highWater"`
	OpenedAt       time.Time       `json:"openedAt"`
	RotationChecks int             `json:"rotationChecks"`
	Slot           int             `json:"slot"`
	RealizedPnL    decimal.Decimal `json:"realizedPnl"`
	PendingFlatten bool            `json:"pendingFlatten"`
}

// IsOpen reports whether the position holds any quantity.
func (p Position) IsOpen() bool {
	return !p.Qty.IsZero()
}

// AbsQty returns the unsigned quantity.
func (p Position) AbsQty() decimal.Decimal {
	return p.Qty.Abs()
}

// UnrealizedPnL returns mark-to-market profit at price.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.AvgPrice).Mul(p.Qty)
}

// UnrealizedR returns the open profit per share in multiples of the initial
// risk unit, measured from the original entry price.
func (p Position) UnrealizedR(price decimal.Decimal) decimal.Decimal {
	if !p.RiskUnit.IsPositive() {
		return decimal.Zero
	}
	move := price.Sub(p.EntryPrice)
	if p.Side == OrderSideSell {
		move = move.Neg()
	}
	return move.Div(p.RiskUnit)
}

// StopBreached reports whether price has crossed the active stop.
func (p Position) StopBreached(price decimal.Decimal) bool {
	if p.TrailLevel.IsZero() {
		return false
	}
	if p.Side == OrderSideSell {
		return price.GreaterThanOrEqual(p.TrailLevel)
	}
	return price.LessThanOrEqual(p.TrailLevel)
}

// Tighter reports whether candidate improves on the current stop for this side.
func (p Position) Tighter(candidate decimal.Decimal) bool {
	if candidate.IsZero() {
		return false
	}
	if p.TrailLevel.IsZero() {
		return true
	}
	if p.Side == OrderSideSell {
		return candidate.LessThan(p.TrailLevel)
	}
	return candidate.GreaterThan(p.TrailLevel)
}
