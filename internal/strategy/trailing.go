package strategy

import (
	"github.com/shopspring/decimal"

	"intraday/internal/schema"
)

// StopUpdate carries a tightened stop and the new price extreme.
type StopUpdate struct {
	Symbol    string
	Level     decimal.Decimal
	HighWater decimal.Decimal
}

// TrailCandidate computes the stop the active mode proposes for this bar.
// The caller keeps the candidate only if it tightens the current stop.
func TrailCandidate(cfg TrailConfig, pos schema.Position, bar schema.Bar, fs schema.FeatureSet, lot schema.LotSpec) (decimal.Decimal, bool) {
	var raw float64
	switch cfg.Mode {
	case schema.TrailModeVolatilityChannel:
		atr, ok := fs.Get(schema.FeatureATR)
		if !ok || atr <= 0 {
			return decimal.Zero, false
		}
		extreme := Extreme(pos, bar).InexactFloat64()
		if pos.Side == schema.OrderSideSell {
			raw = extreme + cfg.ATRMultiple*atr
		} else {
			raw = extreme - cfg.ATRMultiple*atr
		}
	case schema.TrailModeMovingAverage:
		v, ok := fs.Get(cfg.MAFeature)
		if !ok {
			return decimal.Zero, false
		}
		raw = v
	case schema.TrailModeSwingPoint:
		v, ok := fs.Get(cfg.SwingFeature)
		if !ok {
			return decimal.Zero, false
		}
		raw = v
	default:
		return decimal.Zero, false
	}
	if raw <= 0 {
		return decimal.Zero, false
	}
	return lot.RoundPrice(decimal.NewFromFloat(raw)), true
}

// Extreme returns the favorable price extreme since entry including bar.
func Extreme(pos schema.Position, bar schema.Bar) decimal.Decimal {
	if pos.Side == schema.OrderSideSell {
		if pos.HighWater.IsZero() || bar.Low.LessThan(pos.HighWater) {
			return bar.Low
		}
		return pos.HighWater
	}
	if bar.High.GreaterThan(pos.HighWater) {
		return bar.High
	}
	return pos.HighWater
}

// Tighten returns the stricter of the current stop and a candidate.
func Tighten(pos schema.Position, candidate decimal.Decimal) decimal.Decimal {
	if pos.Tighter(candidate) {
		return candidate
	}
	return pos.TrailLevel
}

// CostBasisStop re-derives the stop after an add from the blended average:
// one initial risk unit behind the new average, kept only if tighter.
func CostBasisStop(pos schema.Position, lot schema.LotSpec) decimal.Decimal {
	var candidate decimal.Decimal
	if pos.Side == schema.OrderSideSell {
		candidate = pos.AvgPrice.Add(pos.RiskUnit)
	} else {
		candidate = pos.AvgPrice.Sub(pos.RiskUnit)
	}
	return Tighten(pos, lot.RoundPrice(candidate))
}
