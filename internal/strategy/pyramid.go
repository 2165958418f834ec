package strategy

import (
	"github.com/shopspring/decimal"

	"intraday/internal/schema"
)

// AddStep is an authorized pyramid add.
type AddStep struct {
	Index    int
	Fraction decimal.Decimal
}

// NextAdd returns the next add a position is entitled to at price. Each step
// is keyed on the count of adds already authorized, so a threshold fires at
// most once however long price stays above it.
func NextAdd(cfg PyramidConfig, pos schema.Position, price decimal.Decimal) (AddStep, bool) {
	idx := pos.AddsAuthorized
	if idx < 0 || idx >= cfg.MaxAdds() {
		return AddStep{}, false
	}
	if pos.UnrealizedR(price).LessThan(cfg.Thresholds[idx]) {
		return AddStep{}, false
	}
	return AddStep{Index: idx, Fraction: cfg.Fractions[idx]}, true
}

// MaxQuantity is the largest size a position may reach: the entry plus
// every configured add, each floored to the lot.
func MaxQuantity(cfg PyramidConfig, original decimal.Decimal, lot schema.LotSpec) decimal.Decimal {
	total := original.Abs()
	for _, f := range cfg.Fractions {
		total = total.Add(lot.FloorQty(original.Abs().Mul(f)))
	}
	return total
}
