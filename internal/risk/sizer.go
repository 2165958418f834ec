package risk

import (
	"github.com/shopspring/decimal"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// Size returns the share quantity that risks riskFraction of capital over the
// distance between entry and stop, floored to the symbol's lot size.
//
// Size is pure: identical inputs always yield the identical quantity.
func Size(capital, riskFraction, entry, stop decimal.Decimal, lot schema.LotSpec) (decimal.Decimal, error) {
	if !lot.LotSize.IsPositive() {
		return decimal.Zero, exception.ErrInvalidLotSpec
	}
	distance := entry.Sub(stop).Abs()
	if distance.IsZero() {
		return decimal.Zero, exception.ErrInvalidStopDistance
	}
	budget := capital.Mul(riskFraction)
	if !budget.IsPositive() {
		return decimal.Zero, exception.ErrZeroQuantity
	}
	qty := lot.FloorQty(budget.Div(distance))
	if !qty.IsPositive() {
		return decimal.Zero, exception.ErrZeroQuantity
	}
	return qty, nil
}

// Sizer applies the per-trade risk fraction and an optional notional cap.
type Sizer struct {
	RiskFraction decimal.Decimal
	// CapNotional limits an entry to what the slot capital can buy outright.
	CapNotional bool
}

// Entry sizes an initial entry against the capital allocated to its slot.
func (s Sizer) Entry(capital, entry, stop decimal.Decimal, lot schema.LotSpec) (decimal.Decimal, error) {
	qty, err := Size(capital, s.RiskFraction, entry, stop, lot)
	if err != nil {
		return decimal.Zero, err
	}
	if s.CapNotional && entry.IsPositive() {
		affordable := lot.FloorQty(capital.Div(entry))
		if affordable.LessThan(qty) {
			qty = affordable
		}
	}
	if !qty.IsPositive() {
		return decimal.Zero, exception.ErrZeroQuantity
	}
	return qty, nil
}

// Add sizes a pyramid add as a fraction of the original entry quantity.
func (s Sizer) Add(originalQty, fraction decimal.Decimal, lot schema.LotSpec) (decimal.Decimal, error) {
	if !lot.LotSize.IsPositive() {
		return decimal.Zero, exception.ErrInvalidLotSpec
	}
	qty := lot.FloorQty(originalQty.Abs().Mul(fraction))
	if !qty.IsPositive() {
		return decimal.Zero, exception.ErrZeroQuantity
	}
	return qty, nil
}
