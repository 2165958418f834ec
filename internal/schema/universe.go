package schema

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// LotSpec holds the exchange rounding constraints for a symbol.
type LotSpec struct {
	LotSize  decimal.Decimal `json:"lotSize" yaml:"lot_size"`
	TickSize decimal.Decimal `json:"tickSize" yaml:"tick_size"`
}

// DefaultLotSpec trades whole shares on a one cent tick.
func DefaultLotSpec() LotSpec {
	return LotSpec{
		LotSize:  decimal.NewFromInt(1),
		TickSize: decimal.RequireFromString("0.01"),
	}
}

// FloorQty rounds a quantity down to a whole number of lots.
func (l LotSpec) FloorQty(qty decimal.Decimal) decimal.Decimal {
	if !l.LotSize.IsPositive() || !qty.IsPositive() {
		return decimal.Zero
	}
	return qty.Div(l.LotSize).Floor().Mul(l.LotSize)
}

// RoundPrice rounds a price to the nearest tick.
func (l LotSpec) RoundPrice(price decimal.Decimal) decimal.Decimal {
	if !l.TickSize.IsPositive() {
		return price
	}
	return price.Div(l.TickSize).Round(0).Mul(l.TickSize)
}

// Instrument describes a tradable symbol in the universe.
type Instrument struct {
	ID     int     `json:"id"`
	Symbol string  `json:"symbol"`
	Sector string  `json:"sector"`
	Lot    LotSpec `json:"lot"`
}

// Universe is the registry of instruments a run trades.
type Universe struct {
	name        string
	instruments []Instrument
	bySymbol    map[string]int
}

// NewUniverse creates an empty universe.
func NewUniverse(name string) *Universe {
	return &Universe{
		name:     name,
		bySymbol: make(map[string]int),
	}
}

// Name returns the universe identifier.
func (u *Universe) Name() string {
	return u.name
}

// Add registers a new instrument and returns its ID.
func (u *Universe) Add(symbol, sector string, lot LotSpec) (int, error) {
	if symbol == "" {
		return 0, errors.New("symbol is empty")
	}
	if !lot.LotSize.IsPositive() || !lot.TickSize.IsPositive() {
		return 0, errors.Errorf("invalid lot spec for %s", symbol)
	}
	if id, ok := u.bySymbol[symbol]; ok {
		return id, errors.Errorf("symbol already exists: %s", symbol)
	}
	id := len(u.instruments) + 1
	u.instruments = append(u.instruments, Instrument{
		ID:     id,
		Symbol: symbol,
		Sector: sector,
		Lot:    lot,
	})
	u.bySymbol[symbol] = id
	return id, nil
}

// Instrument returns the instrument by symbol.
func (u *Universe) Instrument(symbol string) (Instrument, bool) {
	id, ok := u.bySymbol[symbol]
	if !ok {
		return Instrument{}, false
	}
	return u.instruments[id-1], true
}

// Count returns the number of instruments.
func (u *Universe) Count() int {
	return len(u.instruments)
}

// At returns the instrument by zero-based index.
func (u *Universe) At(index int) (Instrument, bool) {
	if index < 0 || index >= len(u.instruments) {
		return Instrument{}, false
	}
	return u.instruments[index], true
}

// Symbols returns all symbols in ascending order.
func (u *Universe) Symbols() []string {
	out := make([]string, 0, len(u.instruments))
	for _, inst := range u.instruments {
		out = append(out, inst.Symbol)
	}
	sort.Strings(out)
	return out
}

// Sector returns the sector tag of a symbol.
func (u *Universe) Sector(symbol string) string {
	inst, _ := u.Instrument(symbol)
	return inst.Sector
}
