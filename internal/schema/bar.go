package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe is the bar interval tag, e.g. "1m".
type Timeframe string

const (
	Timeframe1m Timeframe = "1m"
	Timeframe5m Timeframe = "5m"
)

// Duration returns the interval length, or zero for unknown tags.
func (tf Timeframe) Duration() time.Duration {
	d, err := time.ParseDuration(string(tf))
	if err != nil {
		return 0
	}
	return d
}

// Bar is an immutable OHLCV sample for one symbol.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Time      time.Time       `json:"time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Valid reports whether the bar is internally consistent.
func (b Bar) Valid() bool {
	if b.Symbol == "" || b.Time.IsZero() {
		return false
	}
	if b.High.LessThan(b.Low) || b.Volume.IsNegative() {
		return false
	}
	if b.Open.GreaterThan(b.High) || b.Open.LessThan(b.Low) {
		return false
	}
	if b.Close.GreaterThan(b.High) || b.Close.LessThan(b.Low) {
		return false
	}
	return b.Low.IsPositive()
}

// Range returns high minus low.
func (b Bar) Range() decimal.Decimal {
	return b.High.Sub(b.Low)
}
