package schema

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBarValid(t *testing.T) {
	base := Bar{
		Symbol:    "AAA",
		Timeframe: Timeframe1m,
		Time:      time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
		Open:      d("10"),
		High:      d("11"),
		Low:       d("9"),
		Close:     d("10.5"),
		Volume:    d("100"),
	}

	tests := []struct {
		name   string
		mutate func(*Bar)
		valid  bool
	}{
		{"ok", func(*Bar) {}, true},
		{"no symbol", func(b *Bar) { b.Symbol = "" }, false},
		{"no time", func(b *Bar) { b.Time = time.Time{} }, false},
		{"high below low", func(b *Bar) { b.High = d("8") }, false},
		{"open above high", func(b *Bar) { b.Open = d("12") }, false},
		{"close below low", func(b *Bar) { b.Close = d("8.5") }, false},
		{"negative volume", func(b *Bar) { b.Volume = d("-1") }, false},
		{"zero low", func(b *Bar) { b.Low = decimal.Zero; b.Open = d("1"); b.Close = d("1") }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bar := base
			tc.mutate(&bar)
			assert.Equal(t, tc.valid, bar.Valid())
		})
	}
	assert.True(t, d("2").Equal(base.Range()))
}

func TestTimeframeDuration(t *testing.T) {
	assert.Equal(t, time.Minute, Timeframe1m.Duration())
	assert.Equal(t, 5*time.Minute, Timeframe5m.Duration())
	assert.Zero(t, Timeframe("daily").Duration())
}

func TestLotSpec(t *testing.T) {
	lot := LotSpec{LotSize: d("10"), TickSize: d("0.05")}
	assert.True(t, d("120").Equal(lot.FloorQty(d("129.9"))))
	assert.True(t, lot.FloorQty(d("9")).IsZero())
	assert.True(t, lot.FloorQty(d("-20")).IsZero())
	assert.True(t, d("10.05").Equal(lot.RoundPrice(d("10.06"))))
	assert.True(t, d("10.06").Equal(LotSpec{}.RoundPrice(d("10.06"))))
}

func TestUniverse(t *testing.T) {
	u := NewUniverse("test")
	id, err := u.Add("MSFT", "tech", DefaultLotSpec())
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	_, err = u.Add("AAPL", "tech", DefaultLotSpec())
	require.NoError(t, err)

	_, err = u.Add("MSFT", "tech", DefaultLotSpec())
	assert.Error(t, err)
	_, err = u.Add("", "tech", DefaultLotSpec())
	assert.Error(t, err)
	_, err = u.Add("NVDA", "semis", LotSpec{})
	assert.Error(t, err)

	assert.Equal(t, 2, u.Count())
	assert.Equal(t, []string{"AAPL", "MSFT"}, u.Symbols())
	assert.Equal(t, "tech", u.Sector("AAPL"))
	assert.Empty(t, u.Sector("NVDA"))
	inst, ok := u.At(0)
	require.True(t, ok)
	assert.Equal(t, "MSFT", inst.Symbol)
	_, ok = u.At(2)
	assert.False(t, ok)
}

func TestPositionR(t *testing.T) {
	long := Position{
		Side:       OrderSideBuy,
		Qty:        d("100"),
		AvgPrice:   d("50"),
		EntryPrice: d("50"),
		RiskUnit:   d("2"),
		TrailLevel: d("48"),
	}
	assert.True(t, d("1.5").Equal(long.UnrealizedR(d("53"))))
	assert.True(t, d("300").Equal(long.UnrealizedPnL(d("53"))))
	assert.True(t, long.StopBreached(d("48")))
	assert.False(t, long.StopBreached(d("48.01")))
	assert.True(t, long.Tighter(d("49")))
	assert.False(t, long.Tighter(d("47")))

	short := long
	short.Side = OrderSideSell
	short.Qty = d("-100")
	short.TrailLevel = d("52")
	assert.True(t, d("-1.5").Equal(short.UnrealizedR(d("53"))))
	assert.True(t, short.StopBreached(d("52")))
	assert.True(t, short.Tighter(d("51")))

	assert.True(t, Position{}.UnrealizedR(d("1")).IsZero())
	assert.False(t, Position{}.StopBreached(d("1")))
}

func TestOrderStatus(t *testing.T) {
	terminal := map[OrderStatus]bool{
		OrderStatusPending:    false,
		OrderStatusSubmitted:  false,
		OrderStatusPartFilled: false,
		OrderStatusFilled:     true,
		OrderStatusCancelled:  true,
		OrderStatusRejected:   true,
		OrderStatusFailed:     true,
	}
	for status, want := range terminal {
		assert.Equal(t, want, status.Terminal(), status.String())
	}

	o := Order{Qty: d("10"), FilledQty: d("4")}
	assert.True(t, d("6").Equal(o.LeavesQty()))
	o.FilledQty = d("12")
	assert.True(t, o.LeavesQty().IsZero())
}

func TestParseEnums(t *testing.T) {
	mode, ok := ParseTrailMode(" Swing ")
	require.True(t, ok)
	assert.Equal(t, TrailModeSwingPoint, mode)
	_, ok = ParseTrailMode("magic")
	assert.False(t, ok)

	run, ok := ParseRunMode("backtest")
	require.True(t, ok)
	assert.Equal(t, RunModeBacktest, run)

	assert.True(t, SignalEntry.Opens())
	assert.True(t, SignalAdd.Opens())
	assert.False(t, SignalFlatten.Opens())
	assert.Equal(t, "Signal", EventSignal.String())
}
