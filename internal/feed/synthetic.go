package feed

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"intraday/internal/schema"
)

// SyntheticConfig shapes the generated price paths.
type SyntheticConfig struct {
	Seed int64 `yaml:"seed"`
	// BasePrice is the opening price of the first symbol; later symbols open
	// a little higher so paths are easy to tell apart.
	BasePrice float64 `yaml:"base_price"`
	// Volatility is the standard deviation of one bar's log return.
	Volatility float64 `yaml:"volatility"`
	BaseVolume float64 `yaml:"base_volume"`
}

// DefaultSyntheticConfig returns a calm one-minute tape.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Seed:       1,
		BasePrice:  100,
		Volatility: 0.002,
		BaseVolume: 10000,
	}
}

// Synthetic generates deterministic random-walk bars. The same seed, symbol
// and window always produce the same bars.
type Synthetic struct {
	cfg     SyntheticConfig
	symbols []string
	index   map[string]int
}

// NewSynthetic creates a generator for the given symbols.
func NewSynthetic(symbols []string, cfg SyntheticConfig) (*Synthetic, error) {
	if len(symbols) == 0 {
		return nil, errors.New("synthetic feed has no symbols")
	}
	def := DefaultSyntheticConfig()
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = def.BasePrice
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = def.Volatility
	}
	if cfg.BaseVolume <= 0 {
		cfg.BaseVolume = def.BaseVolume
	}
	index := make(map[string]int, len(symbols))
	for i, s := range symbols {
		index[s] = i
	}
	return &Synthetic{cfg: cfg, symbols: symbols, index: index}, nil
}

func (s *Synthetic) Bars(ctx context.Context, symbol string, tf schema.Timeframe, from, to time.Time) ([]schema.Bar, error) {
	idx, ok := s.index[symbol]
	if !ok {
		return nil, nil
	}
	step := tf.Duration()
	if step <= 0 {
		return nil, errors.Errorf("unsupported timeframe %q", tf)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(s.cfg.Seed ^ int64(h.Sum64()>>1)))

	vol := s.cfg.Volatility
	drift := (rng.Float64() - 0.4) * vol / 2
	price := s.cfg.BasePrice * (1 + 0.1*float64(idx))

	var bars []schema.Bar
	for t := from; t.Before(to); t = t.Add(step) {
		open := price
		price *= math.Exp(drift + vol*rng.NormFloat64())
		hi := math.Max(open, price) * (1 + math.Abs(rng.NormFloat64())*vol/2)
		lo := math.Min(open, price) * (1 - math.Abs(rng.NormFloat64())*vol/2)
		volume := s.cfg.BaseVolume * (0.5 + rng.ExpFloat64())
		bars = append(bars, schema.Bar{
			Symbol:    symbol,
			Timeframe: tf,
			Time:      t,
			Open:      cents(open),
			High:      cents(hi),
			Low:       cents(lo),
			Close:     cents(price),
			Volume:    decimal.NewFromFloat(volume).Round(0),
		})
	}
	return bars, nil
}

// Session returns the bars of every symbol merged by time.
func (s *Synthetic) Session(ctx context.Context, tf schema.Timeframe, from, to time.Time) ([]schema.Bar, error) {
	var all []schema.Bar
	for _, sym := range s.symbols {
		bars, err := s.Bars(ctx, sym, tf, from, to)
		if err != nil {
			return nil, err
		}
		all = append(all, bars...)
	}
	SortBars(all)
	return all, nil
}

func cents(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
