package features

import (
	"sort"
	"time"

	"github.com/yanun0323/errors"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// History computes features from the bars it has been fed.
// It is owned by the runner and is not safe for concurrent use.
type History struct {
	cfg      Config
	universe *schema.Universe
	bars     map[string][]schema.Bar
}

// NewHistory creates an empty bar history for a universe.
func NewHistory(cfg Config, universe *schema.Universe) (*History, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &History{
		cfg:      cfg,
		universe: universe,
		bars:     make(map[string][]schema.Bar),
	}, nil
}

// Append adds a bar. Bars must arrive in strictly increasing time per symbol.
func (h *History) Append(bar schema.Bar) error {
	series := h.bars[bar.Symbol]
	if n := len(series); n > 0 && !bar.Time.After(series[n-1].Time) {
		return errors.Wrapf(exception.ErrOutOfOrderBar, "symbol %s bar %s not after %s", bar.Symbol, bar.Time, series[n-1].Time)
	}
	h.bars[bar.Symbol] = append(series, bar)
	return nil
}

// Len returns the number of bars held for a symbol.
func (h *History) Len(symbol string) int {
	return len(h.bars[symbol])
}

// Last returns the most recent bar of a symbol.
func (h *History) Last(symbol string) (schema.Bar, bool) {
	series := h.bars[symbol]
	if len(series) == 0 {
		return schema.Bar{}, false
	}
	return series[len(series)-1], true
}

// Features implements Provider.
func (h *History) Features(symbol string, asOf time.Time) (schema.FeatureSet, error) {
	series := h.until(symbol, asOf)
	need := h.cfg.MinBars()
	if len(series) < need {
		return schema.FeatureSet{}, insufficient(symbol, len(series), need)
	}
	last := series[len(series)-1]
	if h.cfg.StaleAfter > 0 && asOf.Sub(last.Time) > h.cfg.StaleAfter {
		return schema.FeatureSet{}, errors.Wrapf(exception.ErrStaleFeatures, "symbol %s last bar %s as of %s", symbol, last.Time, asOf)
	}

	s := columns(series)
	n := len(s.close)
	values := make(map[string]float64, 13)

	fast, _ := SMA(s.close, h.cfg.FastPeriod)
	slow, _ := SMA(s.close, h.cfg.SlowPeriod)
	atr, _ := ATR(s.high, s.low, s.close, h.cfg.ATRPeriod)
	values[schema.FeatureMAFast] = fast
	values[schema.FeatureMASlow] = slow
	values[schema.FeatureATR] = atr

	values[schema.FeatureRangeHigh] = Max(s.high[n-1-h.cfg.RangeWindow : n-1])
	volAvg := Mean(s.volume[n-1-h.cfg.VolumePeriod : n-1])
	values[schema.FeatureVolumeAvg] = volAvg
	if volAvg > 0 {
		values[schema.FeatureVolumeSpike] = s.volume[n-1] / volAvg
	}

	obv := OBV(s.close, s.volume)
	lookback := h.cfg.OBVLookback
	if denom := Mean(s.volume[n-lookback:]) * float64(lookback); denom > 0 {
		values[schema.FeatureOBVDelta] = (obv[n-1] - obv[n-1-lookback]) / denom
	}

	shortRange := Max(s.high[n-h.cfg.CompressionShort:]) - Min(s.low[n-h.cfg.CompressionShort:])
	longRange := Max(s.high[n-h.cfg.CompressionLong:]) - Min(s.low[n-h.cfg.CompressionLong:])
	if longRange > 0 {
		values[schema.FeatureRangeCompression] = 1 - shortRange/longRange
	}

	if ret, ok := h.windowReturn(series); ok {
		values[schema.FeatureReturnWarmup] = ret
	}
	if strength, ok := h.sectorStrength(symbol, asOf); ok {
		values[schema.FeatureSectorStrength] = strength
	}

	strength := h.cfg.SwingStrength
	lowIdx := SwingLows(s.low, strength)
	highIdx := SwingHighs(s.high, strength)
	if len(lowIdx) > 0 {
		values[schema.FeatureSwingLow] = s.low[lowIdx[len(lowIdx)-1]]
	}
	values[schema.FeatureHigherHigh] = boolValue(rising(s.high, highIdx))
	values[schema.FeatureHigherLow] = boolValue(rising(s.low, lowIdx))

	return schema.FeatureSet{
		Symbol: symbol,
		AsOf:   asOf,
		Values: values,
	}, nil
}

func (h *History) until(symbol string, asOf time.Time) []schema.Bar {
	series := h.bars[symbol]
	idx := sort.Search(len(series), func(i int) bool {
		return series[i].Time.After(asOf)
	})
	return series[:idx]
}

// windowReturn is the close-to-open return over the configured return window,
// clipped to the bars available.
func (h *History) windowReturn(series []schema.Bar) (float64, bool) {
	start := -1
	end := -1
	for i, bar := range series {
		if !h.cfg.ReturnFrom.IsZero() && bar.Time.Before(h.cfg.ReturnFrom) {
			continue
		}
		if !h.cfg.ReturnTo.IsZero() && bar.Time.After(h.cfg.ReturnTo) {
			break
		}
		if start < 0 {
			start = i
		}
		end = i
	}
	if start < 0 {
		return 0, false
	}
	open := series[start].Open.InexactFloat64()
	if open <= 0 {
		return 0, false
	}
	return series[end].Close.InexactFloat64()/open - 1, true
}

// sectorStrength averages the window return of every symbol sharing the sector.
func (h *History) sectorStrength(symbol string, asOf time.Time) (float64, bool) {
	if h.universe == nil {
		return 0, false
	}
	sector := h.universe.Sector(symbol)
	if sector == "" {
		return 0, false
	}
	var returns []float64
	for _, peer := range h.universe.Symbols() {
		if h.universe.Sector(peer) != sector {
			continue
		}
		if ret, ok := h.windowReturn(h.until(peer, asOf)); ok {
			returns = append(returns, ret)
		}
	}
	if len(returns) == 0 {
		return 0, false
	}
	return Mean(returns), true
}

type ohlcv struct {
	high   []float64
	low    []float64
	close  []float64
	volume []float64
}

func columns(series []schema.Bar) ohlcv {
	out := ohlcv{
		high:   make([]float64, len(series)),
		low:    make([]float64, len(series)),
		close:  make([]float64, len(series)),
		volume: make([]float64, len(series)),
	}
	for i, bar := range series {
		out.high[i] = bar.High.InexactFloat64()
		out.low[i] = bar.Low.InexactFloat64()
		out.close[i] = bar.Close.InexactFloat64()
		out.volume[i] = bar.Volume.InexactFloat64()
	}
	return out
}

func rising(values []float64, idx []int) bool {
	if len(idx) < 2 {
		return false
	}
	return values[idx[len(idx)-1]] > values[idx[len(idx)-2]]
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
