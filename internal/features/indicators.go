package features

import "math"

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// EMA returns the exponential moving average seeded with the first SMA.
func EMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	multiplier := 2.0 / float64(period+1)
	ema, _ := SMA(values[:period], period)
	for _, v := range values[period:] {
		ema = (v-ema)*multiplier + ema
	}
	return ema, true
}

// ATR returns the simple average of the last period true ranges.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0, false
	}
	sum := 0.0
	for i := n - period; i < n; i++ {
		tr := math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		sum += tr
	}
	return sum / float64(period), true
}

// OBV returns the on-balance volume series.
func OBV(closes, volumes []float64) []float64 {
	if len(closes) == 0 || len(closes) != len(volumes) {
		return nil
	}
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + volumes[i]
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - volumes[i]
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// SwingLows returns indices of confirmed swing lows: a value strictly below
// the strength values on each side.
func SwingLows(lows []float64, strength int) []int {
	return swings(lows, strength, func(pivot, other float64) bool { return pivot < other })
}

// SwingHighs returns indices of confirmed swing highs.
func SwingHighs(highs []float64, strength int) []int {
	return swings(highs, strength, func(pivot, other float64) bool { return pivot > other })
}

func swings(values []float64, strength int, beats func(pivot, other float64) bool) []int {
	if strength <= 0 {
		strength = 1
	}
	var out []int
	for i := strength; i < len(values)-strength; i++ {
		ok := true
		for j := 1; j <= strength && ok; j++ {
			ok = beats(values[i], values[i-j]) && beats(values[i], values[i+j])
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// Max returns the largest value.
func Max(values []float64) float64 {
	out := math.Inf(-1)
	for _, v := range values {
		if v > out {
			out = v
		}
	}
	return out
}

// Min returns the smallest value.
func Min(values []float64) float64 {
	out := math.Inf(1)
	for _, v := range values {
		if v < out {
			out = v
		}
	}
	return out
}

// Mean returns the arithmetic mean, or zero for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// ZScores returns population z-scores. A zero deviation yields all zeros.
func ZScores(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(values)))
	if std == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}
