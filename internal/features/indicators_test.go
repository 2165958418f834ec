package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMA(t *testing.T) {
	v, ok := SMA([]float64{1, 2, 3, 4, 5}, 3)
	assert.True(t, ok)
	assert.InDelta(t, 4.0, v, 1e-12)

	_, ok = SMA([]float64{1, 2}, 3)
	assert.False(t, ok)
}

func TestEMA(t *testing.T) {
	v, ok := EMA([]float64{2, 2, 2, 2}, 2)
	assert.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-12)
}

func TestATR(t *testing.T) {
	highs := []float64{10, 11, 12, 13}
	lows := []float64{9, 10, 11, 12}
	closes := []float64{9.5, 10.5, 11.5, 12.5}
	v, ok := ATR(highs, lows, closes, 3)
	assert.True(t, ok)
	// every true range is high minus previous close: 1.5
	assert.InDelta(t, 1.5, v, 1e-12)

	_, ok = ATR(highs, lows, closes, 4)
	assert.False(t, ok)
}

func TestOBV(t *testing.T) {
	got := OBV([]float64{10, 11, 11, 9}, []float64{100, 200, 300, 400})
	assert.Equal(t, []float64{0, 200, 200, -200}, got)
	assert.Nil(t, OBV([]float64{1}, nil))
}

func TestSwings(t *testing.T) {
	lows := []float64{5, 4, 3, 4, 5, 4, 3.5, 4, 5}
	assert.Equal(t, []int{2, 6}, SwingLows(lows, 2))

	highs := []float64{1, 2, 3, 2, 1, 2, 4, 2, 1}
	assert.Equal(t, []int{2, 6}, SwingHighs(highs, 2))
	assert.True(t, rising(highs, []int{2, 6}))
	assert.True(t, rising(lows, []int{2, 6}))
	assert.False(t, rising(lows, []int{2}))
}

func TestZScores(t *testing.T) {
	got := ZScores([]float64{1, 3})
	assert.InDelta(t, -1.0, got[0], 1e-12)
	assert.InDelta(t, 1.0, got[1], 1e-12)

	flat := ZScores([]float64{2, 2, 2})
	for _, v := range flat {
		if v != 0 || math.IsNaN(v) {
			t.Fatalf("flat z-score: got %v", flat)
		}
	}
}
