package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/schema"
)

func TestNextAdd(t *testing.T) {
	cfg := DefaultConfig().Pyramid
	pos := longPosition("AAA", "100", "95", "100", at(10, 0))

	testCases := []struct {
		desc       string
		authorized int
		price      string
		ok         bool
		index      int
		fraction   string
	}{
		{"below first threshold", 0, "103.70", false, 0, ""},
		{"first threshold", 0, "103.75", true, 0, "0.5"},
		{"first already authorized", 1, "103.75", false, 0, ""},
		{"second threshold", 1, "106.25", true, 1, "0.33"},
		{"gap skips nothing", 0, "111", true, 0, "0.5"},
		{"third threshold", 2, "110", true, 2, "0.25"},
		{"max adds", 3, "150", false, 0, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			p := pos
			p.AddsAuthorized = tc.authorized
			step, ok := NextAdd(cfg, p, d(tc.price))
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.index, step.Index)
			assert.True(t, d(tc.fraction).Equal(step.Fraction))
		})
	}
}

func TestNextAddShort(t *testing.T) {
	pos := longPosition("AAA", "100", "105", "-100", at(10, 0))
	pos.Side = schema.OrderSideSell
	pos.RiskUnit = d("5")

	_, ok := NextAdd(DefaultConfig().Pyramid, pos, d("96.25"))
	assert.True(t, ok)
	_, ok = NextAdd(DefaultConfig().Pyramid, pos, d("103.75"))
	assert.False(t, ok)
}

func TestMaxQuantity(t *testing.T) {
	cfg := DefaultConfig().Pyramid
	// 100 + 50 + 33 + 25
	assert.True(t, d("208").Equal(MaxQuantity(cfg, d("100"), schema.DefaultLotSpec())))
	// 150 + 75 + 49 + 37
	assert.True(t, d("311").Equal(MaxQuantity(cfg, d("150"), schema.DefaultLotSpec())))
}

func TestTrailCandidate(t *testing.T) {
	lot := schema.DefaultLotSpec()
	pos := longPosition("AAA", "100", "95", "100", at(10, 0))
	pos.TrailLevel = d("97")
	pos.HighWater = d("101")
	bar := schema.Bar{Symbol: "AAA", Open: d("100"), High: d("102"), Low: d("99.5"), Close: d("101.5")}
	fs := schema.FeatureSet{Symbol: "AAA", Values: map[string]float64{
		schema.FeatureATR:      1.25,
		schema.FeatureMASlow:   98.123,
		schema.FeatureSwingLow: 96.5,
	}}

	testCases := []struct {
		desc      string
		mode      schema.TrailMode
		candidate string
		ok        bool
		tightened string
	}{
		{"volatility channel", schema.TrailModeVolatilityChannel, "99.5", true, "99.5"},
		{"moving average", schema.TrailModeMovingAverage, "98.12", true, "98.12"},
		{"swing point never loosens", schema.TrailModeSwingPoint, "96.5", true, "97"},
		{"unknown", schema.TrailModeUnknown, "0", false, "97"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := DefaultConfig().Trail
			cfg.Mode = tc.mode
			got, ok := TrailCandidate(cfg, pos, bar, fs, lot)
			require.Equal(t, tc.ok, ok)
			assert.True(t, d(tc.candidate).Equal(got), got.String())
			if ok {
				assert.True(t, d(tc.tightened).Equal(Tighten(pos, got)))
			}
		})
	}
}

func TestTightenIsMonotonic(t *testing.T) {
	pos := longPosition("AAA", "100", "95", "100", at(10, 0))
	levels := []string{"96", "95.5", "98", "97", "98", "99.25"}
	want := []string{"96", "96", "98", "98", "98", "99.25"}

	for i, level := range levels {
		pos.TrailLevel = Tighten(pos, d(level))
		assert.True(t, d(want[i]).Equal(pos.TrailLevel), "step %d", i)
	}

	short := pos
	short.Side = schema.OrderSideSell
	short.TrailLevel = d("105")
	assert.True(t, d("104").Equal(Tighten(short, d("104"))))
	assert.True(t, d("105").Equal(Tighten(short, d("106"))))
}

func TestCostBasisStop(t *testing.T) {
	lot := schema.DefaultLotSpec()
	pos := longPosition("AAA", "100", "95", "150", at(10, 0))
	pos.AvgPrice = d("101.25")

	assert.True(t, d("96.25").Equal(CostBasisStop(pos, lot)))

	pos.TrailLevel = d("99")
	assert.True(t, d("99").Equal(CostBasisStop(pos, lot)), "an already tighter stop is kept")
}

func TestRotation(t *testing.T) {
	cfg := DefaultConfig().Rotation
	opened := at(10, 0)
	pos := longPosition("AAA", "100", "95", "100", opened)

	assert.False(t, RotationDue(cfg, pos, opened.Add(19*time.Minute)))
	assert.True(t, RotationDue(cfg, pos, opened.Add(20*time.Minute)))
	pos.RotationChecks = 1
	assert.False(t, RotationDue(cfg, pos, opened.Add(39*time.Minute)))
	assert.True(t, RotationDue(cfg, pos, opened.Add(40*time.Minute)))

	assert.True(t, Underperforming(cfg, pos, d("102.49")))
	assert.False(t, Underperforming(cfg, pos, d("102.5")))

	assert.False(t, RotationDue(cfg, schema.Position{}, opened.Add(time.Hour)))
}

func TestEntryRule(t *testing.T) {
	cfg := DefaultConfig().Trigger
	base := schema.Bar{Symbol: "AAA", Open: d("100.6"), High: d("101"), Low: d("99.5"), Close: d("100.9"), Volume: d("3000")}

	testCases := []struct {
		desc   string
		bar    schema.Bar
		values map[string]float64
		rule   string
		ok     bool
	}{
		{
			desc:   "momentum",
			bar:    base,
			values: map[string]float64{schema.FeatureMAFast: 100.5, schema.FeatureMASlow: 100},
			rule:   schema.RuleMomentum,
			ok:     true,
		},
		{
			desc:   "momentum body too low",
			bar:    schema.Bar{Symbol: "AAA", Open: d("99.6"), High: d("101"), Low: d("99.5"), Close: d("100.9"), Volume: d("3000")},
			values: map[string]float64{schema.FeatureMAFast: 100.5, schema.FeatureMASlow: 100},
		},
		{
			desc:   "range break",
			bar:    base,
			values: map[string]float64{schema.FeatureRangeHigh: 100.8, schema.FeatureVolumeAvg: 2000},
			rule:   schema.RuleRangeBreak,
			ok:     true,
		},
		{
			desc:   "range break without volume",
			bar:    base,
			values: map[string]float64{schema.FeatureRangeHigh: 100.8, schema.FeatureVolumeAvg: 2001},
		},
		{
			desc: "momentum wins when both fire",
			bar:  base,
			values: map[string]float64{
				schema.FeatureMAFast: 100.5, schema.FeatureMASlow: 100,
				schema.FeatureRangeHigh: 100.8, schema.FeatureVolumeAvg: 1000,
			},
			rule: schema.RuleMomentum,
			ok:   true,
		},
		{
			desc: "no features",
			bar:  base,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			rule, ok := EntryRule(cfg, tc.bar, schema.FeatureSet{Symbol: "AAA", Values: tc.values})
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.rule, rule)
		})
	}
}
