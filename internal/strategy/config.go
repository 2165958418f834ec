package strategy

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"intraday/internal/schema"
)

// Session holds the resolved session boundaries of one trading day.
type Session struct {
	WarmupStart time.Time
	ShortlistAt time.Time
	EODAt       time.Time
}

// Validate checks that the boundaries are ordered.
func (s Session) Validate() error {
	if s.WarmupStart.IsZero() || s.ShortlistAt.IsZero() || s.EODAt.IsZero() {
		return errors.New("invalid session: boundaries must be set")
	}
	if !s.WarmupStart.Before(s.ShortlistAt) || !s.ShortlistAt.Before(s.EODAt) {
		return errors.Errorf("invalid session: want warmup %s < shortlist %s < eod %s", s.WarmupStart, s.ShortlistAt, s.EODAt)
	}
	return nil
}

// TriggerConfig parameterizes the entry rules.
type TriggerConfig struct {
	// BodyTopFraction is the top share of the bar range the body must sit in.
	BodyTopFraction float64 `yaml:"body_top_fraction"`
	VolumeMultiple  float64 `yaml:"volume_multiple"`
}

// LeaderConfig parameterizes leader consolidation.
type LeaderConfig struct {
	ReturnWeight   float64 `yaml:"return_weight"`
	VolumeWeight   float64 `yaml:"volume_weight"`
	OBVWeight      float64 `yaml:"obv_weight"`
	ProfitMultiple float64 `yaml:"profit_multiple"`
	SigmaMargin    float64 `yaml:"sigma_margin"`
}

// MaxPyramidAdds caps the number of adds a single position may receive.
const MaxPyramidAdds = 3

// PyramidConfig lists add thresholds in R and add sizes as fractions of the
// original entry. The number of steps is the maximum add count.
type PyramidConfig struct {
	Thresholds []decimal.Decimal `yaml:"thresholds"`
	Fractions  []decimal.Decimal `yaml:"fractions"`
}

// MaxAdds returns the add cap.
func (c PyramidConfig) MaxAdds() int {
	return len(c.Thresholds)
}

// TrailConfig selects the trailing stop mode.
type TrailConfig struct {
	Mode         schema.TrailMode
	ATRMultiple  float64
	MAFeature    string
	SwingFeature string
}

// RotationConfig parameterizes the periodic laggard check.
type RotationConfig struct {
	Interval   time.Duration   `yaml:"interval"`
	MinProfitR decimal.Decimal `yaml:"min_profit_r"`
}

// Config is the full decision engine configuration.
type Config struct {
	Session         Session
	Weights         map[string]float64
	Trigger         TriggerConfig
	Leader          LeaderConfig
	Pyramid         PyramidConfig
	Trail           TrailConfig
	Rotation        RotationConfig
	StopATRMultiple float64
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			schema.FeatureReturnWarmup:     0.30,
			schema.FeatureVolumeSpike:      0.20,
			schema.FeatureOBVDelta:         0.20,
			schema.FeatureRangeCompression: 0.15,
			schema.FeatureSectorStrength:   0.15,
		},
		Trigger: TriggerConfig{
			BodyTopFraction: 0.4,
			VolumeMultiple:  1.5,
		},
		Leader: LeaderConfig{
			ReturnWeight:   0.5,
			VolumeWeight:   0.25,
			OBVWeight:      0.25,
			ProfitMultiple: 1.0,
			SigmaMargin:    1.5,
		},
		Pyramid: PyramidConfig{
			Thresholds: []decimal.Decimal{decimal.RequireFromString("0.75"), decimal.RequireFromString("1.25"), decimal.RequireFromString("2.0")},
			Fractions:  []decimal.Decimal{decimal.RequireFromString("0.5"), decimal.RequireFromString("0.33"), decimal.RequireFromString("0.25")},
		},
		Trail: TrailConfig{
			Mode:         schema.TrailModeVolatilityChannel,
			ATRMultiple:  2.0,
			MAFeature:    schema.FeatureMASlow,
			SwingFeature: schema.FeatureSwingLow,
		},
		Rotation: RotationConfig{
			Interval:   20 * time.Minute,
			MinProfitR: decimal.RequireFromString("0.5"),
		},
		StopATRMultiple: 1.5,
	}
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if len(c.Weights) == 0 {
		return errors.New("invalid strategy config: score weights are empty")
	}
	if c.Trigger.BodyTopFraction <= 0 || c.Trigger.BodyTopFraction > 1 {
		return errors.New("invalid strategy config: body_top_fraction must be in (0, 1]")
	}
	if c.Trigger.VolumeMultiple <= 0 {
		return errors.New("invalid strategy config: volume_multiple must be > 0")
	}
	if len(c.Pyramid.Thresholds) != len(c.Pyramid.Fractions) {
		return errors.New("invalid strategy config: pyramid thresholds and fractions differ in length")
	}
	if len(c.Pyramid.Thresholds) > MaxPyramidAdds {
		return errors.Errorf("invalid strategy config: pyramid has %d steps, at most %d", len(c.Pyramid.Thresholds), MaxPyramidAdds)
	}
	for i, th := range c.Pyramid.Thresholds {
		if !th.IsPositive() || !c.Pyramid.Fractions[i].IsPositive() {
			return errors.Errorf("invalid strategy config: pyramid step %d must be positive", i)
		}
		if i > 0 && !th.GreaterThan(c.Pyramid.Thresholds[i-1]) {
			return errors.New("invalid strategy config: pyramid thresholds must increase")
		}
	}
	if c.Trail.Mode == schema.TrailModeUnknown {
		return errors.New("invalid strategy config: trailing stop mode is unknown")
	}
	if c.Trail.Mode == schema.TrailModeVolatilityChannel && c.Trail.ATRMultiple <= 0 {
		return errors.New("invalid strategy config: atr multiple must be > 0")
	}
	if c.Rotation.Interval <= 0 {
		return errors.New("invalid strategy config: rotation interval must be > 0")
	}
	if c.StopATRMultiple <= 0 {
		return errors.New("invalid strategy config: stop atr multiple must be > 0")
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
