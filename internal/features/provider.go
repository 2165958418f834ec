package features

import (
	"time"

	"github.com/yanun0323/errors"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// Provider computes named features for a symbol as of a point in time.
// It fails with exception.ErrInsufficientHistory until enough bars exist.
type Provider interface {
	Features(symbol string, asOf time.Time) (schema.FeatureSet, error)
}

// Config sets the lookbacks, in bars, of every computed feature.
type Config struct {
	FastPeriod       int           `yaml:"fast_period"`
	SlowPeriod       int           `yaml:"slow_period"`
	ATRPeriod        int           `yaml:"atr_period"`
	VolumePeriod     int           `yaml:"volume_period"`
	OBVLookback      int           `yaml:"obv_lookback"`
	RangeWindow      int           `yaml:"range_window"`
	CompressionShort int           `yaml:"compression_short"`
	CompressionLong  int           `yaml:"compression_long"`
	SwingStrength    int           `yaml:"swing_strength"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	// ReturnFrom and ReturnTo bound the warm-up return window.
	ReturnFrom time.Time `yaml:"-"`
	ReturnTo   time.Time `yaml:"-"`
}

// DefaultConfig returns lookbacks sized for one-minute bars.
func DefaultConfig() Config {
	return Config{
		FastPeriod:       5,
		SlowPeriod:       20,
		ATRPeriod:        14,
		VolumePeriod:     10,
		OBVLookback:      35,
		RangeWindow:      15,
		CompressionShort: 10,
		CompressionLong:  30,
		SwingStrength:    2,
		StaleAfter:       5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.FastPeriod <= 0 {
		c.FastPeriod = def.FastPeriod
	}
	if c.SlowPeriod <= 0 {
		c.SlowPeriod = def.SlowPeriod
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = def.ATRPeriod
	}
	if c.VolumePeriod <= 0 {
		c.VolumePeriod = def.VolumePeriod
	}
	if c.OBVLookback <= 0 {
		c.OBVLookback = def.OBVLookback
	}
	if c.RangeWindow <= 0 {
		c.RangeWindow = def.RangeWindow
	}
	if c.CompressionShort <= 0 {
		c.CompressionShort = def.CompressionShort
	}
	if c.CompressionLong <= 0 {
		c.CompressionLong = def.CompressionLong
	}
	if c.SwingStrength <= 0 {
		c.SwingStrength = def.SwingStrength
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.FastPeriod >= c.SlowPeriod {
		return errors.Errorf("invalid features config: fast period %d must be below slow period %d", c.FastPeriod, c.SlowPeriod)
	}
	if c.CompressionShort >= c.CompressionLong {
		return errors.Errorf("invalid features config: compression short %d must be below long %d", c.CompressionShort, c.CompressionLong)
	}
	if c.StaleAfter < 0 {
		return errors.New("invalid features config: stale_after must be >= 0")
	}
	return nil
}

// MinBars returns the history required before any feature set is produced.
func (c Config) MinBars() int {
	n := c.SlowPeriod
	for _, v := range []int{c.ATRPeriod + 1, c.VolumePeriod + 1, c.OBVLookback + 1, c.RangeWindow + 1, c.CompressionLong} {
		if v > n {
			n = v
		}
	}
	return n
}

func insufficient(symbol string, have, need int) error {
	return errors.Wrapf(exception.ErrInsufficientHistory, "symbol %s has %d bars, needs %d", symbol, have, need)
}
