package schema

import "time"

// Feature names consumed by the decision engine.
const (
	FeatureReturnWarmup     = "RET_0915_0950"
	FeatureVolumeSpike      = "VSpike_10m"
	FeatureOBVDelta         = "OBVΔ_35m"
	FeatureRangeCompression = "RangeCompression"
	FeatureSectorStrength   = "SectorStrength"
	FeatureATR              = "ATR"
	FeatureMAFast           = "MA_FAST"
	FeatureMASlow           = "MA_SLOW"
	FeatureRangeHigh        = "RANGE_HIGH"
	FeatureVolumeAvg        = "VOL_AVG"
	FeatureSwingLow         = "SWING_LOW"
	FeatureHigherHigh       = "HIGHER_HIGH"
	FeatureHigherLow        = "HIGHER_LOW"
)

// FeatureSet holds named feature values for a symbol as of a point in time.
// A set is produced fresh for each evaluation and never mutated.
type FeatureSet struct {
	Symbol string             `json:"symbol"`
	AsOf   time.Time          `json:"asOf"`
	Values map[string]float64 `json:"values"`
}

// Get returns a feature value.
func (f FeatureSet) Get(name string) (float64, bool) {
	v, ok := f.Values[name]
	return v, ok
}

// Flag reports whether a boolean-encoded feature is set.
func (f FeatureSet) Flag(name string) bool {
	v, ok := f.Values[name]
	return ok && v > 0
}

// Score is the composite ranking value derived from a FeatureSet.
type Score struct {
	Symbol string    `json:"symbol"`
	AsOf   time.Time `json:"asOf"`
	Value  float64   `json:"value"`
	Rank   int       `json:"rank"`
}
