package strategy

import "intraday/internal/schema"

// EntryRule evaluates the entry rules in order and returns the first that
// fires. Momentum is checked before range break.
func EntryRule(cfg TriggerConfig, bar schema.Bar, fs schema.FeatureSet) (string, bool) {
	if momentum(cfg, bar, fs) {
		return schema.RuleMomentum, true
	}
	if rangeBreak(cfg, bar, fs) {
		return schema.RuleRangeBreak, true
	}
	return "", false
}

// momentum: fast average above slow, close above fast, and the candle body
// sitting in the top BodyTopFraction of the bar range.
func momentum(cfg TriggerConfig, bar schema.Bar, fs schema.FeatureSet) bool {
	fast, ok := fs.Get(schema.FeatureMAFast)
	if !ok {
		return false
	}
	slow, ok := fs.Get(schema.FeatureMASlow)
	if !ok {
		return false
	}
	high := bar.High.InexactFloat64()
	low := bar.Low.InexactFloat64()
	open := bar.Open.InexactFloat64()
	close := bar.Close.InexactFloat64()
	rng := high - low
	if rng <= 0 {
		return false
	}
	if fast <= slow || close <= fast {
		return false
	}
	bodyLow := open
	if close < bodyLow {
		bodyLow = close
	}
	return bodyLow >= high-cfg.BodyTopFraction*rng
}

// rangeBreak: close above the reference window high on volume of at least
// VolumeMultiple times its recent average.
func rangeBreak(cfg TriggerConfig, bar schema.Bar, fs schema.FeatureSet) bool {
	ref, ok := fs.Get(schema.FeatureRangeHigh)
	if !ok {
		return false
	}
	avg, ok := fs.Get(schema.FeatureVolumeAvg)
	if !ok || avg <= 0 {
		return false
	}
	if bar.Close.InexactFloat64() <= ref {
		return false
	}
	return bar.Volume.InexactFloat64() >= cfg.VolumeMultiple*avg
}
