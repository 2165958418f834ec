package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalKind is the intent category produced by the decision engine.
type SignalKind uint8

const (
	SignalUnknown SignalKind = iota
	SignalEntry
	SignalAdd
	SignalExit
	SignalRotate
	SignalFlatten
)

// String implements fmt.Stringer.
func (k SignalKind) String() string {
	switch k {
	case SignalEntry:
		return "entry"
	case SignalAdd:
		return "add"
	case SignalExit:
		return "exit"
	case SignalRotate:
		return "rotate"
	case SignalFlatten:
		return "flatten"
	default:
		return "unknown"
	}
}

// Opens reports whether the kind increases exposure.
func (k SignalKind) Opens() bool {
	return k == SignalEntry || k == SignalAdd
}

// Rule names recorded on signals.
const (
	RuleMomentum     = "momentum"
	RuleRangeBreak   = "range_break"
	RulePyramid      = "pyramid"
	RuleTrailingStop = "trailing_stop"
	RuleLeaderProfit = "leader_profit"
	RuleLeaderMargin = "leader_margin"
	RuleLeaderStruct = "leader_structure"
	RuleRotation     = "rotation"
	RuleEODFlatten   = "eod_flatten"
	RuleAnomaly      = "session_anomaly"
	RuleEndOfData    = "end_of_data"
)

// Signal is an immutable decision; each one maps to at most one order attempt.
type Signal struct {
	ID       uint64          `json:"id"`
	Symbol   string          `json:"symbol"`
	Kind     SignalKind      `json:"kind"`
	Time     time.Time       `json:"time"`
	Rule     string          `json:"rule"`
	RefPrice decimal.Decimal `json:"refPrice"`
}
