package schema

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RunMode selects the timing regime of a run.
type RunMode uint8

const (
	RunModeUnknown RunMode = iota
	RunModeBacktest
	RunModeLive
)

// String implements fmt.Stringer.
func (m RunMode) String() string {
	switch m {
	case RunModeBacktest:
		return "backtest"
	case RunModeLive:
		return "live"
	default:
		return "unknown"
	}
}

// ParseRunMode converts a config string into a RunMode.
func ParseRunMode(s string) (RunMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "backtest":
		return RunModeBacktest, true
	case "live":
		return RunModeLive, true
	default:
		return RunModeUnknown, false
	}
}

// Run is the metadata of one trading session. It is created at session start
// and sealed at session end.
type Run struct {
	ID         string    `json:"id"`
	Mode       RunMode   `json:"mode"`
	TradingDay string    `json:"tradingDay"`
	Universe   []string  `json:"universe"`
	Config     []byte    `json:"config"`
	StartedAt  time.Time `json:"startedAt"`
	SealedAt   time.Time `json:"sealedAt,omitzero"`
}

// Sealed reports whether the run has ended.
func (r Run) Sealed() bool {
	return !r.SealedAt.IsZero()
}

// RunResult summarizes a sealed run.
type RunResult struct {
	RunID             string          `json:"runId"`
	Signals           int             `json:"signals"`
	SignalsByKind     map[string]int  `json:"signalsByKind"`
	Orders            int             `json:"orders"`
	FilledOrders      int             `json:"filledOrders"`
	FailedOrders      int             `json:"failedOrders"`
	RejectedIntents   int             `json:"rejectedIntents"`
	RealizedPnL       decimal.Decimal `json:"realizedPnl"`
	Wins              int             `json:"wins"`
	Losses            int             `json:"losses"`
	MaxDrawdown       decimal.Decimal `json:"maxDrawdown"`
	PeakExposure      decimal.Decimal `json:"peakExposure"`
	TerminalPositions int             `json:"terminalPositions"`
	HaltedSymbols     []string        `json:"haltedSymbols,omitempty"`
	Bars              int             `json:"bars"`
	Cycles            int             `json:"cycles"`
}
