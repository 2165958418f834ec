/*
Core implements the strategy runner of one trading session.

# Module
  - cycle source: turns a historical feed or a live bar queue into time-ordered cycles
  - session clock: monotonic trading-time cursor, one per run
  - runner: single thread loop that resolves every cycle before the next one
  - dispatcher: sizes intents, checks them against the guard and submits them through the gateway
  - settlement: applies fills to the order state machine and the position book

# Source
 1. bars from the historical feed (backtest)
 2. bars streamed into a bounded queue (live and paper trading)

# Produce
  - signals, orders, fills, positions and scores to the run store
  - a RunResult when the session is sealed
*/
package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

var runNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("intraday/run"))

// RunContext is the identity and clock of one session.
type RunContext struct {
	Run   schema.Run
	Clock *SessionClock
}

// NewRunContext creates the run metadata. Backtests get an id derived from
// their inputs so a rerun over the same data has the same id; live runs get
// a random one.
func NewRunContext(mode schema.RunMode, tradingDay string, universe *schema.Universe, config []byte, startedAt time.Time) (RunContext, error) {
	if mode == schema.RunModeUnknown {
		return RunContext{}, errors.Wrap(exception.ErrInvalidArgument, "run mode is unknown")
	}
	if universe == nil || universe.Count() == 0 {
		return RunContext{}, errors.Wrap(exception.ErrInvalidArgument, "universe is empty")
	}
	symbols := universe.Symbols()

	id := uuid.New()
	if mode == schema.RunModeBacktest {
		key := tradingDay + "|" + universe.Name() + "|" + strings.Join(symbols, ",") + "|" + string(config)
		id = uuid.NewSHA1(runNamespace, []byte(key))
	}
	return RunContext{
		Run: schema.Run{
			ID:         id.String(),
			Mode:       mode,
			TradingDay: tradingDay,
			Universe:   symbols,
			Config:     config,
			StartedAt:  startedAt,
		},
		Clock: NewSessionClock(time.Time{}),
	}, nil
}

// SessionClock only moves forward. Backtest and live runs both step it by
// bar time, so a run clock starts at zero and takes the first cycle's time.
type SessionClock struct {
	now time.Time
}

func NewSessionClock(start time.Time) *SessionClock {
	return &SessionClock{now: start}
}

// Now returns the current session time.
func (c *SessionClock) Now() time.Time {
	return c.now
}

// Advance moves the clock to t. Standing still is allowed; going back is not.
func (c *SessionClock) Advance(t time.Time) error {
	if t.Before(c.now) {
		return errors.Wrapf(exception.ErrClockRegression, "clock at %s, got %s", c.now.Format(time.RFC3339), t.Format(time.RFC3339))
	}
	c.now = t
	return nil
}
