package strategy

import (
	"time"

	"github.com/yanun0323/errors"

	"intraday/pkg/exception"
)

// Phase is the run-level state of the decision engine.
type Phase uint8

const (
	PhaseUnknown Phase = iota
	PhaseWarmup
	PhaseShortlist
	PhaseEntryWatch
	PhaseInPosition
	PhaseRotationCheck
	PhaseEODFlat
)

// Phases lists every valid phase in declaration order.
var Phases = []Phase{
	PhaseWarmup,
	PhaseShortlist,
	PhaseEntryWatch,
	PhaseInPosition,
	PhaseRotationCheck,
	PhaseEODFlat,
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "WARMUP"
	case PhaseShortlist:
		return "SHORTLIST"
	case PhaseEntryWatch:
		return "ENTRY_WATCH"
	case PhaseInPosition:
		return "IN_POSITION"
	case PhaseRotationCheck:
		return "ROTATION_CHECK"
	case PhaseEODFlat:
		return "EOD_FLAT"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the phase ends the trading day.
func (p Phase) Terminal() bool {
	return p == PhaseEODFlat
}

var transitions = map[Phase][]Phase{
	PhaseWarmup:        {PhaseShortlist, PhaseEODFlat},
	PhaseShortlist:     {PhaseEntryWatch, PhaseEODFlat},
	PhaseEntryWatch:    {PhaseInPosition, PhaseEODFlat},
	PhaseInPosition:    {PhaseEntryWatch, PhaseRotationCheck, PhaseEODFlat},
	PhaseRotationCheck: {PhaseInPosition, PhaseEntryWatch, PhaseEODFlat},
	PhaseEODFlat:       {},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition records a phase change at a session time.
type Transition struct {
	From Phase
	To   Phase
	At   time.Time
}

type phaseTracker struct {
	current Phase
	at      time.Time
	steps   []Transition
	err     error
}

func newPhaseTracker(start Phase, at time.Time) *phaseTracker {
	if start == PhaseUnknown {
		start = PhaseWarmup
	}
	return &phaseTracker{current: start, at: at}
}

// move appends a transition, ignoring self moves. An illegal move is kept as
// an error and the phase does not change.
func (t *phaseTracker) move(to Phase) {
	if t.current == to || t.err != nil {
		return
	}
	if !CanTransition(t.current, to) {
		t.err = errors.Wrapf(exception.ErrInvalidPhase, "%s -> %s", t.current, to)
		return
	}
	t.steps = append(t.steps, Transition{From: t.current, To: to, At: t.at})
	t.current = to
}
