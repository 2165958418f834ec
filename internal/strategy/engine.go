package strategy

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// Snapshot is the read-only view of the run handed to Decide. The runner
// builds it from copies; the engine never holds references into the book.
type Snapshot struct {
	Now       time.Time
	Phase     Phase
	Bars      map[string]schema.Bar
	Features  map[string]schema.FeatureSet
	Positions []schema.Position
	Shortlist Shortlist
	// Busy holds symbols with unresolved orders.
	Busy   map[string]bool
	Halted map[string]bool
}

// Intent is a signal plus the parameters the runner needs to size it.
type Intent struct {
	Signal   schema.Signal
	Side     schema.OrderSide
	Qty      decimal.Decimal
	Stop     decimal.Decimal
	Weight   decimal.Decimal
	Fraction decimal.Decimal
	AddIndex int
}

// Skip records a symbol left out of this cycle.
type Skip struct {
	Symbol string
	Err    error
}

// Decision is everything Decide produced for one cycle.
type Decision struct {
	Phase            Phase
	Transitions      []Transition
	Scores           []schema.Score
	Shortlist        Shortlist
	ShortlistChanged bool
	Intents          []Intent
	StopUpdates      []StopUpdate
	RotationChecked  []string
	Leader           string
	Skipped          []Skip
}

// Engine is the pure decision function set. It performs no I/O and keeps no
// state between calls; all run state arrives in the Snapshot.
type Engine struct {
	cfg      Config
	alloc    weigher
	universe *schema.Universe
}

// NewEngine validates the configuration and creates an engine.
func NewEngine(cfg Config, alloc weigher, universe *schema.Universe) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if alloc == nil || alloc.Slots() <= 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "allocator has no slots")
	}
	if universe == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "universe")
	}
	return &Engine{cfg: cfg, alloc: alloc, universe: universe}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Decide runs one decision cycle.
func (e *Engine) Decide(s Snapshot) Decision {
	tracker := newPhaseTracker(s.Phase, s.Now)
	d := Decision{Shortlist: s.Shortlist.Clone()}

	if s.Phase == PhaseEODFlat || !s.Now.Before(e.cfg.Session.EODAt) {
		tracker.move(PhaseEODFlat)
		d.Intents = e.flattenAll(s)
		return e.finish(d, tracker)
	}

	d.Scores, d.Skipped = e.score(s)

	if tracker.current == PhaseWarmup {
		if s.Now.Before(e.cfg.Session.ShortlistAt) {
			return e.finish(d, tracker)
		}
		tracker.move(PhaseShortlist)
		d.Shortlist = buildShortlist(d.Scores, e.alloc)
		d.ShortlistChanged = true
	}
	if tracker.current == PhaseShortlist {
		tracker.move(PhaseEntryWatch)
	}
	if !d.Shortlist.Ready() && len(d.Scores) > 0 {
		d.Shortlist = buildShortlist(d.Scores, e.alloc)
		d.ShortlistChanged = true
	}

	open := openPositions(s.Positions)
	if len(open) > 0 {
		tracker.move(PhaseInPosition)
	} else {
		tracker.move(PhaseEntryWatch)
	}

	exiting := make(map[string]bool)
	leader := e.consolidate(s, open)
	d.Leader = leader.Leader
	leaderExits := make(map[string]string, len(leader.Exits))
	for _, ex := range leader.Exits {
		leaderExits[ex.Symbol] = ex.Rule
	}

	rotationDue := false
	for _, pos := range open {
		if s.Busy[pos.Symbol] || s.Halted[pos.Symbol] || pos.PendingFlatten {
			continue
		}
		bar, ok := s.Bars[pos.Symbol]
		if !ok {
			continue
		}
		fs, hasFeatures := s.Features[pos.Symbol]
		lot := e.lot(pos.Symbol)

		level := pos.TrailLevel
		if hasFeatures {
			if candidate, ok := TrailCandidate(e.cfg.Trail, pos, bar, fs, lot); ok {
				level = Tighten(pos, candidate)
			}
		}
		highWater := Extreme(pos, bar)
		if !level.Equal(pos.TrailLevel) || !highWater.Equal(pos.HighWater) {
			d.StopUpdates = append(d.StopUpdates, StopUpdate{Symbol: pos.Symbol, Level: level, HighWater: highWater})
		}
		view := pos
		view.TrailLevel = level
		if view.StopBreached(bar.Close) {
			d.Intents = append(d.Intents, e.closeIntent(pos, bar, schema.SignalExit, schema.RuleTrailingStop))
			exiting[pos.Symbol] = true
			continue
		}

		if rule, ok := leaderExits[pos.Symbol]; ok {
			d.Intents = append(d.Intents, e.closeIntent(pos, bar, schema.SignalExit, rule))
			exiting[pos.Symbol] = true
			continue
		}

		if RotationDue(e.cfg.Rotation, pos, s.Now) {
			rotationDue = true
			d.RotationChecked = append(d.RotationChecked, pos.Symbol)
			if Underperforming(e.cfg.Rotation, pos, bar.Close) {
				d.Intents = append(d.Intents, e.closeIntent(pos, bar, schema.SignalRotate, schema.RuleRotation))
				exiting[pos.Symbol] = true
				continue
			}
		}

		if step, ok := NextAdd(e.cfg.Pyramid, pos, bar.Close); ok {
			d.Intents = append(d.Intents, Intent{
				Signal:   e.signal(pos.Symbol, schema.SignalAdd, schema.RulePyramid, bar),
				Side:     pos.Side,
				Fraction: step.Fraction,
				AddIndex: step.Index,
			})
		}
	}

	if rotationDue {
		tracker.move(PhaseRotationCheck)
		held := make(map[string]bool, len(open))
		for _, pos := range open {
			if !exiting[pos.Symbol] {
				held[pos.Symbol] = true
			}
		}
		ranked := make([]schema.Score, 0, len(d.Scores))
		for _, sc := range d.Scores {
			if !exiting[sc.Symbol] {
				ranked = append(ranked, sc)
			}
		}
		next := refill(d.Shortlist, ranked, held, e.alloc)
		d.ShortlistChanged = d.ShortlistChanged || !sameSlots(d.Shortlist, next)
		d.Shortlist = next
	}

	d.Intents = append(d.Intents, e.entries(s, d.Shortlist, open, exiting)...)

	if len(open) > len(exiting) {
		tracker.move(PhaseInPosition)
	} else {
		tracker.move(PhaseEntryWatch)
	}
	return e.finish(d, tracker)
}

func (e *Engine) finish(d Decision, tracker *phaseTracker) Decision {
	d.Phase = tracker.current
	d.Transitions = tracker.steps
	if tracker.err != nil {
		d.Skipped = append(d.Skipped, Skip{Err: tracker.err})
	}
	return d
}

func (e *Engine) score(s Snapshot) ([]schema.Score, []Skip) {
	symbols := make([]string, 0, len(s.Features))
	for symbol := range s.Features {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	scores := make([]schema.Score, 0, len(symbols))
	var skipped []Skip
	for _, symbol := range symbols {
		if s.Halted[symbol] {
			continue
		}
		value, err := Composite(s.Features[symbol], e.cfg.Weights)
		if err != nil {
			skipped = append(skipped, Skip{Symbol: symbol, Err: err})
			continue
		}
		scores = append(scores, schema.Score{Symbol: symbol, AsOf: s.Now, Value: value})
	}
	return Rank(scores), skipped
}

func (e *Engine) consolidate(s Snapshot, open []schema.Position) LeaderResult {
	views := make([]LeaderView, 0, len(open))
	for _, pos := range open {
		bar, ok := s.Bars[pos.Symbol]
		if !ok || pos.PendingFlatten || s.Halted[pos.Symbol] {
			continue
		}
		fs, ok := s.Features[pos.Symbol]
		if !ok {
			continue
		}
		spike, _ := fs.Get(schema.FeatureVolumeSpike)
		obv, _ := fs.Get(schema.FeatureOBVDelta)
		views = append(views, LeaderView{
			Symbol:     pos.Symbol,
			R:          pos.UnrealizedR(bar.Close).InexactFloat64(),
			VSpike:     spike,
			OBVDelta:   obv,
			HigherHigh: fs.Flag(schema.FeatureHigherHigh),
			HigherLow:  fs.Flag(schema.FeatureHigherLow),
		})
	}
	return Consolidate(e.cfg.Leader, views)
}

func (e *Engine) entries(s Snapshot, shortlist Shortlist, open []schema.Position, exiting map[string]bool) []Intent {
	held := make(map[string]bool, len(open))
	for _, pos := range open {
		held[pos.Symbol] = true
	}
	var out []Intent
	for _, slot := range shortlist.Slots {
		symbol := slot.Symbol
		if symbol == "" || held[symbol] || exiting[symbol] || s.Busy[symbol] || s.Halted[symbol] {
			continue
		}
		if !slot.Weight.IsPositive() {
			continue
		}
		bar, ok := s.Bars[symbol]
		if !ok {
			continue
		}
		fs, ok := s.Features[symbol]
		if !ok {
			continue
		}
		rule, ok := EntryRule(e.cfg.Trigger, bar, fs)
		if !ok {
			continue
		}
		stop, ok := e.initialStop(bar, fs)
		if !ok {
			continue
		}
		out = append(out, Intent{
			Signal: e.signal(symbol, schema.SignalEntry, rule, bar),
			Side:   schema.OrderSideBuy,
			Stop:   stop,
			Weight: slot.Weight,
		})
	}
	return out
}

func (e *Engine) initialStop(bar schema.Bar, fs schema.FeatureSet) (decimal.Decimal, bool) {
	atr, ok := fs.Get(schema.FeatureATR)
	if !ok || atr <= 0 {
		return decimal.Zero, false
	}
	distance := decimal.NewFromFloat(e.cfg.StopATRMultiple * atr)
	stop := e.lot(bar.Symbol).RoundPrice(bar.Close.Sub(distance))
	if !stop.IsPositive() || !stop.LessThan(bar.Close) {
		return decimal.Zero, false
	}
	return stop, true
}

func (e *Engine) flattenAll(s Snapshot) []Intent {
	var out []Intent
	for _, pos := range openPositions(s.Positions) {
		if pos.PendingFlatten {
			continue
		}
		ref := pos.AvgPrice
		if bar, ok := s.Bars[pos.Symbol]; ok {
			ref = bar.Close
		}
		out = append(out, Intent{
			Signal: schema.Signal{Symbol: pos.Symbol, Kind: schema.SignalFlatten, Time: s.Now, Rule: schema.RuleEODFlatten, RefPrice: ref},
			Side:   pos.Side.Opposite(),
			Qty:    pos.AbsQty(),
		})
	}
	return out
}

func (e *Engine) closeIntent(pos schema.Position, bar schema.Bar, kind schema.SignalKind, rule string) Intent {
	return Intent{
		Signal: e.signal(pos.Symbol, kind, rule, bar),
		Side:   pos.Side.Opposite(),
		Qty:    pos.AbsQty(),
	}
}

func (e *Engine) signal(symbol string, kind schema.SignalKind, rule string, bar schema.Bar) schema.Signal {
	return schema.Signal{
		Symbol:   symbol,
		Kind:     kind,
		Time:     bar.Time,
		Rule:     rule,
		RefPrice: bar.Close,
	}
}

func (e *Engine) lot(symbol string) schema.LotSpec {
	inst, ok := e.universe.Instrument(symbol)
	if !ok {
		return schema.DefaultLotSpec()
	}
	return inst.Lot
}

// FlattenIntent builds a forced close outside the normal cycle, used for
// session anomalies and end of data.
func FlattenIntent(pos schema.Position, now time.Time, rule string, ref decimal.Decimal) Intent {
	if ref.IsZero() {
		ref = pos.AvgPrice
	}
	return Intent{
		Signal: schema.Signal{Symbol: pos.Symbol, Kind: schema.SignalFlatten, Time: now, Rule: rule, RefPrice: ref},
		Side:   pos.Side.Opposite(),
		Qty:    pos.AbsQty(),
	}
}

func openPositions(positions []schema.Position) []schema.Position {
	out := make([]schema.Position, 0, len(positions))
	for _, pos := range positions {
		if pos.IsOpen() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func sameSlots(a, b Shortlist) bool {
	if len(a.Slots) != len(b.Slots) {
		return false
	}
	for i := range a.Slots {
		if a.Slots[i].Symbol != b.Slots[i].Symbol || !a.Slots[i].Weight.Equal(b.Slots[i].Weight) {
			return false
		}
	}
	return true
}
