package core

import (
	"context"
	"maps"
	"io"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"intraday/internal/features"
	"intraday/internal/obs"
	"intraday/internal/og"
	"intraday/internal/risk"
	"intraday/internal/schema"
	"intraday/internal/state"
	"intraday/internal/strategy"
	"intraday/pkg/exception"
)

// Recorder accepts run records without blocking. *store.Store implements it.
type Recorder interface {
	Record(eventType schema.EventType, at time.Time, v any) (uint64, error)
}

// FeatureSource is the bar history the runner feeds and reads features from.
type FeatureSource interface {
	features.Provider
	Append(bar schema.Bar) error
}

// Config holds the runner parameters that are not part of the strategy.
type Config struct {
	Timeframe    schema.Timeframe `yaml:"timeframe"`
	Capital      decimal.Decimal  `yaml:"capital"`
	RiskFraction decimal.Decimal  `yaml:"risk_fraction"`
	CapNotional  bool             `yaml:"cap_notional"`
	Guard        risk.Config      `yaml:"guard"`
	// MaxGap halts a symbol whose consecutive bars are further apart. Zero
	// disables the check.
	MaxGap time.Duration `yaml:"max_gap"`
	// FlattenRounds bounds the cancel and flatten attempts after the last
	// cycle.
	FlattenRounds int           `yaml:"flatten_rounds"`
	FinalTimeout  time.Duration `yaml:"final_timeout"`
	SnapshotPath  string        `yaml:"snapshot_path"`
}

// DefaultConfig returns the reference runner parameters.
func DefaultConfig() Config {
	return Config{
		Timeframe:     schema.Timeframe1m,
		Capital:       decimal.NewFromInt(100_000),
		RiskFraction:  decimal.RequireFromString("0.0075"),
		CapNotional:   true,
		FlattenRounds: 3,
		FinalTimeout:  30 * time.Second,
	}
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if !c.Capital.IsPositive() {
		return errors.Wrap(exception.ErrInvalidArgument, "capital must be positive")
	}
	if !c.RiskFraction.IsPositive() || c.RiskFraction.GreaterThan(decimal.NewFromInt(1)) {
		return errors.Wrapf(exception.ErrInvalidArgument, "risk fraction %s out of (0, 1]", c.RiskFraction)
	}
	if c.FlattenRounds <= 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "flatten rounds must be positive")
	}
	if c.MaxGap < 0 || c.FinalTimeout < 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "durations must not be negative")
	}
	return nil
}

// Deps are the collaborators of one run.
type Deps struct {
	Universe  *schema.Universe
	Allocator *risk.Allocator
	Engine    *strategy.Engine
	Features  FeatureSource
	// Gateway is used as given; wrap it with og.NewRetryGateway for retries.
	Gateway og.OrderGateway
	Store   Recorder
	// Book is optional. A recovered book continues where a crashed run left
	// off.
	Book    *state.Book
	Metrics *obs.Metrics
}

// Runner drives one session. It is single threaded: every bar of a cycle is
// resolved, and every resulting order is submitted and settled, before the
// next cycle is read.
type Runner struct {
	cfg      Config
	run      RunContext
	universe *schema.Universe
	engine   *strategy.Engine
	strat    strategy.Config
	features FeatureSource
	gateway  og.OrderGateway
	store    Recorder
	metrics  *obs.Metrics
	book     *state.Book
	orders   *og.StateMachine
	guard    *risk.Guard
	sizer    risk.Sizer
	maxOpen  int
	maxAdds  int

	phase      strategy.Phase
	shortlist  strategy.Shortlist
	bars       map[string]schema.Bar
	halted     map[string]bool
	plans      map[uint64]state.EntryPlan
	execs      map[string]bool
	nextSignal uint64
	nextOrder  uint64
	lastSeq    uint64
	result     schema.RunResult
	stats      runStats
}

type runStats struct {
	bars   int
	cycles int
}

// NewRunner validates the configuration and wires the collaborators.
func NewRunner(rc RunContext, cfg Config, deps Deps) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rc.Clock == nil || rc.Run.ID == "" {
		return nil, errors.Wrap(exception.ErrNilInstance, "run context")
	}
	if deps.Universe == nil || deps.Allocator == nil || deps.Engine == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "universe, allocator and engine are required")
	}
	if deps.Features == nil || deps.Gateway == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "features and gateway are required")
	}

	strat := deps.Engine.Config()
	maxOpen := deps.Allocator.Slots()
	maxAdds := strat.Pyramid.MaxAdds()
	guardCfg := cfg.Guard
	if guardCfg.MaxOpenPositions <= 0 || guardCfg.MaxOpenPositions > maxOpen {
		guardCfg.MaxOpenPositions = maxOpen
	}
	if guardCfg.MaxAdds <= 0 || guardCfg.MaxAdds > maxAdds {
		guardCfg.MaxAdds = maxAdds
	}

	book := deps.Book
	if book == nil {
		book = state.NewBook(cfg.Capital)
	}

	return &Runner{
		cfg:      cfg,
		run:      rc,
		universe: deps.Universe,
		engine:   deps.Engine,
		strat:    strat,
		features: deps.Features,
		gateway:  deps.Gateway,
		store:    deps.Store,
		metrics:  deps.Metrics,
		book:     book,
		orders:   og.NewStateMachine(),
		guard:    risk.NewGuard(guardCfg),
		sizer:    risk.Sizer{RiskFraction: cfg.RiskFraction, CapNotional: cfg.CapNotional},
		maxOpen:  guardCfg.MaxOpenPositions,
		maxAdds:  maxAdds,
		phase:    strategy.PhaseWarmup,
		bars:     make(map[string]schema.Bar),
		halted:   make(map[string]bool),
		plans:    make(map[uint64]state.EntryPlan),
		execs:    make(map[string]bool),
		result: schema.RunResult{
			RunID:         rc.Run.ID,
			SignalsByKind: make(map[string]int),
		},
	}, nil
}

// Book returns the position book of the run.
func (r *Runner) Book() *state.Book {
	return r.book
}

// Phase returns the current run phase.
func (r *Runner) Phase() strategy.Phase {
	return r.phase
}

// Run consumes cycles until the source is exhausted or ctx is done, then
// flattens what is left and seals the run. Cancelling ctx still flattens and
// seals, bounded by Config.FinalTimeout.
func (r *Runner) Run(ctx context.Context, src CycleSource) (schema.RunResult, error) {
	r.record(schema.EventRun, r.run.Run.StartedAt, r.run.Run)
	logs.Infof("run %s started, mode: %s, day: %s, symbols: %d", r.run.Run.ID, r.run.Run.Mode, r.run.Run.TradingDay, r.universe.Count())

	var runErr error
	for {
		cycle, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				logs.Infof("run %s interrupted at %s", r.run.Run.ID, r.run.Clock.Now().Format(time.RFC3339))
			} else {
				runErr = errors.Wrap(err, "next cycle")
			}
			break
		}
		if err := r.step(ctx, cycle); err != nil {
			runErr = err
			break
		}
		if r.flat() {
			break
		}
	}

	finalCtx := ctx
	if ctx.Err() != nil || runErr != nil {
		var cancel context.CancelFunc
		finalCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), r.cfg.FinalTimeout)
		defer cancel()
	}
	r.finish(finalCtx)
	return r.seal(), runErr
}

// flat reports whether the session is over: past the cutoff with nothing
// held and nothing working.
func (r *Runner) flat() bool {
	return r.phase == strategy.PhaseEODFlat && r.book.OpenCount() == 0 && len(r.orders.Open()) == 0
}

// step resolves one cycle completely.
func (r *Runner) step(ctx context.Context, cycle Cycle) error {
	start := time.Now()
	if err := r.run.Clock.Advance(cycle.Time); err != nil {
		return err
	}
	now := r.run.Clock.Now()
	r.stats.cycles++

	r.settle(ctx, now)
	for _, symbol := range r.ingest(cycle.Bars) {
		r.haltFlatten(ctx, symbol, now)
	}

	d := r.engine.Decide(r.snapshot(now))
	r.apply(ctx, d, now)
	r.settle(ctx, now)
	r.check(now)

	r.metrics.SetOpenPositions(r.book.OpenCount())
	r.metrics.SetRealizedPnL(r.book.Stats().RealizedPnL.InexactFloat64())
	r.metrics.ObserveCycle(time.Since(start))
	return nil
}

// ingest feeds the cycle's bars into the history and returns the symbols that
// were halted by them.
func (r *Runner) ingest(bars []schema.Bar) []string {
	ordered := make([]schema.Bar, len(bars))
	copy(ordered, bars)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Symbol < ordered[j].Symbol })

	var halted []string
	marker, marks := r.gateway.(og.Marker)
	for _, bar := range ordered {
		if r.halted[bar.Symbol] {
			continue
		}
		if _, ok := r.universe.Instrument(bar.Symbol); !ok {
			logs.Errorf("drop bar at %s, err: %+v", bar.Time.Format(time.RFC3339), errors.Wrap(exception.ErrUnknownSymbol, bar.Symbol))
			continue
		}
		if err := r.accept(bar); err != nil {
			r.halt(bar.Symbol, err)
			halted = append(halted, bar.Symbol)
			continue
		}
		r.bars[bar.Symbol] = bar
		r.stats.bars++
		if marks {
			marker.Mark(bar)
		}
	}
	return halted
}

func (r *Runner) accept(bar schema.Bar) error {
	if !bar.Valid() {
		return errors.Wrapf(exception.ErrInvalidBar, "%s at %s", bar.Symbol, bar.Time.Format(time.RFC3339))
	}
	if last, ok := r.bars[bar.Symbol]; ok && r.cfg.MaxGap > 0 && bar.Time.Sub(last.Time) > r.cfg.MaxGap {
		return errors.Wrapf(exception.ErrBarGap, "%s from %s to %s", bar.Symbol, last.Time.Format(time.RFC3339), bar.Time.Format(time.RFC3339))
	}
	return r.features.Append(bar)
}

func (r *Runner) halt(symbol string, err error) {
	r.halted[symbol] = true
	r.metrics.IncAnomaly(anomalyKind(err))
	logs.Errorf("halt %s, err: %+v", symbol, err)
}

func anomalyKind(err error) string {
	switch {
	case errors.Is(err, exception.ErrInvalidBar):
		return "invalid_bar"
	case errors.Is(err, exception.ErrBarGap):
		return "bar_gap"
	case errors.Is(err, exception.ErrOutOfOrderBar):
		return "out_of_order_bar"
	default:
		return "market_data"
	}
}

// haltFlatten cancels the symbol's working orders and closes its position at
// the last accepted price.
func (r *Runner) haltFlatten(ctx context.Context, symbol string, now time.Time) {
	for _, o := range r.orders.OpenFor(symbol) {
		r.cancel(ctx, o, schema.RuleAnomaly, now)
	}
	pos, ok := r.book.Position(symbol)
	if !ok || pos.PendingFlatten {
		return
	}
	r.dispatch(ctx, strategy.FlattenIntent(pos, now, schema.RuleAnomaly, r.bars[symbol].Close), now)
}

func (r *Runner) snapshot(now time.Time) strategy.Snapshot {
	fs := make(map[string]schema.FeatureSet)
	for _, symbol := range r.universe.Symbols() {
		if r.halted[symbol] {
			continue
		}
		set, err := r.features.Features(symbol, now)
		if err != nil {
			if !errors.Is(err, exception.ErrInsufficientHistory) && !errors.Is(err, exception.ErrStaleFeatures) {
				logs.Errorf("features of %s at %s, err: %+v", symbol, now.Format(time.RFC3339), err)
			}
			continue
		}
		fs[symbol] = set
	}

	busy := make(map[string]bool)
	for _, o := range r.orders.Open() {
		busy[o.Symbol] = true
	}

	return strategy.Snapshot{
		Now:       now,
		Phase:     r.phase,
		Bars:      maps.Clone(r.bars),
		Features:  fs,
		Positions: r.book.Positions(),
		Shortlist: r.shortlist,
		Busy:      busy,
		Halted:    maps.Clone(r.halted),
	}
}

// apply carries out a decision: phase and shortlist bookkeeping, stop
// updates, then the intents in the order the engine produced them.
func (r *Runner) apply(ctx context.Context, d strategy.Decision, now time.Time) {
	for _, t := range d.Transitions {
		logs.Infof("phase %s -> %s at %s", t.From, t.To, t.At.Format(time.RFC3339))
	}
	for _, sk := range d.Skipped {
		if !errors.Is(sk.Err, exception.ErrInsufficientHistory) && !errors.Is(sk.Err, exception.ErrMissingFeature) {
			logs.Errorf("skip %s at %s, err: %+v", sk.Symbol, now.Format(time.RFC3339), sk.Err)
		}
	}

	if d.Phase == strategy.PhaseEODFlat && r.phase != strategy.PhaseEODFlat {
		r.cancelWorking(ctx, now, schema.RuleEODFlatten)
	}
	r.phase = d.Phase
	r.metrics.SetPhase(int(d.Phase))

	if d.ShortlistChanged {
		r.shortlist = d.Shortlist
		for _, sc := range d.Scores {
			r.record(schema.EventScore, now, sc)
		}
		logs.Infof("shortlist %v at %s", r.shortlist.Symbols(), now.Format(time.RFC3339))
	}

	for _, symbol := range d.RotationChecked {
		r.book.MarkRotation(symbol)
	}
	for _, u := range d.StopUpdates {
		changed, err := r.book.ApplyStop(u.Symbol, u.Level, u.HighWater)
		if err != nil {
			logs.Errorf("apply stop of %s, err: %+v", u.Symbol, err)
			continue
		}
		if changed {
			r.recordPosition(u.Symbol, now)
		}
	}

	for _, in := range d.Intents {
		r.dispatch(ctx, in, now)
	}
}

// cancelWorking cancels every open order except flattens, which are the
// orders that supersede them.
func (r *Runner) cancelWorking(ctx context.Context, now time.Time, reason string) {
	for _, o := range r.orders.Open() {
		if o.Kind == schema.SignalFlatten {
			continue
		}
		r.cancel(ctx, o, reason, now)
	}
}

func (r *Runner) check(now time.Time) {
	if err := r.book.CheckInvariants(r.maxOpen, r.maxAdds, now, time.Time{}); err != nil {
		r.metrics.IncAnomaly("invariant")
		logs.Errorf("book invariant at %s, err: %+v", now.Format(time.RFC3339), err)
	}
}

// finish forces the session flat after the last cycle. Orders still working
// are cancelled and every open position gets a fresh flatten, for at most
// Config.FlattenRounds rounds.
func (r *Runner) finish(ctx context.Context) {
	now := r.run.Clock.Now()
	rule := schema.RuleEndOfData
	if !now.Before(r.strat.Session.EODAt) {
		rule = schema.RuleEODFlatten
	}
	if r.phase != strategy.PhaseEODFlat {
		logs.Infof("run %s ended before eod in phase %s, flattening", r.run.Run.ID, r.phase)
		r.phase = strategy.PhaseEODFlat
		r.metrics.SetPhase(int(r.phase))
	}

	for round := 0; round < r.cfg.FlattenRounds; round++ {
		r.settle(ctx, now)
		if r.book.OpenCount() == 0 && len(r.orders.Open()) == 0 {
			return
		}
		for _, o := range r.orders.Open() {
			r.cancel(ctx, o, rule, now)
		}
		for _, pos := range r.book.Positions() {
			r.dispatch(ctx, strategy.FlattenIntent(pos, now, rule, r.bars[pos.Symbol].Close), now)
		}
		r.settle(ctx, now)
	}
	if n := r.book.OpenCount(); n > 0 {
		logs.Errorf("run %s, err: %+v", r.run.Run.ID, errors.Errorf("%d positions still open after %d flatten rounds", n, r.cfg.FlattenRounds))
	}
}

// seal records the closing run metadata and the result.
func (r *Runner) seal() schema.RunResult {
	now := r.run.Clock.Now()
	if now.IsZero() {
		now = r.run.Run.StartedAt
	}
	sealedAt := now
	if r.run.Run.Mode != schema.RunModeBacktest {
		sealedAt = time.Now().UTC()
	}

	stats := r.book.Stats()
	res := r.result
	res.RealizedPnL = stats.RealizedPnL
	res.Wins = stats.Wins
	res.Losses = stats.Losses
	res.MaxDrawdown = stats.MaxDrawdown
	res.PeakExposure = stats.PeakExposure
	res.TerminalPositions = r.book.OpenCount()
	res.HaltedSymbols = nil
	for symbol := range r.halted {
		res.HaltedSymbols = append(res.HaltedSymbols, symbol)
	}
	sort.Strings(res.HaltedSymbols)

	run := r.run.Run
	run.SealedAt = sealedAt
	r.run.Run = run
	r.record(schema.EventRun, now, run)
	r.record(schema.EventRunResult, now, res)

	if r.cfg.SnapshotPath != "" {
		if err := state.WriteSnapshot(r.cfg.SnapshotPath, r.book.Snapshot(run.ID, now, r.lastSeq)); err != nil {
			logs.Errorf("write snapshot %s, err: %+v", r.cfg.SnapshotPath, err)
		}
	}

	r.metrics.SetOpenPositions(res.TerminalPositions)
	r.metrics.SetRealizedPnL(res.RealizedPnL.InexactFloat64())
	logs.Infof("run %s sealed, cycles: %d, bars: %d, signals: %d, orders: %d, filled: %d, failed: %d, rejected: %d, realized: %s, open: %d",
		run.ID, r.stats.cycles, r.stats.bars, res.Signals, res.Orders, res.FilledOrders, res.FailedOrders, res.RejectedIntents, res.RealizedPnL, res.TerminalPositions)
	return res
}

func (r *Runner) record(eventType schema.EventType, at time.Time, v any) {
	if r.store == nil {
		return
	}
	seq, err := r.store.Record(eventType, at, v)
	if err != nil {
		logs.Errorf("record %s, err: %+v", eventType, err)
		return
	}
	r.lastSeq = seq
}

func (r *Runner) recordPosition(symbol string, now time.Time) {
	pos, ok := r.book.Position(symbol)
	if !ok {
		return
	}
	r.record(schema.EventPosition, now, pos)
}
