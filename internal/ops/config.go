package ops

import (
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"intraday/internal/chaos"
	"intraday/internal/core"
	"intraday/internal/feed"
	"intraday/internal/features"
	"intraday/internal/og"
	"intraday/internal/recorder"
	"intraday/internal/risk"
	"intraday/internal/schema"
	"intraday/internal/store"
	"intraday/internal/strategy"
)

// Environment keys that override the file.
const (
	EnvMode       = "INTRADAY_MODE"
	EnvTradingDay = "INTRADAY_TRADING_DAY"
	EnvPgDSN      = "INTRADAY_PG_DSN"
	EnvNatsURL    = "INTRADAY_NATS_URL"
	EnvCapital    = "INTRADAY_CAPITAL"
)

const dayLayout = "2006-01-02"

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Mode       string          `yaml:"mode" json:"mode"`
	TradingDay string          `yaml:"trading_day" json:"tradingDay"`
	Timezone   string          `yaml:"timezone" json:"timezone"`
	Universe   UniverseConfig  `yaml:"universe" json:"universe"`
	Session    SessionConfig   `yaml:"session" json:"session"`
	Strategy   StrategyConfig  `yaml:"strategy" json:"strategy"`
	Risk       RiskConfig      `yaml:"risk" json:"risk"`
	Runner     RunnerConfig    `yaml:"runner" json:"runner"`
	Features   features.Config `yaml:"features" json:"features"`
	Feed       FeedConfig      `yaml:"feed" json:"feed"`
	Gateway    GatewayConfig   `yaml:"gateway" json:"gateway"`
	Store      StoreConfig     `yaml:"store" json:"store"`
	Postgres   PostgresConfig  `yaml:"postgres" json:"-"`
	Nats       NatsConfig      `yaml:"nats" json:"-"`
	Metrics    MetricsConfig   `yaml:"metrics" json:"-"`
	Pyroscope  PyroscopeConfig `yaml:"pyroscope" json:"-"`
}

// UniverseConfig lists the tradable instruments.
type UniverseConfig struct {
	Name    string         `yaml:"name" json:"name"`
	Symbols []SymbolConfig `yaml:"symbols" json:"symbols"`
}

// SymbolConfig describes one instrument. Zero lot and tick sizes take the
// whole share, one cent defaults.
type SymbolConfig struct {
	Symbol   string  `yaml:"symbol" json:"symbol"`
	Sector   string  `yaml:"sector" json:"sector"`
	LotSize  float64 `yaml:"lot_size" json:"lotSize"`
	TickSize float64 `yaml:"tick_size" json:"tickSize"`
}

// SessionConfig holds wall clock times, "15:04", in the session timezone.
type SessionConfig struct {
	WarmupStart string `yaml:"warmup_start" json:"warmupStart"`
	ShortlistAt string `yaml:"shortlist_at" json:"shortlistAt"`
	EODAt       string `yaml:"eod_at" json:"eodAt"`
}

// StrategyConfig is the decision engine section.
type StrategyConfig struct {
	// Split is the capital weight of each shortlist slot in rank order; its
	// length is the concentration limit.
	Split           []float64              `yaml:"split" json:"split"`
	SplitPolicy     string                 `yaml:"split_policy" json:"splitPolicy"`
	Weights         map[string]float64     `yaml:"weights" json:"weights"`
	Trigger         strategy.TriggerConfig `yaml:"trigger" json:"trigger"`
	Leader          strategy.LeaderConfig  `yaml:"leader" json:"leader"`
	AddThresholds   []float64              `yaml:"add_thresholds" json:"addThresholds"`
	AddFractions    []float64              `yaml:"add_fractions" json:"addFractions"`
	TrailMode       string                 `yaml:"trail_mode" json:"trailMode"`
	TrailATR        float64                `yaml:"trail_atr_multiple" json:"trailAtrMultiple"`
	RotationEvery   time.Duration          `yaml:"rotation_interval" json:"rotationInterval"`
	RotationMinR    float64                `yaml:"rotation_min_profit_r" json:"rotationMinProfitR"`
	StopATRMultiple float64                `yaml:"stop_atr_multiple" json:"stopAtrMultiple"`
}

// RiskConfig is the sizing and guard section.
type RiskConfig struct {
	Capital          float64       `yaml:"capital" json:"capital"`
	RiskFraction     float64       `yaml:"risk_fraction" json:"riskFraction"`
	CapNotional      bool          `yaml:"cap_notional" json:"capNotional"`
	KillSwitch       bool          `yaml:"kill_switch" json:"killSwitch"`
	MaxOrderQty      float64       `yaml:"max_order_qty" json:"maxOrderQty"`
	MaxOrderNotional float64       `yaml:"max_order_notional" json:"maxOrderNotional"`
	OrderRateLimit   int           `yaml:"order_rate_limit" json:"orderRateLimit"`
	OrderRateWindow  time.Duration `yaml:"order_rate_window" json:"orderRateWindow"`
}

// RunnerConfig is the runner section.
type RunnerConfig struct {
	Timeframe     string        `yaml:"timeframe" json:"timeframe"`
	MaxGap        time.Duration `yaml:"max_gap" json:"maxGap"`
	FlattenRounds int           `yaml:"flatten_rounds" json:"flattenRounds"`
	FinalTimeout  time.Duration `yaml:"final_timeout" json:"finalTimeout"`
	SnapshotPath  string        `yaml:"snapshot_path" json:"snapshotPath"`
}

// Feed kinds.
const (
	FeedSynthetic = "synthetic"
	FeedCSV       = "csv"
	FeedPostgres  = "pg"
	FeedNATS      = "nats"
)

// FeedConfig selects and parameterizes the bar source.
type FeedConfig struct {
	Kind      string               `yaml:"kind" json:"kind"`
	CSVPath   string               `yaml:"csv_path" json:"csvPath"`
	Durable   string               `yaml:"durable" json:"durable"`
	QueueSize int                  `yaml:"queue_size" json:"queueSize"`
	Grace     time.Duration        `yaml:"grace" json:"grace"`
	Synthetic feed.SyntheticConfig `yaml:"synthetic" json:"synthetic"`
	Perturb   *chaos.Config        `yaml:"perturb" json:"perturb,omitempty"`
}

// GatewayConfig wires the paper venue, optional faults and retries.
type GatewayConfig struct {
	SlippageBps float64         `yaml:"slippage_bps" json:"slippageBps"`
	MaxFillQty  float64         `yaml:"max_fill_qty" json:"maxFillQty"`
	Retry       og.RetryConfig  `yaml:"retry" json:"retry"`
	Faults      *og.FaultConfig `yaml:"faults" json:"faults,omitempty"`
}

// Store sink kinds.
const (
	SinkWAL      = "wal"
	SinkPostgres = "pg"
	SinkMemory   = "memory"
)

// StoreConfig is the run store section.
type StoreConfig struct {
	Buffer store.Config    `yaml:"buffer" json:"buffer"`
	Sinks  []string        `yaml:"sinks" json:"sinks"`
	WAL    recorder.Config `yaml:"wal" json:"wal"`
}

// PostgresConfig holds the database address shared by the pg feed and sink.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// NatsConfig holds the JetStream address of the live feed.
type NatsConfig struct {
	URL string `yaml:"url"`
}

// MetricsConfig sets the prometheus listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// PyroscopeConfig enables continuous profiling when Addr is set.
type PyroscopeConfig struct {
	Addr string `yaml:"addr"`
	App  string `yaml:"app"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Mode       schema.RunMode
	TradingDay string
	Location   *time.Location
	Universe   *schema.Universe
	Allocator  *risk.Allocator
	Strategy   strategy.Config
	Features   features.Config
	Runner     core.Config
	Feed       FeedConfig
	Gateway    GatewayConfig
	Paper      og.PaperConfig
	Store      StoreConfig
	Postgres   PostgresConfig
	Nats       NatsConfig
	Metrics    MetricsConfig
	Pyroscope  PyroscopeConfig
	// Snapshot is the resolved file config without secrets, stored in the
	// run metadata.
	Snapshot []byte
}

// DefaultFileConfig returns the reference configuration. Load decodes the
// file over it, so a file only needs the keys it changes.
func DefaultFileConfig() FileConfig {
	def := strategy.DefaultConfig()
	return FileConfig{
		Mode:     "backtest",
		Timezone: "America/New_York",
		Session: SessionConfig{
			WarmupStart: "09:15",
			ShortlistAt: "09:50",
			EODAt:       "15:20",
		},
		Strategy: StrategyConfig{
			Split:           []float64{0.6, 0.2, 0.2},
			SplitPolicy:     risk.SplitRenormalize.String(),
			Trigger:         def.Trigger,
			Leader:          def.Leader,
			AddThresholds:   []float64{0.75, 1.25, 2.0},
			AddFractions:    []float64{0.5, 0.33, 0.25},
			TrailMode:       def.Trail.Mode.String(),
			TrailATR:        def.Trail.ATRMultiple,
			RotationEvery:   def.Rotation.Interval,
			RotationMinR:    def.Rotation.MinProfitR.InexactFloat64(),
			StopATRMultiple: def.StopATRMultiple,
		},
		Risk: RiskConfig{
			Capital:      100_000,
			RiskFraction: 0.0075,
			CapNotional:  true,
		},
		Runner: RunnerConfig{
			Timeframe:     string(schema.Timeframe1m),
			FlattenRounds: 3,
			FinalTimeout:  30 * time.Second,
		},
		Features: features.DefaultConfig(),
		Feed: FeedConfig{
			Kind:      FeedSynthetic,
			Durable:   "intraday",
			QueueSize: 4096,
			Grace:     2 * time.Second,
			Synthetic: feed.DefaultSyntheticConfig(),
		},
		Gateway: GatewayConfig{
			Retry: og.DefaultRetryConfig(),
		},
		Store: StoreConfig{
			Buffer: store.DefaultConfig(),
			Sinks:  []string{SinkWAL},
			WAL:    recorder.DefaultConfig("./data/runs"),
		},
		Metrics:   MetricsConfig{Addr: ":9090"},
		Pyroscope: PyroscopeConfig{App: "intraday"},
	}
}

// Load reads .env files (missing ones are ignored), the YAML config at path
// and the environment overrides, then resolves everything.
func Load(path string, envFiles ...string) (Loaded, error) {
	if err := loadEnv(envFiles...); err != nil {
		return Loaded{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config").With("path", path)
	}
	return Parse(data)
}

// Parse resolves a YAML document plus the environment overrides.
func Parse(data []byte) (Loaded, error) {
	cfg := DefaultFileConfig()
	cfg.Strategy.Weights = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "decode config")
	}
	applyEnv(&cfg)
	return Resolve(cfg)
}

func loadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrap(err, "load env file").With("path", f)
		}
	}
	return nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv(EnvMode); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv(EnvTradingDay); v != "" {
		cfg.TradingDay = v
	}
	if v := os.Getenv(EnvPgDSN); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv(EnvNatsURL); v != "" {
		cfg.Nats.URL = v
	}
	if v := os.Getenv(EnvCapital); v != "" {
		if capital, err := decimal.NewFromString(v); err == nil {
			cfg.Risk.Capital = capital.InexactFloat64()
		}
	}
}

// Resolve validates a decoded file config and builds the runtime objects.
func Resolve(cfg FileConfig) (Loaded, error) {
	mode, ok := schema.ParseRunMode(cfg.Mode)
	if !ok {
		return Loaded{}, errors.Errorf("invalid config: mode %q", cfg.Mode)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "invalid config: timezone").With("timezone", cfg.Timezone)
	}
	if cfg.TradingDay == "" {
		cfg.TradingDay = time.Now().In(loc).Format(dayLayout)
	}
	day, err := time.ParseInLocation(dayLayout, cfg.TradingDay, loc)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "invalid config: trading_day").With("trading_day", cfg.TradingDay)
	}

	universe, err := buildUniverse(cfg.Universe)
	if err != nil {
		return Loaded{}, err
	}
	session, err := resolveSession(cfg.Session, day)
	if err != nil {
		return Loaded{}, err
	}
	strat, alloc, err := resolveStrategy(cfg.Strategy, session)
	if err != nil {
		return Loaded{}, err
	}
	if alloc.Slots() > universe.Count() {
		return Loaded{}, errors.Errorf("invalid config: %d split slots for %d symbols", alloc.Slots(), universe.Count())
	}

	fc := cfg.Features
	fc.ReturnFrom = session.WarmupStart
	fc.ReturnTo = session.ShortlistAt
	if err := fc.Validate(); err != nil {
		return Loaded{}, err
	}

	runner, err := resolveRunner(cfg.Runner, cfg.Risk)
	if err != nil {
		return Loaded{}, err
	}
	if err := validateFeed(cfg); err != nil {
		return Loaded{}, err
	}
	if err := cfg.Gateway.Retry.Validate(); err != nil {
		return Loaded{}, err
	}
	if cfg.Gateway.Faults != nil {
		if err := cfg.Gateway.Faults.Chaos.Validate(); err != nil {
			return Loaded{}, errors.Wrap(err, "invalid config: gateway faults")
		}
	}
	if err := validateStore(cfg); err != nil {
		return Loaded{}, err
	}

	snapshot, err := sonic.ConfigStd.Marshal(cfg)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "encode config snapshot")
	}

	return Loaded{
		Mode:       mode,
		TradingDay: cfg.TradingDay,
		Location:   loc,
		Universe:   universe,
		Allocator:  alloc,
		Strategy:   strat,
		Features:   fc,
		Runner:     runner,
		Feed:       cfg.Feed,
		Gateway:    cfg.Gateway,
		Paper: og.PaperConfig{
			SlippageBps: decimal.NewFromFloat(cfg.Gateway.SlippageBps),
			MaxFillQty:  decimal.NewFromFloat(cfg.Gateway.MaxFillQty),
		},
		Store:     cfg.Store,
		Postgres:  cfg.Postgres,
		Nats:      cfg.Nats,
		Metrics:   cfg.Metrics,
		Pyroscope: cfg.Pyroscope,
		Snapshot:  snapshot,
	}, nil
}

func buildUniverse(cfg UniverseConfig) (*schema.Universe, error) {
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("invalid config: universe has no symbols")
	}
	u := schema.NewUniverse(name)
	for _, sym := range cfg.Symbols {
		lot := schema.DefaultLotSpec()
		if sym.LotSize < 0 || sym.TickSize < 0 {
			return nil, errors.Errorf("invalid config: lot spec of %s must be >= 0", sym.Symbol)
		}
		if sym.LotSize > 0 {
			lot.LotSize = decimal.NewFromFloat(sym.LotSize)
		}
		if sym.TickSize > 0 {
			lot.TickSize = decimal.NewFromFloat(sym.TickSize)
		}
		if _, err := u.Add(strings.ToUpper(strings.TrimSpace(sym.Symbol)), sym.Sector, lot); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func resolveSession(cfg SessionConfig, day time.Time) (strategy.Session, error) {
	at := func(key, value string) (time.Time, error) {
		t, err := time.Parse("15:04", value)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "invalid config: session %s %q", key, value)
		}
		return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
	}
	var (
		s   strategy.Session
		err error
	)
	if s.WarmupStart, err = at("warmup_start", cfg.WarmupStart); err != nil {
		return s, err
	}
	if s.ShortlistAt, err = at("shortlist_at", cfg.ShortlistAt); err != nil {
		return s, err
	}
	if s.EODAt, err = at("eod_at", cfg.EODAt); err != nil {
		return s, err
	}
	return s, s.Validate()
}

func resolveStrategy(cfg StrategyConfig, session strategy.Session) (strategy.Config, *risk.Allocator, error) {
	policy, ok := risk.ParseSplitPolicy(cfg.SplitPolicy)
	if !ok {
		return strategy.Config{}, nil, errors.Errorf("invalid config: split_policy %q", cfg.SplitPolicy)
	}
	alloc, err := risk.NewAllocator(decimals(cfg.Split), policy)
	if err != nil {
		return strategy.Config{}, nil, err
	}
	mode, ok := schema.ParseTrailMode(cfg.TrailMode)
	if !ok {
		return strategy.Config{}, nil, errors.Errorf("invalid config: trail_mode %q", cfg.TrailMode)
	}

	out := strategy.DefaultConfig()
	out.Session = session
	if len(cfg.Weights) > 0 {
		out.Weights = cfg.Weights
	}
	out.Trigger = cfg.Trigger
	out.Leader = cfg.Leader
	out.Pyramid = strategy.PyramidConfig{
		Thresholds: decimals(cfg.AddThresholds),
		Fractions:  decimals(cfg.AddFractions),
	}
	out.Trail.Mode = mode
	out.Trail.ATRMultiple = cfg.TrailATR
	out.Rotation = strategy.RotationConfig{
		Interval:   cfg.RotationEvery,
		MinProfitR: decimal.NewFromFloat(cfg.RotationMinR),
	}
	out.StopATRMultiple = cfg.StopATRMultiple
	if err := out.Validate(); err != nil {
		return strategy.Config{}, nil, err
	}
	return out, alloc, nil
}

func resolveRunner(cfg RunnerConfig, rc RiskConfig) (core.Config, error) {
	tf := schema.Timeframe(cfg.Timeframe)
	if tf.Duration() <= 0 {
		return core.Config{}, errors.Errorf("invalid config: timeframe %q", cfg.Timeframe)
	}
	out := core.Config{
		Timeframe:    tf,
		Capital:      decimal.NewFromFloat(rc.Capital),
		RiskFraction: decimal.NewFromFloat(rc.RiskFraction),
		CapNotional:  rc.CapNotional,
		Guard: risk.Config{
			KillSwitch:       rc.KillSwitch,
			MaxOrderQty:      decimal.NewFromFloat(rc.MaxOrderQty),
			MaxOrderNotional: decimal.NewFromFloat(rc.MaxOrderNotional),
			OrderRateLimit:   rc.OrderRateLimit,
			OrderRateWindow:  rc.OrderRateWindow,
		},
		MaxGap:        cfg.MaxGap,
		FlattenRounds: cfg.FlattenRounds,
		FinalTimeout:  cfg.FinalTimeout,
		SnapshotPath:  cfg.SnapshotPath,
	}
	if err := out.Validate(); err != nil {
		return core.Config{}, err
	}
	return out, nil
}

func validateFeed(cfg FileConfig) error {
	switch cfg.Feed.Kind {
	case FeedSynthetic:
	case FeedCSV:
		if cfg.Feed.CSVPath == "" {
			return errors.New("invalid config: feed csv_path is empty")
		}
	case FeedPostgres:
		if cfg.Postgres.DSN == "" {
			return errors.Errorf("invalid config: pg feed needs postgres.dsn or %s", EnvPgDSN)
		}
	case FeedNATS:
		if cfg.Nats.URL == "" {
			return errors.Errorf("invalid config: nats feed needs nats.url or %s", EnvNatsURL)
		}
		if cfg.Feed.Durable == "" {
			return errors.New("invalid config: nats feed durable is empty")
		}
	default:
		return errors.Errorf("invalid config: feed kind %q", cfg.Feed.Kind)
	}
	if cfg.Feed.Perturb != nil {
		if err := cfg.Feed.Perturb.Validate(); err != nil {
			return errors.Wrap(err, "invalid config: feed perturb")
		}
	}
	return nil
}

func validateStore(cfg FileConfig) error {
	if err := cfg.Store.Buffer.Validate(); err != nil {
		return err
	}
	if len(cfg.Store.Sinks) == 0 {
		return errors.New("invalid config: store has no sinks")
	}
	for _, sink := range cfg.Store.Sinks {
		switch sink {
		case SinkWAL:
			if cfg.Store.WAL.Dir == "" {
				return errors.New("invalid config: store wal dir is empty")
			}
		case SinkPostgres:
			if cfg.Postgres.DSN == "" {
				return errors.Errorf("invalid config: pg sink needs postgres.dsn or %s", EnvPgDSN)
			}
		case SinkMemory:
		default:
			return errors.Errorf("invalid config: store sink %q", sink)
		}
	}
	return nil
}

func decimals(values []float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}
