package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/risk"
	"intraday/internal/schema"
)

const sampleConfig = `
mode: backtest
trading_day: "2024-03-04"
timezone: America/New_York
universe:
  name: us-tech
  symbols:
    - {symbol: aapl, sector: tech}
    - {symbol: MSFT, sector: tech}
    - {symbol: NVDA, sector: semis, lot_size: 10, tick_size: 0.05}
session:
  warmup_start: "09:30"
  shortlist_at: "10:05"
  eod_at: "15:50"
strategy:
  split: [0.5, 0.5]
  split_policy: undeployed
  trail_mode: swing
  rotation_interval: 30m
risk:
  risk_fraction: 0.01
  max_order_qty: 5000
feed:
  kind: csv
  csv_path: bars.csv
store:
  sinks: [wal, memory]
  wal:
    dir: ./runs
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	loaded, err := Load(writeConfig(t, sampleConfig), filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, schema.RunModeBacktest, loaded.Mode)
	assert.Equal(t, "2024-03-04", loaded.TradingDay)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, loaded.Universe.Symbols())
	nvda, ok := loaded.Universe.Instrument("NVDA")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(10).Equal(nvda.Lot.LotSize))

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.True(t, loaded.Strategy.Session.WarmupStart.Equal(time.Date(2024, 3, 4, 9, 30, 0, 0, ny)))
	assert.True(t, loaded.Strategy.Session.EODAt.Equal(time.Date(2024, 3, 4, 15, 50, 0, 0, ny)))
	assert.Equal(t, loaded.Strategy.Session.WarmupStart, loaded.Features.ReturnFrom)
	assert.Equal(t, loaded.Strategy.Session.ShortlistAt, loaded.Features.ReturnTo)

	assert.Equal(t, 2, loaded.Allocator.Slots())
	assert.Equal(t, risk.SplitUndeployed, loaded.Allocator.Policy())
	assert.Equal(t, schema.TrailModeSwingPoint, loaded.Strategy.Trail.Mode)
	assert.Equal(t, 30*time.Minute, loaded.Strategy.Rotation.Interval)
	assert.Equal(t, 3, loaded.Strategy.Pyramid.MaxAdds())
	assert.NotEmpty(t, loaded.Strategy.Weights, "defaults kept")

	assert.True(t, decimal.RequireFromString("0.01").Equal(loaded.Runner.RiskFraction))
	assert.True(t, decimal.NewFromInt(100_000).Equal(loaded.Runner.Capital))
	assert.True(t, decimal.NewFromInt(5000).Equal(loaded.Runner.Guard.MaxOrderQty))
	assert.Equal(t, schema.Timeframe1m, loaded.Runner.Timeframe)
	assert.Equal(t, []string{SinkWAL, SinkMemory}, loaded.Store.Sinks)

	var snap FileConfig
	require.NoError(t, sonic.ConfigStd.Unmarshal(loaded.Snapshot, &snap))
	assert.Equal(t, "us-tech", snap.Universe.Name)
}

func TestLoadEnvOverrides(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("INTRADAY_CAPITAL=250000\n"), 0o644))
	t.Setenv(EnvMode, "live")
	t.Setenv(EnvTradingDay, "2024-03-05")
	t.Setenv(EnvPgDSN, "postgres://localhost/intraday")
	t.Setenv(EnvNatsURL, "nats://localhost:4222")
	t.Cleanup(func() { os.Unsetenv(EnvCapital) })

	loaded, err := Load(writeConfig(t, sampleConfig), envFile)
	require.NoError(t, err)
	assert.Equal(t, schema.RunModeLive, loaded.Mode)
	assert.Equal(t, "2024-03-05", loaded.TradingDay)
	assert.Equal(t, 5, loaded.Strategy.Session.EODAt.Day())
	assert.Equal(t, "postgres://localhost/intraday", loaded.Postgres.DSN)
	assert.Equal(t, "nats://localhost:4222", loaded.Nats.URL)
	assert.True(t, decimal.NewFromInt(250_000).Equal(loaded.Runner.Capital))
	assert.NotContains(t, string(loaded.Snapshot), "postgres://", "secrets stay out of the run metadata")
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"unknown mode", "mode: paper\nuniverse: {symbols: [{symbol: A}]}\ntrading_day: \"2024-03-04\"\nstrategy: {split: [1]}"},
		{"no symbols", "trading_day: \"2024-03-04\""},
		{"bad timezone", "timezone: Mars/Olympus\ntrading_day: \"2024-03-04\"\nuniverse: {symbols: [{symbol: A}]}\nstrategy: {split: [1]}"},
		{"session out of order", "trading_day: \"2024-03-04\"\nuniverse: {symbols: [{symbol: A}]}\nstrategy: {split: [1]}\nsession: {warmup_start: \"10:00\", shortlist_at: \"09:50\", eod_at: \"15:20\"}"},
		{"split over universe", "trading_day: \"2024-03-04\"\nuniverse: {symbols: [{symbol: A}]}"},
		{"split not one", "trading_day: \"2024-03-04\"\nuniverse: {symbols: [{symbol: A}, {symbol: B}]}\nstrategy: {split: [0.5, 0.2]}"},
		{"unknown trail", "trading_day: \"2024-03-04\"\nuniverse: {symbols: [{symbol: A}]}\nstrategy: {split: [1], trail_mode: magic}"},
		{"pg feed without dsn", "trading_day: \"2024-03-04\"\nuniverse: {symbols: [{symbol: A}]}\nstrategy: {split: [1]}\nfeed: {kind: pg}"},
		{"unknown sink", "trading_day: \"2024-03-04\"\nuniverse: {symbols: [{symbol: A}]}\nstrategy: {split: [1]}\nstore: {sinks: [s3]}"},
		{"zero risk", "trading_day: \"2024-03-04\"\nuniverse: {symbols: [{symbol: A}]}\nstrategy: {split: [1]}\nrisk: {risk_fraction: 0}"},
		{"not yaml", "mode: [backtest"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.config))
			assert.Error(t, err)
		})
	}
}

func TestParseMinimal(t *testing.T) {
	loaded, err := Parse([]byte("trading_day: \"2024-03-04\"\nuniverse: {symbols: [{symbol: A}]}\nstrategy: {split: [1]}"))
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Allocator.Slots())
	assert.Equal(t, FeedSynthetic, loaded.Feed.Kind)
	assert.Equal(t, []string{SinkWAL}, loaded.Store.Sinks)
}
