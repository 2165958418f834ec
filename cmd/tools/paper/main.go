package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"intraday/internal/feed"
	"intraday/internal/ops"
	"intraday/internal/schema"
	"intraday/pkg/conn"
)

// paper generates the synthetic session of a config and either writes it as
// CSV for backtests or publishes it to NATS to drive a live run.
func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config")
	envPath := flag.String("env", ".env", "Optional env file with secrets")
	out := flag.String("out", "", "Write bars to this CSV file")
	publish := flag.Bool("publish", false, "Publish bars to NATS")
	pace := flag.Duration("pace", 0, "Delay between bar times when publishing (0=no pacing)")
	flag.Parse()

	if err := run(*configPath, *envPath, *out, *publish, *pace); err != nil {
		logs.Errorf("paper failed, err: %+v", err)
		os.Exit(1)
	}
}

func run(configPath, envPath, out string, publish bool, pace time.Duration) error {
	if out == "" && !publish {
		return errors.New("nothing to do, set -out or -publish")
	}
	loaded, err := ops.Load(configPath, envPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			cancel()
		case <-ctx.Done():
		}
	}()

	syn, err := feed.NewSynthetic(loaded.Universe.Symbols(), loaded.Feed.Synthetic)
	if err != nil {
		return err
	}
	session := loaded.Strategy.Session
	tf := loaded.Runner.Timeframe
	bars, err := syn.Session(ctx, tf, session.WarmupStart, session.EODAt.Add(tf.Duration()))
	if err != nil {
		return err
	}
	logs.Infof("generated %d bars for %d symbols on %s", len(bars), loaded.Universe.Count(), loaded.TradingDay)

	if out != "" {
		if err := writeCSV(out, bars); err != nil {
			return err
		}
		logs.Infof("wrote %s", out)
	}
	if publish {
		return publishBars(ctx, loaded.Nats.URL, bars, pace)
	}
	return nil
}

func writeCSV(path string, bars []schema.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create csv")
	}
	if err := feed.WriteCSV(f, bars); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func publishBars(ctx context.Context, url string, bars []schema.Bar, pace time.Duration) error {
	nc, js, err := conn.NATS(url, "intraday-paper")
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := feed.EnsureStream(js); err != nil {
		return err
	}

	pub := feed.NewPublisher(js)
	var last time.Time
	for i, bar := range bars {
		if pace > 0 && !last.IsZero() && bar.Time.After(last) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pace):
			}
		}
		last = bar.Time
		if err := pub.Publish(ctx, bar); err != nil {
			return errors.Wrapf(err, "publish bar %d", i)
		}
	}
	if err := nc.Flush(); err != nil {
		return errors.Wrap(err, "flush nats")
	}
	logs.Infof("published %d bars", len(bars))
	return nil
}
