package main

import (
	"flag"
	"os"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"intraday/internal/chaos"
	"intraday/internal/feed"
	"intraday/internal/schema"
)

// chaos rewrites a bar CSV with seeded drops, duplicates and reordering so a
// backtest can be run against a damaged tape.
func main() {
	input := flag.String("in", "bars.csv", "Input bar CSV")
	output := flag.String("out", "bars_chaos.csv", "Output bar CSV")
	seed := flag.Int64("seed", 0, "RNG seed (0=fixed default)")
	dropRate := flag.Float64("drop-rate", 0, "Drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Reorder window (>=1)")
	maxDelay := flag.Duration("max-delay", 0, "Max shift of a bar's time, rounded down to the timeframe")
	flag.Parse()

	err := run(*input, *output, chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
		MaxDelay:      *maxDelay,
	})
	if err != nil {
		logs.Errorf("chaos failed, err: %+v", err)
		os.Exit(1)
	}
}

func run(input, output string, cfg chaos.Config) error {
	in, err := os.Open(input)
	if err != nil {
		return errors.Wrap(err, "open input")
	}
	defer in.Close()
	bars, err := feed.ReadCSV(in)
	if err != nil {
		return err
	}

	engine, err := chaos.NewEngine[schema.Bar](cfg)
	if err != nil {
		return err
	}
	out := make([]schema.Bar, 0, len(bars))
	for _, bar := range bars {
		for _, b := range engine.Process(bar) {
			out = append(out, delay(engine, b))
		}
	}
	for _, b := range engine.Flush() {
		out = append(out, delay(engine, b))
	}

	f, err := os.Create(output)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	if err := feed.WriteCSV(f, out); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logs.Infof("perturbed %d bars into %d, wrote %s", len(bars), len(out), output)
	return nil
}

func delay(engine *chaos.Engine[schema.Bar], bar schema.Bar) schema.Bar {
	step := bar.Timeframe.Duration()
	d := engine.Delay()
	if step <= 0 || d < step {
		return bar
	}
	bar.Time = bar.Time.Add(d.Truncate(step))
	return bar
}
