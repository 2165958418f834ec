package feed

import (
	"context"
	"sort"
	"time"

	"intraday/internal/bus"
	"intraday/internal/schema"
)

// Historical returns the finite bar sequence of one symbol, ordered by time,
// with from <= Time < to.
type Historical interface {
	Bars(ctx context.Context, symbol string, tf schema.Timeframe, from, to time.Time) ([]schema.Bar, error)
}

// Live streams bars into out until ctx ends. Bars that do not fit the queue
// are handed back to the source for redelivery where the transport allows.
type Live interface {
	Stream(ctx context.Context, symbols []string, tf schema.Timeframe, out *bus.Queue[schema.Bar]) error
}

// Memory serves preloaded bars. It implements both Historical and Live.
type Memory struct {
	bars map[string][]schema.Bar
}

// NewMemory groups bars by symbol, keeping the given order.
func NewMemory(bars []schema.Bar) *Memory {
	m := &Memory{bars: make(map[string][]schema.Bar)}
	for _, b := range bars {
		m.bars[b.Symbol] = append(m.bars[b.Symbol], b)
	}
	return m
}

// Symbols returns the symbols with at least one bar.
func (m *Memory) Symbols() []string {
	out := make([]string, 0, len(m.bars))
	for s := range m.bars {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) Bars(ctx context.Context, symbol string, tf schema.Timeframe, from, to time.Time) ([]schema.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []schema.Bar
	for _, b := range m.bars[symbol] {
		if tf != "" && b.Timeframe != "" && b.Timeframe != tf {
			continue
		}
		if inRange(b.Time, from, to) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Stream publishes every bar of the symbols merged by time and returns.
func (m *Memory) Stream(ctx context.Context, symbols []string, tf schema.Timeframe, out *bus.Queue[schema.Bar]) error {
	var all []schema.Bar
	for _, s := range symbols {
		bars, err := m.Bars(ctx, s, tf, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		all = append(all, bars...)
	}
	SortBars(all)
	for _, b := range all {
		if err := out.TryPublish(b); err != nil {
			return err
		}
	}
	return nil
}

// SortBars orders bars by time, then symbol. The sort is stable so
// duplicates keep their arrival order.
func SortBars(bars []schema.Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if !bars[i].Time.Equal(bars[j].Time) {
			return bars[i].Time.Before(bars[j].Time)
		}
		return bars[i].Symbol < bars[j].Symbol
	})
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
