package core

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/yanun0323/errors"

	"intraday/internal/bus"
	"intraday/internal/feed"
	"intraday/internal/schema"
)

// Cycle is the set of bars resolved together. Time never decreases from one
// cycle to the next.
type Cycle struct {
	Time time.Time
	Bars []schema.Bar
}

// CycleSource yields cycles until io.EOF.
type CycleSource interface {
	Next(ctx context.Context) (Cycle, error)
}

// HistoricalSource merges the bar sequences of every symbol by time. Each
// symbol's sequence is kept in the order the feed returned it, so a feed
// that repeats or reorders bars is seen as such by the runner.
type HistoricalSource struct {
	symbols []string
	series  map[string][]schema.Bar
	last    time.Time
}

// LoadHistorical reads the session window of every symbol from the feed.
func LoadHistorical(ctx context.Context, src feed.Historical, symbols []string, tf schema.Timeframe, from, to time.Time) (*HistoricalSource, error) {
	s := &HistoricalSource{series: make(map[string][]schema.Bar, len(symbols))}
	for _, symbol := range symbols {
		bars, err := src.Bars(ctx, symbol, tf, from, to)
		if err != nil {
			return nil, errors.Wrapf(err, "load bars of %s", symbol)
		}
		if len(bars) > 0 {
			s.series[symbol] = bars
			s.symbols = append(s.symbols, symbol)
		}
	}
	sort.Strings(s.symbols)
	return s, nil
}

// Len returns the number of bars not yet emitted.
func (s *HistoricalSource) Len() int {
	n := 0
	for _, bars := range s.series {
		n += len(bars)
	}
	return n
}

func (s *HistoricalSource) Next(ctx context.Context) (Cycle, error) {
	if err := ctx.Err(); err != nil {
		return Cycle{}, err
	}
	var head time.Time
	found := false
	for _, symbol := range s.symbols {
		bars := s.series[symbol]
		if len(bars) == 0 {
			continue
		}
		if !found || bars[0].Time.Before(head) {
			head = bars[0].Time
			found = true
		}
	}
	if !found {
		return Cycle{}, io.EOF
	}

	cycle := Cycle{Time: head}
	if cycle.Time.Before(s.last) {
		cycle.Time = s.last
	}
	for _, symbol := range s.symbols {
		bars := s.series[symbol]
		if len(bars) == 0 || !bars[0].Time.Equal(head) {
			continue
		}
		cycle.Bars = append(cycle.Bars, bars[0])
		s.series[symbol] = bars[1:]
	}
	s.last = cycle.Time
	return cycle, nil
}

// LiveSource groups queued bars into cycles by bar time. A cycle closes when
// a newer bar arrives or no bar came for Grace.
//
// With a cutoff set, an idle feed cannot hold the session open: once the
// wall clock passes the cutoff without a bar, Next returns one empty cycle
// stamped at the cutoff and io.EOF after that.
type LiveSource struct {
	queue      *bus.Queue[schema.Bar]
	grace      time.Duration
	cutoff     time.Time
	pending    *schema.Bar
	last       time.Time
	closed     bool
	cutoffSent bool
}

func NewLiveSource(queue *bus.Queue[schema.Bar], grace time.Duration) *LiveSource {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	return &LiveSource{queue: queue, grace: grace}
}

// WithCutoff bounds every wait for a new cycle at t.
func (s *LiveSource) WithCutoff(t time.Time) *LiveSource {
	s.cutoff = t
	return s
}

func (s *LiveSource) Next(ctx context.Context) (Cycle, error) {
	var first schema.Bar
	switch {
	case s.pending != nil:
		first = *s.pending
		s.pending = nil
	case s.closed:
		return Cycle{}, io.EOF
	default:
		b, ok, err := s.wait(ctx)
		if errors.Is(err, bus.ErrQueueClosed) {
			s.closed = true
			return Cycle{}, io.EOF
		}
		if err != nil {
			return Cycle{}, err
		}
		if !ok {
			if s.cutoffSent {
				return Cycle{}, io.EOF
			}
			s.cutoffSent = true
			at := s.cutoff
			if at.Before(s.last) {
				at = s.last
			}
			s.last = at
			return Cycle{Time: at}, nil
		}
		first = b
	}

	cycle := Cycle{Time: first.Time, Bars: []schema.Bar{first}}
	if cycle.Time.Before(s.last) {
		cycle.Time = s.last
	}
	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.grace)
		b, err := s.queue.Next(waitCtx)
		cancel()
		if err != nil {
			if errors.Is(err, bus.ErrQueueClosed) {
				s.closed = true
			} else if ctx.Err() != nil {
				return Cycle{}, ctx.Err()
			}
			break
		}
		if b.Time.After(first.Time) {
			s.pending = &b
			break
		}
		cycle.Bars = append(cycle.Bars, b)
	}
	s.last = cycle.Time
	return cycle, nil
}

// wait blocks for the next bar. It reports false when the cutoff passed
// with nothing queued.
func (s *LiveSource) wait(ctx context.Context) (schema.Bar, bool, error) {
	if s.cutoff.IsZero() {
		b, err := s.queue.Next(ctx)
		return b, err == nil, err
	}
	if bars := s.queue.Drain(1); len(bars) == 1 {
		return bars[0], true, nil
	}
	waitCtx, cancel := context.WithDeadline(ctx, s.cutoff)
	defer cancel()
	b, err := s.queue.Next(waitCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return schema.Bar{}, false, nil
	}
	return b, err == nil, err
}
