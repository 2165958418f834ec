package feed

import (
	"context"
	"hash/fnv"
	"time"

	"intraday/internal/chaos"
	"intraday/internal/schema"
)

// Perturbed reorders, duplicates and drops bars of another source with a
// seeded chaos engine, so the anomaly handling of a run can be rehearsed.
type Perturbed struct {
	next Historical
	cfg  chaos.Config
}

func NewPerturbed(next Historical, cfg chaos.Config) (*Perturbed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Perturbed{next: next, cfg: cfg}, nil
}

func (p *Perturbed) Bars(ctx context.Context, symbol string, tf schema.Timeframe, from, to time.Time) ([]schema.Bar, error) {
	bars, err := p.next.Bars(ctx, symbol, tf, from, to)
	if err != nil {
		return nil, err
	}
	cfg := p.cfg
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	cfg.Seed ^= int64(h.Sum64() >> 1)
	engine, err := chaos.NewEngine[schema.Bar](cfg)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, engine.Process(b)...)
	}
	return append(out, engine.Flush()...), nil
}
