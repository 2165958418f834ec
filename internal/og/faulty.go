package og

import (
	"context"

	"github.com/yanun0323/errors"

	"intraday/internal/chaos"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// FaultConfig sets the fault rates of a FaultyGateway.
type FaultConfig struct {
	Chaos chaos.Config `yaml:"chaos"`
	// FailRate returns a transient error before reaching the venue.
	FailRate float64 `yaml:"fail_rate"`
	// HangRate blocks the call until its context ends.
	HangRate float64 `yaml:"hang_rate"`
	// DuplicateFillRate repeats fill reports.
	DuplicateFillRate float64 `yaml:"duplicate_fill_rate"`
}

// FaultyGateway injects seeded failures in front of another gateway to
// exercise timeout, retry and duplicate handling.
type FaultyGateway struct {
	next  OrderGateway
	cfg   FaultConfig
	chaos *chaos.Engine[schema.Fill]
}

// NewFaultyGateway wraps a gateway.
func NewFaultyGateway(next OrderGateway, cfg FaultConfig) (*FaultyGateway, error) {
	if next == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "gateway")
	}
	cfg.Chaos.DuplicateRate = cfg.DuplicateFillRate
	engine, err := chaos.NewEngine[schema.Fill](cfg.Chaos)
	if err != nil {
		return nil, err
	}
	for _, rate := range []float64{cfg.FailRate, cfg.HangRate} {
		if rate < 0 || rate > 1 {
			return nil, errors.New("fault rates must be between 0 and 1")
		}
	}
	return &FaultyGateway{next: next, cfg: cfg, chaos: engine}, nil
}

func (g *FaultyGateway) fault(ctx context.Context) error {
	if g.chaos.Roll(g.cfg.FailRate) {
		return errors.Wrap(exception.ErrOrderTransient, "injected failure")
	}
	if g.chaos.Roll(g.cfg.HangRate) {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (g *FaultyGateway) Submit(ctx context.Context, order schema.Order) (schema.OrderAck, error) {
	if err := g.fault(ctx); err != nil {
		return schema.OrderAck{}, err
	}
	return g.next.Submit(ctx, order)
}

func (g *FaultyGateway) Cancel(ctx context.Context, orderID uint64) error {
	if err := g.fault(ctx); err != nil {
		return err
	}
	return g.next.Cancel(ctx, orderID)
}

func (g *FaultyGateway) PollFills(ctx context.Context) ([]schema.Fill, error) {
	fills, err := g.next.PollFills(ctx)
	if err != nil {
		return nil, err
	}
	var out []schema.Fill
	for _, f := range fills {
		out = append(out, g.chaos.Process(f)...)
	}
	return append(out, g.chaos.Flush()...), nil
}

// Mark forwards to the wrapped gateway when it is simulated.
func (g *FaultyGateway) Mark(bar schema.Bar) {
	if m, ok := g.next.(Marker); ok {
		m.Mark(bar)
	}
}
