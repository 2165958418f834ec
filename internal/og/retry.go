package og

import (
	"context"
	"time"

	"github.com/yanun0323/errors"

	"intraday/internal/schema"
	"intraday/pkg/backoff"
	"intraday/pkg/exception"
)

// RetryConfig bounds submission attempts.
type RetryConfig struct {
	Timeout     time.Duration   `yaml:"timeout"`
	MaxAttempts int             `yaml:"max_attempts"`
	Backoff     backoff.Backoff `yaml:"backoff"`
}

// DefaultRetryConfig returns the submission defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Timeout:     2 * time.Second,
		MaxAttempts: 4,
		Backoff:     backoff.Default(),
	}
}

// Validate checks if the configuration is usable.
func (c RetryConfig) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("invalid retry config: timeout must be > 0")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("invalid retry config: max_attempts must be > 0")
	}
	return nil
}

// RetryObserver is told about every failed attempt that will be retried.
type RetryObserver func(order schema.Order, attempt int, err error)

// RetryGateway bounds every call with a timeout and retries transient
// failures with backoff. Rejections are returned at once.
type RetryGateway struct {
	next    OrderGateway
	cfg     RetryConfig
	sleeper backoff.Sleeper
	observe RetryObserver
}

// NewRetryGateway wraps a gateway.
func NewRetryGateway(next OrderGateway, cfg RetryConfig, sleeper backoff.Sleeper) (*RetryGateway, error) {
	if next == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "gateway")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sleeper == nil {
		sleeper = backoff.RealSleeper{}
	}
	return &RetryGateway{next: next, cfg: cfg, sleeper: sleeper}, nil
}

// OnRetry installs an observer.
func (g *RetryGateway) OnRetry(fn RetryObserver) *RetryGateway {
	g.observe = fn
	return g
}

// Submit tries up to MaxAttempts times. Exhausting the attempts returns
// exception.ErrOrderRetriesExhausted wrapping the last failure.
func (g *RetryGateway) Submit(ctx context.Context, order schema.Order) (schema.OrderAck, error) {
	var last error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		ack, err := g.submitOnce(ctx, order)
		if err == nil {
			return ack, nil
		}
		if ctx.Err() != nil {
			return schema.OrderAck{}, ctx.Err()
		}
		if !IsTransient(err) {
			return schema.OrderAck{}, err
		}
		last = err
		if attempt == g.cfg.MaxAttempts {
			break
		}
		if g.observe != nil {
			g.observe(order, attempt, err)
		}
		if err := g.sleeper.Sleep(ctx, g.cfg.Backoff.Next(attempt)); err != nil {
			return schema.OrderAck{}, err
		}
	}
	return schema.OrderAck{}, errors.Wrapf(exception.ErrOrderRetriesExhausted, "order %d after %d attempts: %v", order.ID, g.cfg.MaxAttempts, last)
}

func (g *RetryGateway) submitOnce(ctx context.Context, order schema.Order) (schema.OrderAck, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	return g.next.Submit(ctx, order)
}

// Cancel retries transient failures like Submit.
func (g *RetryGateway) Cancel(ctx context.Context, orderID uint64) error {
	var last error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		err := g.next.Cancel(callCtx, orderID)
		cancel()
		if err == nil || !IsTransient(err) || ctx.Err() != nil {
			return err
		}
		last = err
		if attempt < g.cfg.MaxAttempts {
			if err := g.sleeper.Sleep(ctx, g.cfg.Backoff.Next(attempt)); err != nil {
				return err
			}
		}
	}
	return errors.Wrapf(exception.ErrOrderRetriesExhausted, "cancel %d: %v", orderID, last)
}

// PollFills is bounded by the timeout but never retried; the next cycle
// polls again.
func (g *RetryGateway) PollFills(ctx context.Context) ([]schema.Fill, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	return g.next.PollFills(ctx)
}

// Mark forwards to the wrapped gateway when it is simulated.
func (g *RetryGateway) Mark(bar schema.Bar) {
	if m, ok := g.next.(Marker); ok {
		m.Mark(bar)
	}
}
