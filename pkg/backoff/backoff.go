package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff describes an exponential retry schedule with optional jitter.
type Backoff struct {
	Min    time.Duration `yaml:"min"`
	Max    time.Duration `yaml:"max"`
	Factor float64       `yaml:"factor"`
	Jitter float64       `yaml:"jitter"`
}

// Default provides conservative retry defaults for order submission.
func Default() Backoff {
	return Backoff{
		Min:    100 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the wait before the given retry attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	return b.next(attempt, rand.Float64)
}

// NextSeeded is Next with a caller-owned random source, for reproducible schedules.
func (b Backoff) NextSeeded(attempt int, rng *rand.Rand) time.Duration {
	if rng == nil {
		return b.Next(attempt)
	}
	return b.next(attempt, rng.Float64)
}

func (b Backoff) next(attempt int, float func() float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Second
	}
	if max < min {
		max = min
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := min1(b.Jitter)
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(float()*2*delta)
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

// Sleeper waits between attempts. Tests and backtests swap in a no-op.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper blocks on a timer or the context.
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep returns immediately unless the context is already done.
type NoSleep struct{}

func (NoSleep) Sleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
