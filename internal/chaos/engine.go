package chaos

import (
	"math/rand"
	"time"

	"github.com/yanun0323/errors"
)

// Config controls fault injection.
type Config struct {
	Seed          int64         `yaml:"seed"`
	DropRate      float64       `yaml:"drop_rate"`
	DuplicateRate float64       `yaml:"duplicate_rate"`
	ReorderWindow int           `yaml:"reorder_window"`
	MaxDelay      time.Duration `yaml:"max_delay"`
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.New("drop_rate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return errors.New("duplicate_rate must be between 0 and 1")
	}
	if c.ReorderWindow < 0 {
		return errors.New("reorder_window must be >= 0")
	}
	if c.MaxDelay < 0 {
		return errors.New("max_delay must be >= 0")
	}
	return nil
}

// Engine perturbs a stream of items with seeded drops, duplicates and
// reordering. The same seed and input always give the same output.
type Engine[T any] struct {
	cfg     Config
	rng     *rand.Rand
	pending []T
}

// NewEngine creates an engine. A zero seed is replaced by a fixed default so
// runs stay reproducible unless a seed is chosen.
func NewEngine[T any](cfg Config) (*Engine[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReorderWindow == 0 {
		cfg.ReorderWindow = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return &Engine[T]{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Process applies faults to one item and returns what should be delivered
// now.
func (e *Engine[T]) Process(v T) []T {
	if e == nil {
		return []T{v}
	}
	if e.Roll(e.cfg.DropRate) {
		return nil
	}
	if e.cfg.ReorderWindow <= 1 {
		return e.duplicate(v)
	}
	e.pending = append(e.pending, v)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	return e.duplicate(e.pick())
}

// Flush returns the items still held for reordering.
func (e *Engine[T]) Flush() []T {
	if e == nil {
		return nil
	}
	var out []T
	for len(e.pending) > 0 {
		out = append(out, e.duplicate(e.pick())...)
	}
	return out
}

// Roll reports whether an event with the given probability happens.
func (e *Engine[T]) Roll(rate float64) bool {
	return rate > 0 && e.rng.Float64() < rate
}

// Delay returns a random delay up to MaxDelay.
func (e *Engine[T]) Delay() time.Duration {
	if e.cfg.MaxDelay <= 0 {
		return 0
	}
	return time.Duration(e.rng.Int63n(int64(e.cfg.MaxDelay) + 1))
}

func (e *Engine[T]) pick() T {
	idx := e.rng.Intn(len(e.pending))
	v := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return v
}

func (e *Engine[T]) duplicate(v T) []T {
	if e.Roll(e.cfg.DuplicateRate) {
		return []T{v, v}
	}
	return []T{v}
}
