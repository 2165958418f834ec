package obs

import (
	"hash/fnv"
	"sync/atomic"
)

// TraceGenerator hands out increasing trace ids. Seeding it from the run id
// makes the ids of a replayed run match the original.
type TraceGenerator struct {
	next uint64
}

// NewTraceGenerator returns a generator seeded with the given value.
func NewTraceGenerator(seed uint64) *TraceGenerator {
	return &TraceGenerator{next: seed}
}

// NewRunTraceGenerator derives the seed from a run id.
func NewRunTraceGenerator(runID string) *TraceGenerator {
	h := fnv.New64a()
	_, _ = h.Write([]byte(runID))
	return NewTraceGenerator(h.Sum64() &^ (1 << 63))
}

// Next returns the next trace ID.
func (g *TraceGenerator) Next() uint64 {
	if g == nil {
		return 0
	}
	return atomic.AddUint64(&g.next, 1)
}
