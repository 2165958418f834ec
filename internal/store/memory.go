package store

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"intraday/internal/schema"
)

var errInjected = errors.New("memory sink: injected failure")

// MemorySink keeps records in memory. It backs tests and the determinism
// check of backtests.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
	seen    map[uint64]struct{}
	failN   int
	closed  bool
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[uint64]struct{})}
}

// FailNext makes the next n writes fail.
func (m *MemorySink) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
}

func (m *MemorySink) Write(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 {
		m.failN--
		return errInjected
	}
	for _, r := range records {
		if _, ok := m.seen[r.Header.Seq]; ok {
			continue
		}
		m.seen[r.Header.Seq] = struct{}{}
		m.records = append(m.records, Record{Header: r.Header, Payload: bytes.Clone(r.Payload)})
	}
	return nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns the stored records in arrival order.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Payloads returns the payloads of the given event types joined by
// newlines, the byte stream two deterministic runs must agree on.
func (m *MemorySink) Payloads(types ...schema.EventType) []byte {
	want := make(map[schema.EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	var buf bytes.Buffer
	for _, r := range m.Records() {
		if len(want) > 0 && !want[r.Header.Type] {
			continue
		}
		buf.WriteString(r.Header.Type.String())
		buf.WriteByte(' ')
		buf.Write(r.Payload)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
