package store

import (
	"context"

	"intraday/internal/recorder"
)

// WALSink appends records to the run log. Sequence numbers already written
// are skipped so a retried batch is not duplicated.
type WALSink struct {
	w       *recorder.Writer
	lastSeq uint64
}

// NewWALSink opens a run log writer.
func NewWALSink(cfg recorder.Config) (*WALSink, error) {
	w, err := recorder.NewWriter(cfg)
	if err != nil {
		return nil, err
	}
	return &WALSink{w: w}, nil
}

func (s *WALSink) Write(_ context.Context, records []Record) error {
	for _, r := range records {
		if r.Header.Seq <= s.lastSeq {
			continue
		}
		if err := s.w.Append(r.Header, r.Payload); err != nil {
			return err
		}
		s.lastSeq = r.Header.Seq
	}
	return s.w.Flush()
}

func (s *WALSink) Close() error {
	return s.w.Close()
}

// MultiSink writes every batch to each sink in order.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, records []Record) error {
	for _, s := range m {
		if err := s.Write(ctx, records); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
