package store

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"intraday/internal/bus"
	"intraday/internal/obs"
	"intraday/internal/schema"
	"intraday/pkg/backoff"
	"intraday/pkg/exception"
)

// Record is one encoded entry handed to a sink.
type Record struct {
	Header  schema.EventHeader
	Payload []byte
}

// Sink persists batches of records in sequence order. A failed Write is
// retried with the same batch, so sinks must tolerate a repeated prefix.
type Sink interface {
	Write(ctx context.Context, records []Record) error
	Close() error
}

// Config controls buffering and retry of the store.
type Config struct {
	// BufferSize is the capacity of the lock-free hand-off queue.
	BufferSize int `yaml:"buffer_size"`
	// MaxPending bounds records held in memory while the sink is failing.
	MaxPending    int             `yaml:"max_pending"`
	BatchSize     int             `yaml:"batch_size"`
	FlushInterval time.Duration   `yaml:"flush_interval"`
	Backoff       backoff.Backoff `yaml:"backoff"`
	Source        uint16          `yaml:"source"`
}

// DefaultConfig returns the store defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:    4096,
		MaxPending:    1 << 16,
		BatchSize:     256,
		FlushInterval: 50 * time.Millisecond,
		Backoff:       backoff.Default(),
	}
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.BufferSize <= 0 {
		return errors.New("invalid store config: buffer_size must be > 0")
	}
	if c.MaxPending < 0 {
		return errors.New("invalid store config: max_pending must be >= 0")
	}
	if c.BatchSize <= 0 {
		return errors.New("invalid store config: batch_size must be > 0")
	}
	if c.FlushInterval <= 0 {
		return errors.New("invalid store config: flush_interval must be > 0")
	}
	return nil
}

// Stats counts what happened to recorded entries.
type Stats struct {
	Recorded uint64
	Written  uint64
	Failures uint64
	Dropped  uint64
}

// Store persists run records without ever blocking the caller. Record
// encodes and enqueues; a background loop writes batches to the sink and
// keeps failed batches in memory until the sink accepts them.
type Store struct {
	cfg     Config
	sink    Sink
	queue   *bus.Queue[Record]
	metrics *obs.Metrics
	trace   *obs.TraceGenerator
	sleeper backoff.Sleeper

	mu       sync.Mutex
	seq      uint64
	overflow []Record
	closed   bool
	stats    Stats

	// owned by the flush loop
	retry    []Record
	attempts int

	wake chan struct{}
	stop chan context.Context
	done chan struct{}
	left int
	last error
}

// Option customizes a Store.
type Option func(*Store)

// WithMetrics reports failures, drops and buffer depth.
func WithMetrics(m *obs.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithTrace stamps records with trace ids.
func WithTrace(g *obs.TraceGenerator) Option {
	return func(s *Store) { s.trace = g }
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(sl backoff.Sleeper) Option {
	return func(s *Store) { s.sleeper = sl }
}

// New creates a store and starts its flush loop.
func New(sink Sink, cfg Config, opts ...Option) (*Store, error) {
	if sink == nil {
		return nil, exception.ErrStoreNoSink
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		cfg:     cfg,
		sink:    sink,
		queue:   bus.NewQueue[Record](cfg.BufferSize),
		sleeper: backoff.RealSleeper{},
		wake:    make(chan struct{}, 1),
		stop:    make(chan context.Context),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s, nil
}

// Record encodes v and schedules it for persistence. at is the session time
// the record belongs to. It returns the assigned sequence number.
func (s *Store) Record(eventType schema.EventType, at time.Time, v any) (uint64, error) {
	payload, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return 0, errors.Wrap(err, "encode record").With("type", eventType.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, exception.ErrStoreClosed
	}
	s.seq++
	rec := Record{
		Header:  schema.NewHeader(eventType, s.cfg.Source, s.seq, at.UnixNano(), time.Now().UnixNano()),
		Payload: payload,
	}
	rec.Header.TraceID = s.trace.Next()
	s.stats.Recorded++

	// Once anything spilled to overflow, later records follow it there so
	// the sink still sees sequence order.
	if len(s.overflow) == 0 {
		if err := s.queue.TryPublish(rec); err == nil {
			s.signal()
			return rec.Header.Seq, nil
		}
	}
	if len(s.overflow) >= s.cfg.MaxPending {
		s.stats.Dropped++
		s.metrics.IncStoreDrop()
		return rec.Header.Seq, errors.Errorf("run store buffer full, record %d dropped", rec.Header.Seq)
	}
	s.overflow = append(s.overflow, rec)
	s.signal()
	return rec.Header.Seq, nil
}

// Stats returns a copy of the counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Pending returns the number of records not yet accepted by the sink.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.stats.Recorded - s.stats.Written - s.stats.Dropped)
}

// Close stops accepting records and flushes what is buffered until ctx
// ends. Records still unwritten at that point are reported as an error.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.stop <- ctx:
	case <-s.done:
	}
	<-s.done

	err := s.sink.Close()
	if s.left > 0 {
		return errors.Wrapf(s.last, "run store closed with %d unpersisted records", s.left)
	}
	return err
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.wake:
		case <-ticker.C:
		case ctx := <-s.stop:
			s.drain(ctx)
			return
		}
		if err := s.flush(context.Background()); err != nil {
			s.attempts++
			wait := s.cfg.Backoff.Next(s.attempts)
			logs.Errorf("run store write failed (attempt %d, retry in %s), err: %+v", s.attempts, wait, err)
			select {
			case <-time.After(wait):
			case ctx := <-s.stop:
				s.drain(ctx)
				return
			}
		}
	}
}

func (s *Store) drain(ctx context.Context) {
	for {
		err := s.flush(ctx)
		if err == nil && len(s.retry) == 0 && s.queue.Len() == 0 && s.overflowLen() == 0 {
			return
		}
		if err != nil {
			s.attempts++
			s.last = err
			if serr := s.sleeper.Sleep(ctx, s.cfg.Backoff.Next(s.attempts)); serr != nil {
				s.left = len(s.retry) + s.queue.Len() + s.overflowLen()
				if s.last == nil {
					s.last = serr
				}
				return
			}
		}
	}
}

// flush collects everything buffered, oldest first, and writes it in
// batches. Whatever the sink refuses stays in retry.
func (s *Store) flush(ctx context.Context) error {
	batch := s.retry
	batch = append(batch, s.queue.Drain(0)...)
	s.mu.Lock()
	batch = append(batch, s.overflow...)
	s.overflow = nil
	s.mu.Unlock()
	s.retry = nil

	defer func() { s.metrics.SetBufferDepth(len(s.retry) + s.queue.Len()) }()

	for len(batch) > 0 {
		n := min(len(batch), s.cfg.BatchSize)
		if err := s.sink.Write(ctx, batch[:n]); err != nil {
			s.retry = batch
			s.mu.Lock()
			s.stats.Failures++
			s.mu.Unlock()
			s.metrics.IncStoreFailure()
			return err
		}
		s.mu.Lock()
		s.stats.Written += uint64(n)
		s.mu.Unlock()
		batch = batch[n:]
	}
	s.attempts = 0
	return nil
}

func (s *Store) overflowLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.overflow)
}
