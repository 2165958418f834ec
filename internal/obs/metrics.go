package obs

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"intraday/internal/schema"
)

const namespace = "intraday"

// Metrics exposes runner counters to prometheus and keeps an in-process
// latency aggregate for the run summary. A nil *Metrics is a no-op.
type Metrics struct {
	signals      *prometheus.CounterVec
	orders       *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	retries      prometheus.Counter
	storeFailed  prometheus.Counter
	storeDropped prometheus.Counter
	anomalies    *prometheus.CounterVec
	openPos      prometheus.Gauge
	realized     prometheus.Gauge
	bufferDepth  prometheus.Gauge
	phase        prometheus.Gauge
	cycle        prometheus.Histogram

	cycleLatency LatencyStats
}

// NewMetrics registers the collectors on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals emitted by the decision engine",
		}, []string{"kind"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders reaching a terminal status",
		}, []string{"status"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Intents refused before submission",
		}, []string{"reason"}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_retries_total",
			Help:      "Order gateway attempts that were retried",
		}),
		storeFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_failures_total",
			Help:      "Run store sink writes that failed",
		}),
		storeDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_dropped_total",
			Help:      "Run store records that could not be buffered",
		}),
		anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Data anomalies that halted a symbol",
		}, []string{"kind"}),
		openPos: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Currently open positions",
		}),
		realized: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl",
			Help:      "Realized profit and loss of the run",
		}),
		bufferDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_buffer_depth",
			Help:      "Records waiting in the run store buffer",
		}),
		phase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "Current decision engine phase",
		}),
		cycle: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_seconds",
			Help:      "Decision cycle latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

func (m *Metrics) IncSignal(kind schema.SignalKind) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) IncOrder(status schema.OrderStatus) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) IncRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) IncStoreFailure() {
	if m == nil {
		return
	}
	m.storeFailed.Inc()
}

func (m *Metrics) IncStoreDrop() {
	if m == nil {
		return
	}
	m.storeDropped.Inc()
}

func (m *Metrics) IncAnomaly(kind string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPos.Set(float64(n))
}

func (m *Metrics) SetRealizedPnL(v float64) {
	if m == nil {
		return
	}
	m.realized.Set(v)
}

func (m *Metrics) SetBufferDepth(n int) {
	if m == nil {
		return
	}
	m.bufferDepth.Set(float64(n))
}

func (m *Metrics) SetPhase(p int) {
	if m == nil {
		return
	}
	m.phase.Set(float64(p))
}

// ObserveCycle records the wall time spent resolving one cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycle.Observe(d.Seconds())
	m.cycleLatency.Observe(d)
}

// CycleLatency returns the aggregated cycle latency.
func (m *Metrics) CycleLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	return m.cycleLatency.Snapshot()
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&l.min)),
		Max:   time.Duration(atomic.LoadUint64(&l.max)),
		Avg:   time.Duration(atomic.LoadUint64(&l.sum) / count),
	}
}
