package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/schema"
)

func TestMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.IncSignal(schema.SignalEntry)
	m.IncSignal(schema.SignalEntry)
	m.IncSignal(schema.SignalExit)
	m.IncOrder(schema.OrderStatusFilled)
	m.IncRejection("max_adds")
	m.IncRetry()
	m.SetOpenPositions(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.signals.WithLabelValues(schema.SignalEntry.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues(schema.SignalExit.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orders.WithLabelValues(schema.OrderStatusFilled.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("max_adds")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.openPos))

	n, err := testutil.GatherAndCount(reg, "intraday_signals_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetricsNilIsNoop(t *testing.T) {
	var m *Metrics
	m.IncSignal(schema.SignalEntry)
	m.ObserveCycle(time.Millisecond)
	assert.Equal(t, LatencySnapshot{}, m.CycleLatency())
}

func TestCycleLatency(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveCycle(2 * time.Millisecond)
	m.ObserveCycle(4 * time.Millisecond)
	m.ObserveCycle(-time.Millisecond)

	snap := m.CycleLatency()
	assert.Equal(t, uint64(2), snap.Count)
	assert.Equal(t, 2*time.Millisecond, snap.Min)
	assert.Equal(t, 4*time.Millisecond, snap.Max)
	assert.Equal(t, 3*time.Millisecond, snap.Avg)
}

func TestRunTraceGenerator(t *testing.T) {
	a := NewRunTraceGenerator("run-1")
	b := NewRunTraceGenerator("run-1")
	first := a.Next()
	assert.Equal(t, first, b.Next())
	assert.Equal(t, first+1, a.Next())
	assert.NotEqual(t, first, NewRunTraceGenerator("run-2").Next())
}
