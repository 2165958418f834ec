package og

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/schema"
	"intraday/pkg/backoff"
	"intraday/pkg/exception"
)

var barTime = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func order(id uint64, symbol string, side schema.OrderSide, qty string) schema.Order {
	return schema.Order{ID: id, Symbol: symbol, Side: side, Type: schema.OrderTypeMarket, Qty: d(qty), Kind: schema.SignalEntry}
}

func mark(symbol, close string) schema.Bar {
	return schema.Bar{Symbol: symbol, Time: barTime, Open: d(close), High: d(close), Low: d(close), Close: d(close), Volume: d("1")}
}

func TestStateMachineLifecycle(t *testing.T) {
	m := NewStateMachine()
	_, err := m.Track(order(0, "AAA", schema.OrderSideBuy, "10"))
	assert.ErrorIs(t, err, ErrUnknownOrder)

	o, err := m.Track(order(1, "AAA", schema.OrderSideBuy, "10"))
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusPending, o.Status)
	_, err = m.Track(order(1, "AAA", schema.OrderSideBuy, "10"))
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	o, err = m.ApplyAck(schema.OrderAck{OrderID: 1, Status: schema.OrderStatusSubmitted})
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusSubmitted, o.Status)

	o, err = m.ApplyFill(schema.Fill{OrderID: 1, Price: d("100"), Qty: d("4")})
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusPartFilled, o.Status)

	_, err = m.ApplyFill(schema.Fill{OrderID: 1, Price: d("101"), Qty: d("7")})
	assert.ErrorIs(t, err, ErrInvalidFill)

	o, err = m.ApplyFill(schema.Fill{OrderID: 1, Price: d("101"), Qty: d("6")})
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusFilled, o.Status)
	assert.True(t, d("100.6").Equal(o.AvgPrice), o.AvgPrice.String())

	_, err = m.ApplyFill(schema.Fill{OrderID: 1, Price: d("101"), Qty: d("1")})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.Cancel(1, "late")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.ApplyAck(schema.OrderAck{OrderID: 9, Status: schema.OrderStatusSubmitted})
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestStateMachineOpenOrders(t *testing.T) {
	m := NewStateMachine()
	for _, o := range []schema.Order{
		order(3, "BBB", schema.OrderSideBuy, "1"),
		order(1, "AAA", schema.OrderSideBuy, "1"),
		order(2, "AAA", schema.OrderSideSell, "1"),
	} {
		_, err := m.Track(o)
		require.NoError(t, err)
	}
	_, err := m.ApplyAck(schema.OrderAck{OrderID: 2, Status: schema.OrderStatusRejected, Reason: "halted"})
	require.NoError(t, err)
	_, err = m.Fail(3, "timeout")
	require.NoError(t, err)

	open := m.Open()
	require.Len(t, open, 1)
	assert.Equal(t, uint64(1), open[0].ID)
	assert.Len(t, m.OpenFor("AAA"), 1)
	assert.Empty(t, m.OpenFor("BBB"))

	o, _ := m.Order(2)
	assert.Equal(t, "halted", o.Reason)
}

func TestPaperGatewayFills(t *testing.T) {
	ctx := context.Background()
	g := NewPaperGateway(PaperConfig{Session: "s1", MaxFillQty: d("40")})

	ack, err := g.Submit(ctx, order(1, "AAA", schema.OrderSideBuy, "100"))
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusRejected, ack.Status, "no market yet")

	g.Mark(mark("AAA", "250"))
	ack, err = g.Submit(ctx, order(2, "AAA", schema.OrderSideBuy, "100"))
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusSubmitted, ack.Status)
	assert.NotEmpty(t, ack.VenueRef)

	again, err := g.Submit(ctx, order(2, "AAA", schema.OrderSideBuy, "100"))
	require.NoError(t, err)
	assert.Equal(t, ack, again, "resubmission is idempotent")

	fills, err := g.PollFills(ctx)
	require.NoError(t, err)
	require.Len(t, fills, 3)
	total := decimal.Zero
	execIDs := make(map[string]bool)
	for _, f := range fills {
		execIDs[f.ExecID] = true
		assert.True(t, d("250").Equal(f.Price))
		assert.Equal(t, barTime, f.Time)
		total = total.Add(f.Qty)
	}
	assert.True(t, d("100").Equal(total))
	assert.Len(t, execIDs, 3, "partial fills carry distinct exec ids")

	fills, err = g.PollFills(ctx)
	require.NoError(t, err)
	assert.Empty(t, fills)
}

func TestPaperGatewayVenueRefIsDeterministic(t *testing.T) {
	a := NewPaperGateway(PaperConfig{Session: "run"})
	b := NewPaperGateway(PaperConfig{Session: "run"})
	assert.Equal(t, a.venueRef(7), b.venueRef(7))
	assert.NotEqual(t, a.venueRef(7), a.venueRef(8))
}

func TestPaperGatewaySlippageAndCancel(t *testing.T) {
	ctx := context.Background()
	g := NewPaperGateway(PaperConfig{SlippageBps: d("10")})
	g.Mark(mark("AAA", "100"))

	_, err := g.Submit(ctx, order(1, "AAA", schema.OrderSideSell, "5"))
	require.NoError(t, err)
	_, err = g.Submit(ctx, order(2, "AAA", schema.OrderSideBuy, "5"))
	require.NoError(t, err)
	require.NoError(t, g.Cancel(ctx, 2))
	assert.ErrorIs(t, g.Cancel(ctx, 99), exception.ErrOrderUnknown)

	fills, err := g.PollFills(ctx)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.True(t, d("99.9").Equal(fills[0].Price), fills[0].Price.String())
}

func TestPaperGatewayDisconnect(t *testing.T) {
	ctx := context.Background()
	g := NewPaperGateway(PaperConfig{})
	g.Mark(mark("AAA", "100"))
	g.Disconnect()
	_, err := g.Submit(ctx, order(1, "AAA", schema.OrderSideBuy, "1"))
	assert.True(t, IsTransient(err))
	_, err = g.PollFills(ctx)
	assert.True(t, IsTransient(err))

	g.Reconnect()
	ack, err := g.Submit(ctx, order(1, "AAA", schema.OrderSideBuy, "1"))
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusSubmitted, ack.Status)
}

// flaky fails the first n submissions with a transient error.
type flaky struct {
	n     int
	calls int
	err   error
}

func (f *flaky) Submit(ctx context.Context, o schema.Order) (schema.OrderAck, error) {
	f.calls++
	if f.calls <= f.n {
		return schema.OrderAck{}, f.err
	}
	return schema.OrderAck{OrderID: o.ID, Status: schema.OrderStatusSubmitted}, nil
}

func (f *flaky) Cancel(context.Context, uint64) error { return nil }

func (f *flaky) PollFills(context.Context) ([]schema.Fill, error) { return nil, nil }

// hang blocks until the per-attempt timeout fires.
type hang struct{ flaky }

func (h *hang) Submit(ctx context.Context, _ schema.Order) (schema.OrderAck, error) {
	h.calls++
	<-ctx.Done()
	return schema.OrderAck{}, ctx.Err()
}

func TestRetryGateway(t *testing.T) {
	cfg := RetryConfig{Timeout: 20 * time.Millisecond, MaxAttempts: 3, Backoff: backoff.Default()}

	testCases := []struct {
		desc  string
		next  OrderGateway
		calls int
		err   error
	}{
		{"succeeds after retries", &flaky{n: 2, err: exception.ErrOrderTransient}, 3, nil},
		{"exhausted", &flaky{n: 5, err: exception.ErrOrderTransient}, 3, exception.ErrOrderRetriesExhausted},
		{"permanent error is not retried", &flaky{n: 5, err: exception.ErrOrderInvalidRequest}, 1, exception.ErrOrderInvalidRequest},
		{"timeouts are retried", &hang{}, 3, exception.ErrOrderRetriesExhausted},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			var retries []int
			g, err := NewRetryGateway(tc.next, cfg, backoff.NoSleep{})
			require.NoError(t, err)
			g.OnRetry(func(_ schema.Order, attempt int, _ error) { retries = append(retries, attempt) })

			_, err = g.Submit(context.Background(), order(1, "AAA", schema.OrderSideBuy, "1"))
			if tc.err == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.err)
			}

			var calls int
			switch n := tc.next.(type) {
			case *flaky:
				calls = n.calls
			case *hang:
				calls = n.calls
			}
			assert.Equal(t, tc.calls, calls)
			if tc.calls > 1 {
				assert.Len(t, retries, tc.calls-1)
			}
		})
	}
}

func TestRetryGatewayStopsOnCancel(t *testing.T) {
	g, err := NewRetryGateway(&flaky{n: 5, err: exception.ErrOrderTransient}, DefaultRetryConfig(), backoff.NoSleep{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Submit(ctx, order(1, "AAA", schema.OrderSideBuy, "1"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFaultyGateway(t *testing.T) {
	ctx := context.Background()
	paper := NewPaperGateway(PaperConfig{})
	g, err := NewFaultyGateway(paper, FaultConfig{FailRate: 1})
	require.NoError(t, err)
	g.Mark(mark("AAA", "10"))
	_, err = g.Submit(ctx, order(1, "AAA", schema.OrderSideBuy, "1"))
	assert.True(t, IsTransient(err))

	g, err = NewFaultyGateway(paper, FaultConfig{DuplicateFillRate: 1})
	require.NoError(t, err)
	_, err = g.Submit(ctx, order(2, "AAA", schema.OrderSideBuy, "1"))
	require.NoError(t, err)
	fills, err := g.PollFills(ctx)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, fills[0], fills[1])

	_, err = NewFaultyGateway(paper, FaultConfig{HangRate: 2})
	assert.Error(t, err)
}
