package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"intraday/internal/schema"
	"intraday/internal/strategy"
)

// settle polls the gateway and applies every reported execution. A failed
// poll is retried on the next cycle.
func (r *Runner) settle(ctx context.Context, now time.Time) {
	fills, err := r.gateway.PollFills(ctx)
	if err != nil {
		logs.Errorf("poll fills at %s, err: %+v", now.Format(time.RFC3339), err)
		return
	}
	for _, fill := range fills {
		r.applyFill(fill, now)
	}
}

func (r *Runner) applyFill(fill schema.Fill, now time.Time) {
	if fill.ExecID != "" {
		if r.execs[fill.ExecID] {
			r.metrics.IncAnomaly("duplicate_fill")
			logs.Infof("drop repeated fill %s of order %d", fill.ExecID, fill.OrderID)
			return
		}
		r.execs[fill.ExecID] = true
	}

	order, err := r.orders.ApplyFill(fill)
	if err != nil {
		r.metrics.IncAnomaly("invalid_fill")
		logs.Errorf("apply fill of order %d, err: %+v", fill.OrderID, err)
		return
	}
	r.record(schema.EventFill, now, fill)

	pos, err := r.book.ApplyFill(fill, order.Kind, r.plans[order.ID])
	if err != nil {
		r.metrics.IncAnomaly("book")
		logs.Errorf("book fill of order %d, err: %+v", fill.OrderID, err)
	} else {
		if order.Kind == schema.SignalAdd {
			stop := strategy.CostBasisStop(pos, r.lot(pos.Symbol))
			if _, err := r.book.ApplyStop(pos.Symbol, stop, decimal.Zero); err != nil {
				logs.Errorf("raise stop of %s after add, err: %+v", pos.Symbol, err)
			}
			if updated, ok := r.book.Position(pos.Symbol); ok {
				pos = updated
			}
		}
		r.record(schema.EventPosition, now, pos)
	}

	if order.Status.Terminal() {
		r.book.Release(order.ID)
		delete(r.plans, order.ID)
		r.result.FilledOrders++
		r.metrics.IncOrder(order.Status)
		r.record(schema.EventOrder, now, order)
	}
}
