package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"intraday/internal/risk"
	"intraday/internal/schema"
	"intraday/internal/state"
	"intraday/internal/strategy"
	"intraday/pkg/exception"
)

// dispatch turns one intent into at most one order. The signal is recorded
// first and gets the next sequence id whether or not an order follows.
func (r *Runner) dispatch(ctx context.Context, in strategy.Intent, now time.Time) {
	sig := in.Signal
	r.nextSignal++
	sig.ID = r.nextSignal
	r.record(schema.EventSignal, now, sig)
	r.result.Signals++
	r.result.SignalsByKind[sig.Kind.String()]++
	r.metrics.IncSignal(sig.Kind)

	order := schema.Order{
		SignalID: sig.ID,
		Kind:     sig.Kind,
		Symbol:   sig.Symbol,
		Side:     in.Side,
		Type:     schema.OrderTypeMarket,
		Price:    sig.RefPrice,
		Time:     now,
	}

	lot := r.lot(sig.Symbol)
	var plan state.EntryPlan
	switch sig.Kind {
	case schema.SignalEntry:
		qty, p, err := r.sizeEntry(in, lot)
		if err != nil {
			r.reject(sig, "sizing", err)
			return
		}
		order.Qty, plan = qty, p
	case schema.SignalAdd:
		pos, ok := r.book.Position(sig.Symbol)
		if !ok {
			r.reject(sig, risk.ReasonNoPosition.String(), exception.ErrNoPosition)
			return
		}
		qty, err := r.sizer.Add(pos.OriginalQty, in.Fraction, lot)
		if err != nil {
			r.spendAdd(sig.Symbol)
			r.reject(sig, "sizing", err)
			return
		}
		order.Qty = qty
	default:
		order.Qty = in.Qty
	}

	verdict := r.guard.Evaluate(order, r.view(sig.Symbol, now))
	if !verdict.Allowed() {
		if sig.Kind == schema.SignalAdd {
			r.spendAdd(sig.Symbol)
		}
		r.reject(sig, verdict.Reason.String(), verdict.Reason.Err())
		return
	}
	if sig.Kind == schema.SignalAdd {
		if err := r.book.AuthorizeAdd(sig.Symbol, r.maxAdds); err != nil {
			r.reject(sig, risk.ReasonMaxAdds.String(), err)
			return
		}
	}

	r.nextOrder++
	order.ID = r.nextOrder
	tracked, err := r.orders.Track(order)
	if err != nil {
		logs.Errorf("track order %d, err: %+v", order.ID, err)
		return
	}
	r.result.Orders++
	if sig.Kind == schema.SignalEntry {
		r.plans[order.ID] = plan
	}
	if sig.Kind.Opens() {
		r.book.Reserve(order.ID, order.Symbol, order.Qty.Mul(order.Price))
	}
	if sig.Kind == schema.SignalFlatten {
		r.book.SetPendingFlatten(order.Symbol, true)
	}

	r.submit(ctx, tracked, now)
}

// sizeEntry sizes an entry against its slot's share of deployable capital,
// never more than what is still uncommitted.
func (r *Runner) sizeEntry(in strategy.Intent, lot schema.LotSpec) (decimal.Decimal, state.EntryPlan, error) {
	capital := r.book.Deployable().Mul(in.Weight)
	if available := r.book.Available(); available.LessThan(capital) {
		capital = available
	}
	if !capital.IsPositive() {
		return decimal.Zero, state.EntryPlan{}, errors.Wrapf(exception.ErrZeroQuantity, "no capital left for %s", in.Signal.Symbol)
	}
	qty, err := r.sizer.Entry(capital, in.Signal.RefPrice, in.Stop, lot)
	if err != nil {
		return decimal.Zero, state.EntryPlan{}, err
	}
	plan := state.EntryPlan{
		Stop:      in.Stop,
		SizedQty:  strategy.MaxQuantity(r.strat.Pyramid, qty, lot),
		TrailMode: r.strat.Trail.Mode,
	}
	if slot, ok := r.shortlist.SlotOf(in.Signal.Symbol); ok {
		plan.Slot = slot.Index
	}
	return qty, plan, nil
}

func (r *Runner) view(symbol string, now time.Time) risk.StateView {
	pos, open := r.book.Position(symbol)
	held := pos.AbsQty()
	pending := 0
	for _, o := range r.orders.Open() {
		switch {
		case o.Kind == schema.SignalEntry:
			if _, ok := r.book.Position(o.Symbol); !ok {
				pending++
			}
			if o.Symbol == symbol {
				held = held.Add(o.LeavesQty())
			}
		case o.Kind == schema.SignalAdd && o.Symbol == symbol:
			held = held.Add(o.LeavesQty())
		}
	}
	return risk.StateView{
		Open:           open,
		AddsAuthorized: pos.AddsAuthorized,
		OpenPositions:  r.book.OpenCount() + pending,
		SizedQty:       pos.SizedQty,
		HeldQty:        held,
		EntriesClosed:  !now.Before(r.strat.Session.EODAt),
		Now:            now,
	}
}

// spendAdd uses up the pyramid step of an add that will not be ordered, so
// the same threshold does not signal again on the next bar.
func (r *Runner) spendAdd(symbol string) {
	if err := r.book.AuthorizeAdd(symbol, r.maxAdds); err != nil {
		logs.Infof("add step for %s already spent, err: %v", symbol, err)
	}
}

func (r *Runner) reject(sig schema.Signal, reason string, err error) {
	r.result.RejectedIntents++
	r.metrics.IncRejection(reason)
	logs.Errorf("reject %s signal %d for %s at %s, reason: %s, err: %+v", sig.Kind, sig.ID, sig.Symbol, sig.Time.Format(time.RFC3339), reason, err)
}

// submit sends a tracked order. A gateway error after retries marks the
// order failed; a venue rejection marks it rejected. Either way the order's
// reservations are returned.
func (r *Runner) submit(ctx context.Context, order schema.Order, now time.Time) {
	ack, err := r.gateway.Submit(ctx, order)
	if err != nil {
		failed, ferr := r.orders.Fail(order.ID, err.Error())
		if ferr != nil {
			logs.Errorf("fail order %d, err: %+v", order.ID, ferr)
			return
		}
		logs.Errorf("submit order %d %s %s, err: %+v", order.ID, order.Kind, order.Symbol, err)
		r.abandon(failed)
		r.result.FailedOrders++
		r.metrics.IncOrder(failed.Status)
		r.record(schema.EventOrder, now, failed)
		return
	}

	acked, err := r.orders.ApplyAck(ack)
	if err != nil {
		logs.Errorf("apply ack of order %d, err: %+v", order.ID, err)
		return
	}
	if acked.Status == schema.OrderStatusRejected {
		logs.Errorf("order %d %s %s rejected by venue, reason: %s", acked.ID, acked.Kind, acked.Symbol, acked.Reason)
		r.abandon(acked)
		r.result.FailedOrders++
		r.metrics.IncOrder(acked.Status)
	}
	r.record(schema.EventOrder, now, acked)
}

// cancel withdraws a working order. The local cancel always stands even when
// the venue call fails; a fill reported for it later is refused by the state
// machine.
func (r *Runner) cancel(ctx context.Context, order schema.Order, reason string, now time.Time) {
	if err := r.gateway.Cancel(ctx, order.ID); err != nil {
		logs.Errorf("cancel order %d at venue, err: %+v", order.ID, err)
	}
	cancelled, err := r.orders.Cancel(order.ID, reason)
	if err != nil {
		logs.Errorf("cancel order %d, err: %+v", order.ID, err)
		return
	}
	r.abandon(cancelled)
	r.metrics.IncOrder(cancelled.Status)
	r.record(schema.EventOrder, now, cancelled)
}

// abandon undoes the bookkeeping of an order that will not fill further.
func (r *Runner) abandon(order schema.Order) {
	r.book.Release(order.ID)
	delete(r.plans, order.ID)
	switch order.Kind {
	case schema.SignalAdd:
		if order.FilledQty.IsZero() {
			r.book.RevokeAdd(order.Symbol)
		}
	case schema.SignalFlatten:
		r.book.SetPendingFlatten(order.Symbol, false)
	}
}

func (r *Runner) lot(symbol string) schema.LotSpec {
	inst, ok := r.universe.Instrument(symbol)
	if !ok {
		return schema.DefaultLotSpec()
	}
	return inst.Lot
}
