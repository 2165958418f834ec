package og

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"intraday/internal/schema"
)

// StateMachine tracks orders from creation to a terminal status. It only
// accepts transitions that move forward.
type StateMachine struct {
	orders map[uint64]*schema.Order
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[uint64]*schema.Order)}
}

// Track registers a new order in pending status.
func (m *StateMachine) Track(order schema.Order) (schema.Order, error) {
	if order.ID == 0 {
		return schema.Order{}, errors.Wrap(ErrUnknownOrder, "order id is zero")
	}
	if _, ok := m.orders[order.ID]; ok {
		return schema.Order{}, errors.Wrapf(ErrDuplicateOrder, "order %d", order.ID)
	}
	o := order
	o.Status = schema.OrderStatusPending
	o.FilledQty = decimal.Zero
	o.AvgPrice = decimal.Zero
	m.orders[o.ID] = &o
	return o, nil
}

// Order returns a copy of the current order state.
func (m *StateMachine) Order(id uint64) (schema.Order, bool) {
	o, ok := m.orders[id]
	if !ok {
		return schema.Order{}, false
	}
	return *o, true
}

// ApplyAck updates an order from a submission answer.
func (m *StateMachine) ApplyAck(ack schema.OrderAck) (schema.Order, error) {
	o, err := m.live(ack.OrderID)
	if err != nil {
		return schema.Order{}, err
	}
	switch ack.Status {
	case schema.OrderStatusSubmitted:
		if o.Status == schema.OrderStatusPending {
			o.Status = schema.OrderStatusSubmitted
		}
	case schema.OrderStatusRejected, schema.OrderStatusCancelled:
		o.Status = ack.Status
		o.Reason = ack.Reason
	case schema.OrderStatusPartFilled, schema.OrderStatusFilled:
		// Fill reports carry the quantities; the ack only confirms receipt.
		if o.Status == schema.OrderStatusPending {
			o.Status = schema.OrderStatusSubmitted
		}
	default:
		return *o, errors.Wrapf(ErrInvalidTransition, "order %d ack status %s", ack.OrderID, ack.Status)
	}
	return *o, nil
}

// ApplyFill updates quantities and average price from an execution report.
// A fill larger than the leaves quantity is refused.
func (m *StateMachine) ApplyFill(fill schema.Fill) (schema.Order, error) {
	o, err := m.live(fill.OrderID)
	if err != nil {
		return schema.Order{}, err
	}
	if !fill.Qty.IsPositive() || fill.Qty.GreaterThan(o.LeavesQty()) {
		return *o, errors.Wrapf(ErrInvalidFill, "order %d fill %s leaves %s", o.ID, fill.Qty, o.LeavesQty())
	}
	filled := o.FilledQty.Add(fill.Qty)
	o.AvgPrice = o.AvgPrice.Mul(o.FilledQty).Add(fill.Price.Mul(fill.Qty)).Div(filled)
	o.FilledQty = filled
	if o.LeavesQty().IsZero() {
		o.Status = schema.OrderStatusFilled
	} else {
		o.Status = schema.OrderStatusPartFilled
	}
	return *o, nil
}

// Cancel moves a live order to cancelled.
func (m *StateMachine) Cancel(id uint64, reason string) (schema.Order, error) {
	o, err := m.live(id)
	if err != nil {
		return schema.Order{}, err
	}
	o.Status = schema.OrderStatusCancelled
	o.Reason = reason
	return *o, nil
}

// Fail moves a live order to failed, used when submission never succeeded.
func (m *StateMachine) Fail(id uint64, reason string) (schema.Order, error) {
	o, err := m.live(id)
	if err != nil {
		return schema.Order{}, err
	}
	o.Status = schema.OrderStatusFailed
	o.Reason = reason
	return *o, nil
}

// Open returns copies of all non-terminal orders ordered by id.
func (m *StateMachine) Open() []schema.Order {
	out := make([]schema.Order, 0)
	for _, o := range m.orders {
		if !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenFor returns the non-terminal orders of one symbol.
func (m *StateMachine) OpenFor(symbol string) []schema.Order {
	var out []schema.Order
	for _, o := range m.Open() {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

func (m *StateMachine) live(id uint64) (*schema.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOrder, "order %d", id)
	}
	if o.Status.Terminal() {
		return o, errors.Wrapf(ErrInvalidTransition, "order %d is %s", id, o.Status)
	}
	return o, nil
}
