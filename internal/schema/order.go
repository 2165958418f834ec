package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order or position.
type OrderSide uint8

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

// String implements fmt.Stringer.
func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the closing side.
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return OrderSideUnknown
	}
}

// OrderType defines how an order is priced.
type OrderType uint8

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
)

// OrderStatus tracks the lifecycle of an order.
type OrderStatus uint8

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPending
	OrderStatusSubmitted
	OrderStatusPartFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
	OrderStatusFailed
)

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "pending"
	case OrderStatusSubmitted:
		return "submitted"
	case OrderStatusPartFilled:
		return "partially_filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCancelled:
		return "cancelled"
	case OrderStatusRejected:
		return "rejected"
	case OrderStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Order is owned by the runner until terminal, then recorded as immutable.
type Order struct {
	ID        uint64          `json:"id"`
	SignalID  uint64          `json:"signalId"`
	Kind      SignalKind      `json:"kind"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Type      OrderType       `json:"type"`
	Qty       decimal.Decimal `json:"qty"`
	Price     decimal.Decimal `json:"price"`
	Status    OrderStatus     `json:"status"`
	FilledQty decimal.Decimal `json:"filledQty"`
	AvgPrice  decimal.Decimal `json:"avgPrice"`
	Reason    string          `json:"reason,omitempty"`
	Time      time.Time       `json:"time"`
}

// LeavesQty returns the unfilled quantity.
func (o Order) LeavesQty() decimal.Decimal {
	leaves := o.Qty.Sub(o.FilledQty)
	if leaves.IsNegative() {
		return decimal.Zero
	}
	return leaves
}

// OrderAck is the synchronous gateway response to a submission.
type OrderAck struct {
	OrderID  uint64      `json:"orderId"`
	Status   OrderStatus `json:"status"`
	VenueRef string      `json:"venueRef,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

// Fill is an execution report. ExecID is unique per execution at the venue,
// so a repeated report can be told apart from a second partial fill.
type Fill struct {
	ExecID  string          `json:"execId"`
	OrderID uint64          `json:"orderId"`
	Symbol  string          `json:"symbol"`
	Side    OrderSide       `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Qty     decimal.Decimal `json:"qty"`
	Time    time.Time       `json:"time"`
}
