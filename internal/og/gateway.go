package og

import (
	"context"

	"github.com/yanun0323/errors"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// OrderGateway is the port to an execution venue. Simulated and real
// backends implement the same contract; an unsupported operation returns
// exception.ErrUnsupported instead of falling through.
type OrderGateway interface {
	// Submit sends an order and returns the venue's synchronous answer. A
	// permanent refusal is reported as an ack with OrderStatusRejected.
	Submit(ctx context.Context, order schema.Order) (schema.OrderAck, error)
	Cancel(ctx context.Context, orderID uint64) error
	// PollFills returns the executions reported since the last poll.
	PollFills(ctx context.Context) ([]schema.Fill, error)
}

// Marker is implemented by simulated gateways that fill at the last price
// the runner has seen.
type Marker interface {
	Mark(bar schema.Bar)
}

// IsTransient reports whether a gateway error may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, exception.ErrOrderTransient) ||
		errors.Is(err, context.DeadlineExceeded)
}
