package exception

import "errors"

var (
	ErrOrderRejected         = errors.New("order: rejected by gateway")
	ErrOrderTransient        = errors.New("order: transient gateway failure")
	ErrOrderRetriesExhausted = errors.New("order: retries exhausted")
	ErrOrderUnknown          = errors.New("order: unknown order id")
	ErrOrderInvalidRequest   = errors.New("order: invalid request")
)
