package exception

import "errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnsupported     = errors.New("operation unsupported")
	ErrInternal        = errors.New("internal error")
	ErrConnectionClose = errors.New("connection closed")
)
