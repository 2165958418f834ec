package exception

import "errors"

var (
	ErrInvalidStopDistance = errors.New("risk: entry price equals stop price")
	ErrZeroQuantity        = errors.New("risk: sized quantity rounds to zero")
	ErrInvalidLotSpec      = errors.New("risk: invalid lot spec")
	ErrInvalidSplit        = errors.New("risk: capital split must sum to one")
)
