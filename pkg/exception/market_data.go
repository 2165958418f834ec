package exception

import "errors"

var (
	ErrOutOfOrderBar   = errors.New("market data: out of order bar")
	ErrClockRegression = errors.New("market data: session clock moved backwards")
	ErrUnknownSymbol   = errors.New("market data: unknown symbol")
	ErrInvalidBar      = errors.New("market data: invalid bar")
	ErrBarGap          = errors.New("market data: gap between bars")
)
