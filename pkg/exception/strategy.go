package exception

import "errors"

var (
	ErrInsufficientHistory = errors.New("features: insufficient history")
	ErrStaleFeatures       = errors.New("features: stale feature set")
	ErrMissingFeature      = errors.New("features: missing feature")
	ErrInvalidPhase        = errors.New("strategy: invalid phase transition")
)

var (
	ErrMaxAdds            = errors.New("position: max adds reached")
	ErrDuplicatePosition  = errors.New("position: already open")
	ErrNoPosition         = errors.New("position: not open")
	ErrConcentrationLimit = errors.New("position: concentration limit reached")
	ErrOversizedPosition  = errors.New("position: quantity exceeds sized entry and adds")
	ErrSessionClosed      = errors.New("session: end of day reached")
)
