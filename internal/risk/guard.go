package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// Action is the guard verdict.
type Action uint8

const (
	ActionAllow Action = iota
	ActionDeny
)

// Reason explains a deny verdict.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonRateLimit
	ReasonMaxQty
	ReasonMaxNotional
	ReasonConcentration
	ReasonDuplicatePosition
	ReasonNoPosition
	ReasonMaxAdds
	ReasonOversized
	ReasonSessionClosed
	ReasonInvalidKind
)

// String implements fmt.Stringer.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonKillSwitch:
		return "kill_switch"
	case ReasonRateLimit:
		return "rate_limit"
	case ReasonMaxQty:
		return "max_qty"
	case ReasonMaxNotional:
		return "max_notional"
	case ReasonConcentration:
		return "concentration_limit"
	case ReasonDuplicatePosition:
		return "duplicate_position"
	case ReasonNoPosition:
		return "no_position"
	case ReasonMaxAdds:
		return "max_adds"
	case ReasonOversized:
		return "oversized"
	case ReasonSessionClosed:
		return "session_closed"
	case ReasonInvalidKind:
		return "invalid_kind"
	default:
		return "unknown"
	}
}

// Err maps a reason to its sentinel error.
func (r Reason) Err() error {
	switch r {
	case ReasonNone:
		return nil
	case ReasonDuplicatePosition:
		return exception.ErrDuplicatePosition
	case ReasonNoPosition:
		return exception.ErrNoPosition
	case ReasonMaxAdds:
		return exception.ErrMaxAdds
	case ReasonConcentration:
		return exception.ErrConcentrationLimit
	case ReasonOversized:
		return exception.ErrOversizedPosition
	case ReasonSessionClosed:
		return exception.ErrSessionClosed
	default:
		return exception.ErrOrderInvalidRequest
	}
}

// Config defines the pre-trade limits.
type Config struct {
	KillSwitch       bool            `yaml:"kill_switch"`
	MaxOrderQty      decimal.Decimal `yaml:"max_order_qty"`
	MaxOrderNotional decimal.Decimal `yaml:"max_order_notional"`
	MaxOpenPositions int             `yaml:"max_open_positions"`
	MaxAdds          int             `yaml:"max_adds"`
	OrderRateLimit   int             `yaml:"order_rate_limit"`
	OrderRateWindow  time.Duration   `yaml:"order_rate_window"`
}

// StateView is the book state relevant to one order.
type StateView struct {
	Open           bool
	AddsAuthorized int
	OpenPositions  int
	// SizedQty caps the position at the sized entry plus every configured add.
	SizedQty      decimal.Decimal
	HeldQty       decimal.Decimal
	EntriesClosed bool
	Now           time.Time
}

// Decision is the guard verdict for one order.
type Decision struct {
	OrderID uint64
	Symbol  string
	Kind    schema.SignalKind
	Action  Action
	Reason  Reason
}

// Allowed reports whether the order may be submitted.
func (d Decision) Allowed() bool {
	return d.Action == ActionAllow
}

// Guard checks orders against the configured limits and book invariants.
// Exits and flattens are never blocked by the guard.
type Guard struct {
	cfg             Config
	rateWindowStart time.Time
	rateCount       int
}

// NewGuard creates a guard with static limits.
func NewGuard(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Evaluate applies the checks to an order about to be submitted.
func (g *Guard) Evaluate(order schema.Order, view StateView) Decision {
	decision := Decision{
		OrderID: order.ID,
		Symbol:  order.Symbol,
		Kind:    order.Kind,
		Action:  ActionAllow,
		Reason:  ReasonNone,
	}
	deny := func(reason Reason) Decision {
		decision.Action = ActionDeny
		decision.Reason = reason
		return decision
	}

	switch order.Kind {
	case schema.SignalExit, schema.SignalRotate, schema.SignalFlatten:
		if !view.Open {
			return deny(ReasonNoPosition)
		}
		return decision
	case schema.SignalEntry:
		if view.EntriesClosed {
			return deny(ReasonSessionClosed)
		}
		if view.Open {
			return deny(ReasonDuplicatePosition)
		}
		if g.cfg.MaxOpenPositions > 0 && view.OpenPositions >= g.cfg.MaxOpenPositions {
			return deny(ReasonConcentration)
		}
	case schema.SignalAdd:
		if view.EntriesClosed {
			return deny(ReasonSessionClosed)
		}
		if !view.Open {
			return deny(ReasonNoPosition)
		}
		if g.cfg.MaxAdds > 0 && view.AddsAuthorized >= g.cfg.MaxAdds {
			return deny(ReasonMaxAdds)
		}
		if view.SizedQty.IsPositive() && view.HeldQty.Add(order.Qty).GreaterThan(view.SizedQty) {
			return deny(ReasonOversized)
		}
	default:
		return deny(ReasonInvalidKind)
	}

	if g.cfg.KillSwitch {
		return deny(ReasonKillSwitch)
	}

	if g.cfg.OrderRateLimit > 0 && g.cfg.OrderRateWindow > 0 {
		if g.rateWindowStart.IsZero() || view.Now.Sub(g.rateWindowStart) >= g.cfg.OrderRateWindow {
			g.rateWindowStart = view.Now
			g.rateCount = 0
		}
		g.rateCount++
		if g.rateCount > g.cfg.OrderRateLimit {
			return deny(ReasonRateLimit)
		}
	}

	if g.cfg.MaxOrderQty.IsPositive() && order.Qty.GreaterThan(g.cfg.MaxOrderQty) {
		return deny(ReasonMaxQty)
	}

	if g.cfg.MaxOrderNotional.IsPositive() && order.Price.IsPositive() {
		if order.Price.Mul(order.Qty).GreaterThan(g.cfg.MaxOrderNotional) {
			return deny(ReasonMaxNotional)
		}
	}

	return decision
}
