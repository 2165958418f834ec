package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"intraday/internal/schema"
)

// RotationDue reports whether a position has reached its next checkpoint,
// at opened_at + k*interval for k = checks already done + 1.
func RotationDue(cfg RotationConfig, pos schema.Position, now time.Time) bool {
	if cfg.Interval <= 0 || pos.OpenedAt.IsZero() {
		return false
	}
	next := pos.OpenedAt.Add(time.Duration(pos.RotationChecks+1) * cfg.Interval)
	return !now.Before(next)
}

// Underperforming reports whether the position misses the minimum profit.
func Underperforming(cfg RotationConfig, pos schema.Position, price decimal.Decimal) bool {
	return pos.UnrealizedR(price).LessThan(cfg.MinProfitR)
}
