package risk

import (
	"strings"

	"github.com/shopspring/decimal"

	"intraday/pkg/exception"
)

// SplitPolicy decides what happens to the weight of unfilled shortlist slots.
type SplitPolicy uint8

const (
	// SplitRenormalize scales the filled slots so they still sum to one.
	SplitRenormalize SplitPolicy = iota
	// SplitUndeployed leaves the weight of unfilled slots idle.
	SplitUndeployed
)

// String implements fmt.Stringer.
func (p SplitPolicy) String() string {
	if p == SplitUndeployed {
		return "undeployed"
	}
	return "renormalize"
}

// ParseSplitPolicy converts a config string into a SplitPolicy.
func ParseSplitPolicy(s string) (SplitPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "renormalize":
		return SplitRenormalize, true
	case "undeployed":
		return SplitUndeployed, true
	default:
		return SplitRenormalize, false
	}
}

// Allocator maps shortlist ranks to fractions of deployable capital.
type Allocator struct {
	weights []decimal.Decimal
	policy  SplitPolicy
}

// NewAllocator validates that the split sums to exactly one.
func NewAllocator(weights []decimal.Decimal, policy SplitPolicy) (*Allocator, error) {
	if len(weights) == 0 {
		return nil, exception.ErrInvalidSplit
	}
	sum := decimal.Zero
	for _, w := range weights {
		if !w.IsPositive() {
			return nil, exception.ErrInvalidSplit
		}
		sum = sum.Add(w)
	}
	if !sum.Equal(decimal.NewFromInt(1)) {
		return nil, exception.ErrInvalidSplit
	}
	cp := make([]decimal.Decimal, len(weights))
	copy(cp, weights)
	return &Allocator{weights: cp, policy: policy}, nil
}

// Slots returns the concentration limit.
func (a *Allocator) Slots() int {
	return len(a.weights)
}

// Policy returns the configured split policy.
func (a *Allocator) Policy() SplitPolicy {
	return a.policy
}

// Weights returns the capital fraction of each of the first filled slots.
// Under SplitRenormalize the result sums to exactly one; the last slot
// absorbs any rounding remainder.
func (a *Allocator) Weights(filled int) []decimal.Decimal {
	if filled <= 0 {
		return nil
	}
	if filled > len(a.weights) {
		filled = len(a.weights)
	}
	out := make([]decimal.Decimal, filled)
	copy(out, a.weights[:filled])
	if a.policy == SplitUndeployed || filled == len(a.weights) {
		return out
	}

	total := decimal.Zero
	for _, w := range out {
		total = total.Add(w)
	}
	one := decimal.NewFromInt(1)
	assigned := decimal.Zero
	for i := range out {
		if i == len(out)-1 {
			out[i] = one.Sub(assigned)
			break
		}
		out[i] = out[i].Div(total).Round(8)
		assigned = assigned.Add(out[i])
	}
	return out
}
