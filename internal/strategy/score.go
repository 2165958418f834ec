package strategy

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

// Composite returns the weighted sum of the named features. Weights are
// summed in name order so the result is bit-identical across runs.
func Composite(fs schema.FeatureSet, weights map[string]float64) (float64, error) {
	total := 0.0
	for _, name := range sortedKeys(weights) {
		v, ok := fs.Get(name)
		if !ok {
			return 0, errors.Wrapf(exception.ErrMissingFeature, "symbol %s feature %s", fs.Symbol, name)
		}
		total += weights[name] * v
	}
	return total, nil
}

// Rank orders scores by value descending, ties broken by symbol ascending,
// and stamps each score with its 1-based rank.
func Rank(scores []schema.Score) []schema.Score {
	out := make([]schema.Score, len(scores))
	copy(out, scores)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Symbol < out[j].Symbol
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// TopN returns the symbols of the first n ranked scores.
func TopN(ranked []schema.Score, n int) []string {
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, 0, n)
	for _, s := range ranked[:n] {
		out = append(out, s.Symbol)
	}
	return out
}

// Slot is one concentration slot of the shortlist. Its weight is the share
// of deployable capital an entry in the slot is sized against.
type Slot struct {
	Index  int             `json:"index"`
	Symbol string          `json:"symbol"`
	Weight decimal.Decimal `json:"weight"`
}

// Shortlist is the ranked set of symbols eligible for entry.
type Shortlist struct {
	Slots []Slot `json:"slots"`
}

// Clone returns a deep copy.
func (s Shortlist) Clone() Shortlist {
	if s.Slots == nil {
		return Shortlist{}
	}
	out := make([]Slot, len(s.Slots))
	copy(out, s.Slots)
	return Shortlist{Slots: out}
}

// Ready reports whether the shortlist has been computed.
func (s Shortlist) Ready() bool {
	return len(s.Slots) > 0
}

// SlotOf returns the slot holding a symbol.
func (s Shortlist) SlotOf(symbol string) (Slot, bool) {
	for _, slot := range s.Slots {
		if slot.Symbol == symbol {
			return slot, true
		}
	}
	return Slot{}, false
}

// Symbols returns the assigned symbols in slot order.
func (s Shortlist) Symbols() []string {
	out := make([]string, 0, len(s.Slots))
	for _, slot := range s.Slots {
		if slot.Symbol != "" {
			out = append(out, slot.Symbol)
		}
	}
	return out
}

func (s Shortlist) filled() int {
	n := 0
	for _, slot := range s.Slots {
		if slot.Symbol != "" {
			n++
		}
	}
	return n
}

// weigher maps the filled slot count to per-slot weights.
type weigher interface {
	Slots() int
	Weights(filled int) []decimal.Decimal
}

// buildShortlist assigns the top ranked symbols to slots in rank order.
func buildShortlist(ranked []schema.Score, alloc weigher) Shortlist {
	symbols := TopN(ranked, alloc.Slots())
	slots := make([]Slot, alloc.Slots())
	for i := range slots {
		slots[i].Index = i
		if i < len(symbols) {
			slots[i].Symbol = symbols[i]
		}
	}
	s := Shortlist{Slots: slots}
	s.reweigh(alloc)
	return s
}

// refill keeps the slots of held symbols and fills the others with the best
// ranked symbols that are not held, in slot order.
func refill(current Shortlist, ranked []schema.Score, held map[string]bool, alloc weigher) Shortlist {
	if !current.Ready() {
		return buildShortlist(ranked, alloc)
	}
	next := current.Clone()
	taken := make(map[string]bool, len(next.Slots))
	for i := range next.Slots {
		if held[next.Slots[i].Symbol] {
			taken[next.Slots[i].Symbol] = true
			continue
		}
		next.Slots[i].Symbol = ""
	}
	candidates := make([]string, 0, len(ranked))
	for _, s := range ranked {
		if !taken[s.Symbol] {
			candidates = append(candidates, s.Symbol)
		}
	}
	for i := range next.Slots {
		if next.Slots[i].Symbol != "" || len(candidates) == 0 {
			continue
		}
		next.Slots[i].Symbol = candidates[0]
		candidates = candidates[1:]
	}
	next.compact()
	next.reweigh(alloc)
	return next
}

// compact moves assigned slots ahead of empty ones so weights follow rank.
// Held slots never move relative to each other.
func (s *Shortlist) compact() {
	assigned := make([]Slot, 0, len(s.Slots))
	for _, slot := range s.Slots {
		if slot.Symbol != "" {
			assigned = append(assigned, slot)
		}
	}
	for i := range s.Slots {
		if i < len(assigned) {
			s.Slots[i] = assigned[i]
		} else {
			s.Slots[i] = Slot{}
		}
		s.Slots[i].Index = i
	}
}

func (s *Shortlist) reweigh(alloc weigher) {
	weights := alloc.Weights(s.filled())
	for i := range s.Slots {
		if i < len(weights) && s.Slots[i].Symbol != "" {
			s.Slots[i].Weight = weights[i]
		} else {
			s.Slots[i].Weight = decimal.Zero
		}
	}
}
