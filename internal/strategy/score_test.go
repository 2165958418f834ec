package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/risk"
	"intraday/internal/schema"
	"intraday/pkg/exception"
)

func TestComposite(t *testing.T) {
	fs := schema.FeatureSet{Symbol: "AAA", Values: map[string]float64{"a": 2, "b": -1, "c": 10}}

	v, err := Composite(fs, map[string]float64{"a": 0.5, "b": 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v, 1e-12)

	_, err = Composite(fs, map[string]float64{"a": 1, "z": 1})
	require.ErrorIs(t, err, exception.ErrMissingFeature)
}

func TestRank(t *testing.T) {
	ranked := Rank([]schema.Score{
		{Symbol: "DDD", Value: 0.5},
		{Symbol: "BBB", Value: 0.8},
		{Symbol: "AAA", Value: 0.8},
		{Symbol: "CCC", Value: 0.9},
	})

	var symbols []string
	for i, s := range ranked {
		symbols = append(symbols, s.Symbol)
		assert.Equal(t, i+1, s.Rank)
	}
	assert.Equal(t, []string{"CCC", "AAA", "BBB", "DDD"}, symbols)
	assert.Equal(t, []string{"CCC", "AAA"}, TopN(ranked, 2))
	assert.Len(t, TopN(ranked, 10), 4)
}

func newAllocator(t *testing.T, policy risk.SplitPolicy) *risk.Allocator {
	t.Helper()
	alloc, err := risk.NewAllocator([]decimal.Decimal{d("0.6"), d("0.2"), d("0.2")}, policy)
	require.NoError(t, err)
	return alloc
}

func scores(symbols ...string) []schema.Score {
	out := make([]schema.Score, 0, len(symbols))
	for i, s := range symbols {
		out = append(out, schema.Score{Symbol: s, Value: float64(len(symbols) - i)})
	}
	return Rank(out)
}

func TestBuildShortlist(t *testing.T) {
	testCases := []struct {
		desc    string
		policy  risk.SplitPolicy
		ranked  []schema.Score
		symbols []string
		weights []string
	}{
		{"full", risk.SplitRenormalize, scores("AAA", "BBB", "CCC", "DDD"), []string{"AAA", "BBB", "CCC"}, []string{"0.6", "0.2", "0.2"}},
		{"two renormalized", risk.SplitRenormalize, scores("AAA", "BBB"), []string{"AAA", "BBB"}, []string{"0.75", "0.25", "0"}},
		{"two undeployed", risk.SplitUndeployed, scores("AAA", "BBB"), []string{"AAA", "BBB"}, []string{"0.6", "0.2", "0"}},
		{"empty", risk.SplitRenormalize, nil, []string{}, []string{"0", "0", "0"}},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			s := buildShortlist(tc.ranked, newAllocator(t, tc.policy))
			assert.Equal(t, tc.symbols, s.Symbols())
			require.Len(t, s.Slots, 3)
			for i, w := range tc.weights {
				assert.True(t, d(w).Equal(s.Slots[i].Weight), "slot %d: %s", i, s.Slots[i].Weight)
			}
		})
	}
}

func TestRefillKeepsHeldSlots(t *testing.T) {
	alloc := newAllocator(t, risk.SplitRenormalize)
	current := buildShortlist(scores("AAA", "BBB", "CCC"), alloc)

	next := refill(current, scores("DDD", "CCC", "EEE", "AAA"), map[string]bool{"CCC": true}, alloc)
	assert.Equal(t, []string{"DDD", "EEE", "CCC"}, next.Symbols())
	assert.True(t, d("0.6").Equal(next.Slots[0].Weight))
	assert.True(t, d("0.2").Equal(next.Slots[2].Weight), "held symbol keeps its slot")

	// The input is not mutated.
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, current.Symbols())

	// An empty shortlist is built from scratch.
	fresh := refill(Shortlist{}, scores("BBB", "AAA"), nil, alloc)
	assert.Equal(t, []string{"BBB", "AAA"}, fresh.Symbols())
}

func TestShortlistSlotOf(t *testing.T) {
	s := buildShortlist(scores("AAA", "BBB"), newAllocator(t, risk.SplitRenormalize))
	slot, ok := s.SlotOf("BBB")
	require.True(t, ok)
	assert.Equal(t, 1, slot.Index)
	_, ok = s.SlotOf("ZZZ")
	assert.False(t, ok)
	assert.True(t, s.Ready())
	assert.False(t, Shortlist{}.Ready())
}
