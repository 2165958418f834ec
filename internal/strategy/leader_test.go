package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"intraday/internal/schema"
)

func TestConsolidateSinglePositionLeads(t *testing.T) {
	res := Consolidate(DefaultConfig().Leader, []LeaderView{{Symbol: "AAA", R: -0.5}})
	assert.Equal(t, "AAA", res.Leader)
	assert.Empty(t, res.Exits)

	assert.Empty(t, Consolidate(DefaultConfig().Leader, nil).Leader)
}

func TestConsolidate(t *testing.T) {
	cfg := DefaultConfig().Leader

	testCases := []struct {
		desc   string
		views  []LeaderView
		leader string
		exits  []LeaderExit
	}{
		{
			desc: "leader in profit closes laggards below the multiple",
			views: []LeaderView{
				{Symbol: "BBB", R: 0.4, VSpike: 1, OBVDelta: 1},
				{Symbol: "AAA", R: 1.2, VSpike: 1, OBVDelta: 1},
			},
			leader: "AAA",
			exits:  []LeaderExit{{Symbol: "BBB", Rule: schema.RuleLeaderProfit}},
		},
		{
			desc: "score margin",
			views: []LeaderView{
				{Symbol: "AAA", R: 0.9, VSpike: 3, OBVDelta: 0.5},
				{Symbol: "BBB", R: 0.1, VSpike: 1, OBVDelta: 0.1},
			},
			leader: "AAA",
			exits:  []LeaderExit{{Symbol: "BBB", Rule: schema.RuleLeaderMargin}},
		},
		{
			desc: "laggard with rising volume is kept",
			views: []LeaderView{
				{Symbol: "AAA", R: 0.6, VSpike: 1, OBVDelta: 0.2, HigherHigh: true, HigherLow: true},
				{Symbol: "BBB", R: 0.5, VSpike: 1, OBVDelta: 0.2},
			},
			leader: "AAA",
			exits:  nil,
		},
		{
			desc: "structure divergence with falling volume",
			views: []LeaderView{
				{Symbol: "AAA", R: 0.6, VSpike: 1, OBVDelta: 0.2, HigherHigh: true, HigherLow: true},
				{Symbol: "BBB", R: 0.6, VSpike: 1, OBVDelta: -0.2},
				{Symbol: "CCC", R: 0.6, VSpike: 1, OBVDelta: 0.2},
			},
			leader: "AAA",
			exits:  []LeaderExit{{Symbol: "BBB", Rule: schema.RuleLeaderStruct}},
		},
		{
			desc: "tie resolves to lowest symbol and keeps everyone",
			views: []LeaderView{
				{Symbol: "CCC", R: 0.3, VSpike: 1, OBVDelta: 1},
				{Symbol: "BBB", R: 0.3, VSpike: 1, OBVDelta: 1},
			},
			leader: "BBB",
			exits:  nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			res := Consolidate(cfg, tc.views)
			assert.Equal(t, tc.leader, res.Leader)
			assert.Equal(t, tc.exits, res.Exits)
			assert.Len(t, res.Scores, len(tc.views))
		})
	}
}
