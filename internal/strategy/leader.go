package strategy

import (
	"sort"

	"intraday/internal/features"
	"intraday/internal/schema"
)

// LeaderView is the per-position input to leader consolidation.
type LeaderView struct {
	Symbol     string
	R          float64
	VSpike     float64
	OBVDelta   float64
	HigherHigh bool
	HigherLow  bool
}

// LeaderExit marks a laggard to close.
type LeaderExit struct {
	Symbol string
	Rule   string
}

// LeaderResult is the outcome of one consolidation pass.
type LeaderResult struct {
	Leader string
	Scores map[string]float64
	Exits  []LeaderExit
}

// Consolidate scores the open positions against each other with z-scores
// taken across the open set only, picks the leader, and returns the laggards
// that should be closed. With fewer than two positions the single position
// leads and nothing is closed.
func Consolidate(cfg LeaderConfig, views []LeaderView) LeaderResult {
	if len(views) == 0 {
		return LeaderResult{}
	}
	sorted := make([]LeaderView, len(views))
	copy(sorted, views)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })
	if len(sorted) < 2 {
		return LeaderResult{Leader: sorted[0].Symbol, Scores: map[string]float64{sorted[0].Symbol: 0}}
	}

	rs := make([]float64, len(sorted))
	spikes := make([]float64, len(sorted))
	obvs := make([]float64, len(sorted))
	for i, v := range sorted {
		rs[i] = v.R
		spikes[i] = v.VSpike
		obvs[i] = v.OBVDelta
	}
	zr := features.ZScores(rs)
	zs := features.ZScores(spikes)
	zo := features.ZScores(obvs)

	scores := make(map[string]float64, len(sorted))
	leaderIdx := 0
	best := 0.0
	for i, v := range sorted {
		score := cfg.ReturnWeight*zr[i] + cfg.VolumeWeight*zs[i] + cfg.OBVWeight*zo[i]
		scores[v.Symbol] = score
		if i == 0 || score > best {
			best = score
			leaderIdx = i
		}
	}
	leader := sorted[leaderIdx]

	result := LeaderResult{Leader: leader.Symbol, Scores: scores}
	leaderProfit := leader.R >= cfg.ProfitMultiple
	leaderStructure := leader.HigherHigh && leader.HigherLow && leader.OBVDelta > 0
	for i, v := range sorted {
		if i == leaderIdx {
			continue
		}
		switch {
		case leaderProfit && v.R < cfg.ProfitMultiple:
			result.Exits = append(result.Exits, LeaderExit{Symbol: v.Symbol, Rule: schema.RuleLeaderProfit})
		case cfg.SigmaMargin > 0 && best-scores[v.Symbol] >= cfg.SigmaMargin:
			result.Exits = append(result.Exits, LeaderExit{Symbol: v.Symbol, Rule: schema.RuleLeaderMargin})
		case leaderStructure && !v.HigherHigh && !v.HigherLow && v.OBVDelta <= 0:
			result.Exits = append(result.Exits, LeaderExit{Symbol: v.Symbol, Rule: schema.RuleLeaderStruct})
		}
	}
	return result
}
