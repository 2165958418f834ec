package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

func TestGuardEvaluate(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	entry := schema.Order{ID: 1, Symbol: "AAA", Kind: schema.SignalEntry, Qty: d("100"), Price: d("50")}
	add := schema.Order{ID: 2, Symbol: "AAA", Kind: schema.SignalAdd, Qty: d("50"), Price: d("52")}
	exit := schema.Order{ID: 3, Symbol: "AAA", Kind: schema.SignalExit, Qty: d("150"), Price: d("49")}

	cfg := Config{MaxOpenPositions: 3, MaxAdds: 3, MaxOrderNotional: d("10000")}

	testCases := []struct {
		desc     string
		cfg      Config
		order    schema.Order
		view     StateView
		expected Reason
	}{
		{"entry allowed", cfg, entry, StateView{Now: now}, ReasonNone},
		{"entry duplicate", cfg, entry, StateView{Open: true, Now: now}, ReasonDuplicatePosition},
		{"entry concentration", cfg, entry, StateView{OpenPositions: 3, Now: now}, ReasonConcentration},
		{"entry after cutoff", cfg, entry, StateView{EntriesClosed: true, Now: now}, ReasonSessionClosed},
		{"entry kill switch", Config{KillSwitch: true}, entry, StateView{Now: now}, ReasonKillSwitch},
		{"entry notional", Config{MaxOrderNotional: d("1000")}, entry, StateView{Now: now}, ReasonMaxNotional},
		{"entry qty", Config{MaxOrderQty: d("10")}, entry, StateView{Now: now}, ReasonMaxQty},
		{"add allowed", cfg, add, StateView{Open: true, AddsAuthorized: 2, Now: now}, ReasonNone},
		{"add beyond max", cfg, add, StateView{Open: true, AddsAuthorized: 3, Now: now}, ReasonMaxAdds},
		{"add without position", cfg, add, StateView{Now: now}, ReasonNoPosition},
		{"add oversized", cfg, add, StateView{Open: true, SizedQty: d("120"), HeldQty: d("100"), Now: now}, ReasonOversized},
		{"exit ignores kill switch", Config{KillSwitch: true}, exit, StateView{Open: true, Now: now}, ReasonNone},
		{"exit without position", cfg, exit, StateView{Now: now}, ReasonNoPosition},
		{"unknown kind", cfg, schema.Order{ID: 9}, StateView{Now: now}, ReasonInvalidKind},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := NewGuard(tc.cfg).Evaluate(tc.order, tc.view)
			if got.Reason != tc.expected {
				t.Fatalf("reason mismatch: got %s want %s", got.Reason, tc.expected)
			}
			if (tc.expected == ReasonNone) != got.Allowed() {
				t.Fatalf("action mismatch: %+v", got)
			}
		})
	}
}

func TestGuardRateLimitWindow(t *testing.T) {
	g := NewGuard(Config{OrderRateLimit: 2, OrderRateWindow: time.Minute})
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	order := schema.Order{ID: 1, Symbol: "AAA", Kind: schema.SignalEntry, Qty: d("1")}

	assert.True(t, g.Evaluate(order, StateView{Now: now}).Allowed())
	assert.True(t, g.Evaluate(order, StateView{Now: now.Add(time.Second)}).Allowed())
	assert.Equal(t, ReasonRateLimit, g.Evaluate(order, StateView{Now: now.Add(2 * time.Second)}).Reason)
	assert.True(t, g.Evaluate(order, StateView{Now: now.Add(time.Minute)}).Allowed())
}

func TestReasonErr(t *testing.T) {
	require.NoError(t, ReasonNone.Err())
	require.ErrorIs(t, ReasonMaxAdds.Err(), exception.ErrMaxAdds)
	require.ErrorIs(t, ReasonDuplicatePosition.Err(), exception.ErrDuplicatePosition)
	require.ErrorIs(t, ReasonConcentration.Err(), exception.ErrConcentrationLimit)
}
