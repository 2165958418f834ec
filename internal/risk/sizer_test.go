package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intraday/internal/schema"
	"intraday/pkg/exception"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSize(t *testing.T) {
	whole := schema.DefaultLotSpec()
	lot25 := schema.LotSpec{LotSize: d("25"), TickSize: d("0.05")}

	testCases := []struct {
		desc     string
		capital  string
		risk     string
		entry    string
		stop     string
		lot      schema.LotSpec
		expected string
		err      error
	}{
		{"reference example", "100000", "0.0075", "250.00", "245.00", whole, "150", nil},
		{"round down to lot", "100000", "0.0075", "250.00", "245.00", lot25, "150", nil},
		{"floor fractional shares", "100000", "0.0075", "250.00", "243.00", whole, "107", nil},
		{"floor to lot of 25", "100000", "0.0075", "250.00", "243.00", lot25, "100", nil},
		{"short side distance", "100000", "0.0075", "245.00", "250.00", whole, "150", nil},
		{"equal entry and stop", "100000", "0.0075", "250.00", "250.00", whole, "0", exception.ErrInvalidStopDistance},
		{"too little capital", "100", "0.0075", "250.00", "245.00", whole, "0", exception.ErrZeroQuantity},
		{"zero risk fraction", "100000", "0", "250.00", "245.00", whole, "0", exception.ErrZeroQuantity},
		{"bad lot spec", "100000", "0.0075", "250.00", "245.00", schema.LotSpec{}, "0", exception.ErrInvalidLotSpec},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			qty, err := Size(d(tc.capital), d(tc.risk), d(tc.entry), d(tc.stop), tc.lot)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				assert.True(t, qty.IsZero())
				return
			}
			require.NoError(t, err)
			if !qty.Equal(d(tc.expected)) {
				t.Fatalf("qty mismatch: got %s want %s", qty, tc.expected)
			}
			if !qty.Mod(tc.lot.LotSize).IsZero() {
				t.Fatalf("qty %s is not a multiple of lot %s", qty, tc.lot.LotSize)
			}
		})
	}
}

func TestSizeIsPure(t *testing.T) {
	lot := schema.DefaultLotSpec()
	first, err := Size(d("123456.78"), d("0.01"), d("87.31"), d("85.02"), lot)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := Size(d("123456.78"), d("0.01"), d("87.31"), d("85.02"), lot)
		require.NoError(t, err)
		require.True(t, first.Equal(again))
	}
}

func TestSizerEntryCapsNotional(t *testing.T) {
	s := Sizer{RiskFraction: d("0.05"), CapNotional: true}
	qty, err := s.Entry(d("10000"), d("100"), d("99"), schema.DefaultLotSpec())
	require.NoError(t, err)
	// risk says 500 shares, capital only buys 100
	assert.True(t, qty.Equal(d("100")), "got %s", qty)

	s.CapNotional = false
	qty, err = s.Entry(d("10000"), d("100"), d("99"), schema.DefaultLotSpec())
	require.NoError(t, err)
	assert.True(t, qty.Equal(d("500")), "got %s", qty)
}

func TestSizerAdd(t *testing.T) {
	s := Sizer{RiskFraction: d("0.01")}
	lot := schema.DefaultLotSpec()

	qty, err := s.Add(d("150"), d("0.5"), lot)
	require.NoError(t, err)
	assert.True(t, qty.Equal(d("75")))

	qty, err = s.Add(d("150"), d("0.33"), lot)
	require.NoError(t, err)
	assert.True(t, qty.Equal(d("49")))

	_, err = s.Add(d("2"), d("0.25"), lot)
	require.ErrorIs(t, err, exception.ErrZeroQuantity)
}
