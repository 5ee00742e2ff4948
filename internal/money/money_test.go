package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRoundHalfUp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"10.005", "10.01"},
		{"10.004", "10.00"},
		{"31500.00", "31500.00"},
		{"0.125", "0.13"},
	}
	for _, tc := range cases {
		got := Round(decimal.RequireFromString(tc.in))
		require.True(t, got.Equal(decimal.RequireFromString(tc.want)), "Round(%s) = %s, want %s", tc.in, got, tc.want)
	}
}

func TestPercentKeepsFullPrecision(t *testing.T) {
	base := decimal.RequireFromString("35000")
	got := Percent(base, decimal.RequireFromString("10"))
	require.True(t, got.Equal(decimal.RequireFromString("3500")))

	// A third of a cent survives until the caller rounds.
	got = Percent(decimal.RequireFromString("0.01"), decimal.RequireFromString("33.33"))
	require.False(t, got.Equal(Round(got)))
}

func TestMax(t *testing.T) {
	a := decimal.RequireFromString("5")
	b := decimal.RequireFromString("-3")
	require.True(t, Max(a, b).Equal(a))
	require.True(t, Max(b, decimal.Zero).Equal(decimal.Zero))
}
