package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicksFromString(t *testing.T) {
	cases := map[string]int64{
		"0.48":     480_000,
		"0.485":    485_000,
		"1":        1_000_000,
		"0.000001": 1,
		"0":        0,
	}
	for in, want := range cases {
		got, err := TicksFromString(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestTicksFromString_TooManyPlaces(t *testing.T) {
	_, err := TicksFromString("0.1234567")
	assert.Error(t, err)
}

func TestTicksFromString_Invalid(t *testing.T) {
	_, err := TicksFromString("not-a-price")
	assert.Error(t, err)
}

func TestNotional(t *testing.T) {
	// 80 shares at $0.97 = $77.60
	got := Notional(970_000, 80*UnitsPerShare)
	assert.Equal(t, int64(77_600_000), got)
}

func TestSizeForSpend(t *testing.T) {
	// $48.50 at $0.97 buys 50 shares exactly.
	size := SizeForSpend(48_500_000, 970_000)
	assert.Equal(t, 50*UnitsPerShare, size)

	// Spend is never exceeded.
	size = SizeForSpend(1_000_000, 970_000)
	assert.LessOrEqual(t, Notional(970_000, size), int64(1_000_000))

	assert.Zero(t, SizeForSpend(1_000_000, 0))
}

func TestFeeOn(t *testing.T) {
	// 20 bps on $100.
	assert.Equal(t, int64(200_000), FeeOn(100_000_000, 20))
	assert.Zero(t, FeeOn(100_000_000, 0))
}

func TestDollarsRoundTrip(t *testing.T) {
	ticks, err := TicksFromString("0.97")
	require.NoError(t, err)
	assert.Equal(t, "0.97", Dollars(ticks))
	assert.True(t, DecimalFromTicks(ticks).Equal(decimal.RequireFromString("0.97")))
}
