package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditsForAmount(t *testing.T) {
	rate := NewRateCalculator(DefaultCreditsPerSOL)

	tests := []struct {
		amount string
		want   int64
	}{
		{"0.5", 3},
		{"0.16", 0},
		{"0.17", 1},
		{"1", 6},
		{"1.0", 6},
		{"2.5", 15},
		{"0.000000001", 0},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := rate.CreditsForAmount(decimal.RequireFromString(tt.amount))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreditsForAmount_Invalid(t *testing.T) {
	rate := NewRateCalculator(DefaultCreditsPerSOL)

	for _, amount := range []string{"0", "-1", "-0.5"} {
		_, err := rate.CreditsForAmount(decimal.RequireFromString(amount))
		assert.ErrorIs(t, err, ErrInvalidAmount, amount)
	}
}

func TestCreditsForAmount_UsesInjectedRate(t *testing.T) {
	got, err := NewRateCalculator(10).CreditsForAmount(decimal.RequireFromString("0.55"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)
}

func TestCreditsForLamports(t *testing.T) {
	rate := NewRateCalculator(DefaultCreditsPerSOL)

	got, err := rate.CreditsForLamports(1_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got)

	got, err = rate.CreditsForLamports(500_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	_, err = rate.CreditsForLamports(0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount(" 0.25 ")
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("0.25")))

	for _, s := range []string{"", "abc", "0", "-1", "0.0000000001", "NaN", "Inf"} {
		_, err := ParseAmount(s)
		assert.ErrorIs(t, err, ErrInvalidAmount, s)
	}
}
