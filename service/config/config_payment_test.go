package config

import (
	"testing"
	"time"

	"github.com/brojonat/wishpay/service/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentConfig_Defaults(t *testing.T) {
	var cfg PaymentConfig
	cfg.LoadDefaults()

	if cfg.CreditsPerSOL != 6 {
		t.Errorf("expected 6 credits per SOL, got %d", cfg.CreditsPerSOL)
	}
	if cfg.PrizePoolPercent != 80 {
		t.Errorf("expected 80%% prize pool, got %d", cfg.PrizePoolPercent)
	}
	if cfg.ToleranceLamports != 10_000_000 {
		t.Errorf("expected 0.01 SOL tolerance, got %d", cfg.ToleranceLamports)
	}
	if cfg.IdempotencyWindow != time.Hour {
		t.Errorf("expected 1h idempotency window, got %v", cfg.IdempotencyWindow)
	}
	if cfg.MismatchPolicy != "strict" {
		t.Errorf("expected strict mismatch policy, got %q", cfg.MismatchPolicy)
	}
}

func TestPaymentConfig_LoadFromEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRIZE_POOL_PERCENTAGE", "0")
	t.Setenv("IDEMPOTENCY_WINDOW", "2h")

	var cfg PaymentConfig
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, 0, cfg.PrizePoolPercent, "zero is a legal percentage")
	assert.Equal(t, 2*time.Hour, cfg.IdempotencyWindow)
	assert.Equal(t, testPrizeWallet, cfg.PrizePoolWallet)
	assert.Equal(t, testAdminWallet, cfg.AdminWallet)
}

func TestPaymentConfig_LoadFromEnv_BadInteger(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SPLIT_TOLERANCE_LAMPORTS", "lots")

	var cfg PaymentConfig
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SPLIT_TOLERANCE_LAMPORTS")
}

func TestPaymentConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*PaymentConfig)
		wantErr string
	}{
		{"invalid prize wallet", func(c *PaymentConfig) { c.PrizePoolWallet = "nope" }, "PRIZE_POOL_WALLET"},
		{"invalid admin wallet", func(c *PaymentConfig) { c.AdminWallet = "" }, "ADMIN_WALLET"},
		{"negative percentage", func(c *PaymentConfig) { c.PrizePoolPercent = -1 }, "PRIZE_POOL_PERCENTAGE"},
		{"zero rate", func(c *PaymentConfig) { c.CreditsPerSOL = 0 }, "CREDITS_PER_SOL"},
		{"zero window", func(c *PaymentConfig) { c.IdempotencyWindow = 0 }, "IDEMPOTENCY_WINDOW"},
		{"unknown policy", func(c *PaymentConfig) { c.MismatchPolicy = "loose" }, "MISMATCH_POLICY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig().Payment
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPaymentConfig_SplitConfig(t *testing.T) {
	cfg := validConfig().Payment
	cfg.MismatchPolicy = "lenient"
	cfg.PrizePoolPercent = 75

	split, err := cfg.SplitConfig()
	require.NoError(t, err)

	assert.Equal(t, testPrizeWallet, split.PrizePoolWallet.String())
	assert.Equal(t, testAdminWallet, split.AdminWallet.String())
	assert.Equal(t, uint8(75), split.PrizePoolPercent)
	assert.Equal(t, payment.PolicyLenient, split.Policy)
	assert.Equal(t, uint64(payment.DefaultToleranceLamports), split.ToleranceLamports)

	cfg.AdminWallet = "bad"
	_, err = cfg.SplitConfig()
	assert.Error(t, err)
}
