package config

import (
	"os"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testPrizeWallet = solana.NewWallet().PublicKey().String()
	testAdminWallet = solana.NewWallet().PublicKey().String()
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	t.Setenv("PRIZE_POOL_WALLET", testPrizeWallet)
	t.Setenv("ADMIN_WALLET", testAdminWallet)
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, []string{"https://api.mainnet-beta.solana.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "memory", cfg.ClaimBackend)
	assert.Equal(t, 30*time.Second, cfg.LedgerTimeout)
	assert.Equal(t, 3, cfg.LedgerMaxAttempts)
	assert.Equal(t, "wishpay-settlement", cfg.TemporalTaskQueue)
	assert.Equal(t, int64(6), cfg.Payment.CreditsPerSOL)
	assert.Equal(t, 80, cfg.Payment.PrizePoolPercent)
	assert.Equal(t, time.Hour, cfg.Payment.IdempotencyWindow)
	assert.Equal(t, "strict", cfg.Payment.MismatchPolicy)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		wantErr string
	}{
		{"database url", "DATABASE_URL", "DATABASE_URL is required"},
		{"rpc url", "SOLANA_RPC_URL", "SOLANA_RPC_URL is required"},
		{"prize pool wallet", "PRIZE_POOL_WALLET", "PRIZE_POOL_WALLET must be a valid Solana address"},
		{"admin wallet", "ADMIN_WALLET", "ADMIN_WALLET must be a valid Solana address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")
			os.Unsetenv(tt.unset)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MultipleRPCEndpoints(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SOLANA_RPC_URL", "https://a.example.com, https://b.example.com,,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.SolanaRPCURLs)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr string
	}{
		{"LEDGER_TIMEOUT", "soon", "invalid duration"},
		{"LEDGER_MAX_ATTEMPTS", "0", "LEDGER_MAX_ATTEMPTS must be at least 1"},
		{"CLAIM_BACKEND", "etcd", "CLAIM_BACKEND must be memory or redis"},
		{"LOG_FORMAT", "xml", "LOG_FORMAT must be json or text"},
		{"SOLANA_NETWORK", "testnet", "SOLANA_NETWORK must be mainnet or devnet"},
		{"PRIZE_POOL_PERCENTAGE", "101", "PRIZE_POOL_PERCENTAGE must be in [0,100]"},
		{"CREDITS_PER_SOL", "0", "CREDITS_PER_SOL must be positive"},
		{"MISMATCH_POLICY", "yolo", "MISMATCH_POLICY"},
		{"IDEMPOTENCY_WINDOW", "-1m", "IDEMPOTENCY_WINDOW must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_RedisBackendRequiresURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CLAIM_BACKEND", "redis")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL is required")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.ClaimBackend)
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("PUBLIC_BASE_URL", "https://wish.example.com/")
	t.Setenv("LEDGER_TIMEOUT", "10s")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "5")
	t.Setenv("CREDITS_PER_SOL", "12")
	t.Setenv("PRIZE_POOL_PERCENTAGE", "70")
	t.Setenv("SPLIT_TOLERANCE_LAMPORTS", "5000")
	t.Setenv("MISMATCH_POLICY", "lenient")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "https://wish.example.com", cfg.PublicBaseURL)
	assert.Equal(t, 10*time.Second, cfg.LedgerTimeout)
	assert.Equal(t, 5, cfg.LedgerMaxAttempts)
	assert.Equal(t, int64(12), cfg.Payment.CreditsPerSOL)
	assert.Equal(t, 70, cfg.Payment.PrizePoolPercent)
	assert.Equal(t, uint64(5000), cfg.Payment.ToleranceLamports)
	assert.Equal(t, "lenient", cfg.Payment.MismatchPolicy)
}

func validConfig() *Config {
	cfg := &Config{
		DatabaseURL:       "postgres://localhost/test",
		SolanaRPCURLs:     []string{"https://api.mainnet-beta.solana.com"},
		ClaimBackend:      "memory",
		LedgerTimeout:     30 * time.Second,
		LedgerMaxAttempts: 3,
		TemporalHost:      "localhost:7233",
		TemporalNamespace: "default",
		TemporalTaskQueue: "wishpay-settlement",
	}
	cfg.Payment.LoadDefaults()
	cfg.Payment.PrizePoolWallet = testPrizeWallet
	cfg.Payment.AdminWallet = testAdminWallet
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatabaseURL is required")
}

func TestValidate_TooShortLedgerTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.LedgerTimeout = 100 * time.Millisecond

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 1 second")
}

func TestValidate_SameWallets(t *testing.T) {
	cfg := validConfig()
	cfg.Payment.AdminWallet = cfg.Payment.PrizePoolWallet

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be different")
}

func TestMustLoad_Panics(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	setRequiredEnv(t)

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}
