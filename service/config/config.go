package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/wishpay/service/payment"
	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr    string
	PublicBaseURL string
	LogLevel      string
	LogFormat     string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Claim backend configuration
	ClaimBackend string // "memory" or "redis"
	RedisURL     string

	// Solana configuration
	SolanaRPCURLs     []string
	SolanaNetwork     string
	LedgerTimeout     time.Duration
	LedgerMaxAttempts int

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	Payment PaymentConfig
}

// Load reads configuration from environment variables and validates all required fields.
// A .env file in the working directory is loaded first if present; real
// environment variables take precedence over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.PublicBaseURL = strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat))
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.ClaimBackend = getEnvOrDefault("CLAIM_BACKEND", "memory")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	switch cfg.ClaimBackend {
	case "memory":
	case "redis":
		if cfg.RedisURL == "" {
			errs = append(errs, fmt.Errorf("REDIS_URL is required when CLAIM_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("CLAIM_BACKEND must be memory or redis, got %q", cfg.ClaimBackend))
	}

	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URL"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.SolanaNetwork = getEnvOrDefault("SOLANA_NETWORK", "mainnet")
	if cfg.SolanaNetwork != "mainnet" && cfg.SolanaNetwork != "devnet" {
		errs = append(errs, fmt.Errorf("SOLANA_NETWORK must be mainnet or devnet, got %q", cfg.SolanaNetwork))
	}

	timeout, err := parseDuration("LEDGER_TIMEOUT", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.LedgerTimeout = timeout
	}

	attempts, err := parseInt("LEDGER_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, err)
	} else if attempts < 1 {
		errs = append(errs, fmt.Errorf("LEDGER_MAX_ATTEMPTS must be at least 1, got %d", attempts))
	} else {
		cfg.LedgerMaxAttempts = attempts
	}

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "wishpay-settlement")

	if err := cfg.Payment.LoadFromEnv(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}
	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}
	if c.ClaimBackend == "redis" && c.RedisURL == "" {
		errs = append(errs, fmt.Errorf("RedisURL is required for the redis claim backend"))
	}
	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}
	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}
	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}
	if c.LedgerTimeout < time.Second {
		errs = append(errs, fmt.Errorf("LedgerTimeout must be at least 1 second"))
	}
	if c.LedgerMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("LedgerMaxAttempts must be at least 1"))
	}
	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// PaymentConfig holds the split payment settings.
type PaymentConfig struct {
	CreditsPerSOL     int64
	PrizePoolPercent  int
	PrizePoolWallet   string
	AdminWallet       string
	ToleranceLamports uint64
	IdempotencyWindow time.Duration
	MismatchPolicy    string
}

// LoadDefaults fills every field with its default value.
func (p *PaymentConfig) LoadDefaults() {
	p.CreditsPerSOL = payment.DefaultCreditsPerSOL
	p.PrizePoolPercent = payment.DefaultPrizePoolPercent
	p.ToleranceLamports = payment.DefaultToleranceLamports
	p.IdempotencyWindow = payment.DefaultIdempotencyWindow
	p.MismatchPolicy = string(payment.PolicyStrict)
}

// LoadFromEnv applies defaults, overrides them from the environment and validates the result.
func (p *PaymentConfig) LoadFromEnv() error {
	p.LoadDefaults()
	var errs []error

	if v := os.Getenv("CREDITS_PER_SOL"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CREDITS_PER_SOL: invalid integer %q: %w", v, err))
		} else {
			p.CreditsPerSOL = n
		}
	}

	pct, err := parseInt("PRIZE_POOL_PERCENTAGE", payment.DefaultPrizePoolPercent)
	if err != nil {
		errs = append(errs, err)
	} else {
		p.PrizePoolPercent = pct
	}

	p.PrizePoolWallet = os.Getenv("PRIZE_POOL_WALLET")
	p.AdminWallet = os.Getenv("ADMIN_WALLET")

	if v := os.Getenv("SPLIT_TOLERANCE_LAMPORTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SPLIT_TOLERANCE_LAMPORTS: invalid integer %q: %w", v, err))
		} else {
			p.ToleranceLamports = n
		}
	}

	window, err := parseDuration("IDEMPOTENCY_WINDOW", payment.DefaultIdempotencyWindow.String())
	if err != nil {
		errs = append(errs, err)
	} else {
		p.IdempotencyWindow = window
	}

	p.MismatchPolicy = getEnvOrDefault("MISMATCH_POLICY", string(payment.PolicyStrict))

	if len(errs) > 0 {
		return fmt.Errorf("payment configuration invalid: %v", errs)
	}
	return p.Validate()
}

// Validate checks the payment settings.
func (p *PaymentConfig) Validate() error {
	var errs []error

	if p.CreditsPerSOL <= 0 {
		errs = append(errs, fmt.Errorf("CREDITS_PER_SOL must be positive, got %d", p.CreditsPerSOL))
	}
	if p.PrizePoolPercent < 0 || p.PrizePoolPercent > 100 {
		errs = append(errs, fmt.Errorf("PRIZE_POOL_PERCENTAGE must be in [0,100], got %d", p.PrizePoolPercent))
	}

	prize, err := solana.PublicKeyFromBase58(p.PrizePoolWallet)
	if err != nil {
		errs = append(errs, fmt.Errorf("PRIZE_POOL_WALLET must be a valid Solana address: %w", err))
	}
	admin, err := solana.PublicKeyFromBase58(p.AdminWallet)
	if err != nil {
		errs = append(errs, fmt.Errorf("ADMIN_WALLET must be a valid Solana address: %w", err))
	}
	if p.PrizePoolWallet != "" && prize.Equals(admin) {
		errs = append(errs, fmt.Errorf("PRIZE_POOL_WALLET and ADMIN_WALLET must be different"))
	}

	if p.IdempotencyWindow <= 0 {
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_WINDOW must be positive, got %v", p.IdempotencyWindow))
	}
	if _, err := payment.ParseMismatchPolicy(p.MismatchPolicy); err != nil {
		errs = append(errs, fmt.Errorf("MISMATCH_POLICY: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("payment configuration invalid: %v", errs)
	}
	return nil
}

// SplitConfig converts validated settings into the payment package's form.
func (p *PaymentConfig) SplitConfig() (payment.SplitConfig, error) {
	if err := p.Validate(); err != nil {
		return payment.SplitConfig{}, err
	}
	policy, _ := payment.ParseMismatchPolicy(p.MismatchPolicy)
	return payment.SplitConfig{
		PrizePoolWallet:   solana.MustPublicKeyFromBase58(p.PrizePoolWallet),
		AdminWallet:       solana.MustPublicKeyFromBase58(p.AdminWallet),
		PrizePoolPercent:  uint8(p.PrizePoolPercent),
		ToleranceLamports: p.ToleranceLamports,
		Policy:            policy,
	}, nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
