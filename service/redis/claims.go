package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	URL       string
	Password  string
	KeyPrefix string
}

// SignatureClaims holds transaction signature claims in Redis so that every
// server replica shares one view of in-flight and processed signatures.
type SignatureClaims struct {
	rdb    *redis.Client
	window time.Duration
	prefix string
	owner  string
}

// releaseScript deletes a claim only when it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewSignatureClaims connects to Redis and verifies the connection.
// Claims expire after window.
func NewSignatureClaims(cfg Config, window time.Duration) (*SignatureClaims, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newSignatureClaims(rdb, cfg.KeyPrefix, window), nil
}

func newSignatureClaims(rdb *redis.Client, prefix string, window time.Duration) *SignatureClaims {
	if prefix == "" {
		prefix = "wishpay"
	}
	return &SignatureClaims{
		rdb:    rdb,
		window: window,
		prefix: prefix,
		owner:  uuid.NewString(),
	}
}

func (c *SignatureClaims) key(signature string) string {
	return fmt.Sprintf("%s:claim:%s", c.prefix, signature)
}

// TryClaim atomically claims signature. It returns false if the signature
// is already claimed and the claim has not expired.
func (c *SignatureClaims) TryClaim(ctx context.Context, signature string) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.key(signature), c.owner, c.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Release drops a claim taken by this instance. Claims held by other
// instances are left alone.
func (c *SignatureClaims) Release(ctx context.Context, signature string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{c.key(signature)}, c.owner).Err(); err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *SignatureClaims) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *SignatureClaims) Close() error {
	return c.rdb.Close()
}
