package payment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureGuard_ClaimOnce(t *testing.T) {
	g := NewSignatureGuard(time.Hour, newFakeClock().Now)
	ctx := context.Background()

	ok, err := g.TryClaim(ctx, "sig")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.TryClaim(ctx, "sig")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.TryClaim(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, g.Len())
}

func TestSignatureGuard_Concurrent(t *testing.T) {
	g := NewSignatureGuard(time.Hour, nil)

	const workers = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := g.TryClaim(context.Background(), "contested")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestSignatureGuard_Expiry(t *testing.T) {
	clock := newFakeClock()
	g := NewSignatureGuard(time.Hour, clock.Now)
	ctx := context.Background()

	ok, _ := g.TryClaim(ctx, "sig")
	require.True(t, ok)

	clock.Advance(59 * time.Minute)
	assert.True(t, g.Contains("sig"))
	ok, _ = g.TryClaim(ctx, "sig")
	assert.False(t, ok)

	// Expiry is inclusive: at exactly claimedAt + window the claim is gone.
	clock.Advance(time.Minute)
	assert.False(t, g.Contains("sig"))
	ok, _ = g.TryClaim(ctx, "sig")
	assert.True(t, ok)
}

func TestSignatureGuard_Release(t *testing.T) {
	g := NewSignatureGuard(time.Hour, newFakeClock().Now)
	ctx := context.Background()

	ok, _ := g.TryClaim(ctx, "sig")
	require.True(t, ok)
	require.NoError(t, g.Release(ctx, "sig"))
	assert.False(t, g.Contains("sig"))

	ok, _ = g.TryClaim(ctx, "sig")
	assert.True(t, ok)
}

func TestSignatureGuard_Sweep(t *testing.T) {
	clock := newFakeClock()
	g := NewSignatureGuard(time.Hour, clock.Now)
	ctx := context.Background()

	g.TryClaim(ctx, "old-1")
	g.TryClaim(ctx, "old-2")
	clock.Advance(30 * time.Minute)
	g.TryClaim(ctx, "fresh")
	clock.Advance(45 * time.Minute)

	assert.Equal(t, 2, g.Sweep())
	assert.Equal(t, 1, g.Len())
	assert.True(t, g.Contains("fresh"))
}

func TestSignatureGuard_LazySweepOnClaim(t *testing.T) {
	clock := newFakeClock()
	g := NewSignatureGuard(time.Hour, clock.Now)
	ctx := context.Background()

	for _, sig := range []string{"a", "b", "c"} {
		g.TryClaim(ctx, sig)
	}
	clock.Advance(2 * time.Hour)

	g.TryClaim(ctx, "d")
	assert.Equal(t, 1, g.Len(), "expired claims removed by the claim that follows the sweep interval")
}

// stubClaimer is a scripted Claimer for tiered tests.
type stubClaimer struct {
	grant    bool
	err      error
	claimed  []string
	released []string
}

func (s *stubClaimer) TryClaim(_ context.Context, sig string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.grant {
		s.claimed = append(s.claimed, sig)
	}
	return s.grant, nil
}

func (s *stubClaimer) Release(_ context.Context, sig string) error {
	s.released = append(s.released, sig)
	return nil
}

func TestTieredClaimer(t *testing.T) {
	ctx := context.Background()

	t.Run("all tiers grant", func(t *testing.T) {
		a, b := &stubClaimer{grant: true}, &stubClaimer{grant: true}
		ok, err := NewTieredClaimer(a, b).TryClaim(ctx, "sig")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, a.released)
	})

	t.Run("second tier refuses", func(t *testing.T) {
		a, b := &stubClaimer{grant: true}, &stubClaimer{grant: false}
		ok, err := NewTieredClaimer(a, b).TryClaim(ctx, "sig")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []string{"sig"}, a.released, "earlier tier rolled back")
		assert.Empty(t, b.released)
	})

	t.Run("second tier errors", func(t *testing.T) {
		a, b := &stubClaimer{grant: true}, &stubClaimer{err: errors.New("redis down")}
		ok, err := NewTieredClaimer(a, b).TryClaim(ctx, "sig")
		assert.Error(t, err)
		assert.False(t, ok)
		assert.Equal(t, []string{"sig"}, a.released)
	})

	t.Run("release reaches every tier", func(t *testing.T) {
		a, b := &stubClaimer{grant: true}, &stubClaimer{grant: true}
		require.NoError(t, NewTieredClaimer(a, b).Release(ctx, "sig"))
		assert.Equal(t, []string{"sig"}, a.released)
		assert.Equal(t, []string{"sig"}, b.released)
	})

	t.Run("memory guard in front", func(t *testing.T) {
		guard := NewSignatureGuard(time.Hour, newFakeClock().Now)
		remote := &stubClaimer{grant: true}
		tiered := NewTieredClaimer(guard, remote)

		ok, err := tiered.TryClaim(ctx, "sig")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tiered.TryClaim(ctx, "sig")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Len(t, remote.claimed, 1, "duplicate stopped at the memory tier")
	})
}
