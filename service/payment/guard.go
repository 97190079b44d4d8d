package payment

import (
	"context"
	"sync"
	"time"
)

// DefaultIdempotencyWindow is how long a signature claim is held.
const DefaultIdempotencyWindow = time.Hour

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

// Claimer grants at most one concurrent claim per transaction signature.
type Claimer interface {
	TryClaim(ctx context.Context, signature string) (bool, error)
	Release(ctx context.Context, signature string) error
}

// SignatureGuard is an in-process Claimer. Claims expire after the window
// and are swept lazily on claim, at most once per sweep interval.
type SignatureGuard struct {
	mu         sync.Mutex
	claims     map[string]time.Time // signature -> claimed at
	window     time.Duration
	now        Clock
	sweepEvery time.Duration
	lastSweep  time.Time
}

// NewSignatureGuard creates a guard. A nil clock uses time.Now.
func NewSignatureGuard(window time.Duration, now Clock) *SignatureGuard {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = DefaultIdempotencyWindow
	}
	sweepEvery := window / 4
	if sweepEvery < time.Second {
		sweepEvery = time.Second
	}
	return &SignatureGuard{
		claims:     make(map[string]time.Time),
		window:     window,
		now:        now,
		sweepEvery: sweepEvery,
		lastSweep:  now(),
	}
}

// TryClaim returns true exactly once per signature per window.
func (g *SignatureGuard) TryClaim(_ context.Context, signature string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) >= g.sweepEvery {
		g.sweepLocked(now)
	}

	if claimedAt, ok := g.claims[signature]; ok && now.Before(claimedAt.Add(g.window)) {
		return false, nil
	}
	g.claims[signature] = now
	return true, nil
}

// Release removes a claim so the signature can be retried.
func (g *SignatureGuard) Release(_ context.Context, signature string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, signature)
	return nil
}

// Contains reports whether signature holds an unexpired claim.
func (g *SignatureGuard) Contains(signature string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	claimedAt, ok := g.claims[signature]
	return ok && g.now().Before(claimedAt.Add(g.window))
}

// Len returns the number of stored claims, including expired ones not yet swept.
func (g *SignatureGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.claims)
}

// Sweep drops expired claims and returns how many were removed.
func (g *SignatureGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked(g.now())
}

func (g *SignatureGuard) sweepLocked(now time.Time) int {
	removed := 0
	for sig, claimedAt := range g.claims {
		if !now.Before(claimedAt.Add(g.window)) {
			delete(g.claims, sig)
			removed++
		}
	}
	g.lastSweep = now
	return removed
}
