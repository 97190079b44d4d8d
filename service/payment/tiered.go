package payment

import (
	"context"
	"errors"
	"fmt"
)

// TieredClaimer chains claimers, typically the in-memory guard in front of a
// shared Redis tier. A claim succeeds only if every tier grants it; tiers
// claimed earlier in a failed attempt are released again.
type TieredClaimer struct {
	tiers []Claimer
}

func NewTieredClaimer(tiers ...Claimer) *TieredClaimer {
	return &TieredClaimer{tiers: tiers}
}

func (t *TieredClaimer) TryClaim(ctx context.Context, signature string) (bool, error) {
	for i, tier := range t.tiers {
		ok, err := tier.TryClaim(ctx, signature)
		if err != nil || !ok {
			if rerr := t.releaseTiers(ctx, signature, t.tiers[:i]); rerr != nil {
				err = errors.Join(err, rerr)
			}
			if err != nil {
				return false, fmt.Errorf("claim tier %d: %w", i, err)
			}
			return false, nil
		}
	}
	return true, nil
}

func (t *TieredClaimer) Release(ctx context.Context, signature string) error {
	return t.releaseTiers(ctx, signature, t.tiers)
}

func (t *TieredClaimer) releaseTiers(ctx context.Context, signature string, tiers []Claimer) error {
	var errs []error
	for _, tier := range tiers {
		if err := tier.Release(ctx, signature); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
