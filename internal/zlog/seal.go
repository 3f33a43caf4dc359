package zlog

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// sealStripe seals every object of stripe at epoch and aggregates their
// written extent. It returns the numerical maximum across all objects'
// max-written positions, and whether every object reported empty. Seal is
// idempotent and monotone in epoch, so concurrent callers sealing the same
// stripe at the same epoch are safe.
//
// The per-object seal and max-position calls fan out concurrently via
// errgroup, since the objects within a stripe are independent backend
// objects and the backend is safe for concurrent use.
func sealStripe(ctx context.Context, backend Backend, stripe Stripe, epoch uint64) (effectiveMax uint64, empty bool, err error) {
	oids := stripe.OIDs()

	g, gctx := errgroup.WithContext(ctx)
	for _, oid := range oids {
		oid := oid
		g.Go(func() error {
			return backend.Seal(gctx, oid, epoch)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, false, err
	}

	type result struct {
		pos   uint64
		empty bool
	}
	results := make([]result, len(oids))
	g, gctx = errgroup.WithContext(ctx)
	for i, oid := range oids {
		i, oid := i, oid
		g.Go(func() error {
			pos, empty, err := backend.MaxPosition(gctx, oid, epoch)
			if err != nil {
				return err
			}
			results[i] = result{pos: pos, empty: empty}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, false, err
	}

	allEmpty := true
	var max uint64
	for _, r := range results {
		if r.empty {
			continue
		}
		allEmpty = false
		if r.pos > max {
			max = r.pos
		}
	}
	return max, allEmpty, nil
}
