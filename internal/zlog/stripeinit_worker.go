package zlog

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AsyncInitStripe enqueues position on the stripe-init work list and wakes
// the worker. Duplicates are harmless: per-object seal is idempotent.
func (s *Striper) AsyncInitStripe(position uint64) {
	s.mu.Lock()
	s.stripeInitQ = append(s.stripeInitQ, position)
	s.mu.Unlock()
	s.wake(s.wakeInit)
}

// stripeInitLoop consumes positions one at a time. For each, it finds the
// stripe mapping that position in the current view and seals every object
// in it at the current epoch: the signal that the object is live at this
// epoch, without which per-object writes at this epoch are rejected.
func (s *Striper) stripeInitLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-s.wakeInit:
		}

		for {
			pos, ok := s.popStripeInit()
			if !ok {
				break
			}

			cur := s.CurrentView()
			stripe, mapped := cur.ObjectMap.MapStripe(pos)
			if !mapped {
				// The view moved on; nothing to initialize for this position
				// anymore.
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			err := s.initStripeObjects(ctx, stripe, cur.Epoch)
			cancel()

			if err != nil {
				s.log.Warn("stripe-init: seal failed, requeued for retry in 1s",
					zap.Uint64("position", pos), zap.Uint64("stripe_id", stripe.ID()), zap.Error(err))
				s.mu.Lock()
				s.stripeInitQ = append(s.stripeInitQ, pos)
				s.mu.Unlock()
				select {
				case <-s.shutdownCh:
					return
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (s *Striper) popStripeInit() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stripeInitQ) == 0 {
		return 0, false
	}
	pos := s.stripeInitQ[0]
	s.stripeInitQ = s.stripeInitQ[1:]
	return pos, true
}

func (s *Striper) initStripeObjects(ctx context.Context, stripe Stripe, epoch uint64) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, oid := range stripe.OIDs() {
		oid := oid
		g.Go(func() error {
			return s.backend.Seal(gctx, oid, epoch)
		})
	}
	return g.Wait()
}
