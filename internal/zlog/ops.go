package zlog

import (
	"context"
	"errors"
)

// transition attempts one view-transition round: it asks step to compute the
// next view from cur, proposes it at cur.Epoch+1, and — regardless of
// whether this call's proposal wins, loses to a concurrent proposer, or is
// skipped — waits for an epoch beyond cur to be installed before returning.
// This is the generic shape behind TryExpandView, ProposeSequencer, and
// AdvanceMinValidPosition: at most one proposal per transition, and the
// caller never observes ErrConflict directly.
func (s *Striper) transition(ctx context.Context, cur View, step func(ctx context.Context) (next View, skip bool, err error)) error {
	next, skip, err := step(ctx)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	data, err := next.Serialize()
	if err != nil {
		return err
	}
	if err := s.backend.ProposeView(ctx, s.hoid, cur.Epoch+1, data); err != nil && !errors.Is(err, ErrConflict) {
		return err
	}
	return s.waitForEpoch(ctx, cur.Epoch)
}

// View returns the current view, first waiting for the Striper's initial
// refresh to complete if it has not already (Epoch 0 is never returned to a
// public caller).
func (s *Striper) View(ctx context.Context) (View, error) {
	if cur := s.CurrentView(); cur.Epoch > 0 {
		return cur, nil
	}
	if err := s.waitForEpoch(ctx, 0); err != nil {
		return View{}, err
	}
	return s.CurrentView(), nil
}

// UpdateCurrentView blocks until a view with Epoch > epoch is installed.
func (s *Striper) UpdateCurrentView(ctx context.Context, epoch uint64) error {
	return s.waitForEpoch(ctx, epoch)
}

// Map resolves position against view's object map, mirroring
// ObjectMap.Map but dropping the is-last-stripe flag: callers that need it
// use MapTo.
func Map(view View, position uint64) (string, bool) {
	oid, _, ok := view.ObjectMap.Map(position)
	return oid, ok
}

// MapTo enumerates every object that may hold entries up to and including
// position under view.
func MapTo(view View, position uint64) ([]ObjectRef, bool) {
	return view.ObjectMap.MapTo(position)
}

// TryExpandView ensures position is mapped by the current view, proposing a
// new view with one or more appended stripes if it is not. It returns nil
// once a view newer than the one it started from is installed, whether or
// not this call's own proposal was the one that won; a competing expansion
// may leave position unmapped, so callers recheck the mapping on return.
func (s *Striper) TryExpandView(ctx context.Context, position uint64) error {
	cur, err := s.View(ctx)
	if err != nil {
		return err
	}
	if _, _, ok := cur.ObjectMap.Map(position); ok {
		return nil
	}

	return s.transition(ctx, cur, func(ctx context.Context) (View, bool, error) {
		om, changed := cur.ObjectMap.ExpandMapping(s.prefix, position, s.cfg.DefaultWidth, s.cfg.DefaultSlots)
		if !changed {
			return View{}, true, nil
		}

		next := View{
			ObjectMap:        om,
			SeqConfig:        cur.SeqConfig,
			MinValidPosition: cur.MinValidPosition,
		}

		if last, ok := lastStripe(cur.ObjectMap); ok {
			if _, _, err := sealStripe(ctx, s.backend, last, cur.Epoch+1); err != nil {
				return View{}, false, err
			}
		}
		return next, false, nil
	})
}

// ProposeSequencer seals the current view's last stripe and installs a new
// view naming this Striper's instance as sequencer, with InitPosition set
// high enough to never collide with an entry any prior sequencer may have
// written: the larger of the prior sequencer's own InitPosition, one past
// the sealed extent of the last stripe, and the view's MinValidPosition.
func (s *Striper) ProposeSequencer(ctx context.Context) error {
	cur, err := s.View(ctx)
	if err != nil {
		return err
	}

	return s.transition(ctx, cur, func(ctx context.Context) (View, bool, error) {
		initPosition := cur.MinValidPosition

		if last, ok := lastStripe(cur.ObjectMap); ok {
			max, empty, err := sealStripe(ctx, s.backend, last, cur.Epoch+1)
			if err != nil {
				return View{}, false, err
			}
			if !empty && max+1 > initPosition {
				initPosition = max + 1
			}
		}
		if cur.SeqConfig != nil && cur.SeqConfig.InitPosition > initPosition {
			initPosition = cur.SeqConfig.InitPosition
		}

		next := View{
			ObjectMap:        cur.ObjectMap,
			MinValidPosition: cur.MinValidPosition,
			SeqConfig: &SequencerConfig{
				Epoch:        cur.Epoch + 1,
				Secret:       s.secret,
				InitPosition: initPosition,
			},
		}
		return next, false, nil
	})
}

// AdvanceMinValidPosition raises the view's MinValidPosition to position,
// the mechanism backing trim: positions below it are no longer guaranteed
// readable. It is a no-op if position does not advance the current value.
func (s *Striper) AdvanceMinValidPosition(ctx context.Context, position uint64) error {
	cur, err := s.View(ctx)
	if err != nil {
		return err
	}
	if position <= cur.MinValidPosition {
		return nil
	}

	return s.transition(ctx, cur, func(ctx context.Context) (View, bool, error) {
		next := View{
			ObjectMap:        cur.ObjectMap,
			SeqConfig:        cur.SeqConfig,
			MinValidPosition: position,
		}
		return next, false, nil
	})
}

func lastStripe(om ObjectMap) (Stripe, bool) {
	stripes := om.Stripes()
	if len(stripes) == 0 {
		return Stripe{}, false
	}
	return stripes[len(stripes)-1], true
}
