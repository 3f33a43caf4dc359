package zlog

import "context"

// refreshWaiter is enrolled by a caller blocked on a target epoch. The
// refresh worker delivers nil once it installs a view with Epoch > target;
// Shutdown delivers ErrShutdown to every outstanding waiter.
type refreshWaiter struct {
	target uint64
	result chan error // buffered 1
}

func newRefreshWaiter(target uint64) *refreshWaiter {
	return &refreshWaiter{target: target, result: make(chan error, 1)}
}

// deliver is non-blocking: the channel is buffered 1 and a waiter is
// delivered to at most once (the refresh loop and Shutdown both remove a
// waiter from the list before delivering to it).
func (w *refreshWaiter) deliver(err error) {
	select {
	case w.result <- err:
	default:
	}
}

// waitForEpoch blocks until the Striper's current view has Epoch > target,
// or returns ctx.Err() / ErrShutdown. It returns immediately if the current
// view already satisfies the target.
func (s *Striper) waitForEpoch(ctx context.Context, target uint64) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return ErrShutdown
	}
	if cur := s.currentView.Load(); cur.Epoch > target {
		s.mu.Unlock()
		return nil
	}
	w := newRefreshWaiter(target)
	s.refreshWaiters = append(s.refreshWaiters, w)
	s.mu.Unlock()
	s.wake(s.wakeRefresh)

	select {
	case err := <-w.result:
		return err
	case <-ctx.Done():
		s.removeWaiter(w)
		return ctx.Err()
	}
}

func (s *Striper) removeWaiter(target *refreshWaiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.refreshWaiters {
		if w == target {
			s.refreshWaiters = append(s.refreshWaiters[:i], s.refreshWaiters[i+1:]...)
			return
		}
	}
}

// notifyWaitersLocked wakes and removes every waiter whose target < newEpoch. It
// must be called with s.mu held.
func (s *Striper) notifyWaitersLocked(newEpoch uint64) {
	remaining := s.refreshWaiters[:0]
	for _, w := range s.refreshWaiters {
		if w.target < newEpoch {
			w.deliver(nil)
		} else {
			remaining = append(remaining, w)
		}
	}
	s.refreshWaiters = remaining
}
