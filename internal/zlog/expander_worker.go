package zlog

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// AsyncExpandView records position as the pending expansion request,
// overwriting any prior pending request for a lesser or equal position, and
// wakes the expander. The expander performs the same work as TryExpandView
// for whatever position is pending when it next runs.
func (s *Striper) AsyncExpandView(position uint64) {
	s.mu.Lock()
	if s.pendingExpand == nil || position >= *s.pendingExpand {
		p := position
		s.pendingExpand = &p
	}
	s.mu.Unlock()
	s.wake(s.wakeExpander)
}

// expanderLoop processes at most one pending expansion request at a time.
func (s *Striper) expanderLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-s.wakeExpander:
		}

		s.mu.Lock()
		pos := s.pendingExpand
		s.pendingExpand = nil
		s.mu.Unlock()
		if pos == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.TryExpandView(ctx, *pos)
		cancel()

		// If it fails for any reason other than shutdown, the request is
		// dropped: appenders that still need the position mapped will
		// retry synchronously via TryExpandView themselves.
		if err != nil && !errors.Is(err, ErrShutdown) {
			s.log.Warn("expander: expansion attempt failed, dropping request",
				zap.Uint64("position", *pos), zap.Error(err))
		}
	}
}
