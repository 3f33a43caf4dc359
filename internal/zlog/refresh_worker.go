package zlog

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// refreshLoop tails the backend's view history and installs newer views as
// they appear, waking waiters. It cycles Idle -> Polling -> Idle, entering
// Polling whenever a waiter is registered, a wake is requested, or the
// refresh interval elapses; it drains to Shutdown when shutdownCh closes.
func (s *Striper) refreshLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdownCh:
			return
		case <-s.wakeRefresh:
		case <-ticker.C:
		}
		s.pollOnce()
	}
}

// pollOnce performs one Polling-state activation: it reads every view newer
// than the current epoch and installs them in ascending order.
func (s *Striper) pollOnce() {
	cur := s.CurrentView()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	views, err := s.backend.ReadViews(ctx, s.hoid, cur.Epoch+1)
	if err != nil {
		s.log.Warn("refresh: read views failed, will retry", zap.Error(err))
		return
	}

	for _, ev := range views {
		nv, err := NewView(s.prefix, ev.Epoch, ev.Data, s.secret)
		if err != nil {
			s.log.Error("refresh: malformed view, skipping", zap.Uint64("epoch", ev.Epoch), zap.Error(err))
			continue
		}
		s.installView(nv)
	}
}

// installView publishes v as the current view if it is newer than what is
// currently installed, and wakes any waiter it satisfies. current_view
// epochs observed by any single thread never decrease.
func (s *Striper) installView(v View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.currentView.Load(); v.Epoch <= cur.Epoch {
		return
	}
	nv := v
	s.currentView.Store(&nv)
	s.notifyWaitersLocked(v.Epoch)
	s.log.Debug("installed view", zap.Uint64("epoch", v.Epoch))
}
