// Package logservice drives the zlog core to implement the user-facing
// append/read/fill/trim surface: it issues positions from the current
// view's sequencer, performs the single conditional backend write or read,
// and retries exactly once through the core's reconfiguration entry points
// on the two backend signals that call for it (unmapped position,
// stale epoch).
package logservice

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/edirooss/zlog/internal/zlog"
)

// Service opens and creates logs against one Backend.
type Service struct {
	log     *zap.Logger
	backend zlog.Backend
	cfg     zlog.Config
}

// New constructs a Service. cfg seeds the Config used by every Striper this
// Service creates.
func New(logger *zap.Logger, backend zlog.Backend, cfg zlog.Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{log: logger.Named("logservice"), backend: backend, cfg: cfg}
}

// CreateLog creates a new named log and returns a handle to it.
func (s *Service) CreateLog(ctx context.Context, name string) (*Log, error) {
	hoid, prefix, err := s.backend.CreateLog(ctx, name, zlog.CreateInitialView())
	if err != nil {
		return nil, fmt.Errorf("logservice: create log %q: %w", name, err)
	}
	return s.open(name, hoid, prefix), nil
}

// OpenLog resolves an existing named log and returns a handle to it.
func (s *Service) OpenLog(ctx context.Context, name string) (*Log, error) {
	hoid, prefix, err := s.backend.OpenLog(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("logservice: open log %q: %w", name, err)
	}
	return s.open(name, hoid, prefix), nil
}

func (s *Service) open(name, hoid, prefix string) *Log {
	secret := fmt.Sprintf("%s-%p", name, s) // unique per process instance, stable for this Service's lifetime
	striper := zlog.NewStriper(s.log, s.backend, hoid, prefix, secret, zlog.Config{
		DefaultWidth:    s.cfg.DefaultWidth,
		DefaultSlots:    s.cfg.DefaultSlots,
		RefreshInterval: s.cfg.RefreshInterval,
	})
	return &Log{log: s.log.Named(name), backend: s.backend, striper: striper, name: name}
}

// Log is a handle to one opened or created log, driving its Striper to
// service append/read/fill/trim requests.
type Log struct {
	log     *zap.Logger
	backend zlog.Backend
	striper *zlog.Striper
	name    string
}

// Close shuts down the log's Striper, joining its background workers.
func (l *Log) Close() {
	l.striper.Shutdown()
}

// Append issues the next sequenced position and writes data to it,
// retrying once through view expansion if the position is unmapped and
// once through a view refresh if the backend reports a stale epoch.
func (l *Log) Append(ctx context.Context, data []byte) (uint64, error) {
	expanded, refreshed := false, false
	for {
		view, err := l.striper.View(ctx)
		if err != nil {
			return 0, fmt.Errorf("logservice: append %q: %w", l.name, err)
		}
		if view.Seq == nil {
			return 0, fmt.Errorf("logservice: append %q: this instance is not the active sequencer", l.name)
		}
		position := view.Seq.CheckTail(true)

		oid, ok := zlog.Map(view, position)
		if !ok {
			if expanded {
				return 0, fmt.Errorf("logservice: append %q: position %d still unmapped after expansion", l.name, position)
			}
			expanded = true
			if err := l.striper.TryExpandView(ctx, position); err != nil {
				return 0, fmt.Errorf("logservice: append %q: expand view: %w", l.name, err)
			}
			continue
		}

		if err := l.backend.Write(ctx, oid, view.Epoch, position, data); err != nil {
			if errors.Is(err, zlog.ErrStaleEpoch) && !refreshed {
				refreshed = true
				if werr := l.striper.UpdateCurrentView(ctx, view.Epoch); werr != nil {
					return 0, fmt.Errorf("logservice: append %q: refresh after stale epoch: %w", l.name, werr)
				}
				continue
			}
			return 0, fmt.Errorf("logservice: append %q: write: %w", l.name, err)
		}

		l.striper.AsyncInitStripe(position)
		return position, nil
	}
}

// Read returns the entry at position, refreshing once on a stale-epoch
// signal. Positions below the log's current minimum valid position are
// reported as invalid without consulting the backend: trimming is a view
// transition, not a per-entry backend operation.
func (l *Log) Read(ctx context.Context, position uint64) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		view, err := l.striper.View(ctx)
		if err != nil {
			return nil, fmt.Errorf("logservice: read %q: %w", l.name, err)
		}
		if position < view.MinValidPosition {
			return nil, zlog.ErrInvalidEntry
		}
		oid, ok := zlog.Map(view, position)
		if !ok {
			return nil, zlog.ErrPositionUnmapped
		}

		data, err := l.backend.Read(ctx, oid, view.Epoch, position)
		if err != nil {
			if errors.Is(err, zlog.ErrStaleEpoch) && attempt == 0 {
				if werr := l.striper.UpdateCurrentView(ctx, view.Epoch); werr != nil {
					return nil, fmt.Errorf("logservice: read %q: refresh after stale epoch: %w", l.name, werr)
				}
				continue
			}
			return nil, fmt.Errorf("logservice: read %q: %w", l.name, err)
		}
		return data, nil
	}
}

// Fill marks position invalid without writing data.
func (l *Log) Fill(ctx context.Context, position uint64) error {
	view, err := l.striper.View(ctx)
	if err != nil {
		return fmt.Errorf("logservice: fill %q: %w", l.name, err)
	}
	oid, ok := zlog.Map(view, position)
	if !ok {
		return zlog.ErrPositionUnmapped
	}
	if err := l.backend.Fill(ctx, oid, view.Epoch, position); err != nil {
		return fmt.Errorf("logservice: fill %q: %w", l.name, err)
	}
	return nil
}

// Trim advances the log's minimum valid position to upto: a view
// transition, immediately making every position below upto read as
// invalid via Read's MinValidPosition check, without per-entry backend
// calls.
func (l *Log) Trim(ctx context.Context, upto uint64) error {
	if err := l.striper.AdvanceMinValidPosition(ctx, upto); err != nil {
		return fmt.Errorf("logservice: trim %q: %w", l.name, err)
	}
	return nil
}

// View returns the log's current view, primarily for diagnostic dumps.
func (l *Log) View(ctx context.Context) (zlog.View, error) {
	return l.striper.View(ctx)
}

// ProposeSequencer makes this process instance the active sequencer for the
// log.
func (l *Log) ProposeSequencer(ctx context.Context) error {
	return l.striper.ProposeSequencer(ctx)
}
