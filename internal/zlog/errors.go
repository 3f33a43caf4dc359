// Package zlog implements the striping and view-management subsystem of a
// distributed shared log: position-to-object mapping, epoch-based view
// transitions, and the background workers that keep a view current, grow
// it, and initialize newly mapped stripes.
package zlog

import "errors"

// Backend-surfaced error kinds. A Backend implementation returns these
// (optionally wrapped with %w) from its methods; the core never retries a
// caller's conditional write or position mapping on their behalf, except
// for its own internal housekeeping described in striper.go.
var (
	// ErrStaleEpoch is returned by a Backend operation carrying an epoch
	// older than the object's current seal. It drives Striper.UpdateCurrentView.
	ErrStaleEpoch = errors.New("zlog: stale epoch")

	// ErrNotWritten is returned by read for a position that was never written.
	ErrNotWritten = errors.New("zlog: position not written")

	// ErrAlreadyWritten is returned by write for a position already written.
	ErrAlreadyWritten = errors.New("zlog: position already written")

	// ErrReadOnly is returned by write for a position marked read-only (filled
	// or trimmed).
	ErrReadOnly = errors.New("zlog: position is read-only")

	// ErrInvalidEntry is returned by read for a position that was filled or
	// trimmed.
	ErrInvalidEntry = errors.New("zlog: entry is invalid")

	// ErrConflict is returned internally by a Backend's ProposeView when a
	// competing proposal already claimed the epoch. The Striper never
	// surfaces this to callers of its public methods: it waits for the
	// refresh worker to observe whichever view won and reports success.
	ErrConflict = errors.New("zlog: view proposal conflict")

	// ErrPositionUnmapped reports that the current view's object map does not
	// cover the requested position (Map returned ok == false). Callers request
	// expansion via TryExpandView or AsyncExpandView.
	ErrPositionUnmapped = errors.New("zlog: position not mapped by current view")

	// ErrShutdown is returned to any waiter blocked in a public Striper
	// method when Shutdown is called.
	ErrShutdown = errors.New("zlog: striper is shutting down")
)
