package zlog

import "context"

// Backend is the abstract storage collaborator the core drives. The core
// assumes the backend gives linearizable per-object operations conditional
// on an epoch; it does not replicate data or attempt global sequencing
// itself. Concrete adapters live outside this package (see
// internal/backend/...); this interface is the entire surface the core
// needs from one.
//
// Methods return the sentinel errors declared in errors.go (optionally
// wrapped with fmt.Errorf's %w) to signal their distinguished outcomes;
// any other non-nil error is treated as an unclassified backend error and
// propagated as-is.
type Backend interface {
	// CreateLog creates a uniquely named head object, links name -> hoid, and
	// installs initialView at epoch 1. It fails on name conflict.
	CreateLog(ctx context.Context, name string, initialView []byte) (hoid, prefix string, err error)

	// OpenLog resolves name to an existing head object. It fails if deleted.
	OpenLog(ctx context.Context, name string) (hoid, prefix string, err error)

	// ReadViews returns all stored views with epoch >= fromEpoch, in
	// ascending epoch order.
	ReadViews(ctx context.Context, hoid string, fromEpoch uint64) ([]EpochView, error)

	// ProposeView conditionally appends data as the view at epoch. It
	// returns ErrConflict if a view at epoch already exists.
	ProposeView(ctx context.Context, hoid string, epoch uint64, data []byte) error

	// Read returns the bytes written at (oid, position), conditional on
	// epoch. It returns ErrStaleEpoch, ErrNotWritten, or ErrInvalidEntry as
	// appropriate.
	Read(ctx context.Context, oid string, epoch, position uint64) ([]byte, error)

	// Write conditionally writes data at (oid, position). It returns
	// ErrStaleEpoch, ErrAlreadyWritten, or ErrReadOnly as appropriate.
	Write(ctx context.Context, oid string, epoch, position uint64, data []byte) error

	// Fill marks a position invalid (a non-entry placeholder), tolerating
	// concurrent writers racing to close out an abandoned position.
	Fill(ctx context.Context, oid string, epoch, position uint64) error

	// Trim marks a position trimmed; subsequent reads return ErrInvalidEntry.
	Trim(ctx context.Context, oid string, epoch, position uint64) error

	// Seal is an idempotent, epoch-monotone per-object operation: once
	// sealed at an epoch, operations carrying a lower epoch are rejected.
	Seal(ctx context.Context, oid string, epoch uint64) error

	// MaxPosition returns the greatest written position in oid and whether
	// the object is empty. It must be called at an epoch >= the object's
	// current seal epoch, or it returns ErrStaleEpoch.
	MaxPosition(ctx context.Context, oid string, epoch uint64) (position uint64, empty bool, err error)

	// UniqueID returns a monotonically increasing counter scoped to hoid.
	UniqueID(ctx context.Context, hoid string) (uint64, error)
}

// EpochView is one entry of a ReadViews result: the serialized view
// installed at Epoch.
type EpochView struct {
	Epoch uint64
	Data  []byte
}
