// Package membackend implements zlog.Backend entirely in memory. It is the
// reference backend used by the core package's own tests and is suitable
// for single-process deployments that don't need durability.
package membackend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/edirooss/zlog/internal/zlog"
)

type entryStatus int

const (
	statusWritten entryStatus = iota
	statusFilled
	statusTrimmed
)

type entry struct {
	status entryStatus
	data   []byte
}

// object is the in-memory analog of one backend object: a sealed epoch and a
// sparse map of written positions.
type object struct {
	sealedEpoch uint64
	entries     map[uint64]entry
}

// log is the in-memory analog of one head object: the epoch-ordered history
// of proposed views and a unique-id counter shared by all sequencers of the
// log.
type log struct {
	prefix   string
	views    []zlog.EpochView
	uniqueID uint64
}

// Backend is a concurrent, in-memory implementation of zlog.Backend.
//
// Data structures:
//   - Mutable state (logs by hoid, objects by oid) guarded by one RWMutex
//
// Concurrency:
//   - Per-store write serialization via exclusive lock
//   - Concurrent reads via shared lock
//
// Byte slices handed to CreateLog, ProposeView, and Write are copied before
// they are stored, and Read returns a copy, so callers may reuse their
// buffers.
type Backend struct {
	log *zap.Logger

	mu       sync.RWMutex
	logs     map[string]*log
	objects  map[string]*object
	nextHOID uint64
}

// New constructs a ready-to-use Backend.
func New(logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		log:     logger.Named("membackend"),
		logs:    make(map[string]*log),
		objects: make(map[string]*object),
	}
}

func (b *Backend) CreateLog(ctx context.Context, name string, initialView []byte) (hoid, prefix string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hoid = "hoid." + name
	if _, exists := b.logs[hoid]; exists {
		return "", "", fmt.Errorf("membackend: log %q already exists", name)
	}
	b.nextHOID++
	prefix = fmt.Sprintf("obj.%s.%d", name, b.nextHOID)
	b.logs[hoid] = &log{
		prefix: prefix,
		views:  []zlog.EpochView{{Epoch: 1, Data: append([]byte(nil), initialView...)}},
	}
	return hoid, prefix, nil
}

func (b *Backend) OpenLog(ctx context.Context, name string) (hoid, prefix string, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	hoid = "hoid." + name
	l, ok := b.logs[hoid]
	if !ok {
		return "", "", fmt.Errorf("membackend: log %q does not exist", name)
	}
	return hoid, l.prefix, nil
}

func (b *Backend) ReadViews(ctx context.Context, hoid string, fromEpoch uint64) ([]zlog.EpochView, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	l, ok := b.logs[hoid]
	if !ok {
		return nil, fmt.Errorf("membackend: unknown head object %q", hoid)
	}
	idx := sort.Search(len(l.views), func(i int) bool { return l.views[i].Epoch >= fromEpoch })
	out := make([]zlog.EpochView, len(l.views)-idx)
	copy(out, l.views[idx:])
	return out, nil
}

func (b *Backend) ProposeView(ctx context.Context, hoid string, epoch uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.logs[hoid]
	if !ok {
		return fmt.Errorf("membackend: unknown head object %q", hoid)
	}
	last := l.views[len(l.views)-1]
	if epoch <= last.Epoch {
		return zlog.ErrConflict
	}
	l.views = append(l.views, zlog.EpochView{Epoch: epoch, Data: append([]byte(nil), data...)})
	return nil
}

func (b *Backend) Read(ctx context.Context, oid string, epoch, position uint64) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	o, ok := b.objects[oid]
	if !ok {
		return nil, zlog.ErrNotWritten
	}
	if epoch < o.sealedEpoch {
		return nil, zlog.ErrStaleEpoch
	}
	e, ok := o.entries[position]
	if !ok {
		return nil, zlog.ErrNotWritten
	}
	if e.status != statusWritten {
		return nil, zlog.ErrInvalidEntry
	}
	return append([]byte(nil), e.data...), nil
}

func (b *Backend) Write(ctx context.Context, oid string, epoch, position uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := b.objectLocked(oid)
	if epoch < o.sealedEpoch {
		return zlog.ErrStaleEpoch
	}
	if _, exists := o.entries[position]; exists {
		if o.entries[position].status == statusWritten {
			return zlog.ErrAlreadyWritten
		}
		return zlog.ErrReadOnly
	}
	o.entries[position] = entry{status: statusWritten, data: append([]byte(nil), data...)}
	return nil
}

func (b *Backend) Fill(ctx context.Context, oid string, epoch, position uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := b.objectLocked(oid)
	if epoch < o.sealedEpoch {
		return zlog.ErrStaleEpoch
	}
	if e, exists := o.entries[position]; exists {
		if e.status == statusWritten {
			return zlog.ErrAlreadyWritten
		}
		return nil
	}
	o.entries[position] = entry{status: statusFilled}
	return nil
}

func (b *Backend) Trim(ctx context.Context, oid string, epoch, position uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := b.objectLocked(oid)
	if epoch < o.sealedEpoch {
		return zlog.ErrStaleEpoch
	}
	o.entries[position] = entry{status: statusTrimmed}
	return nil
}

// Seal marks oid read-only below epoch. It is idempotent: sealing at or
// below the current sealed epoch is a no-op, not an error, so the
// stripe-init worker can re-seal a stripe it has already initialized.
func (b *Backend) Seal(ctx context.Context, oid string, epoch uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := b.objectLocked(oid)
	if epoch > o.sealedEpoch {
		o.sealedEpoch = epoch
	}
	return nil
}

func (b *Backend) MaxPosition(ctx context.Context, oid string, epoch uint64) (position uint64, empty bool, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	o, ok := b.objects[oid]
	if !ok {
		return 0, true, nil
	}
	if epoch < o.sealedEpoch {
		return 0, false, zlog.ErrStaleEpoch
	}
	var max uint64
	found := false
	for pos := range o.entries {
		if !found || pos > max {
			max = pos
			found = true
		}
	}
	return max, !found, nil
}

func (b *Backend) UniqueID(ctx context.Context, hoid string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.logs[hoid]
	if !ok {
		return 0, fmt.Errorf("membackend: unknown head object %q", hoid)
	}
	l.uniqueID++
	return l.uniqueID, nil
}

// objectLocked returns oid's object state, creating it on first reference.
// Callers must hold b.mu for writing.
func (b *Backend) objectLocked(oid string) *object {
	o, ok := b.objects[oid]
	if !ok {
		o = &object{entries: make(map[uint64]entry)}
		b.objects[oid] = o
	}
	return o
}
