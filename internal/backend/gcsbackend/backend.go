// Package gcsbackend implements zlog.Backend on Cloud Storage. Views are
// immutable objects named "<hoid>.view.<epoch>", written with a
// does-not-exist precondition so a losing ProposeView call observes an
// ErrConflict-equivalent precondition failure rather than clobbering the
// winner. Per-object entry state and seal state live in one JSON object per
// backend object, advanced with generation-match preconditions for
// compare-and-swap semantics.
package gcsbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/edirooss/zlog/internal/zlog"
)

// Backend is a Cloud Storage-backed zlog.Backend scoped to one bucket.
type Backend struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// New wraps an already-constructed storage.Client scoped to bucket.
func New(client *storage.Client, bucket string) *Backend {
	return &Backend{client: client, bucket: client.Bucket(bucket)}
}

type entryStatus string

const (
	statusWritten entryStatus = "written"
	statusFilled  entryStatus = "filled"
	statusTrimmed entryStatus = "trimmed"
)

type entryRecord struct {
	Status entryStatus `json:"status"`
	Data   []byte      `json:"data,omitempty"`
}

// objectState is the JSON body of one backend object's Cloud Storage blob.
type objectState struct {
	SealedEpoch uint64                 `json:"sealed_epoch"`
	Entries     map[string]entryRecord `json:"entries"`
}

func viewObjectName(hoid string, epoch uint64) string {
	return fmt.Sprintf("%s.view.%d", hoid, epoch)
}

func viewPrefix(hoid string) string { return hoid + ".view." }

func (b *Backend) CreateLog(ctx context.Context, name string, initialView []byte) (hoid, prefix string, err error) {
	hoid = "head/" + name
	prefix = "obj/" + name

	w := b.bucket.Object(viewObjectName(hoid, 1)).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(initialView); err != nil {
		w.Close()
		return "", "", fmt.Errorf("gcsbackend: create log: %w", err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return "", "", fmt.Errorf("gcsbackend: log %q already exists", name)
		}
		return "", "", fmt.Errorf("gcsbackend: create log: %w", err)
	}
	return hoid, prefix, nil
}

func (b *Backend) OpenLog(ctx context.Context, name string) (hoid, prefix string, err error) {
	hoid = "head/" + name
	if _, err := b.bucket.Object(viewObjectName(hoid, 1)).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", "", fmt.Errorf("gcsbackend: log %q does not exist", name)
		}
		return "", "", fmt.Errorf("gcsbackend: open log: %w", err)
	}
	return hoid, "obj/" + name, nil
}

func (b *Backend) ReadViews(ctx context.Context, hoid string, fromEpoch uint64) ([]zlog.EpochView, error) {
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: viewPrefix(hoid)})

	var epochs []uint64
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcsbackend: read views: list: %w", err)
		}
		epoch, ok := parseViewEpoch(hoid, attrs.Name)
		if !ok || epoch < fromEpoch {
			continue
		}
		epochs = append(epochs, epoch)
	}

	sortUint64s(epochs)

	out := make([]zlog.EpochView, 0, len(epochs))
	for _, epoch := range epochs {
		r, err := b.bucket.Object(viewObjectName(hoid, epoch)).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcsbackend: read views: epoch %d: %w", epoch, err)
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("gcsbackend: read views: epoch %d: %w", epoch, err)
		}
		out = append(out, zlog.EpochView{Epoch: epoch, Data: data})
	}
	return out, nil
}

// ProposeView writes an immutable view object at epoch. A precondition
// failure means a concurrent proposer already claimed this epoch, reported
// as ErrConflict.
func (b *Backend) ProposeView(ctx context.Context, hoid string, epoch uint64, data []byte) error {
	w := b.bucket.Object(viewObjectName(hoid, epoch)).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("gcsbackend: propose view: %w", err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return zlog.ErrConflict
		}
		return fmt.Errorf("gcsbackend: propose view: %w", err)
	}
	return nil
}

func (b *Backend) Read(ctx context.Context, oid string, epoch, position uint64) ([]byte, error) {
	st, _, err := b.readState(ctx, oid)
	if err != nil {
		return nil, err
	}
	if epoch < st.SealedEpoch {
		return nil, zlog.ErrStaleEpoch
	}
	rec, ok := st.Entries[strconv.FormatUint(position, 10)]
	if !ok {
		return nil, zlog.ErrNotWritten
	}
	if rec.Status != statusWritten {
		return nil, zlog.ErrInvalidEntry
	}
	return rec.Data, nil
}

func (b *Backend) Write(ctx context.Context, oid string, epoch, position uint64, data []byte) error {
	return b.casUpdate(ctx, oid, func(st *objectState) error {
		if epoch < st.SealedEpoch {
			return zlog.ErrStaleEpoch
		}
		key := strconv.FormatUint(position, 10)
		if rec, exists := st.Entries[key]; exists {
			if rec.Status == statusWritten {
				return zlog.ErrAlreadyWritten
			}
			return zlog.ErrReadOnly
		}
		st.Entries[key] = entryRecord{Status: statusWritten, Data: data}
		return nil
	})
}

func (b *Backend) Fill(ctx context.Context, oid string, epoch, position uint64) error {
	return b.casUpdate(ctx, oid, func(st *objectState) error {
		if epoch < st.SealedEpoch {
			return zlog.ErrStaleEpoch
		}
		key := strconv.FormatUint(position, 10)
		if rec, exists := st.Entries[key]; exists {
			if rec.Status == statusWritten {
				return zlog.ErrAlreadyWritten
			}
			return nil
		}
		st.Entries[key] = entryRecord{Status: statusFilled}
		return nil
	})
}

func (b *Backend) Trim(ctx context.Context, oid string, epoch, position uint64) error {
	return b.casUpdate(ctx, oid, func(st *objectState) error {
		if epoch < st.SealedEpoch {
			return zlog.ErrStaleEpoch
		}
		st.Entries[strconv.FormatUint(position, 10)] = entryRecord{Status: statusTrimmed}
		return nil
	})
}

func (b *Backend) Seal(ctx context.Context, oid string, epoch uint64) error {
	return b.casUpdate(ctx, oid, func(st *objectState) error {
		if epoch > st.SealedEpoch {
			st.SealedEpoch = epoch
		}
		return nil
	})
}

func (b *Backend) MaxPosition(ctx context.Context, oid string, epoch uint64) (position uint64, empty bool, err error) {
	st, _, err := b.readState(ctx, oid)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, true, nil
		}
		return 0, false, err
	}
	if epoch < st.SealedEpoch {
		return 0, false, zlog.ErrStaleEpoch
	}
	found := false
	var max uint64
	for k := range st.Entries {
		pos, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			continue
		}
		if !found || pos > max {
			max = pos
			found = true
		}
	}
	return max, !found, nil
}

func (b *Backend) UniqueID(ctx context.Context, hoid string) (uint64, error) {
	counterObj := b.bucket.Object(hoid + ".unique_id")
	for {
		attrs, err := counterObj.Attrs(ctx)
		var cur uint64
		var generation int64
		switch {
		case errors.Is(err, storage.ErrObjectNotExist):
			cur, generation = 0, 0
		case err != nil:
			return 0, fmt.Errorf("gcsbackend: unique id: %w", err)
		default:
			r, err := counterObj.NewReader(ctx)
			if err != nil {
				return 0, fmt.Errorf("gcsbackend: unique id: %w", err)
			}
			data, err := io.ReadAll(r)
			r.Close()
			if err != nil {
				return 0, fmt.Errorf("gcsbackend: unique id: %w", err)
			}
			cur, err = strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("gcsbackend: unique id: malformed counter: %w", err)
			}
			generation = attrs.Generation
		}

		next := cur + 1
		cond := storage.Conditions{GenerationMatch: generation}
		if generation == 0 {
			cond = storage.Conditions{DoesNotExist: true}
		}
		w := counterObj.If(cond).NewWriter(ctx)
		if _, err := w.Write([]byte(strconv.FormatUint(next, 10))); err != nil {
			w.Close()
			return 0, fmt.Errorf("gcsbackend: unique id: %w", err)
		}
		if err := w.Close(); err != nil {
			if isPreconditionFailed(err) {
				continue // lost the race to another caller; retry
			}
			return 0, fmt.Errorf("gcsbackend: unique id: %w", err)
		}
		return next, nil
	}
}

// readState fetches and decodes oid's JSON state, returning its generation
// for a subsequent casUpdate write. Absent objects decode as empty state at
// generation 0.
func (b *Backend) readState(ctx context.Context, oid string) (objectState, int64, error) {
	obj := b.bucket.Object(oid)
	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return objectState{Entries: map[string]entryRecord{}}, 0, nil
	}
	if err != nil {
		return objectState{}, 0, fmt.Errorf("gcsbackend: attrs: %w", err)
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		return objectState{}, 0, fmt.Errorf("gcsbackend: read: %w", err)
	}
	defer r.Close()

	var st objectState
	if err := json.NewDecoder(r).Decode(&st); err != nil {
		return objectState{}, 0, fmt.Errorf("gcsbackend: decode: %w", err)
	}
	if st.Entries == nil {
		st.Entries = map[string]entryRecord{}
	}
	return st, attrs.Generation, nil
}

// casUpdate reads oid's state, applies mutate, and writes it back with a
// generation-match precondition, retrying on a lost race. mutate's error
// (e.g. a sentinel like ErrStaleEpoch) short-circuits without writing.
func (b *Backend) casUpdate(ctx context.Context, oid string, mutate func(*objectState) error) error {
	for {
		st, generation, err := b.readState(ctx, oid)
		if err != nil {
			return err
		}
		if err := mutate(&st); err != nil {
			return err
		}

		body, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("gcsbackend: encode: %w", err)
		}

		cond := storage.Conditions{GenerationMatch: generation}
		if generation == 0 {
			cond = storage.Conditions{DoesNotExist: true}
		}
		w := b.bucket.Object(oid).If(cond).NewWriter(ctx)
		if _, err := w.Write(body); err != nil {
			w.Close()
			return fmt.Errorf("gcsbackend: write: %w", err)
		}
		if err := w.Close(); err != nil {
			if isPreconditionFailed(err) {
				continue // object changed concurrently; reread and retry
			}
			return fmt.Errorf("gcsbackend: write: %w", err)
		}
		return nil
	}
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 412
	}
	return false
}

func parseViewEpoch(hoid, name string) (uint64, bool) {
	p := viewPrefix(hoid)
	if !strings.HasPrefix(name, p) {
		return 0, false
	}
	epoch, err := strconv.ParseUint(name[len(p):], 10, 64)
	return epoch, err == nil
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
