package redisbackend

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/edirooss/zlog/internal/zlog"
)

const (
	keyPrefix  = "zlog:"
	maxRetries = 10
)

// Backend is a Redis-backed zlog.Backend. Object state lives in one hash per
// object (a "sealed_epoch" field plus one "e:<position>" field per written
// position); view history lives in a per-log hash of epoch->payload plus a
// sorted set of installed epochs, advanced via optimistic WATCH/MULTI/EXEC
// transactions so concurrent ProposeView calls race safely.
type Backend struct {
	c *Client
}

// NewBackend wraps an already-connected Client.
func NewBackend(c *Client) *Backend {
	return &Backend{c: c}
}

func headKey(name string) string       { return keyPrefix + "head:" + name }
func lastEpochKey(name string) string  { return keyPrefix + "head:" + name + ":last_epoch" }
func viewDataKey(name string) string   { return keyPrefix + "head:" + name + ":viewdata" }
func viewEpochsKey(name string) string { return keyPrefix + "head:" + name + ":viewepochs" }
func uniqueIDKey(hoid string) string   { return hoid + ":unique_id" }

// objectKey returns the Redis key backing oid. oid is already namespaced
// under keyPrefix+"obj:" by the prefix CreateLog/OpenLog returned, so this
// is the identity function; it exists to keep call sites self-documenting.
func objectKey(oid string) string { return oid }

func entryField(position uint64) string { return "e:" + strconv.FormatUint(position, 10) }

const (
	entryPrefixWritten = 'W'
	entryPrefixFilled  = 'F'
	entryPrefixTrimmed = 'T'
)

func (b *Backend) CreateLog(ctx context.Context, name string, initialView []byte) (hoid, prefix string, err error) {
	hoid = headKey(name)

	ok, err := b.c.SetNX(ctx, lastEpochKey(name), 1, 0).Result()
	if err != nil {
		return "", "", fmt.Errorf("redisbackend: create log: %w", err)
	}
	if !ok {
		return "", "", fmt.Errorf("redisbackend: log %q already exists", name)
	}

	pipe := b.c.TxPipeline()
	pipe.HSet(ctx, viewDataKey(name), "1", initialView)
	pipe.ZAdd(ctx, viewEpochsKey(name), redis.Z{Score: 1, Member: "1"})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", "", fmt.Errorf("redisbackend: create log: seed view: %w", err)
	}

	return hoid, keyPrefix + "obj:" + name, nil
}

func (b *Backend) OpenLog(ctx context.Context, name string) (hoid, prefix string, err error) {
	exists, err := b.c.Exists(ctx, lastEpochKey(name)).Result()
	if err != nil {
		return "", "", fmt.Errorf("redisbackend: open log: %w", err)
	}
	if exists == 0 {
		return "", "", fmt.Errorf("redisbackend: log %q does not exist", name)
	}
	return headKey(name), keyPrefix + "obj:" + name, nil
}

func (b *Backend) ReadViews(ctx context.Context, hoid string, fromEpoch uint64) ([]zlog.EpochView, error) {
	name, err := nameFromHoid(hoid)
	if err != nil {
		return nil, err
	}

	epochStrs, err := b.c.ZRangeByScore(ctx, viewEpochsKey(name), &redis.ZRangeBy{
		Min: strconv.FormatUint(fromEpoch, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redisbackend: read views: %w", err)
	}
	if len(epochStrs) == 0 {
		return nil, nil
	}

	datas, err := b.c.HMGet(ctx, viewDataKey(name), epochStrs...).Result()
	if err != nil {
		return nil, fmt.Errorf("redisbackend: read views: hmget: %w", err)
	}

	out := make([]zlog.EpochView, 0, len(epochStrs))
	for i, es := range epochStrs {
		epoch, err := strconv.ParseUint(es, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redisbackend: read views: malformed epoch %q: %w", es, err)
		}
		s, ok := datas[i].(string)
		if !ok {
			return nil, fmt.Errorf("redisbackend: read views: missing data for epoch %d", epoch)
		}
		out = append(out, zlog.EpochView{Epoch: epoch, Data: []byte(s)})
	}
	return out, nil
}

// ProposeView installs data at epoch iff epoch is greater than every epoch
// installed so far, using an optimistic WATCH/MULTI/EXEC transaction on the
// log's last-epoch marker. A concurrent winner causes this call to return
// ErrConflict rather than retry: the caller (Striper.transition) waits for
// whichever view the refresh worker observes instead.
func (b *Backend) ProposeView(ctx context.Context, hoid string, epoch uint64, data []byte) error {
	name, err := nameFromHoid(hoid)
	if err != nil {
		return err
	}
	epochStr := strconv.FormatUint(epoch, 10)

	txf := func(tx *redis.Tx) error {
		lastStr, err := tx.Get(ctx, lastEpochKey(name)).Result()
		if err != nil {
			return fmt.Errorf("get last epoch: %w", err)
		}
		last, err := strconv.ParseUint(lastStr, 10, 64)
		if err != nil {
			return fmt.Errorf("malformed last epoch %q: %w", lastStr, err)
		}
		if epoch <= last {
			return zlog.ErrConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, lastEpochKey(name), epochStr, 0)
			pipe.HSet(ctx, viewDataKey(name), epochStr, data)
			pipe.ZAdd(ctx, viewEpochsKey(name), redis.Z{Score: float64(epoch), Member: epochStr})
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := b.c.Watch(ctx, txf, lastEpochKey(name))
		if err == nil {
			return nil
		}
		if errors.Is(err, zlog.ErrConflict) {
			return zlog.ErrConflict
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // another proposer's transaction won the watch; retry our own check
		}
		return fmt.Errorf("redisbackend: propose view: %w", err)
	}
	return zlog.ErrConflict
}

func (b *Backend) Read(ctx context.Context, oid string, epoch, position uint64) ([]byte, error) {
	key := objectKey(oid)

	sealed, err := sealedEpoch(ctx, b.c, key)
	if err != nil {
		return nil, fmt.Errorf("redisbackend: read: %w", err)
	}
	if epoch < sealed {
		return nil, zlog.ErrStaleEpoch
	}

	v, err := b.c.HGet(ctx, key, entryField(position)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, zlog.ErrNotWritten
	}
	if err != nil {
		return nil, fmt.Errorf("redisbackend: read: %w", err)
	}
	if len(v) == 0 {
		return nil, zlog.ErrNotWritten
	}
	switch v[0] {
	case entryPrefixWritten:
		return []byte(v[1:]), nil
	default:
		return nil, zlog.ErrInvalidEntry
	}
}

func (b *Backend) Write(ctx context.Context, oid string, epoch, position uint64, data []byte) error {
	key := objectKey(oid)
	field := entryField(position)

	txf := func(tx *redis.Tx) error {
		sealed, err := sealedEpoch(ctx, tx, key)
		if err != nil {
			return err
		}
		if epoch < sealed {
			return zlog.ErrStaleEpoch
		}
		existing, err := tx.HGet(ctx, key, field).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			if existing[0] == entryPrefixWritten {
				return zlog.ErrAlreadyWritten
			}
			return zlog.ErrReadOnly
		}

		payload := append([]byte{entryPrefixWritten}, data...)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, payload)
			return nil
		})
		return err
	}

	err := b.c.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return b.Write(ctx, oid, epoch, position, data) // lost the race on the watched hash; retry until the transaction commits
	}
	return unwrapSentinel(err)
}

func (b *Backend) Fill(ctx context.Context, oid string, epoch, position uint64) error {
	return b.markReadOnly(ctx, oid, epoch, position, entryPrefixFilled)
}

func (b *Backend) Trim(ctx context.Context, oid string, epoch, position uint64) error {
	return b.markReadOnly(ctx, oid, epoch, position, entryPrefixTrimmed)
}

func (b *Backend) markReadOnly(ctx context.Context, oid string, epoch, position uint64, marker byte) error {
	key := objectKey(oid)
	field := entryField(position)

	txf := func(tx *redis.Tx) error {
		sealed, err := sealedEpoch(ctx, tx, key)
		if err != nil {
			return err
		}
		if epoch < sealed {
			return zlog.ErrStaleEpoch
		}
		existing, err := tx.HGet(ctx, key, field).Result()
		if err == nil && existing[0] == entryPrefixWritten && marker == entryPrefixFilled {
			return zlog.ErrAlreadyWritten
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, []byte{marker})
			return nil
		})
		return err
	}

	err := b.c.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return b.markReadOnly(ctx, oid, epoch, position, marker)
	}
	return unwrapSentinel(err)
}

// Seal raises oid's sealed epoch, idempotently: sealing at or below the
// current value is a no-op.
func (b *Backend) Seal(ctx context.Context, oid string, epoch uint64) error {
	key := objectKey(oid)

	txf := func(tx *redis.Tx) error {
		sealed, err := sealedEpoch(ctx, tx, key)
		if err != nil {
			return err
		}
		if epoch <= sealed {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "sealed_epoch", epoch)
			return nil
		})
		return err
	}

	err := b.c.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return b.Seal(ctx, oid, epoch)
	}
	return unwrapSentinel(err)
}

func (b *Backend) MaxPosition(ctx context.Context, oid string, epoch uint64) (position uint64, empty bool, err error) {
	all, err := b.c.HGetAll(ctx, objectKey(oid)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redisbackend: max position: %w", err)
	}

	if s, ok := all["sealed_epoch"]; ok {
		sealed, perr := strconv.ParseUint(s, 10, 64)
		if perr != nil {
			return 0, false, fmt.Errorf("redisbackend: max position: malformed sealed_epoch %q: %w", s, perr)
		}
		if epoch < sealed {
			return 0, false, zlog.ErrStaleEpoch
		}
	}

	found := false
	var max uint64
	for f := range all {
		if f == "sealed_epoch" || len(f) < 2 || f[:2] != "e:" {
			continue
		}
		pos, perr := strconv.ParseUint(f[2:], 10, 64)
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
	id, err := b.c.Incr(ctx, uniqueIDKey(hoid)).Result()
	if err != nil {
		return 0, fmt.Errorf("redisbackend: unique id: %w", err)
	}
	return uint64(id), nil
}

func sealedEpoch(ctx context.Context, c redis.Cmdable, key string) (uint64, error) {
	s, err := c.HGet(ctx, key, "sealed_epoch").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	epoch, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed sealed_epoch %q: %w", s, err)
	}
	return epoch, nil
}

func nameFromHoid(hoid string) (string, error) {
	const p = keyPrefix + "head:"
	if len(hoid) <= len(p) || hoid[:len(p)] != p {
		return "", fmt.Errorf("redisbackend: malformed head object id %q", hoid)
	}
	return hoid[len(p):], nil
}

// unwrapSentinel passes zlog sentinel errors through unwrapped, and wraps
// anything else with this package's prefix.
func unwrapSentinel(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zlog.ErrStaleEpoch), errors.Is(err, zlog.ErrAlreadyWritten), errors.Is(err, zlog.ErrReadOnly):
		return err
	default:
		return fmt.Errorf("redisbackend: %w", err)
	}
}
