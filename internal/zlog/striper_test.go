package zlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/edirooss/zlog/internal/backend/membackend"
	"github.com/edirooss/zlog/internal/zlog"
)

func newTestStriper(t *testing.T) (*zlog.Striper, zlog.Backend, string, string) {
	t.Helper()
	backend := membackend.New(zaptest.NewLogger(t))
	hoid, prefix, err := backend.CreateLog(context.Background(), "log-"+t.Name(), zlog.CreateInitialView())
	require.NoError(t, err)

	s := zlog.NewStriper(zaptest.NewLogger(t), backend, hoid, prefix, "secret-"+t.Name(), zlog.Config{
		DefaultWidth:    4,
		DefaultSlots:    10,
		RefreshInterval: 20 * time.Millisecond,
	})
	t.Cleanup(s.Shutdown)
	return s, backend, hoid, prefix
}

func TestStriperViewWaitsForFirstRefresh(t *testing.T) {
	s, _, _, _ := newTestStriper(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := s.View(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v.Epoch, uint64(1))
}

func TestBootstrapAndFirstAppend(t *testing.T) {
	s, _, _, prefix := newTestStriper(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v, err := s.View(ctx)
	require.NoError(t, err)

	_, ok := zlog.Map(v, 0)
	assert.False(t, ok, "position 0 is unmapped in a freshly bootstrapped log")

	require.NoError(t, s.TryExpandView(ctx, 0))

	v2, err := s.View(ctx)
	require.NoError(t, err)
	oid, ok := zlog.Map(v2, 0)
	require.True(t, ok)

	stripe, ok := v2.ObjectMap.MapStripe(0)
	require.True(t, ok)
	assert.Equal(t, prefix+".0.0", stripe.OIDs()[0])
	assert.Equal(t, stripe.OIDs()[0], oid)
}

func TestGrowthInheritsShapeAndSealsPriorStripe(t *testing.T) {
	s, backend, _, _ := newTestStriper(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.TryExpandView(ctx, 0))
	v, err := s.View(ctx)
	require.NoError(t, err)
	firstStripe, _ := v.ObjectMap.MapStripe(0)

	require.NoError(t, s.TryExpandView(ctx, 40))
	v2, err := s.View(ctx)
	require.NoError(t, err)

	stripe1, ok := v2.ObjectMap.MapStripe(40)
	require.True(t, ok)
	assert.Equal(t, uint32(4), stripe1.Width())

	for _, oid := range firstStripe.OIDs() {
		_, empty, err := backend.MaxPosition(ctx, oid, v2.Epoch)
		require.NoError(t, err)
		assert.True(t, empty)

		_, _, err = backend.MaxPosition(ctx, oid, v.Epoch)
		assert.ErrorIs(t, err, zlog.ErrStaleEpoch, "prior stripe is sealed at the new epoch")
	}
}

func TestConcurrentExpandersConvergeOnOneWinner(t *testing.T) {
	s, _, _, _ := newTestStriper(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.TryExpandView(ctx, 0)) // seed a stripe so expanding to 40 needs exactly one more

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- s.TryExpandView(ctx, 40) }()
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	v, err := s.View(ctx)
	require.NoError(t, err)
	_, ok := zlog.Map(v, 40)
	assert.True(t, ok)
}

func TestSequencerHandoff(t *testing.T) {
	s, _, _, _ := newTestStriper(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.ProposeSequencer(ctx))
	v, err := s.View(ctx)
	require.NoError(t, err)
	require.NotNil(t, v.Seq)
	assert.Equal(t, uint64(0), v.Seq.CheckTail(true))
}

func TestAdvanceMinValidPositionIsMonotone(t *testing.T) {
	s, _, _, _ := newTestStriper(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.AdvanceMinValidPosition(ctx, 50))
	v, err := s.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), v.MinValidPosition)

	require.NoError(t, s.AdvanceMinValidPosition(ctx, 10)) // no-op: 10 < 50
	v2, err := s.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), v2.MinValidPosition)
}

func TestShutdownWakesWaitersWithErrShutdown(t *testing.T) {
	backend := membackend.New(zaptest.NewLogger(t))
	hoid, prefix, err := backend.CreateLog(context.Background(), "log-shutdown", zlog.CreateInitialView())
	require.NoError(t, err)

	s := zlog.NewStriper(zaptest.NewLogger(t), backend, hoid, prefix, "secret", zlog.Config{
		RefreshInterval: time.Hour, // never polls on its own; only Shutdown should unblock the waiter
	})

	// Consume the initial bootstrap view installed by CreateLog before blocking on an epoch that is never installed.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err = s.View(ctx)
	cancel()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- s.UpdateCurrentView(context.Background(), ^uint64(0))
	}()

	s.Shutdown()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, zlog.ErrShutdown)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Shutdown")
	}
}
