package zlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStripeBounds(t *testing.T) {
	s := NewStripe("obj", 3, 4, 10, 40)
	assert.Equal(t, uint64(3), s.ID())
	assert.Equal(t, uint32(4), s.Width())
	assert.Equal(t, uint64(40), s.MinPosition())
	assert.Equal(t, uint64(79), s.MaxPosition())
	assert.Len(t, s.OIDs(), 4)
}

func TestStripeOIDsDeterministicAndDistinct(t *testing.T) {
	a := NewStripe("obj", 3, 4, 10, 40)
	b := NewStripe("obj", 3, 4, 10, 40)
	assert.Equal(t, a.OIDs(), b.OIDs())

	seen := map[string]bool{}
	for _, oid := range a.OIDs() {
		assert.False(t, seen[oid], "oid %q repeated", oid)
		seen[oid] = true
	}
}

func TestStripeMap(t *testing.T) {
	s := NewStripe("obj", 0, 4, 10, 0)
	for pos := uint64(0); pos < 4; pos++ {
		assert.Equal(t, s.OIDs()[pos], s.Map(pos))
	}
	assert.Equal(t, s.OIDs()[0], s.Map(4))
	assert.True(t, s.Contains(39))
	assert.False(t, s.Contains(40))
}

func TestNewStripePanicsOnZeroWidthOrSlots(t *testing.T) {
	assert.Panics(t, func() { NewStripe("obj", 0, 0, 10, 0) })
	assert.Panics(t, func() { NewStripe("obj", 0, 4, 0, 0) })
}

func TestStripeOIDsAreCopies(t *testing.T) {
	s := NewStripe("obj", 0, 4, 10, 0)
	oids := s.OIDs()
	oids[0] = "tampered"
	require.NotEqual(t, oids[0], s.OIDs()[0])
}
