package zlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectMapEmpty(t *testing.T) {
	m := NewObjectMap()
	assert.True(t, m.Empty())
	_, ok := m.MaxPosition()
	assert.False(t, ok)
	_, _, ok = m.Map(0)
	assert.False(t, ok)
}

func TestExpandMappingOnEmptyUsesDefaults(t *testing.T) {
	m := NewObjectMap()
	m2, changed := m.ExpandMapping("obj", 0, 4, 10)
	require.True(t, changed)
	require.Len(t, m2.Stripes(), 1)
	s := m2.Stripes()[0]
	assert.Equal(t, uint64(0), s.ID())
	assert.Equal(t, uint32(4), s.Width())
	assert.Equal(t, uint64(0), s.MinPosition())
	assert.Equal(t, uint64(39), s.MaxPosition())
	assert.Equal(t, uint64(1), m2.NextStripeID())
}

func TestExpandMappingIsIdempotent(t *testing.T) {
	m := NewObjectMap()
	m2, changed := m.ExpandMapping("obj", 0, 4, 10)
	require.True(t, changed)

	m3, changed := m2.ExpandMapping("obj", 0, 4, 10)
	assert.False(t, changed)
	assert.Equal(t, m2, m3)
}

func TestExpandMappingInheritsLastStripeShape(t *testing.T) {
	m := NewObjectMap()
	m, _ = m.ExpandMapping("obj", 0, 4, 10) // covers [0,39]
	m2, changed := m.ExpandMapping("obj", 40, 8, 100)
	require.True(t, changed)
	require.Len(t, m2.Stripes(), 2)

	last := m2.Stripes()[1]
	assert.Equal(t, uint32(4), last.Width(), "width is inherited from the last stripe, not the caller's defaults")
	assert.Equal(t, uint64(40), last.MinPosition())
}

func TestExpandMappingAppendsMultipleStripesForFarPosition(t *testing.T) {
	m := NewObjectMap()
	m, _ = m.ExpandMapping("obj", 0, 4, 10) // [0,39]
	m2, changed := m.ExpandMapping("obj", 100, 4, 10)
	require.True(t, changed)
	require.Len(t, m2.Stripes(), 3)
	assert.True(t, m2.Stripes()[2].Contains(100))
}

func TestObjectMapIsPure(t *testing.T) {
	m := NewObjectMap()
	orig, _ := m.ExpandMapping("obj", 0, 4, 10)
	snapshot := orig.Stripes()

	_, _ = orig.ExpandMapping("obj", 1000, 4, 10)
	assert.Equal(t, snapshot, orig.Stripes(), "ExpandMapping must not mutate its receiver")
}

func TestMapReportsLastStripe(t *testing.T) {
	m := NewObjectMap()
	m, _ = m.ExpandMapping("obj", 0, 4, 10)   // [0,39]
	m, _ = m.ExpandMapping("obj", 40, 4, 10)  // [40,79]

	_, isLast, ok := m.Map(10)
	require.True(t, ok)
	assert.False(t, isLast)

	_, isLast, ok = m.Map(50)
	require.True(t, ok)
	assert.True(t, isLast)
}

func TestMapToEnumeratesEveryStripeUpToPosition(t *testing.T) {
	m := NewObjectMap()
	m, _ = m.ExpandMapping("obj", 0, 4, 10)  // [0,39]
	m, _ = m.ExpandMapping("obj", 40, 4, 10) // [40,79]

	refs, ok := m.MapTo(50)
	require.True(t, ok)
	require.Len(t, refs, 2)
	assert.False(t, refs[0].IsLast)
	assert.True(t, refs[1].IsLast)

	stripe0, _ := m.MapStripe(0)
	assert.Equal(t, stripe0.Map(stripe0.MaxPosition()), refs[0].OID)
}

func TestMapToUnmapped(t *testing.T) {
	m := NewObjectMap()
	_, ok := m.MapTo(0)
	assert.False(t, ok)
}

func TestStripeIDsAreGapFreeAndIncreasing(t *testing.T) {
	m := NewObjectMap()
	m, _ = m.ExpandMapping("obj", 0, 4, 10)
	m, _ = m.ExpandMapping("obj", 100, 4, 10)

	for i, s := range m.Stripes() {
		assert.Equal(t, uint64(i), s.ID())
	}
	assert.Equal(t, uint64(len(m.Stripes())), m.NextStripeID())
}
