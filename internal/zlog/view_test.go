package zlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateInitialViewRoundTrips(t *testing.T) {
	data := CreateInitialView()

	v, err := NewView("obj", 1, data, "secret")
	require.NoError(t, err)
	assert.True(t, v.ObjectMap.Empty())
	assert.Equal(t, uint64(0), v.MinValidPosition)
	assert.Nil(t, v.SeqConfig)
	assert.Nil(t, v.Seq)
}

func TestViewSerializeRoundTrip(t *testing.T) {
	om := NewObjectMap()
	om, _ = om.ExpandMapping("obj", 0, 4, 10)
	om, _ = om.ExpandMapping("obj", 40, 4, 10)

	v := View{
		Epoch:            7,
		ObjectMap:        om,
		SeqConfig:        &SequencerConfig{Epoch: 7, Secret: "mine", InitPosition: 80},
		MinValidPosition: 3,
	}

	data, err := v.Serialize()
	require.NoError(t, err)

	got, err := NewView("obj", 7, data, "mine")
	require.NoError(t, err)

	assert.Equal(t, v.MinValidPosition, got.MinValidPosition)
	assert.Equal(t, v.SeqConfig, got.SeqConfig)
	assert.Equal(t, v.ObjectMap.Stripes(), got.ObjectMap.Stripes())
	require.NotNil(t, got.Seq)
	assert.Equal(t, uint64(80), got.Seq.CheckTail(false))
	assert.Equal(t, uint64(7), got.Seq.Epoch())
}

func TestViewSequencerAbsentWhenSecretMismatches(t *testing.T) {
	v := View{SeqConfig: &SequencerConfig{Epoch: 1, Secret: "theirs", InitPosition: 0}}
	data, err := v.Serialize()
	require.NoError(t, err)

	got, err := NewView("obj", 1, data, "mine")
	require.NoError(t, err)
	assert.Nil(t, got.Seq)
	assert.NotNil(t, got.SeqConfig, "the config itself is still visible for inspection")
}

func TestViewEpochNotEncodedOnWire(t *testing.T) {
	v1 := View{Epoch: 1}
	v2 := View{Epoch: 99}

	d1, err := v1.Serialize()
	require.NoError(t, err)
	d2, err := v2.Serialize()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}
