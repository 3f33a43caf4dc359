package zlog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencerCheckTailNoAdvance(t *testing.T) {
	s := NewSequencer(1, 5)
	assert.Equal(t, uint64(5), s.CheckTail(false))
	assert.Equal(t, uint64(5), s.CheckTail(false), "non-advancing reads are idempotent")
	assert.Equal(t, uint64(1), s.Epoch())
}

func TestSequencerCheckTailAdvances(t *testing.T) {
	s := NewSequencer(1, 5)
	assert.Equal(t, uint64(5), s.CheckTail(true))
	assert.Equal(t, uint64(6), s.CheckTail(true))
	assert.Equal(t, uint64(7), s.CheckTail(false))
}

func TestSequencerConcurrentIssuanceHasNoGapsOrDuplicates(t *testing.T) {
	const n = 1000
	s := NewSequencer(1, 0)

	var wg sync.WaitGroup
	positions := make([]uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			positions[i] = s.CheckTail(true)
		}(i)
	}
	wg.Wait()

	seen := make([]bool, n)
	for _, p := range positions {
		assert.False(t, seen[p], "position %d issued twice", p)
		seen[p] = true
	}
	for i, ok := range seen {
		assert.True(t, ok, "position %d never issued", i)
	}
}
