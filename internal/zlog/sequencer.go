package zlog

import "sync/atomic"

// Sequencer is an in-process monotonic counter tagged with an epoch, vending
// positions to appenders. It is created when a view naming this instance as
// the active sequencer is installed, and discarded when superseded.
//
// The sequencer's epoch ties issued positions to the view under which they
// were issued: any backend write at a sequenced position must carry an
// epoch >= the sequencer's epoch, or the backend rejects it as stale.
type Sequencer struct {
	epoch    uint64
	position atomic.Uint64
}

// NewSequencer returns a Sequencer tagged with epoch, starting at initPosition.
func NewSequencer(epoch, initPosition uint64) *Sequencer {
	s := &Sequencer{epoch: epoch}
	s.position.Store(initPosition)
	return s
}

// Epoch returns the sequencer's immutable epoch tag.
func (s *Sequencer) Epoch() uint64 { return s.epoch }

// CheckTail returns the current tail position. If advance is true, it
// atomically returns the current position and increments it; concurrent
// advancing calls are totally ordered by their atomic increment. If advance
// is false, it returns the current position without changing it.
func (s *Sequencer) CheckTail(advance bool) uint64 {
	if advance {
		return s.position.Add(1) - 1
	}
	return s.position.Load()
}

// SequencerConfig names which log instance (identified by Secret) is
// authorized to sequence at Epoch, and the position at which it starts.
type SequencerConfig struct {
	Epoch        uint64
	Secret       string
	InitPosition uint64
}
