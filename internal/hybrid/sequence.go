package hybrid

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Sequencer issues monotonically increasing dispatch numbers per surface
type Sequencer struct {
	counters *xsync.MapOf[string, *atomic.Uint64]
}

// NewSequencer creates an empty sequencer
func NewSequencer() *Sequencer {
	return &Sequencer{counters: xsync.NewMapOf[string, *atomic.Uint64]()}
}

func (s *Sequencer) counter(surface string) *atomic.Uint64 {
	c, _ := s.counters.LoadOrCompute(surface, func() *atomic.Uint64 {
		return new(atomic.Uint64)
	})
	return c
}

// Next issues a new number for surface
func (s *Sequencer) Next(surface string) uint64 {
	return s.counter(surface).Add(1)
}

// Current returns the latest number issued for surface, 0 if none
func (s *Sequencer) Current(surface string) uint64 {
	return s.counter(surface).Load()
}

// IsLatest reports whether seq is still the latest number for surface
func (s *Sequencer) IsLatest(surface string, seq uint64) bool {
	return s.Current(surface) == seq
}
