package audio

import (
	"sync"
	"time"
)

// Sink accumulates the PCM bytes of a single utterance window.
// A sink is written to by exactly one decode chain and finalized exactly once.
type Sink struct {
	startedAt time.Time
	data      []byte
	finalized bool
	mu        sync.Mutex
}

// NewSink creates an empty sink whose window starts at the given time
func NewSink(startedAt time.Time) *Sink {
	return &Sink{
		startedAt: startedAt,
		data:      make([]byte, 0, 32*1024),
	}
}

// Write appends a PCM frame to the sink. Writes after finalization are
// dropped; the frame belongs to the successor sink by then.
func (s *Sink) Write(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return
	}

	s.data = append(s.data, frame...)
}

// Finalize closes the sink and returns the accumulated PCM bytes
func (s *Sink) Finalize() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finalized = true
	return s.data
}

// Len returns the number of accumulated bytes
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// StartedAt returns the start of the sink's utterance window
func (s *Sink) StartedAt() time.Time {
	return s.startedAt
}

// SinkChain owns the live sink for one speaker pipeline and swaps it at
// utterance boundaries. The new sink is installed before the predecessor is
// finalized, so a frame arriving during the cutover always lands in exactly
// one sink.
type SinkChain struct {
	current *Sink
	mu      sync.Mutex
}

// NewSinkChain creates a chain with a live sink starting at the given time
func NewSinkChain(now time.Time) *SinkChain {
	return &SinkChain{current: NewSink(now)}
}

// Write appends a PCM frame to the current sink. The chain lock is held
// across the write so a concurrent rotation cannot finalize the sink out
// from under the frame; every frame lands in exactly one segment.
func (c *SinkChain) Write(frame []byte) {
	c.mu.Lock()
	c.current.Write(frame)
	c.mu.Unlock()
}

// Rotate installs a fresh sink starting at now and returns the finalized
// predecessor together with its window start.
func (c *SinkChain) Rotate(now time.Time) (pcm []byte, startedAt time.Time) {
	c.mu.Lock()
	prev := c.current
	c.current = NewSink(now)
	c.mu.Unlock()

	return prev.Finalize(), prev.StartedAt()
}

// Pending returns the byte count buffered in the current sink
func (c *SinkChain) Pending() int {
	c.mu.Lock()
	sink := c.current
	c.mu.Unlock()

	return sink.Len()
}
