package vad

import (
	"fmt"
	"sync"
	"time"
)

// State represents the segmenter's voice activity state
type State int

const (
	StateSilent State = iota
	StateSpeaking
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateSilent:
		return "silent"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Event is the outcome of pushing one frame through the segmenter
type Event int

const (
	// EventNone means the frame did not change utterance boundaries
	EventNone Event = iota
	// EventSpeechStart means the speaker transitioned from silence to speech
	EventSpeechStart
	// EventBoundary means a silence run exceeded the threshold and the
	// buffered audio up to this frame forms one finished utterance
	EventBoundary
)

// minSampledBytes is the floor on how many bytes the activity check inspects
// per frame. Below this the whole frame is scanned.
const minSampledBytes = 100

// Segmenter is the per-speaker voice activity state machine. It observes the
// decoded PCM frames of exactly one speaker; callers push frames in arrival
// order and act on the returned events. The watchdog reads LastActivity
// concurrently, everything else is single-writer.
type Segmenter struct {
	threshold time.Duration

	state        State
	silenceStart time.Time
	lastActivity time.Time

	// Statistics
	framesTotal  uint64
	framesActive uint64
	boundaries   uint64

	mu sync.RWMutex
}

// Stats represents segmenter statistics for monitoring
type Stats struct {
	State        string    `json:"state"`
	FramesTotal  uint64    `json:"frames_total"`
	FramesActive uint64    `json:"frames_active"`
	Boundaries   uint64    `json:"boundaries"`
	LastActivity time.Time `json:"last_activity"`
}

// NewSegmenter creates a segmenter with the given silence threshold
func NewSegmenter(silenceThreshold time.Duration) (*Segmenter, error) {
	if silenceThreshold <= 0 {
		return nil, fmt.Errorf("silence threshold must be positive, got %v", silenceThreshold)
	}

	return &Segmenter{
		threshold: silenceThreshold,
		state:     StateSilent,
	}, nil
}

// Push classifies one frame and advances the state machine. The caller
// supplies the frame's arrival time so the machine stays deterministic
// under test.
func (s *Segmenter) Push(frame []byte, now time.Time) Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.framesTotal++
	s.lastActivity = now

	active := frameActive(frame)
	if active {
		s.framesActive++
	}

	switch s.state {
	case StateSilent:
		if active {
			s.state = StateSpeaking
			s.silenceStart = time.Time{}
			return EventSpeechStart
		}

	case StateSpeaking:
		if active {
			// Speech continues; any pending silence run is abandoned.
			s.silenceStart = time.Time{}
			return EventNone
		}

		if s.silenceStart.IsZero() {
			s.silenceStart = now
			return EventNone
		}

		if now.Sub(s.silenceStart) > s.threshold {
			s.state = StateSilent
			s.silenceStart = time.Time{}
			s.boundaries++
			return EventBoundary
		}
	}

	return EventNone
}

// frameActive reports whether a stride-sampled subset of the frame contains
// any non-zero byte. The subset is at least 20% of the frame and at least
// minSampledBytes, trading CPU for sensitivity.
func frameActive(frame []byte) bool {
	n := len(frame)
	if n == 0 {
		return false
	}

	samples := n / 5
	if samples < minSampledBytes {
		samples = minSampledBytes
	}

	if samples >= n {
		for _, b := range frame {
			if b != 0 {
				return true
			}
		}
		return false
	}

	stride := n / samples
	for i := 0; i < n; i += stride {
		if frame[i] != 0 {
			return true
		}
	}

	return false
}

// State returns the current voice activity state
func (s *Segmenter) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastActivity returns the arrival time of the most recent frame.
// Consumed by the stream health watchdog.
func (s *Segmenter) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// GetStats returns current segmenter statistics
func (s *Segmenter) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		State:        s.state.String(),
		FramesTotal:  s.framesTotal,
		FramesActive: s.framesActive,
		Boundaries:   s.boundaries,
		LastActivity: s.lastActivity,
	}
}

// Reset returns the segmenter to its initial silent state. Used when a
// pipeline recovery cycle rebuilds the decode chain.
func (s *Segmenter) Reset(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateSilent
	s.silenceStart = time.Time{}
	s.lastActivity = now
}
