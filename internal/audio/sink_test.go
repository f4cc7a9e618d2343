package audio

import (
	"sync"
	"testing"
	"time"
)

func TestSinkAccumulatesFrames(t *testing.T) {
	start := time.Now()
	sink := NewSink(start)

	sink.Write([]byte{1, 2})
	sink.Write([]byte{3, 4})

	if sink.Len() != 4 {
		t.Errorf("Expected 4 bytes, got %d", sink.Len())
	}
	if !sink.StartedAt().Equal(start) {
		t.Errorf("Expected start %v, got %v", start, sink.StartedAt())
	}

	data := sink.Finalize()
	if len(data) != 4 {
		t.Errorf("Expected 4 finalized bytes, got %d", len(data))
	}
}

func TestSinkDropsWritesAfterFinalize(t *testing.T) {
	sink := NewSink(time.Now())
	sink.Write([]byte{1, 2})
	sink.Finalize()

	sink.Write([]byte{3, 4})
	if sink.Len() != 2 {
		t.Errorf("Expected finalized sink to drop writes, got %d bytes", sink.Len())
	}
}

func TestSinkChainRotate(t *testing.T) {
	start := time.Now()
	chain := NewSinkChain(start)

	chain.Write([]byte{1, 2, 3, 4})
	if chain.Pending() != 4 {
		t.Errorf("Expected 4 pending bytes, got %d", chain.Pending())
	}

	rotateAt := start.Add(3 * time.Second)
	pcm, startedAt := chain.Rotate(rotateAt)

	if len(pcm) != 4 {
		t.Errorf("Expected 4 finalized bytes, got %d", len(pcm))
	}
	if !startedAt.Equal(start) {
		t.Errorf("Expected window start %v, got %v", start, startedAt)
	}

	// Fresh sink starts empty at the rotation time
	if chain.Pending() != 0 {
		t.Errorf("Expected fresh sink to be empty, got %d bytes", chain.Pending())
	}

	chain.Write([]byte{5, 6})
	pcm2, startedAt2 := chain.Rotate(rotateAt.Add(time.Second))
	if len(pcm2) != 2 {
		t.Errorf("Expected 2 bytes in second segment, got %d", len(pcm2))
	}
	if !startedAt2.Equal(rotateAt) {
		t.Errorf("Expected second window start %v, got %v", rotateAt, startedAt2)
	}
}

// Every written byte must land in exactly one segment even when writes race
// with rotations.
func TestSinkChainCutoverLosesNoBytes(t *testing.T) {
	chain := NewSinkChain(time.Now())

	const writers = 4
	const framesPerWriter = 500
	frame := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	var collected sync.Mutex
	total := 0

	stop := make(chan struct{})
	var rotator sync.WaitGroup

	// Rotate concurrently with writes
	rotator.Add(1)
	go func() {
		defer rotator.Done()
		for {
			select {
			case <-stop:
				return
			default:
				pcm, _ := chain.Rotate(time.Now())
				collected.Lock()
				total += len(pcm)
				collected.Unlock()
			}
		}
	}()

	var writersWG sync.WaitGroup
	for w := 0; w < writers; w++ {
		writersWG.Add(1)
		go func() {
			defer writersWG.Done()
			for i := 0; i < framesPerWriter; i++ {
				chain.Write(frame)
			}
		}()
	}

	writersWG.Wait()
	close(stop)
	rotator.Wait()

	// Flush whatever is left in the live sink
	pcm, _ := chain.Rotate(time.Now())
	total += len(pcm)

	want := writers * framesPerWriter * len(frame)
	if total != want {
		t.Errorf("Expected %d total bytes across segments, got %d", want, total)
	}
}
