package capture

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

type fakeConnector struct {
	mu       sync.Mutex
	connects int
	failErr  error
}

func (c *fakeConnector) Connect(ChannelContext) (MediaSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connects++
	if c.failErr != nil {
		return nil, c.failErr
	}
	return &fakeMedia{}, nil
}

func testRegistry() *Registry {
	return NewRegistry(testPipelineConfig(), &fakeConnector{}, &fakeDispatcher{},
		testLogger(), testMetrics())
}

func TestStartSessionConflict(t *testing.T) {
	r := testRegistry()
	defer r.Stop()

	channel := testChannel()
	if _, err := r.StartSession(channel); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	if _, err := r.StartSession(channel); !errors.Is(err, ErrSessionExists) {
		t.Errorf("Expected ErrSessionExists, got %v", err)
	}

	// The original session is untouched by the conflict
	if !r.SessionActive(channel.SessionID) {
		t.Error("Expected original session to remain active")
	}
}

func TestStartSessionConnectFailure(t *testing.T) {
	connector := &fakeConnector{failErr: fmt.Errorf("voice gateway unreachable")}
	r := NewRegistry(testPipelineConfig(), connector, &fakeDispatcher{},
		testLogger(), testMetrics())
	defer r.Stop()

	channel := testChannel()
	if _, err := r.StartSession(channel); err == nil {
		t.Fatal("Expected connect error")
	}

	// The failed start releases the session slot
	connector.failErr = nil
	if _, err := r.StartSession(channel); err != nil {
		t.Errorf("Expected retry to succeed, got %v", err)
	}
}

func TestStopSession(t *testing.T) {
	r := testRegistry()
	defer r.Stop()

	channel := testChannel()
	if _, err := r.StartSession(channel); err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	if err := r.StopSession(channel.SessionID); err != nil {
		t.Errorf("Failed to stop session: %v", err)
	}

	if r.SessionActive(channel.SessionID) {
		t.Error("Expected session to be inactive after stop")
	}

	if err := r.StopSession(channel.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionsOrdering(t *testing.T) {
	r := testRegistry()
	defer r.Stop()

	for _, id := range []string{"sess-c", "sess-a", "sess-b"} {
		if _, err := r.StartSession(ChannelContext{SessionID: id, ChannelID: "chan-1"}); err != nil {
			t.Fatalf("Failed to start session %s: %v", id, err)
		}
	}

	sessions := r.Sessions()
	if len(sessions) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(sessions))
	}

	want := []string{"sess-a", "sess-b", "sess-c"}
	for i, s := range sessions {
		if s.ID() != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], s.ID())
		}
	}
}

func TestAddSpeakerIdempotent(t *testing.T) {
	r := testRegistry()
	defer r.Stop()

	session, err := r.StartSession(testChannel())
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	first, err := session.AddSpeaker("speaker-1", "Alice")
	if err != nil {
		t.Fatalf("Failed to add speaker: %v", err)
	}

	second, err := session.AddSpeaker("speaker-1", "Alice")
	if err != nil {
		t.Fatalf("Second add failed: %v", err)
	}

	if first != second {
		t.Error("Expected the same pipeline for a repeated speaker")
	}
	if session.SpeakerCount() != 1 {
		t.Errorf("Expected 1 pipeline, got %d", session.SpeakerCount())
	}
}

// Concurrent adds for one speaker must never create two pipelines.
func TestConcurrentAddSpeaker(t *testing.T) {
	r := testRegistry()
	defer r.Stop()

	session, err := r.StartSession(testChannel())
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	const goroutines = 16
	pipelines := make([]*SpeakerPipeline, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := session.AddSpeaker("speaker-1", "Alice")
			if err != nil {
				t.Errorf("AddSpeaker failed: %v", err)
				return
			}
			pipelines[i] = p
		}(i)
	}
	wg.Wait()

	if session.SpeakerCount() != 1 {
		t.Fatalf("Expected exactly one pipeline, got %d", session.SpeakerCount())
	}

	for i := 1; i < goroutines; i++ {
		if pipelines[i] != pipelines[0] {
			t.Fatal("Expected every caller to see the same pipeline")
		}
	}
}

func TestRemoveSpeaker(t *testing.T) {
	r := testRegistry()
	defer r.Stop()

	session, err := r.StartSession(testChannel())
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	p, err := session.AddSpeaker("speaker-1", "Alice")
	if err != nil {
		t.Fatalf("Failed to add speaker: %v", err)
	}

	if !session.RemoveSpeaker("speaker-1") {
		t.Error("Expected removal to succeed")
	}
	if p.State() != StateStopped {
		t.Errorf("Expected stopped pipeline, got %s", p.State())
	}

	if session.RemoveSpeaker("speaker-1") {
		t.Error("Expected second removal to report missing speaker")
	}

	// The speaker can be re-added with a fresh pipeline
	p2, err := session.AddSpeaker("speaker-1", "Alice")
	if err != nil {
		t.Fatalf("Failed to re-add speaker: %v", err)
	}
	if p2 == p {
		t.Error("Expected a fresh pipeline after removal")
	}
}

func TestSessionStopUnwindsPipelines(t *testing.T) {
	r := testRegistry()

	session, err := r.StartSession(testChannel())
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	p1, _ := session.AddSpeaker("speaker-1", "Alice")
	p2, _ := session.AddSpeaker("speaker-2", "Bob")

	if err := r.StopSession(session.ID()); err != nil {
		t.Fatalf("Failed to stop session: %v", err)
	}

	if p1.State() != StateStopped || p2.State() != StateStopped {
		t.Error("Expected all pipelines to be stopped with the session")
	}

	if _, err := session.AddSpeaker("speaker-3", "Carol"); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("Expected ErrSessionStopped, got %v", err)
	}
}

func TestSessionInfo(t *testing.T) {
	r := testRegistry()
	defer r.Stop()

	session, err := r.StartSession(testChannel())
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}

	session.AddSpeaker("speaker-b", "Bob")
	session.AddSpeaker("speaker-a", "Alice")

	info := session.Info()
	if info.Channel.SessionID != "sess-1" {
		t.Errorf("Expected session sess-1, got %s", info.Channel.SessionID)
	}
	if len(info.Speakers) != 2 {
		t.Fatalf("Expected 2 speakers, got %d", len(info.Speakers))
	}
	// Speakers are reported in stable order
	if info.Speakers[0].SpeakerID != "speaker-a" || info.Speakers[1].SpeakerID != "speaker-b" {
		t.Errorf("Unexpected speaker order: %s, %s",
			info.Speakers[0].SpeakerID, info.Speakers[1].SpeakerID)
	}
	if info.Speakers[0].State != "running" {
		t.Errorf("Expected running state, got %s", info.Speakers[0].State)
	}
}
