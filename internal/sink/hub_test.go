package sink

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bwallxyz/voicemod/internal/capture"
	"github.com/bwallxyz/voicemod/internal/dispatch"
	"github.com/bwallxyz/voicemod/internal/metrics"
)

func testTranscript() *dispatch.Transcript {
	return &dispatch.Transcript{
		UtteranceID: "utt-1",
		Channel:     capture.ChannelContext{SessionID: "sess-1", ChannelID: "chan-1"},
		SpeakerID:   "speaker-1",
		DisplayName: "Alice",
		Text:        "hello world",
		Confidence:  92,
		StartedAt:   time.Now().Add(-2 * time.Second),
		EndedAt:     time.Now(),
	}
}

func testHub(t *testing.T) (*Hub, string) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger, metrics.NewMetrics(prometheus.NewRegistry()))
	t.Cleanup(hub.Close)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForObservers(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ObserverCount() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d observers, have %d", want, hub.ObserverCount())
}

func TestHubBroadcast(t *testing.T) {
	hub, url := testHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}
	defer conn.Close()

	waitForObservers(t, hub, 1)

	if err := hub.Post(testTranscript()); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got dispatch.Transcript
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	if got.Text != "hello world" || got.DisplayName != "Alice" {
		t.Errorf("Unexpected transcript: %+v", got)
	}
	if got.Channel.SessionID != "sess-1" {
		t.Errorf("Expected session sess-1, got %s", got.Channel.SessionID)
	}
}

// Simultaneous broadcasts must serialize through the per-connection writer;
// every message still arrives and nothing panics.
func TestHubConcurrentBroadcasts(t *testing.T) {
	hub, url := testHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}
	defer conn.Close()

	waitForObservers(t, hub, 1)

	const posts = 16
	var wg sync.WaitGroup
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hub.Post(testTranscript()); err != nil {
				t.Errorf("Post failed: %v", err)
			}
		}()
	}
	wg.Wait()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < posts; i++ {
		var got dispatch.Transcript
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("Failed to read broadcast %d: %v", i, err)
		}
		if got.Text != "hello world" {
			t.Fatalf("Broadcast %d corrupted: %+v", i, got)
		}
	}
}

// Every connect/disconnect cycle must release both per-connection goroutines.
func TestHubObserverChurnReleasesGoroutines(t *testing.T) {
	hub, url := testHub(t)

	before := runtime.NumGoroutine()

	for i := 0; i < 20; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("Cycle %d: failed to dial hub: %v", i, err)
		}
		waitForObservers(t, hub, 1)
		conn.Close()
		waitForObservers(t, hub, 0)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= before+2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Goroutines leaked across observer churn: before=%d after=%d",
		before, runtime.NumGoroutine())
}

func TestHubDropsDisconnectedObservers(t *testing.T) {
	hub, url := testHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}

	waitForObservers(t, hub, 1)

	conn.Close()
	waitForObservers(t, hub, 0)

	// Posting with no observers still succeeds
	if err := hub.Post(testTranscript()); err != nil {
		t.Errorf("Post without observers failed: %v", err)
	}
}

func TestHubCloseRefusesNewObservers(t *testing.T) {
	hub, url := testHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial hub: %v", err)
	}
	defer conn.Close()

	waitForObservers(t, hub, 1)
	hub.Close()

	if hub.ObserverCount() != 0 {
		t.Errorf("Expected 0 observers after close, got %d", hub.ObserverCount())
	}
}

func TestLogSink(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	s := NewLogSink(logger)
	if err := s.Post(testTranscript()); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	if !strings.Contains(buf.String(), "Alice: hello world") {
		t.Errorf("Expected rendered line in log output, got %q", buf.String())
	}
}

type failingSink struct{ err error }

func (f *failingSink) Post(*dispatch.Transcript) error { return f.err }

type countingSink struct{ posts int }

func (c *countingSink) Post(*dispatch.Transcript) error {
	c.posts++
	return nil
}

func TestMultiSinkDeliversToAll(t *testing.T) {
	first := &countingSink{}
	second := &countingSink{}

	m := Multi{first, second}
	if err := m.Post(testTranscript()); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	if first.posts != 1 || second.posts != 1 {
		t.Errorf("Expected both sinks to receive the transcript, got %d and %d",
			first.posts, second.posts)
	}
}

func TestMultiSinkContinuesPastFailure(t *testing.T) {
	failed := &failingSink{err: fmt.Errorf("observer gone")}
	healthy := &countingSink{}

	m := Multi{failed, healthy}
	err := m.Post(testTranscript())

	if err == nil {
		t.Error("Expected the failure to be reported")
	}
	if healthy.posts != 1 {
		t.Errorf("Expected delivery to continue past the failure, got %d posts", healthy.posts)
	}
}
