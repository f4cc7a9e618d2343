package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestReady(t *testing.T) {
	var nilStore *Store
	if nilStore.Ready() {
		t.Error("Expected nil store to report not ready")
	}

	s := testStore(t)
	if !s.Ready() {
		t.Error("Expected open store to report ready")
	}
}

func TestFindOrCreateSpeaker(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec, err := s.FindOrCreateSpeaker(ctx, "speaker-1", "Alice")
	if err != nil {
		t.Fatalf("Failed to create speaker: %v", err)
	}

	if rec.SpeakerID != "speaker-1" || rec.DisplayName != "Alice" {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if rec.RowID == 0 {
		t.Error("Expected a row ID to be assigned")
	}

	// Second call finds the same row
	again, err := s.FindOrCreateSpeaker(ctx, "speaker-1", "Alice")
	if err != nil {
		t.Fatalf("Failed to find speaker: %v", err)
	}
	if again.RowID != rec.RowID {
		t.Errorf("Expected row ID %d, got %d", rec.RowID, again.RowID)
	}

	// Renames refresh the stored display name
	renamed, err := s.FindOrCreateSpeaker(ctx, "speaker-1", "Alice B")
	if err != nil {
		t.Fatalf("Failed to update speaker: %v", err)
	}
	if renamed.RowID != rec.RowID {
		t.Errorf("Expected rename to keep row ID %d, got %d", rec.RowID, renamed.RowID)
	}
	if renamed.DisplayName != "Alice B" {
		t.Errorf("Expected refreshed display name, got %s", renamed.DisplayName)
	}
}

func TestAppendAndQueryUtterances(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec, err := s.FindOrCreateSpeaker(ctx, "speaker-1", "Alice")
	if err != nil {
		t.Fatalf("Failed to create speaker: %v", err)
	}

	base := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	// Insert out of timeline order
	for i, offset := range []time.Duration{10 * time.Second, 0, 5 * time.Second} {
		data := UtteranceData{
			ID:          []string{"utt-c", "utt-a", "utt-b"}[i],
			SessionID:   "sess-1",
			ServerID:    "srv-1",
			ServerName:  "Test Server",
			ChannelID:   "chan-1",
			ChannelName: "general",
			StartedAt:   base.Add(offset),
			EndedAt:     base.Add(offset + 2*time.Second),
			Text:        "utterance " + []string{"three", "one", "two"}[i],
			Confidence:  90,
			AudioBytes:  32044,
		}
		if err := s.AppendUtterance(ctx, rec, data); err != nil {
			t.Fatalf("Failed to append utterance: %v", err)
		}
	}

	got, err := s.UtterancesForSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Failed to query utterances: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("Expected 3 utterances, got %d", len(got))
	}

	// Timeline order regardless of insert order
	wantOrder := []string{"utt-a", "utt-b", "utt-c"}
	for i, want := range wantOrder {
		if got[i].ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, got[i].ID)
		}
	}

	first := got[0]
	if first.Text != "utterance one" {
		t.Errorf("Expected text 'utterance one', got %q", first.Text)
	}
	if first.ServerName != "Test Server" || first.ChannelName != "general" {
		t.Errorf("Unexpected channel context: %+v", first)
	}
	if first.StartedAt.Sub(base) > time.Millisecond || base.Sub(first.StartedAt) > time.Millisecond {
		t.Errorf("Expected start near %v, got %v", base, first.StartedAt)
	}

	// Other sessions stay invisible
	other, err := s.UtterancesForSession(ctx, "sess-2")
	if err != nil {
		t.Fatalf("Failed to query empty session: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no utterances for other session, got %d", len(other))
	}
}

func TestAppendUtteranceRequiresSpeaker(t *testing.T) {
	s := testStore(t)

	err := s.AppendUtterance(context.Background(), nil, UtteranceData{ID: "utt-1"})
	if err == nil {
		t.Error("Expected error for missing speaker record")
	}
}
