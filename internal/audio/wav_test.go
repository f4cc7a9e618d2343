package audio

import (
	"bytes"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	// One second of 16kHz mono PCM-16
	pcm := make([]byte, 32000)
	for i := range pcm {
		pcm[i] = byte(i % 256)
	}

	wav, err := EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}

	if len(wav) != 44+len(pcm) {
		t.Errorf("Expected WAV size %d, got %d", 44+len(pcm), len(wav))
	}

	if string(wav[0:4]) != "RIFF" {
		t.Error("Missing RIFF marker")
	}
	if string(wav[8:12]) != "WAVE" {
		t.Error("Missing WAVE marker")
	}

	decoded, rate, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("Failed to decode WAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Error("Decoded PCM does not match input")
	}
}

func TestEncodeWAVValidation(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
		channels   int
	}{
		{"empty data", nil, 16000, 1},
		{"odd length", []byte{1, 2, 3}, 16000, 1},
		{"zero sample rate", []byte{1, 2}, 0, 1},
		{"zero channels", []byte{1, 2}, 16000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.pcm, tt.sampleRate, tt.channels); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestDecodeWAVValidation(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("too short")); err == nil {
		t.Error("Expected error for truncated data")
	}

	junk := make([]byte, 64)
	copy(junk, "JUNKdata")
	if _, _, err := DecodeWAV(junk); err == nil {
		t.Error("Expected error for non-RIFF data")
	}
}

// A header claiming more audio than the payload carries must be rejected,
// never zero-padded.
func TestDecodeWAVOversizedDataChunk(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	wav, err := EncodeWAV(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}

	// Payload cut short of what the header declares
	if _, _, err := DecodeWAV(wav[:len(wav)-4]); err == nil {
		t.Error("Expected error for truncated payload")
	}

	// Header inflated far past the payload
	inflated := make([]byte, len(wav))
	copy(inflated, wav)
	inflated[40] = 0xff
	inflated[41] = 0xff
	inflated[42] = 0xff
	inflated[43] = 0x7f
	if _, _, err := DecodeWAV(inflated); err == nil {
		t.Error("Expected error for oversized data chunk")
	}
}

func TestWAVDuration(t *testing.T) {
	// Two seconds of 8kHz mono PCM-16
	pcm := make([]byte, 32000)
	wav, err := EncodeWAV(pcm, 8000, 1)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}

	duration, err := WAVDuration(wav)
	if err != nil {
		t.Fatalf("Failed to compute duration: %v", err)
	}

	if duration != 2.0 {
		t.Errorf("Expected duration 2.0s, got %f", duration)
	}
}
