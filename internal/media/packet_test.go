package media

import (
	"bytes"
	"errors"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	frame := []byte{0x10, 0x20, 0x30}

	data, err := EncodePacket("sess-1", "speaker-42", frame)
	if err != nil {
		t.Fatalf("Failed to encode packet: %v", err)
	}

	packet, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("Failed to parse packet: %v", err)
	}

	if packet.SessionID != "sess-1" {
		t.Errorf("Expected session sess-1, got %s", packet.SessionID)
	}
	if packet.SpeakerID != "speaker-42" {
		t.Errorf("Expected speaker speaker-42, got %s", packet.SpeakerID)
	}
	if !bytes.Equal(packet.Frame, frame) {
		t.Error("Frame payload does not match")
	}
}

func TestParsePacketEmptyFrame(t *testing.T) {
	data, err := EncodePacket("s", "u", nil)
	if err != nil {
		t.Fatalf("Failed to encode packet: %v", err)
	}

	packet, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("Failed to parse packet: %v", err)
	}
	if len(packet.Frame) != 0 {
		t.Errorf("Expected empty frame, got %d bytes", len(packet.Frame))
	}
}

func TestParsePacketValidation(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty packet", nil, ErrPacketTooShort},
		{"one byte", []byte{5}, ErrPacketTooShort},
		{"zero session length", []byte{0, 1, 'a'}, ErrEmptyID},
		{"truncated session ID", []byte{10, 'a', 'b'}, ErrPacketTooShort},
		{"zero speaker length", []byte{1, 's', 0}, ErrEmptyID},
		{"truncated speaker ID", []byte{1, 's', 5, 'u'}, ErrPacketTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePacket(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEncodePacketValidation(t *testing.T) {
	if _, err := EncodePacket("", "u", nil); err == nil {
		t.Error("Expected error for empty session ID")
	}
	if _, err := EncodePacket("s", "", nil); err == nil {
		t.Error("Expected error for empty speaker ID")
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := EncodePacket(string(long), "u", nil); err == nil {
		t.Error("Expected error for oversized session ID")
	}
}
