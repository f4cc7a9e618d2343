package media

import (
	"errors"
	"fmt"
)

// Datagram layout:
//
//	[1]  session ID length (1-255)
//	[n]  session ID
//	[1]  speaker ID length (1-255)
//	[m]  speaker ID
//	[k]  frame payload (may be empty for explicit silence)
var (
	ErrPacketTooShort = errors.New("packet too short")
	ErrEmptyID        = errors.New("empty session or speaker ID")
)

// Packet is one parsed media datagram
type Packet struct {
	SessionID string
	SpeakerID string
	Frame     []byte
}

// ParsePacket decodes one datagram. The frame slice references the input
// buffer; callers that retain it must copy first.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 2 {
		return nil, ErrPacketTooShort
	}

	sessLen := int(data[0])
	if sessLen == 0 {
		return nil, ErrEmptyID
	}
	if len(data) < 1+sessLen+1 {
		return nil, fmt.Errorf("%w: need %d bytes for session ID", ErrPacketTooShort, sessLen)
	}
	sessionID := string(data[1 : 1+sessLen])

	off := 1 + sessLen
	spkLen := int(data[off])
	if spkLen == 0 {
		return nil, ErrEmptyID
	}
	if len(data) < off+1+spkLen {
		return nil, fmt.Errorf("%w: need %d bytes for speaker ID", ErrPacketTooShort, spkLen)
	}
	speakerID := string(data[off+1 : off+1+spkLen])

	return &Packet{
		SessionID: sessionID,
		SpeakerID: speakerID,
		Frame:     data[off+1+spkLen:],
	}, nil
}

// EncodePacket builds the wire form of one frame datagram
func EncodePacket(sessionID, speakerID string, frame []byte) ([]byte, error) {
	if sessionID == "" || speakerID == "" {
		return nil, ErrEmptyID
	}
	if len(sessionID) > 255 || len(speakerID) > 255 {
		return nil, fmt.Errorf("session and speaker IDs must fit in 255 bytes")
	}

	buf := make([]byte, 0, 2+len(sessionID)+len(speakerID)+len(frame))
	buf = append(buf, byte(len(sessionID)))
	buf = append(buf, sessionID...)
	buf = append(buf, byte(len(speakerID)))
	buf = append(buf, speakerID...)
	buf = append(buf, frame...)
	return buf, nil
}
