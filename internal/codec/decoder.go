package codec

import (
	"encoding/binary"
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// Decoder converts one opaque compressed frame into little-endian PCM-16
// bytes. Implementations are owned by a single chain and are not safe for
// concurrent use.
type Decoder interface {
	Decode(frame []byte) ([]byte, error)
}

// maxFrameSamples covers a 120ms opus frame at 48kHz mono
const maxFrameSamples = 5760

// OpusDecoder decodes opus frames as delivered by voice transports
type OpusDecoder struct {
	dec *opus.Decoder
	pcm []int16
	out []byte
}

// NewOpusDecoder creates a mono opus decoder for the given sample rate
func NewOpusDecoder(sampleRate int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		dec: dec,
		pcm: make([]int16, maxFrameSamples),
		out: make([]byte, 0, maxFrameSamples*2),
	}, nil
}

// Decode decodes one opus frame. Empty frames (DTX) yield no output.
func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, nil // DTX packet
	}

	n, err := d.dec.Decode(frame, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	if n == 0 {
		return nil, nil
	}

	if cap(d.out) < n*2 {
		d.out = make([]byte, 0, n*2)
	}
	out := d.out[:n*2]
	for i, sample := range d.pcm[:n] {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}

	// Copy out of the reused buffer; downstream retains the slice.
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

// PCMDecoder passes already-decoded PCM-16 frames through unchanged.
// Used when the media session delivers raw linear PCM.
type PCMDecoder struct{}

// NewPCMDecoder creates a passthrough decoder
func NewPCMDecoder() *PCMDecoder {
	return &PCMDecoder{}
}

// Decode validates and returns the frame as-is
func (d *PCMDecoder) Decode(frame []byte) ([]byte, error) {
	if len(frame)%2 != 0 {
		return nil, fmt.Errorf("PCM-16 frame length must be even, got %d bytes", len(frame))
	}

	return frame, nil
}
