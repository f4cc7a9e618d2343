package codec

import (
	"bytes"
	"fmt"

	soxr "github.com/zaf/resample"
)

// Sink receives the chain's PCM output. Satisfied by audio.SinkChain.
type Sink interface {
	Write(frame []byte)
}

// Chain is the decode/encode chain for one speaker: compressed frame ->
// decode -> optional resample -> sink. A chain is built fresh on every
// recovery cycle; tearing one down never touches previously finalized
// utterances because those live in sinks already rotated out.
type Chain struct {
	decoder      Decoder
	resampler    *soxr.Resampler
	resamplerBuf *bytes.Buffer
	sink         Sink
	closed       bool
}

// Config describes how to build a chain
type Config struct {
	Decoder    Decoder
	InputRate  int // Hz of decoded PCM
	OutputRate int // Hz expected by the provider; 0 or equal disables resampling
	Sink       Sink
}

// NewChain builds a chain. Construction is idempotent per recovery cycle:
// the chain holds no state shared with any predecessor.
func NewChain(cfg Config) (*Chain, error) {
	if cfg.Decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}

	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}

	c := &Chain{
		decoder: cfg.Decoder,
		sink:    cfg.Sink,
	}

	if cfg.OutputRate > 0 && cfg.OutputRate != cfg.InputRate {
		buf := &bytes.Buffer{}
		rs, err := soxr.New(buf, float64(cfg.InputRate), float64(cfg.OutputRate), 1, soxr.I16, soxr.HighQ)
		if err != nil {
			return nil, fmt.Errorf("failed to create resampler: %w", err)
		}
		c.resampler = rs
		c.resamplerBuf = buf
	}

	return c, nil
}

// Push runs one compressed frame through the chain and returns the PCM
// bytes that reached the sink. A nil return with nil error means the frame
// produced no output (DTX or resampler buffering).
func (c *Chain) Push(frame []byte) ([]byte, error) {
	if c.closed {
		return nil, fmt.Errorf("chain is closed")
	}

	pcm, err := c.decoder.Decode(frame)
	if err != nil {
		return nil, err
	}

	if len(pcm) == 0 {
		return nil, nil
	}

	if c.resampler != nil {
		pcm, err = c.resample(pcm)
		if err != nil {
			return nil, err
		}
		if len(pcm) == 0 {
			return nil, nil
		}
	}

	c.sink.Write(pcm)
	return pcm, nil
}

// resample pushes PCM bytes through the soxr resampler and drains its buffer
func (c *Chain) resample(pcm []byte) ([]byte, error) {
	c.resamplerBuf.Reset()
	if _, err := c.resampler.Write(pcm); err != nil {
		return nil, fmt.Errorf("resampler write: %w", err)
	}

	out := c.resamplerBuf.Bytes()
	if len(out) == 0 {
		return nil, nil
	}

	// Copy: the buffer is reset on the next frame.
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

// Close releases the chain's resources. The chain must not be pushed to
// afterwards; recovery builds a replacement instead of reusing this one.
func (c *Chain) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.resampler != nil {
		if err := c.resampler.Close(); err != nil {
			return fmt.Errorf("failed to close resampler: %w", err)
		}
	}

	return nil
}
