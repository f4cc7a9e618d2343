// Package codec implements the per-speaker decode chain. Compressed frames
// from the media session are decoded to linear PCM-16, optionally resampled
// to the transcription provider's rate, and pushed into the current
// utterance sink.
package codec
