// Package audio handles PCM accumulation and container encoding.
// It implements the per-utterance sink with loss-free rotation at utterance
// boundaries and encoding of linear PCM-16 into WAV for transcription upload.
package audio
