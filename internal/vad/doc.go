// Package vad provides silence-gap voice activity segmentation.
// It classifies per-speaker PCM frames as active or silent using a
// stride-sampled byte heuristic and cuts the stream into utterances when a
// silence run exceeds the configured threshold.
package vad
