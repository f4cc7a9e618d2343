// Package transcription implements the HTTP client for the speech-to-text
// provider. It sends multipart form requests carrying one WAV payload plus
// utterance metadata and enforces per-request concurrency limits. Requests
// are single-shot: retry policy belongs to the dispatcher's fallback path,
// not this client.
package transcription
