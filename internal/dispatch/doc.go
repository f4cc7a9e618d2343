// Package dispatch routes finalized utterances to the transcription
// provider and fans the results out to storage and the live result sink.
// Path selection is a pure function of storage readiness: a reachable
// store gets the integrated transcribe-and-persist path, an unreachable
// one degrades to provider-only. A failed integrated attempt falls back
// exactly once.
package dispatch
