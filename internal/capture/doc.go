// Package capture owns the per-session, per-speaker audio capture
// pipelines: the registry of active sessions, the speaker pipeline with its
// decode chain and segmenter, and the stream health watchdog that drives
// bounded recovery. All cross-pipeline state lives in the registry; each
// pipeline is mutated only by its own frame loop, watchdog, or recovery
// routine, guarded by a generation counter against stale callbacks.
package capture
