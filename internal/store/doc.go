// Package store persists speakers and transcribed utterances to SQLite.
// The store is an optional collaborator: when it is disabled or unreachable
// the dispatcher degrades to provider-only mode, so readiness is queryable.
package store
