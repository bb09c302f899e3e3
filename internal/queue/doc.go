// Package queue persists offline actions and exposes helpers for driving their
// lifecycle.
//
// Actions are writes the fleet application could not send while offline: an
// inspection form, a photo upload, a radio perception report. The Store keeps
// them as one ordered JSON list under a single key of a kvstore.Backend and
// rewrites the whole list on every mutation. Insertion order is processing
// order; the queue never reorders by type or priority and never deduplicates.
//
// Status bookkeeping mirrors the processor's state machine:
//
//	pending -> processing -> completed
//	                      \-> failed -> processing (retry)
//
// RetryCount only grows, and only on entry to failed. Treat this package as
// the single source of truth for queue semantics; the processor package drives
// transitions but never touches storage directly.
package queue
