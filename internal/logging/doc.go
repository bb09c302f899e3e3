// Package logging assembles structured slog loggers and formatting helpers used
// across fleetsync.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes attribute helpers plus standard field keys so the
// queue, processor, and sync agent tag log lines with action IDs, action
// types, and sync run IDs in the same shape. The package also provides a
// no-op logger for tests and wiring code that cannot fail.
package logging
