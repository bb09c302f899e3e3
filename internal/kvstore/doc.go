// Package kvstore provides the durable key-value backends that hold the
// offline queue.
//
// The queue stores its whole action list as one string value under one key,
// so a backend only needs Get, Set, and Delete. SQLite is the default and
// keeps the queue in a single file under the data directory; Postgres lets a
// depot share one database; the in-memory backend serves tests and
// throwaway runs.
package kvstore
