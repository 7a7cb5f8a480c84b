// Package store provides the persistent message log.
//
// The log is an append-only record of every message this client has accepted
// or produced, in the order it accepted or produced them. At startup it is
// replayed through the engine's fold to rebuild the tracker state; nothing
// else ever reads it back.
//
// # Backends
//
//   - FileLog: newline-delimited JSON in the wire encoding. Each append is one
//     write followed by fsync.
//   - SQLiteLog: one row per message in a WAL-mode SQLite database, with a
//     content digest per row.
//
// Both backends store the exact wire encoding produced by ir.Encode, so a log
// written by one can be converted to the other without loss.
//
// # Critical Patterns
//
// Log order is the only order. Replay always yields records in append order
// (line order for FileLog, seq ASC for SQLiteLog), never by timestamp.
//
// The log does not deduplicate. Deciding whether a message is new is the
// tracker's job, and it does so before calling Append.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=FULL: an append is durable when Append returns
//   - busy_timeout=5000: wait for locks up to 5 seconds
package store
