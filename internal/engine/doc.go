// Package engine implements the replica synchronization core.
//
// The engine owns the in-memory view of the shared event log and the decisions
// made on every message, independent of any socket or file:
//
//	[frame] → ir.Decode → Tracker.Admit ──(persist, Update)──→ Broadcast.Publish
//	                                                               ↓
//	                                   Subscription.Next → Pipeline.Process
//	                                                               ↓
//	                                        Tracker.Commit ──(persist, Update)──→ transmit
//
// SINGLE FOLD:
// Update is the only function that changes pending/seen. Replay at startup and
// live traffic both go through it, so state reconstructed from the log equals the
// state the process had before it stopped.
//
// SHARED STATE:
// Tracker holds the one State for the process behind a mutex. Every read and
// write is exclusive ("take, compute, put"). The dedup check, the log append
// and the fold for one message happen inside a single critical section, so the
// receive task and the worker task can never both act on the same id.
//
// ORDERING:
// Broadcast delivers to every subscriber in publication order. There is one
// producer (the receive task) and, in the client, one consumer (the worker).
package engine
