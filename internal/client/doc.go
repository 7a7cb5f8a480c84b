// Package client keeps the local replica synchronized with the store.
//
// # Lifecycle
//
//	Start: replay log → tracker      (no network)
//	       re-drive recoverable requests to the worker
//	Run:   loop {
//	         dial ──fail──────────────────────────┐
//	         handshake, flush unsent results      │
//	         session { receive ∥ worker } ──end───┤
//	                                              ▼
//	                                  sleep Backoff.Failure(now)
//	       }
//
// Run ends only when its context is cancelled. Every other failure, whether
// a refused dial, a closed socket or a failed append, ends the current
// session and leads to the next attempt.
//
// # Session
//
// The receive task reads frames, decodes them, offers each message to the
// tracker's dedup gate and publishes admitted messages on the broadcast. The
// worker task reads its own subscription of that broadcast, runs eligible
// requests through the pipeline and transmits the results.
//
// The worker's subscription belongs to the Client, not to the session, so a
// message admitted just before a disconnect is still processed after the
// next handshake.
package client
