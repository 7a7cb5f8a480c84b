// Package harness runs conformance scenarios against a real sync client.
//
// A scenario plays the store's side of the conversation. The harness starts a
// client.Client over an in-memory testutil.Network, accepts its connection,
// then executes steps in order: sending messages or raw frames, expecting the
// client's next frame, acknowledging the handshake, or dropping the
// connection and checking the handshake of the reconnect. Assertions then
// inspect the persistent log and the tracker.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: duplicate_request
//	description: "A request delivered twice is processed once"
//	log:                  # optional, written to the log before start
//	  - {id: 1, kind: entity_created, data: {entity: user-1}}
//	handshake:            # optional, checks the first handshake
//	  known_ids: [1]
//	steps:
//	  - send: {id: 2, kind: entity_created, data: {entity: user-2}}
//	  - expect: {id: 2, flow: processed}
//	  - raw: "not json"
//	  - ack: true
//	  - reconnect: {known_ids: [1, 2]}
//	assertions:
//	  - type: log_count
//	    count: 4
//	  - type: pending
//	    ids: []
//	  - type: seen
//	    ids: [1, 2]
//	  - type: session_established
//	    established: false
//
// Message ids are small integers mapped onto deterministic UUIDs with
// MessageID. Sent messages default to flow requested and origin [frontend].
//
// # Determinism
//
// The clock is fixed at Epoch, handshake ids come from a sequential generator
// and backoff sleeps return immediately. The trace of frames exchanged is
// therefore stable and can be compared against golden files with
// RunWithGolden.
//
// # Assertion Types
//
//   - log_count: number of records in the log
//   - pending: exact set of pending ids
//   - seen: ids that must be in the seen set
//   - session_established: value of the session flag
//
// Assertions are retried until they hold or the settle timeout expires, since
// the client's receive task may still be folding the last frame.
package harness
