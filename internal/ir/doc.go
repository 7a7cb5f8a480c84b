// Package ir provides the message representation shared by every replica package.
//
// This package contains type definitions and the JSON wire codec only. All other
// internal packages import ir; ir imports nothing internal. This keeps the data
// model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Messages are values; helpers return modified copies, never mutate
//   - Flow and Payload are closed sums, dispatched with exhaustive switches
//   - All JSON tags use snake_case
//   - Timestamps are wall-clock and informational, never used for ordering
package ir
