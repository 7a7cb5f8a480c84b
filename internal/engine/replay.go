package engine

import (
	"context"
	"fmt"

	"github.com/roach88/replica/internal/ir"
)

// # Replay and Resumability
//
// Replay is not a special mode. At startup every record in the persistent log
// passes the dedup gate and is folded through Update, the same path live
// traffic uses, so the state after replay is the state the process had when it
// last appended.
//
// ## Why Replay is Idempotent
//
// Every record in the log already passed the gate once. Replaying it again into
// the same tracker finds each Requested and Processed id seen and drops it, so
// replaying a log twice yields the same State as replaying it once.
//
// ## Crash Windows
//
//	receive: append → fold → publish
//	  crash after append: replay folds it; the store will not resend it because
//	  the next handshake lists it in known_ids. If it is an eligible request the
//	  client re-drives it to the worker (Recoverable).
//
//	worker: commit(append → fold) → transmit
//	  crash after append: the result is durable and folded on replay, so the
//	  request is no longer pending and is never processed again.

// LogReader is the read side of the persistent log.
type LogReader interface {
	Replay(ctx context.Context, fn func(ir.Message) error) error
}

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Records   int `json:"records"`
	Skipped   int `json:"skipped"`
	Requested int `json:"requested"`
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Pending   int `json:"pending"`
	Seen      int `json:"seen"`
}

// Replay folds every record of log into t. No network activity happens here.
func Replay(ctx context.Context, log LogReader, t *Tracker) (ReplayStats, error) {
	var stats ReplayStats
	err := log.Replay(ctx, func(m ir.Message) error {
		stats.Records++
		switch m.Flow().Type {
		case ir.FlowRequested:
			stats.Requested++
		case ir.FlowProcessed:
			stats.Processed++
		case ir.FlowError:
			stats.Errors++
		}
		if !t.Restore(m) {
			stats.Skipped++
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("replay: %w", err)
	}
	snap := t.Snapshot()
	stats.Pending = len(snap.PendingIDs)
	stats.Seen = len(snap.SeenIDs)
	return stats, nil
}

// ReplayState folds log into a fresh State and returns it.
func ReplayState(ctx context.Context, log LogReader) (State, ReplayStats, error) {
	t := NewTracker()
	stats, err := Replay(ctx, log, t)
	if err != nil {
		return State{}, stats, err
	}
	return t.State(), stats, nil
}

// Recoverable lists pending requests the pipeline would answer. After a
// restart these have been logged and folded but no result was ever logged for
// them, so the worker must see them again. Ignored kinds stay pending by
// design and are not re-driven.
func Recoverable(t *Tracker, p *Pipeline) []ir.Message {
	var out []ir.Message
	for _, m := range t.Pending() {
		if p.Eligible(m) && !p.Ignores(m.Kind()) {
			out = append(out, m)
		}
	}
	return out
}
