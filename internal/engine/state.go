package engine

import (
	"bytes"
	"iter"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/replica/internal/ir"
)

// State is the tracker's view of the shared log.
//
// INVARIANTS:
//   - Seen only grows; an id is never removed once inserted
//   - Pending holds exactly the Requested messages with no Processed for the same id
//   - the InitiatedConnection control payload never enters Pending
type State struct {
	Pending            map[uuid.UUID]ir.Message
	Seen               map[uuid.UUID]struct{}
	SessionEstablished bool
}

// NewState returns an empty state.
func NewState() State {
	return State{
		Pending: make(map[uuid.UUID]ir.Message),
		Seen:    make(map[uuid.UUID]struct{}),
	}
}

// Update folds one message into s. It is total over every (flow, payload)
// combination and is the same function for replay and live traffic:
//
//	Requested + InitiatedConnection → no change
//	Requested + other               → Pending[id] = m; Seen += id
//	Processed + any                 → delete Pending[id]; Seen += id
//	Error                           → no change
//
// Error does not clear Pending. An upstream failure is expected to be followed
// by a corrective Processed for the same id.
func Update(s *State, m ir.Message) {
	id := m.ID()
	switch m.Flow().Type {
	case ir.FlowRequested:
		if m.IsHandshake() {
			return
		}
		s.Pending[id] = m
		s.Seen[id] = struct{}{}
	case ir.FlowProcessed:
		delete(s.Pending, id)
		s.Seen[id] = struct{}{}
	case ir.FlowError:
	}
}

// HasSeen reports whether id has been folded in.
func (s *State) HasSeen(id uuid.UUID) bool {
	_, ok := s.Seen[id]
	return ok
}

// Clone returns a deep copy of s.
func (s *State) Clone() State {
	return State{
		Pending:            maps.Clone(s.Pending),
		Seen:               maps.Clone(s.Seen),
		SessionEstablished: s.SessionEstablished,
	}
}

// Snapshot is a sorted, comparable summary of a State.
type Snapshot struct {
	PendingIDs         []uuid.UUID `json:"pending_ids"`
	SeenIDs            []uuid.UUID `json:"seen_ids"`
	SessionEstablished bool        `json:"session_established"`
}

// Snapshot summarizes s with ids in byte order.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		PendingIDs:         sortedIDs(maps.Keys(s.Pending)),
		SeenIDs:            sortedIDs(maps.Keys(s.Seen)),
		SessionEstablished: s.SessionEstablished,
	}
}

func sortedIDs(keys iter.Seq[uuid.UUID]) []uuid.UUID {
	ids := slices.Collect(keys)
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return ids
}
