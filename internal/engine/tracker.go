package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/replica/internal/ir"
)

// Admission is the outcome of offering a message to the Tracker.
type Admission int

const (
	// Admitted means the message passed the dedup gate, was persisted and folded.
	Admitted Admission = iota + 1
	// Duplicate means the id was already seen; nothing was persisted or folded.
	Duplicate
	// HandshakeAck means a Processed/InitiatedConnection arrived and the
	// session flag was set. Nothing was persisted or folded.
	HandshakeAck
	// Ignored means an inbound Requested/InitiatedConnection, which is a
	// control message addressed to the store, not to this client.
	Ignored
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	case HandshakeAck:
		return "handshake_ack"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// PersistFunc durably records a message. It runs inside the Tracker's critical
// section, before the fold.
type PersistFunc func(ir.Message) error

// Tracker is the single shared State cell.
//
// Thread-safety: every method takes the same mutex for its whole duration.
// There is no reader/writer split; reads are exclusive too.
type Tracker struct {
	mu    sync.Mutex
	state State
}

// NewTracker creates a tracker with empty state.
func NewTracker() *Tracker {
	return &Tracker{state: NewState()}
}

// Restore folds a record that is already durable. It applies the same dedup
// gate as Admit but persists nothing, so replaying a log into a tracker that
// has already seen it changes nothing. Returns false when m was gated.
func (t *Tracker) Restore(m ir.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.duplicate(m) {
		return false
	}
	Update(&t.state, m)
	return true
}

// Admit runs the receive-path gate for one inbound message.
//
// Data messages that fail the dedup gate are dropped. Anything else is
// persisted and folded. If persist fails the state is left
// untouched and the error is returned.
func (t *Tracker) Admit(m ir.Message, persist PersistFunc) (Admission, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.IsHandshake() {
		switch m.Flow().Type {
		case ir.FlowProcessed:
			t.state.SessionEstablished = true
			return HandshakeAck, nil
		case ir.FlowRequested, ir.FlowError:
			return Ignored, nil
		}
	}

	if t.state.duplicate(m) {
		return Duplicate, nil
	}

	if persist != nil {
		if err := persist(m); err != nil {
			return 0, err
		}
	}
	Update(&t.state, m)
	return Admitted, nil
}

// Commit runs the worker-path gate for a pipeline result.
//
// Results are Processed messages. One is committed when it answers a request
// that is still pending, or when its id has never been seen. Otherwise some
// other path already produced a terminal status for that id.
func (t *Tracker) Commit(m ir.Message, persist PersistFunc) (Admission, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !m.Flow().IsProcessed() {
		return Ignored, nil
	}
	if t.state.duplicate(m) {
		return Duplicate, nil
	}

	if persist != nil {
		if err := persist(m); err != nil {
			return 0, err
		}
	}
	Update(&t.state, m)
	return Admitted, nil
}

// IsPending reports whether id is awaiting a terminal status.
func (t *Tracker) IsPending(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.state.Pending[id]
	return ok
}

// HasSeen reports whether id has been folded in.
func (t *Tracker) HasSeen(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.HasSeen(id)
}

// KnownIDs returns every seen id in byte order, for the handshake.
func (t *Tracker) KnownIDs() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Snapshot().SeenIDs
}

// Pending returns the pending messages ordered by id.
func (t *Tracker) Pending() []ir.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := t.state.Snapshot().PendingIDs
	out := make([]ir.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.state.Pending[id])
	}
	return out
}

// PendingCount returns the number of pending messages.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.state.Pending)
}

// BeginSession clears the session flag for a new connection. The flag is set
// again only when the store acknowledges that connection's handshake.
func (t *Tracker) BeginSession() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.SessionEstablished = false
}

// SessionEstablished reports whether the current connection's handshake has
// been acknowledged.
func (t *Tracker) SessionEstablished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.SessionEstablished
}

// Snapshot returns a sorted summary of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Snapshot()
}

// State returns a deep copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}

// duplicate is the dedup gate shared by both tasks.
//
// A Requested message is a duplicate once its id is seen. A Processed message
// is a duplicate once its id is seen and no longer pending, so a terminal
// status for an outstanding request is always recorded exactly once. Error
// messages are never gated.
func (s *State) duplicate(m ir.Message) bool {
	id := m.ID()
	switch m.Flow().Type {
	case ir.FlowRequested:
		return s.HasSeen(id)
	case ir.FlowProcessed:
		_, pending := s.Pending[id]
		return !pending && s.HasSeen(id)
	case ir.FlowError:
		return false
	}
	return false
}
