package ir

import (
	"time"

	"github.com/google/uuid"
)

// Message is an immutable record in the shared event stream.
type Message struct {
	Metadata Metadata
	Payload  Payload
}

// Metadata carries identity, provenance and flow for a message.
type Metadata struct {
	// ID is globally unique and generated by the originator. It is kept when a
	// message moves from Requested to Processed.
	ID uuid.UUID `json:"id"`

	// Timestamp is wall-clock creation time. Never used for ordering.
	Timestamp time.Time `json:"timestamp"`

	// OriginChain lists the services that created or touched the message, in
	// order. The first entry is the creator.
	OriginChain []Service `json:"origin_chain"`

	Flow Flow `json:"flow"`
}

// Creator returns the service that created the message, or "" when the
// origin chain is empty.
func (m Metadata) Creator() Service {
	if len(m.OriginChain) == 0 {
		return ""
	}
	return m.OriginChain[0]
}

// ID is shorthand for m.Metadata.ID.
func (m Message) ID() uuid.UUID { return m.Metadata.ID }

// Flow is shorthand for m.Metadata.Flow.
func (m Message) Flow() Flow { return m.Metadata.Flow }

// Kind returns the payload kind, or "" for a nil payload.
func (m Message) Kind() PayloadKind {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Kind()
}

// IsHandshake reports whether the message carries InitiatedConnection.
func (m Message) IsHandshake() bool {
	return m.Payload != nil && IsHandshake(m.Payload)
}

// WithFlow returns a copy of m with its flow replaced.
func (m Message) WithFlow(f Flow) Message {
	out := m.clone()
	out.Metadata.Flow = f
	return out
}

// Stamped returns a copy of m with s appended to the origin chain.
func (m Message) Stamped(s Service) Message {
	out := m.clone()
	out.Metadata.OriginChain = append(out.Metadata.OriginChain, s)
	return out
}

// clone copies the origin chain so appends on the copy never alias the
// original's backing array.
func (m Message) clone() Message {
	out := m
	out.Metadata.OriginChain = append([]Service(nil), m.Metadata.OriginChain...)
	return out
}

// NewMessage builds a message with the given identity and body.
func NewMessage(id uuid.UUID, at time.Time, flow Flow, payload Payload, origin ...Service) Message {
	return Message{
		Metadata: Metadata{
			ID:          id,
			Timestamp:   at.UTC(),
			OriginChain: append([]Service(nil), origin...),
			Flow:        flow,
		},
		Payload: payload,
	}
}

// NewHandshake builds the Requested/InitiatedConnection message that opens
// every connection. knownIDs is copied; a nil slice encodes as an empty list.
func NewHandshake(id uuid.UUID, at time.Time, self Service, knownIDs []uuid.UUID) Message {
	known := make([]uuid.UUID, len(knownIDs))
	copy(known, knownIDs)
	return NewMessage(id, at, Requested(), InitiatedConnection{
		Connection: Connection{LastMessageTime: 0, KnownIDs: known},
	}, self)
}
