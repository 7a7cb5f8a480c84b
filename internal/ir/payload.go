package ir

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PayloadKind tags a payload variant on the wire.
type PayloadKind string

// Payload kinds, one per variant.
const (
	// KindInitiatedConnection tags the handshake.
	KindInitiatedConnection PayloadKind = "initiated_connection"
	// KindEntityCreated tags EntityCreated.
	KindEntityCreated PayloadKind = "entity_created"
	// KindEntityUpdated tags EntityUpdated.
	KindEntityUpdated PayloadKind = "entity_updated"
	// KindEntityDeleted tags EntityDeleted.
	KindEntityDeleted PayloadKind = "entity_deleted"
	// KindIdentifierAdded tags IdentifierAdded.
	KindIdentifierAdded PayloadKind = "identifier_added"
	// KindIdentifierRemoved tags IdentifierRemoved.
	KindIdentifierRemoved PayloadKind = "identifier_removed"
	// KindIdentifierTypeAdded tags IdentifierTypeAdded.
	KindIdentifierTypeAdded PayloadKind = "identifier_type_added"
	// KindIdentifierTypeRemoved tags IdentifierTypeRemoved.
	KindIdentifierTypeRemoved PayloadKind = "identifier_type_removed"
)

// AllPayloadKinds returns every payload kind in declaration order.
func AllPayloadKinds() []PayloadKind {
	return []PayloadKind{
		KindInitiatedConnection,
		KindEntityCreated,
		KindEntityUpdated,
		KindEntityDeleted,
		KindIdentifierAdded,
		KindIdentifierRemoved,
		KindIdentifierTypeAdded,
		KindIdentifierTypeRemoved,
	}
}

// ParsePayloadKind validates a kind name.
func ParsePayloadKind(raw string) (PayloadKind, error) {
	k := PayloadKind(raw)
	for _, known := range AllPayloadKinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown payload kind %q", raw)
}

// Payload is the closed set of message bodies. The unexported marker method
// keeps implementations inside this package.
type Payload interface {
	Kind() PayloadKind
	isPayload()
}

// Connection is the handshake body. It tells the store what this client
// already holds so that only the gap is replayed.
type Connection struct {
	LastMessageTime int64       `json:"last_message_time"`
	KnownIDs        []uuid.UUID `json:"known_ids"`
}

// InitiatedConnection is the control payload used only during the handshake.
type InitiatedConnection struct {
	Connection
}

// EntityCreated announces a new entity with its initial attributes.
type EntityCreated struct {
	Entity     string            `json:"entity"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// EntityUpdated replaces attributes on an existing entity.
type EntityUpdated struct {
	Entity     string            `json:"entity"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// EntityDeleted removes an entity.
type EntityDeleted struct {
	Entity string `json:"entity"`
}

// IdentifierAdded attaches an identifier of a given type to an entity.
type IdentifierAdded struct {
	Entity         string `json:"entity"`
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifier_type"`
}

// IdentifierRemoved detaches an identifier from an entity.
type IdentifierRemoved struct {
	Entity         string `json:"entity"`
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifier_type"`
}

// IdentifierTypeAdded registers a new identifier type.
type IdentifierTypeAdded struct {
	Name string `json:"name"`
}

// IdentifierTypeRemoved retires an identifier type.
type IdentifierTypeRemoved struct {
	Name string `json:"name"`
}

func (InitiatedConnection) Kind() PayloadKind   { return KindInitiatedConnection }
func (EntityCreated) Kind() PayloadKind         { return KindEntityCreated }
func (EntityUpdated) Kind() PayloadKind         { return KindEntityUpdated }
func (EntityDeleted) Kind() PayloadKind         { return KindEntityDeleted }
func (IdentifierAdded) Kind() PayloadKind       { return KindIdentifierAdded }
func (IdentifierRemoved) Kind() PayloadKind     { return KindIdentifierRemoved }
func (IdentifierTypeAdded) Kind() PayloadKind   { return KindIdentifierTypeAdded }
func (IdentifierTypeRemoved) Kind() PayloadKind { return KindIdentifierTypeRemoved }

func (InitiatedConnection) isPayload()   {}
func (EntityCreated) isPayload()         {}
func (EntityUpdated) isPayload()         {}
func (EntityDeleted) isPayload()         {}
func (IdentifierAdded) isPayload()       {}
func (IdentifierRemoved) isPayload()     {}
func (IdentifierTypeAdded) isPayload()   {}
func (IdentifierTypeRemoved) isPayload() {}

// IsHandshake reports whether p is the InitiatedConnection control payload.
func IsHandshake(p Payload) bool {
	_, ok := p.(InitiatedConnection)
	return ok
}

type payloadJSON struct {
	Kind PayloadKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func marshalPayload(p Payload) (payloadJSON, error) {
	if p == nil {
		return payloadJSON{}, fmt.Errorf("payload is nil")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return payloadJSON{}, fmt.Errorf("payload %s: %w", p.Kind(), err)
	}
	return payloadJSON{Kind: p.Kind(), Data: data}, nil
}

func unmarshalPayload(raw payloadJSON) (Payload, error) {
	if len(raw.Data) == 0 {
		return nil, fmt.Errorf("payload %s: missing data", raw.Kind)
	}
	switch raw.Kind {
	case KindInitiatedConnection:
		return decodeVariant[InitiatedConnection](raw)
	case KindEntityCreated:
		return decodeVariant[EntityCreated](raw)
	case KindEntityUpdated:
		return decodeVariant[EntityUpdated](raw)
	case KindEntityDeleted:
		return decodeVariant[EntityDeleted](raw)
	case KindIdentifierAdded:
		return decodeVariant[IdentifierAdded](raw)
	case KindIdentifierRemoved:
		return decodeVariant[IdentifierRemoved](raw)
	case KindIdentifierTypeAdded:
		return decodeVariant[IdentifierTypeAdded](raw)
	case KindIdentifierTypeRemoved:
		return decodeVariant[IdentifierTypeRemoved](raw)
	default:
		return nil, fmt.Errorf("unknown payload kind %q", raw.Kind)
	}
}

func decodeVariant[T Payload](raw payloadJSON) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw.Data, &v); err != nil {
		return nil, fmt.Errorf("payload %s: %w", raw.Kind, err)
	}
	return v, nil
}
