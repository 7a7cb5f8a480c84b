package ir

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type messageJSON struct {
	Metadata Metadata    `json:"metadata"`
	Payload  payloadJSON `json:"payload"`
}

// DecodeError reports a frame that could not be turned into a Message.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes a message into one wire frame.
func Encode(m Message) ([]byte, error) {
	payload, err := marshalPayload(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.Metadata.ID, err)
	}
	meta := m.Metadata
	if meta.OriginChain == nil {
		meta.OriginChain = []Service{}
	}
	data, err := json.Marshal(messageJSON{Metadata: meta, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.Metadata.ID, err)
	}
	return data, nil
}

// Decode parses one wire frame. Any failure is returned as *DecodeError and
// no partial message is produced.
func Decode(data []byte) (Message, error) {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, &DecodeError{Err: err}
	}
	if raw.Metadata.ID == uuid.Nil {
		return Message{}, &DecodeError{Err: fmt.Errorf("missing message id")}
	}
	if raw.Metadata.Flow.Type == "" {
		return Message{}, &DecodeError{Err: fmt.Errorf("missing flow")}
	}
	payload, err := unmarshalPayload(raw.Payload)
	if err != nil {
		return Message{}, &DecodeError{Err: err}
	}
	return Message{Metadata: raw.Metadata, Payload: payload}, nil
}
