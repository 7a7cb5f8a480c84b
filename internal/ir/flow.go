package ir

import (
	"encoding/json"
	"fmt"
)

// FlowType tags the stage a message has reached.
type FlowType string

const (
	// FlowRequested marks a message a client is asking the store to accept.
	FlowRequested FlowType = "requested"
	// FlowProcessed marks a terminal result produced by the store or a peer.
	FlowProcessed FlowType = "processed"
	// FlowError marks a message whose processing failed upstream.
	FlowError FlowType = "error"
)

// Flow is the tagged variant Requested | Processed | Error(reason).
// Reason is only meaningful for FlowError.
type Flow struct {
	Type   FlowType
	Reason string
}

// Requested returns the Requested flow.
func Requested() Flow { return Flow{Type: FlowRequested} }

// Processed returns the Processed flow.
func Processed() Flow { return Flow{Type: FlowProcessed} }

// Failed returns an Error flow carrying reason.
func Failed(reason string) Flow { return Flow{Type: FlowError, Reason: reason} }

// IsRequested reports whether f is Requested.
func (f Flow) IsRequested() bool { return f.Type == FlowRequested }

// IsProcessed reports whether f is Processed.
func (f Flow) IsProcessed() bool { return f.Type == FlowProcessed }

// IsError reports whether f is Error.
func (f Flow) IsError() bool { return f.Type == FlowError }

func (f Flow) String() string {
	if f.Type == FlowError {
		return fmt.Sprintf("error(%s)", f.Reason)
	}
	return string(f.Type)
}

type flowJSON struct {
	Type   FlowType `json:"type"`
	Reason string   `json:"reason,omitempty"`
}

// MarshalJSON encodes the flow as {"type": ..., "reason": ...}.
func (f Flow) MarshalJSON() ([]byte, error) {
	switch f.Type {
	case FlowRequested, FlowProcessed:
		return json.Marshal(flowJSON{Type: f.Type})
	case FlowError:
		return json.Marshal(flowJSON{Type: f.Type, Reason: f.Reason})
	default:
		return nil, fmt.Errorf("unknown flow type %q", f.Type)
	}
}

// UnmarshalJSON decodes a flow, rejecting unknown types.
func (f *Flow) UnmarshalJSON(data []byte) error {
	var raw flowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("flow: %w", err)
	}
	switch raw.Type {
	case FlowRequested, FlowProcessed:
		*f = Flow{Type: raw.Type}
	case FlowError:
		*f = Flow{Type: raw.Type, Reason: raw.Reason}
	default:
		return fmt.Errorf("flow: unknown type %q", raw.Type)
	}
	return nil
}
