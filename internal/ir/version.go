package ir

// Version constants for the wire format and client.
const (
	// WireVersion is the message encoding version.
	WireVersion = "1"

	// ClientVersion is the replica client version.
	ClientVersion = "0.3.0"
)
