// Package transport carries wire frames between the client and the store.
//
// A frame is one JSON-encoded message. The client never interprets frames
// here; decoding happens in the receive task so that a malformed frame is
// dropped without ending the connection.
package transport

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
)

// ErrClosed is returned by Read and Write once the connection is closed by
// either side.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a bidirectional frame stream.
//
// Thread-safety: one goroutine may Read while another Writes. Close may be
// called from any goroutine and unblocks both.
type Conn interface {
	// Read blocks until a frame arrives, the connection ends, or ctx is done.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one frame.
	Write(ctx context.Context, frame []byte) error

	Close() error
}

// Dialer opens connections to the store.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

// Target builds the store URL for host and port.
func Target(host string, port int) string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/",
	}
	return u.String()
}
