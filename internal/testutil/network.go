package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/replica/internal/ir"
	"github.com/roach88/replica/internal/transport"
)

// ErrRefused is returned by Network.Dial while injected failures remain.
var ErrRefused = errors.New("testutil: connection refused")

// Network is an in-memory transport.Dialer. Every successful Dial creates a
// transport.Pipe; the client keeps one end and the other is handed to the
// test through Accept.
//
// Thread-safety: safe for concurrent use.
type Network struct {
	mu       sync.Mutex
	failures int
	targets  []string
	accept   chan transport.Conn
}

// NewNetwork creates a network with no injected failures.
func NewNetwork() *Network {
	return &Network{accept: make(chan transport.Conn, 16)}
}

// FailNext makes the next n dials fail with ErrRefused.
func (n *Network) FailNext(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = count
}

// Dial implements transport.Dialer.
func (n *Network) Dial(ctx context.Context, target string) (transport.Conn, error) {
	n.mu.Lock()
	n.targets = append(n.targets, target)
	if n.failures > 0 {
		n.failures--
		n.mu.Unlock()
		return nil, ErrRefused
	}
	n.mu.Unlock()

	client, server := transport.Pipe()
	select {
	case n.accept <- server:
		return client, nil
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	}
}

// Accept returns the store side of the next successful dial.
func (n *Network) Accept(ctx context.Context) (*StoreConn, error) {
	select {
	case conn := <-n.accept:
		return &StoreConn{Conn: conn}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dials returns every target dialed so far, including failed attempts.
func (n *Network) Dials() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.targets...)
}

// StoreConn is the store's end of a connection, speaking messages instead of
// frames.
type StoreConn struct {
	transport.Conn
}

// Send encodes and writes m.
func (s *StoreConn) Send(ctx context.Context, m ir.Message) error {
	frame, err := ir.Encode(m)
	if err != nil {
		return err
	}
	return s.Write(ctx, frame)
}

// Receive reads and decodes the next message.
func (s *StoreConn) Receive(ctx context.Context) (ir.Message, error) {
	frame, err := s.Read(ctx)
	if err != nil {
		return ir.Message{}, err
	}
	return ir.Decode(frame)
}
