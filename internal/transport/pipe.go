package transport

import (
	"context"
	"sync"
)

// Pipe returns two connected in-memory Conns. A frame written to one end is
// read from the other. Writes block until the peer reads, so no frame is lost
// or reordered. Closing either end closes both.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte)
	ba := make(chan []byte)
	shared := &pipeState{done: make(chan struct{})}
	a := &pipeConn{in: ba, out: ab, state: shared}
	b := &pipeConn{in: ab, out: ba, state: shared}
	return a, b
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeConn struct {
	in    <-chan []byte
	out   chan<- []byte
	state *pipeState
}

func (p *pipeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.state.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Write(ctx context.Context, frame []byte) error {
	// Copy so the caller may reuse its buffer.
	buf := append([]byte(nil), frame...)
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- buf:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}
