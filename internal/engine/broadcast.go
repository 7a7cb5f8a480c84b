package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/replica/internal/ir"
)

// ErrClosed is returned by Next once a subscription is closed and drained.
var ErrClosed = errors.New("subscription closed")

// Broadcast fans every published message out to all current subscribers.
//
// Each subscriber has its own unbounded FIFO cursor, so Publish never blocks
// on a slow consumer and every subscriber sees messages in publication order.
// Messages published before a subscriber joined are not delivered to it.
//
// Thread-safety: Publish, Subscribe and Unsubscribe may be called from any
// goroutine.
type Broadcast struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBroadcast creates a broadcast with no subscribers.
func NewBroadcast() *Broadcast {
	return &Broadcast{subs: make(map[*Subscription]struct{})}
}

// Publish appends m to every subscriber's queue.
func (b *Broadcast) Publish(m ir.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		s.enqueue(m)
	}
}

// Subscribe duplicates the broadcast: the returned subscription observes every
// message published from now on.
func (b *Broadcast) Subscribe() *Subscription {
	s := &Subscription{
		items:  make([]ir.Message, 0, 64),
		signal: make(chan struct{}, 1),
		owner:  b,
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcast) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcast) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is one independent read cursor over a Broadcast.
//
// The queue uses a buffered signal channel of size 1 so that a consumer can
// wait with select alongside ctx.Done().
type Subscription struct {
	mu     sync.Mutex
	items  []ir.Message
	closed bool
	signal chan struct{}
	owner  *Broadcast
}

func (s *Subscription) enqueue(m ir.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.items = append(s.items, m)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Requeue puts m at the back of this subscription only. Used to re-drive
// recovered requests after a restart.
func (s *Subscription) Requeue(m ir.Message) {
	s.enqueue(m)
}

// TryNext removes and returns the front message without blocking.
func (s *Subscription) TryNext() (ir.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) == 0 {
		return ir.Message{}, false
	}
	m := s.items[0]
	// Clear the slot so the backing array does not pin the payload.
	s.items[0] = ir.Message{}
	if len(s.items) == 1 {
		s.items = s.items[:0]
	} else {
		s.items = s.items[1:]
	}
	return m, true
}

// Next blocks until a message is available, the subscription is closed and
// drained (ErrClosed), or ctx is done (ctx.Err()).
func (s *Subscription) Next(ctx context.Context) (ir.Message, error) {
	for {
		if m, ok := s.TryNext(); ok {
			return m, nil
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ir.Message{}, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ir.Message{}, ctx.Err()
		case <-s.signal:
		}
	}
}

// Len returns the number of queued messages.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close detaches the subscription from its broadcast and wakes any waiter.
// Already queued messages can still be drained with TryNext.
func (s *Subscription) Close() {
	s.owner.remove(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.signal)
}
