package testutil

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// SequentialIDs generates predictable version-4 shaped ids.
//
// The first id is ...-000000000001, the next ...-000000000002, and so on,
// with the given prefix in the first byte. Unlike engine.FixedGenerator it
// never runs out, which suits tests whose number of reconnects is not fixed.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix byte
	n      uint64
}

// NewSequentialIDs creates a generator whose ids start with prefix.
func NewSequentialIDs(prefix byte) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

// NewID returns the next id.
//
// Implements engine.IDGenerator interface.
func (g *SequentialIDs) NewID() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return SequentialID(g.prefix, g.n)
}

// SequentialID returns the n-th id for prefix without a generator.
func SequentialID(prefix byte, n uint64) uuid.UUID {
	var id uuid.UUID
	id[0] = prefix
	binary.BigEndian.PutUint64(id[8:], n)
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}
