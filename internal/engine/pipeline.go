package engine

import (
	"fmt"

	"github.com/roach88/replica/internal/ir"
)

// DefaultIgnoredKinds are the identifier and identifier-type events. This
// service has nothing to contribute for them, so they produce no result.
func DefaultIgnoredKinds() []ir.PayloadKind {
	return []ir.PayloadKind{
		ir.KindIdentifierAdded,
		ir.KindIdentifierRemoved,
		ir.KindIdentifierTypeAdded,
		ir.KindIdentifierTypeRemoved,
	}
}

// Pipeline turns eligible requests into results.
//
// The ignore set is deployment data, not domain logic: a deployment decides
// which payload kinds this service answers.
type Pipeline struct {
	self     ir.Service
	upstream ir.Service
	ignore   map[ir.PayloadKind]bool
}

// NewPipeline validates and builds a pipeline.
func NewPipeline(self, upstream ir.Service, ignore []ir.PayloadKind) (*Pipeline, error) {
	if !self.Valid() {
		return nil, fmt.Errorf("pipeline: unknown self service %q", self)
	}
	if !upstream.Valid() {
		return nil, fmt.Errorf("pipeline: unknown upstream service %q", upstream)
	}
	if self == upstream {
		return nil, fmt.Errorf("pipeline: self and upstream are both %q", self)
	}
	set := make(map[ir.PayloadKind]bool, len(ignore))
	for _, k := range ignore {
		if k == ir.KindInitiatedConnection {
			return nil, fmt.Errorf("pipeline: %s is a control payload and cannot be ignored", k)
		}
		if _, err := ir.ParsePayloadKind(string(k)); err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		set[k] = true
	}
	return &Pipeline{self: self, upstream: upstream, ignore: set}, nil
}

// DefaultPipeline answers for ServiceReplica on behalf of ServiceFrontend and
// ignores DefaultIgnoredKinds.
func DefaultPipeline() *Pipeline {
	p, err := NewPipeline(ir.ServiceReplica, ir.ServiceFrontend, DefaultIgnoredKinds())
	if err != nil {
		panic(err)
	}
	return p
}

// Self returns this service's identity.
func (p *Pipeline) Self() ir.Service { return p.self }

// Upstream returns the originator whose requests this service acts on.
func (p *Pipeline) Upstream() ir.Service { return p.upstream }

// Ignores reports whether kind yields no result.
func (p *Pipeline) Ignores(kind ir.PayloadKind) bool { return p.ignore[kind] }

// Eligible reports whether m should be processed: a Requested data message
// created by the upstream originator.
func (p *Pipeline) Eligible(m ir.Message) bool {
	return m.Flow().IsRequested() && !m.IsHandshake() && m.Metadata.Creator() == p.upstream
}

// Produced reports whether m is a result this service created: a Processed
// data message whose origin chain ends with Self.
func (p *Pipeline) Produced(m ir.Message) bool {
	chain := m.Metadata.OriginChain
	return m.Flow().IsProcessed() && !m.IsHandshake() && len(chain) > 0 && chain[len(chain)-1] == p.self
}

// Process returns the results for m. The result keeps m's id and payload; the
// flow becomes Processed and this service is appended to the origin chain.
//
// The contract is a sequence so that a deployment can fan out, although every
// kind currently yields zero or one result.
func (p *Pipeline) Process(m ir.Message) []ir.Message {
	kind := m.Kind()
	if p.ignore[kind] {
		return nil
	}
	switch kind {
	case ir.KindInitiatedConnection:
		return nil
	case ir.KindEntityCreated,
		ir.KindEntityUpdated,
		ir.KindEntityDeleted,
		ir.KindIdentifierAdded,
		ir.KindIdentifierRemoved,
		ir.KindIdentifierTypeAdded,
		ir.KindIdentifierTypeRemoved:
		return []ir.Message{m.WithFlow(ir.Processed()).Stamped(p.self)}
	default:
		return nil
	}
}
