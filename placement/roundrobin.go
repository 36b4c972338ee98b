package placement

import "sync"

// RoundRobinPolicy hands out nodes in a fixed rotation. Every node known to
// the current cycle is used exactly once before any node is reused.
//
// The rotation is seeded from the sorted candidate set on the first call.
// Nodes that appear later are not admitted mid-cycle. With RefreshOnCycle
// unset they are only admitted when the rotation restarts from empty (see
// Reset); with RefreshOnCycle set, every cycle boundary re-seeds the rotation
// from the current candidates, admitting joiners and dropping departed nodes.
//
// The zero value is ready to use.
type RoundRobinPolicy struct {
	RefreshOnCycle bool

	mu       sync.Mutex
	pending  []NodeAddress // not yet used in this cycle, head is next
	consumed []NodeAddress // already used in this cycle, in use order
}

// SelectNode returns the head of the pending sequence and moves it to the
// consumed sequence. The whole check-reset-dequeue step runs under one lock.
func (p *RoundRobinPolicy) SelectNode(candidates []NodeAddress) (NodeAddress, error) {
	if len(candidates) == 0 {
		return NodeAddress{}, ErrNoCompatibleNode
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case len(p.pending) == 0 && len(p.consumed) == 0:
		p.pending = SortNodes(candidates)
	case len(p.pending) == 0:
		if p.RefreshOnCycle {
			p.pending = SortNodes(candidates)
		} else {
			p.pending = p.consumed
		}
		p.consumed = nil
	}

	if len(p.pending) == 0 {
		return NodeAddress{}, ErrNoCompatibleNode
	}
	next := p.pending[0]
	p.pending = p.pending[1:]
	p.consumed = append(p.consumed, next)
	return next, nil
}

// Reset drops the rotation so the next SelectNode re-seeds it from its
// candidates.
func (p *RoundRobinPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	p.consumed = nil
}

func (p *RoundRobinPolicy) Name() string {
	return string(StrategyRoundRobin)
}
