package placement

import (
	"maps"
	"sync"
)

// LeastLoadedPolicy tracks how many activations it has placed on each node
// and always picks the candidate with the lowest count. Ties go to the
// smallest NodeAddress so identical histories give identical choices.
//
// Counts only reflect this instance's own decisions, not real load on the
// node. A node that leaves and rejoins keeps its count. The minimum is taken
// over the current candidates only, so a departed node stays in the table but
// is never selected.
//
// The zero value is ready to use.
type LeastLoadedPolicy struct {
	mu     sync.Mutex
	counts map[NodeAddress]uint64
}

func (p *LeastLoadedPolicy) SelectNode(candidates []NodeAddress) (NodeAddress, error) {
	if len(candidates) == 0 {
		return NodeAddress{}, ErrNoCompatibleNode
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.counts == nil {
		p.counts = make(map[NodeAddress]uint64, len(candidates))
	}
	for _, c := range candidates {
		if _, ok := p.counts[c]; !ok {
			p.counts[c] = 0
		}
	}
	if len(p.counts) == 0 {
		return NodeAddress{}, ErrNoCompatibleNode
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		bc, cc := p.counts[best], p.counts[c]
		if cc < bc || (cc == bc && c.Compare(best) < 0) {
			best = c
		}
	}
	p.counts[best]++
	return best, nil
}

// Counts returns a snapshot of the load table.
func (p *LeastLoadedPolicy) Counts() map[NodeAddress]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.counts)
}

func (p *LeastLoadedPolicy) Name() string {
	return string(StrategyLeastLoaded)
}
