package placement

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Strategy names a placement algorithm in configuration.
type Strategy string

const (
	StrategyRoundRobin  Strategy = "round-robin"
	StrategyLeastLoaded Strategy = "least-loaded"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRoundRobin, StrategyLeastLoaded:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown placement strategy %q", s)
}

// NewPolicy creates a fresh policy instance with its own empty state.
func NewPolicy(s Strategy) (Policy, error) {
	switch s {
	case StrategyRoundRobin:
		return &RoundRobinPolicy{}, nil
	case StrategyLeastLoaded:
		return &LeastLoadedPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown placement strategy %q", s)
}

// Registry maps actor types to the policy that places them.
// Resolve is on the activation path and only takes a read lock.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Policy)}
}

// Register binds policy to actorType, retiring any previous binding.
func (r *Registry) Register(actorType string, policy Policy) error {
	if actorType == "" {
		return errors.New("placement: empty actor type")
	}
	if policy == nil {
		return fmt.Errorf("placement: nil policy for actor type %q", actorType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[actorType] = policy
	return nil
}

// Deregister retires the policy bound to actorType, if any.
func (r *Registry) Deregister(actorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.policies, actorType)
}

func (r *Registry) Resolve(actorType string) (Policy, error) {
	r.mu.RLock()
	p, ok := r.policies[actorType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for actor type %q", ErrUnconfiguredPolicy, actorType)
	}
	return p, nil
}

// ActorTypes returns the configured actor types in sorted order.
func (r *Registry) ActorTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.policies))
	for t := range r.policies {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
