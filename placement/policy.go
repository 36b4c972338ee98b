// Package placement provides the placement policies that choose which worker
// node hosts a new actor activation.
//
// Two strategies are implemented:
//   - RoundRobin:   every node is used once per cycle before any node repeats
//   - LeastLoaded:  the node with the fewest locally observed activations wins
//
// A Registry maps actor types to configured Policy instances. Policies never
// fetch membership themselves; the caller supplies the candidate set.
package placement

import "errors"

var (
	// ErrNoCompatibleNode is returned when a policy cannot yield a node for
	// the given candidate set.
	ErrNoCompatibleNode = errors.New("placement: no compatible node")

	// ErrUnconfiguredPolicy is returned by Registry.Resolve when an actor type
	// has no policy.
	ErrUnconfiguredPolicy = errors.New("placement: unconfigured policy")
)

// Policy is the interface for placement strategies.
// The runtime calls SelectNode once per activation decision.
type Policy interface {
	// SelectNode picks one node from candidates and records the choice in the
	// policy's own state. Called concurrently, must be goroutine-safe and
	// must never block on I/O.
	SelectNode(candidates []NodeAddress) (NodeAddress, error)

	// Name returns the strategy name (for logging/metrics).
	Name() string
}

// Target describes the activation being placed.
type Target struct {
	ActorType string
	ActorID   string
	RequestID string
}
