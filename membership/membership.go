// Package membership is the placement engine's view of the cluster: which
// worker nodes are alive and which actor types each of them can host.
//
// A Store holds node records (published by the nodes themselves), and an
// Oracle turns them into the candidate set for one activation.
package membership

import (
	"context"
	"slices"

	"mini-placement/placement"
)

// NodeRecord is what a worker node publishes about itself.
type NodeRecord struct {
	Address    placement.NodeAddress
	ActorTypes []string // Actor types this node can host; empty means any
	Version    string
}

// Hosts reports whether the node can host activations of actorType.
func (r NodeRecord) Hosts(actorType string) bool {
	return len(r.ActorTypes) == 0 || slices.Contains(r.ActorTypes, actorType)
}

// Oracle returns the nodes eligible to host target. Results may differ
// between calls as nodes join and leave.
type Oracle interface {
	Candidates(ctx context.Context, target placement.Target) ([]placement.NodeAddress, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, target placement.Target) ([]placement.NodeAddress, error)

func (f OracleFunc) Candidates(ctx context.Context, target placement.Target) ([]placement.NodeAddress, error) {
	return f(ctx, target)
}

type Store interface {
	// Register publishes record. ttl is in seconds; stores without leases
	// ignore it.
	Register(ctx context.Context, record NodeRecord, ttl int64) error
	Deregister(ctx context.Context, addr placement.NodeAddress) error
	Nodes(ctx context.Context) ([]NodeRecord, error)
	Close() error
}

// Compatible filters records down to the sorted addresses that can host
// actorType.
func Compatible(records []NodeRecord, actorType string) []placement.NodeAddress {
	addrs := make([]placement.NodeAddress, 0, len(records))
	for _, r := range records {
		if r.Hosts(actorType) {
			addrs = append(addrs, r.Address)
		}
	}
	return placement.SortNodes(addrs)
}
