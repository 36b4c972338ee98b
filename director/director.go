// Package director is the runtime's entry point for placing a new activation.
//
// Placement pipeline:
//
//	Place → middleware chain (logging, metrics, retry, timeout, rate limit)
//	  → Registry.Resolve(actorType) → Oracle.Candidates → Policy.SelectNode
package director

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mini-placement/membership"
	"mini-placement/middleware"
	"mini-placement/placement"
)

// Director resolves the policy for an actor type, asks the membership oracle
// for candidates and lets the policy pick one.
type Director struct {
	policies *placement.Registry
	oracle   membership.Oracle
	logger   *zap.Logger
	handler  middleware.HandlerFunc // middleware(middleware(...(decide)))
}

// New builds a Director. Middlewares are applied in the order given, the
// first one outermost. A nil logger disables logging.
func New(policies *placement.Registry, oracle membership.Oracle, logger *zap.Logger, mws ...middleware.Middleware) *Director {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Director{
		policies: policies,
		oracle:   oracle,
		logger:   logger,
	}
	// Build the chain once, not per placement
	d.handler = middleware.Chain(mws...)(d.decide)
	return d
}

// Place returns the node that should host the activation described by target.
// Failures wrap placement.ErrNoCompatibleNode or placement.ErrUnconfiguredPolicy
// where applicable; a nil error always comes with a usable address.
func (d *Director) Place(ctx context.Context, target placement.Target) (placement.NodeAddress, error) {
	if target.ActorType == "" {
		return placement.NodeAddress{}, errors.New("director: empty actor type")
	}
	if target.RequestID == "" {
		target.RequestID = uuid.NewString()
	}
	return d.handler(ctx, &target)
}

func (d *Director) decide(ctx context.Context, target *placement.Target) (placement.NodeAddress, error) {
	policy, err := d.policies.Resolve(target.ActorType)
	if err != nil {
		return placement.NodeAddress{}, err
	}

	candidates, err := d.oracle.Candidates(ctx, *target)
	if err != nil {
		return placement.NodeAddress{}, fmt.Errorf("membership query: %w", err)
	}
	d.logger.Debug("candidates resolved",
		zap.String("actorType", target.ActorType),
		zap.String("policy", policy.Name()),
		zap.Int("candidates", len(candidates)))

	// A caller that already gave up must not consume a rotation slot or a count
	if err := ctx.Err(); err != nil {
		return placement.NodeAddress{}, err
	}
	node, err := policy.SelectNode(candidates)
	if err != nil {
		return placement.NodeAddress{}, fmt.Errorf("%s policy for %q over %d candidates: %w",
			policy.Name(), target.ActorType, len(candidates), err)
	}
	if node.IsZero() {
		return placement.NodeAddress{}, fmt.Errorf("%s policy returned an empty address: %w",
			policy.Name(), placement.ErrNoCompatibleNode)
	}
	return node, nil
}
