package config

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mini-placement/membership"
	"mini-placement/middleware"
	"mini-placement/placement"
)

// BuildLogger returns a production zap logger (development if configured) at
// the configured level.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// BuildRegistry creates one fresh policy instance per configured actor type.
func (c *Config) BuildRegistry() (*placement.Registry, error) {
	reg := placement.NewRegistry()
	for _, p := range c.Policies {
		strategy, err := placement.ParseStrategy(p.Strategy)
		if err != nil {
			return nil, err
		}
		policy, err := placement.NewPolicy(strategy)
		if err != nil {
			return nil, err
		}
		if rr, ok := policy.(*placement.RoundRobinPolicy); ok {
			rr.RefreshOnCycle = p.RefreshOnCycle
		}
		if err := reg.Register(p.ActorType, policy); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BuildStore opens the configured membership backend. Static nodes are
// loaded into a MemoryStore.
func (c *Config) BuildStore(logger *zap.Logger) (membership.Store, error) {
	switch c.Membership.Backend {
	case BackendEtcd:
		codec, err := membership.ParseCodecType(c.Membership.Etcd.Codec)
		if err != nil {
			return nil, err
		}
		return membership.NewEtcdStore(membership.EtcdConfig{
			Endpoints:   c.Membership.Etcd.Endpoints,
			DialTimeout: c.Membership.Etcd.DialTimeout.Duration,
			Prefix:      c.Membership.Etcd.Prefix,
			Codec:       codec,
			Logger:      logger,
		})
	case BackendStatic:
		store := membership.NewMemoryStore()
		for _, n := range c.Membership.Static {
			record := membership.NodeRecord{
				Address:    placement.NodeAddress{Endpoint: n.Endpoint, Generation: n.Generation},
				ActorTypes: n.ActorTypes,
				Version:    n.Version,
			}
			if err := store.Register(context.Background(), record, 0); err != nil {
				return nil, err
			}
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown membership backend %q", c.Membership.Backend)
}

// BuildOracle wraps store with the configured cache ttl.
func (c *Config) BuildOracle(store membership.Store) *membership.CachingOracle {
	return membership.NewCachingOracle(store, c.Membership.CacheTTL.Duration)
}

// Middlewares returns the placement pipeline, outermost first:
// logging → metrics → retry → timeout → rate limit. metrics may be nil.
func (c *Config) Middlewares(logger *zap.Logger, metrics *middleware.Metrics) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if metrics != nil {
		mws = append(mws, middleware.MetricsMiddleware(metrics))
	}
	if c.Pipeline.MaxRetries > 0 {
		mws = append(mws, middleware.RetryMiddleware(c.Pipeline.MaxRetries, c.Pipeline.RetryBaseDelay.Duration, logger))
	}
	if c.Pipeline.Timeout.Duration > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(c.Pipeline.Timeout.Duration))
	}
	if c.Pipeline.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(c.Pipeline.RateLimit, c.Pipeline.RateBurst))
	}
	return mws
}
