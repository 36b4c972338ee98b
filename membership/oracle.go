package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mini-placement/placement"
)

// CachingOracle answers candidate queries from a Store, keeping the node list
// for ttl so a burst of activations costs one store round trip. A zero ttl
// queries the store on every call.
type CachingOracle struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	cached   []NodeRecord
	cachedAt time.Time
}

func NewCachingOracle(store Store, ttl time.Duration) *CachingOracle {
	return &CachingOracle{store: store, ttl: ttl, now: time.Now}
}

func (o *CachingOracle) Candidates(ctx context.Context, target placement.Target) ([]placement.NodeAddress, error) {
	records, err := o.nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return Compatible(records, target.ActorType), nil
}

// Invalidate drops the cached node list.
func (o *CachingOracle) Invalidate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cached = nil
}

// Follow replaces the cached node list with every update received, so a
// watched store refreshes the cache ahead of the ttl. It returns when updates
// is closed or ctx is done.
func (o *CachingOracle) Follow(ctx context.Context, updates <-chan []NodeRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case records, ok := <-updates:
			if !ok {
				return
			}
			o.mu.Lock()
			o.cached = records
			o.cachedAt = o.now()
			o.mu.Unlock()
		}
	}
}

// nodes serves the cached list while it is fresh. The store is queried
// without holding mu so waiting callers stay bound by their own ctx.
func (o *CachingOracle) nodes(ctx context.Context) ([]NodeRecord, error) {
	if o.ttl <= 0 {
		return o.store.Nodes(ctx)
	}
	o.mu.Lock()
	if o.cached != nil && o.now().Sub(o.cachedAt) < o.ttl {
		records := o.cached
		o.mu.Unlock()
		return records, nil
	}
	o.mu.Unlock()

	fetchedAt := o.now()
	records, err := o.store.Nodes(ctx)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	// Keep a newer list installed by Follow or a concurrent refresh
	if o.cached == nil || !o.cachedAt.After(fetchedAt) {
		o.cached = records
		o.cachedAt = fetchedAt
	}
	return records, nil
}
