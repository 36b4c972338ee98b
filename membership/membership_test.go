package membership

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-placement/placement"
)

var (
	silo1 = NodeRecord{Address: placement.NodeAddress{Endpoint: "10.0.0.1:11111", Generation: 7}, ActorTypes: []string{"HelloGrain"}, Version: "1.0"}
	silo2 = NodeRecord{Address: placement.NodeAddress{Endpoint: "10.0.0.2:11111", Generation: 7}, Version: "1.0"}
	silo3 = NodeRecord{Address: placement.NodeAddress{Endpoint: "10.0.0.3:11111", Generation: 7}, ActorTypes: []string{"CounterGrain"}, Version: "1.1"}
)

func TestHosts(t *testing.T) {
	assert.True(t, silo1.Hosts("HelloGrain"))
	assert.False(t, silo1.Hosts("CounterGrain"))
	assert.True(t, silo2.Hosts("anything"), "empty actor types hosts everything")
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(silo3, silo1)
	require.NoError(t, store.Register(ctx, silo2, 10))

	nodes, err := store.Nodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []NodeRecord{silo1, silo2, silo3}, nodes)

	require.NoError(t, store.Deregister(ctx, silo1.Address))
	nodes, err = store.Nodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []NodeRecord{silo2, silo3}, nodes)

	assert.Error(t, store.Register(ctx, NodeRecord{}, 10))
	assert.NoError(t, store.Close())
}

func TestCachingOracleFiltersByActorType(t *testing.T) {
	oracle := NewCachingOracle(NewMemoryStore(silo1, silo2, silo3), 0)

	got, err := oracle.Candidates(context.Background(), placement.Target{ActorType: "HelloGrain"})
	require.NoError(t, err)
	assert.Equal(t, []placement.NodeAddress{silo1.Address, silo2.Address}, got)

	got, err = oracle.Candidates(context.Background(), placement.Target{ActorType: "Unknown"})
	require.NoError(t, err)
	assert.Equal(t, []placement.NodeAddress{silo2.Address}, got)
}

type countingStore struct {
	*MemoryStore
	calls atomic.Int32
	err   error
}

func (s *countingStore) Nodes(ctx context.Context) ([]NodeRecord, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.MemoryStore.Nodes(ctx)
}

func TestCachingOracleTTL(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore(silo1)}
	oracle := NewCachingOracle(store, time.Minute)
	now := time.Unix(1000, 0)
	oracle.now = func() time.Time { return now }

	ctx := context.Background()
	target := placement.Target{ActorType: "HelloGrain"}
	for i := 0; i < 3; i++ {
		_, err := oracle.Candidates(ctx, target)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, store.calls.Load())

	// A node joining is only seen after expiry
	require.NoError(t, store.Register(ctx, silo2, 10))
	got, _ := oracle.Candidates(ctx, target)
	assert.Len(t, got, 1)

	now = now.Add(time.Minute)
	got, _ = oracle.Candidates(ctx, target)
	assert.Len(t, got, 2)
	assert.EqualValues(t, 2, store.calls.Load())

	oracle.Invalidate()
	_, _ = oracle.Candidates(ctx, target)
	assert.EqualValues(t, 3, store.calls.Load())
}

func TestCachingOracleError(t *testing.T) {
	boom := errors.New("boom")
	oracle := NewCachingOracle(&countingStore{MemoryStore: NewMemoryStore(), err: boom}, time.Second)
	_, err := oracle.Candidates(context.Background(), placement.Target{})
	require.ErrorIs(t, err, boom)
}

// blockingStore holds every Nodes call until release is closed or ctx ends.
type blockingStore struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) Nodes(ctx context.Context) ([]NodeRecord, error) {
	s.entered <- struct{}{}
	select {
	case <-s.release:
		return s.MemoryStore.Nodes(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestCachingOracleRefreshDoesNotBlockDeadlines(t *testing.T) {
	store := &blockingStore{
		MemoryStore: NewMemoryStore(silo1),
		entered:     make(chan struct{}, 2),
		release:     make(chan struct{}),
	}
	oracle := NewCachingOracle(store, time.Minute)
	target := placement.Target{ActorType: "HelloGrain"}

	slow := make(chan error, 1)
	go func() {
		_, err := oracle.Candidates(context.Background(), target)
		slow <- err
	}()
	<-store.entered

	// A second caller gives up on its own deadline while the refresh is stuck
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := oracle.Candidates(ctx, target)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	close(store.release)
	require.NoError(t, <-slow)
	got, err := oracle.Candidates(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, []placement.NodeAddress{silo1.Address}, got)
}

func TestCachingOracleFollow(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore(silo1)}
	oracle := NewCachingOracle(store, time.Hour)

	updates := make(chan []NodeRecord)
	done := make(chan struct{})
	go func() {
		oracle.Follow(context.Background(), updates)
		close(done)
	}()
	updates <- []NodeRecord{silo2, silo3}
	close(updates)
	<-done

	got, err := oracle.Candidates(context.Background(), placement.Target{ActorType: "CounterGrain"})
	require.NoError(t, err)
	assert.Equal(t, []placement.NodeAddress{silo2.Address, silo3.Address}, got)
	assert.Zero(t, store.calls.Load(), "followed cache must not hit the store")
}

func TestOracleFunc(t *testing.T) {
	var o Oracle = OracleFunc(func(_ context.Context, target placement.Target) ([]placement.NodeAddress, error) {
		return []placement.NodeAddress{{Endpoint: target.ActorType}}, nil
	})
	got, err := o.Candidates(context.Background(), placement.Target{ActorType: "x:1"})
	require.NoError(t, err)
	assert.Equal(t, "x:1", got[0].Endpoint)
}
