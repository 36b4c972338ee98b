package membership

import (
	"context"
	"errors"
	"slices"
	"sync"

	"mini-placement/placement"
)

// MemoryStore is an in-process Store for static clusters and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[placement.NodeAddress]NodeRecord
}

func NewMemoryStore(records ...NodeRecord) *MemoryStore {
	s := &MemoryStore{nodes: make(map[placement.NodeAddress]NodeRecord, len(records))}
	for _, r := range records {
		s.nodes[r.Address] = r
	}
	return s
}

func (s *MemoryStore) Register(_ context.Context, record NodeRecord, _ int64) error {
	if record.Address.Endpoint == "" {
		return errors.New("membership: record without endpoint")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[record.Address] = record
	return nil
}

func (s *MemoryStore) Deregister(_ context.Context, addr placement.NodeAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, addr)
	return nil
}

// Nodes returns the records sorted by address.
func (s *MemoryStore) Nodes(_ context.Context) ([]NodeRecord, error) {
	s.mu.RLock()
	records := make([]NodeRecord, 0, len(s.nodes))
	for _, r := range s.nodes {
		records = append(records, r)
	}
	s.mu.RUnlock()
	slices.SortFunc(records, func(a, b NodeRecord) int {
		return a.Address.Compare(b.Address)
	})
	return records, nil
}

func (s *MemoryStore) Close() error { return nil }
