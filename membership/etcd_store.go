// etcd-backed membership directory.
//
// Each worker node publishes one key:
//
//	Key:   {prefix}/nodes/{endpoint@generation}
//	Value: the NodeRecord encoded by the configured RecordCodec
//
// Registration uses TTL-based leases: if the node crashes, the lease expires
// and the entry disappears, so the oracle stops offering a dead node.

package membership

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-placement/placement"
)

const DefaultPrefix = "/mini-placement"

type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string // Defaults to DefaultPrefix
	Codec       CodecType
	Logger      *zap.Logger
}

// etcdClient is the part of *clientv3.Client the store uses.
type etcdClient interface {
	clientv3.KV
	clientv3.Lease
	clientv3.Watcher
	Close() error
}

// EtcdStore implements Store on etcd v3.
type EtcdStore struct {
	client etcdClient // shared across goroutines
	prefix string
	codec  RecordCodec
	logger *zap.Logger

	mu     sync.Mutex
	leases map[placement.NodeAddress]registration
}

type registration struct {
	lease  clientv3.LeaseID
	cancel context.CancelFunc // stops KeepAlive
}

func NewEtcdStore(cfg EtcdConfig) (*EtcdStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger.Named("etcd-client"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return newEtcdStore(c, cfg.Prefix, GetCodec(cfg.Codec), logger), nil
}

func newEtcdStore(c etcdClient, prefix string, codec RecordCodec, logger *zap.Logger) *EtcdStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &EtcdStore{
		client: c,
		prefix: strings.TrimSuffix(prefix, "/") + "/nodes/",
		codec:  codec,
		logger: logger,
		leases: make(map[placement.NodeAddress]registration),
	}
}

func (s *EtcdStore) key(addr placement.NodeAddress) string {
	return s.prefix + addr.String()
}

// Register publishes record under a lease of ttl seconds and keeps the lease
// alive until Deregister or Close. Re-registering an address replaces its
// previous lease.
func (s *EtcdStore) Register(ctx context.Context, record NodeRecord, ttl int64) error {
	val, err := s.codec.Encode(record)
	if err != nil {
		return fmt.Errorf("encode %s: %w", record.Address, err)
	}

	lease, err := s.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	if _, err := s.client.Put(ctx, s.key(record.Address), string(val), clientv3.WithLease(lease.ID)); err != nil {
		s.revokeDetached(lease.ID)
		return fmt.Errorf("put %s: %w", record.Address, err)
	}

	// KeepAlive must outlive the caller's ctx, it runs until the node leaves
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := s.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		s.revokeDetached(lease.ID)
		return fmt.Errorf("keep lease alive: %w", err)
	}
	go func() {
		for range ch {
		}
		s.logger.Debug("lease keepalive stopped", zap.Stringer("node", record.Address))
	}()

	s.mu.Lock()
	prev, replaced := s.leases[record.Address]
	s.leases[record.Address] = registration{lease: lease.ID, cancel: cancel}
	s.mu.Unlock()
	if replaced {
		prev.cancel()
		s.revoke(ctx, prev.lease)
	}

	s.logger.Info("node registered",
		zap.Stringer("node", record.Address),
		zap.Strings("actorTypes", record.ActorTypes),
		zap.Int64("ttl", ttl))
	return nil
}

// Deregister removes the node's entry and revokes its lease. If the delete
// fails the lease stays tracked, so a later Deregister or Close retries it.
func (s *EtcdStore) Deregister(ctx context.Context, addr placement.NodeAddress) error {
	if _, err := s.client.Delete(ctx, s.key(addr)); err != nil {
		return fmt.Errorf("delete %s: %w", addr, err)
	}

	s.mu.Lock()
	reg, ok := s.leases[addr]
	delete(s.leases, addr)
	s.mu.Unlock()
	if ok {
		reg.cancel()
		s.revoke(ctx, reg.lease)
	}
	s.logger.Info("node deregistered", zap.Stringer("node", addr))
	return nil
}

// revokeDetached releases a lease after the caller's ctx may already be done.
func (s *EtcdStore) revokeDetached(id clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.revoke(ctx, id)
}

func (s *EtcdStore) revoke(ctx context.Context, id clientv3.LeaseID) {
	if _, err := s.client.Revoke(ctx, id); err != nil {
		s.logger.Warn("revoke lease failed", zap.Int64("lease", int64(id)), zap.Error(err))
	}
}

// Nodes returns every record under the prefix. Entries that fail to decode
// are skipped.
func (s *EtcdStore) Nodes(ctx context.Context) ([]NodeRecord, error) {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, err
	}

	records := make([]NodeRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var record NodeRecord
		if err := s.codec.Decode(kv.Value, &record); err != nil {
			s.logger.Warn("skipping malformed node record", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Watch emits the full node list whenever anything under the prefix changes.
// The channel is closed when ctx is done.
func (s *EtcdStore) Watch(ctx context.Context) <-chan []NodeRecord {
	ch := make(chan []NodeRecord, 1)

	go func() {
		defer close(ch)
		watchChan := s.client.Watch(ctx, s.prefix, clientv3.WithPrefix())
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				s.logger.Warn("membership watch error", zap.Error(err))
				continue
			}
			// Re-read the full list rather than applying individual events
			records, err := s.Nodes(ctx)
			if err != nil {
				s.logger.Warn("membership refresh failed", zap.Error(err))
				continue
			}
			select {
			case ch <- records:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close deregisters every node this store registered and closes the client.
func (s *EtcdStore) Close() error {
	s.mu.Lock()
	addrs := make([]placement.NodeAddress, 0, len(s.leases))
	for addr := range s.leases {
		addrs = append(addrs, addr)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	for _, addr := range addrs {
		err = multierr.Append(err, s.Deregister(ctx, addr))
	}
	return multierr.Append(err, s.client.Close())
}
