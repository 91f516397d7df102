package storage

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"

	"gridcache/internal/clock"
	"gridcache/internal/entry"
	"gridcache/internal/resolve"
)

// Store defines the interface for a node's local entry store.
type Store interface {
	// Apply resolves e against the stored entry for e.Key and stores the
	// winner. It reports whether the stored entry changed.
	Apply(e entry.Entry) (bool, error)
	// Get returns a copy of the stored entry.
	Get(key string) (entry.Entry, bool, error)
	// Evict removes the key regardless of token.
	Evict(key string) error
	// Scan calls fn for every stored entry until fn returns false. The
	// order is unspecified.
	Scan(fn func(entry.Entry) bool) error
	// MaxCounter returns the Coordinated counter stored for key, or 0.
	MaxCounter(key string) (uint64, error)
	Close() error
}

const (
	defaultShards = 16
	btreeDegree   = 32
)

type shard struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[entry.Entry]
}

// MemStore is an in-memory Store. Keys are spread over shards by hash; each
// shard is a B-tree ordered by key behind its own lock.
type MemStore struct {
	shards []*shard
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	s := &MemStore{shards: make([]*shard, defaultShards)}
	for i := range s.shards {
		s.shards[i] = &shard{tree: btree.NewG(btreeDegree, lessByKey)}
	}
	return s
}

func lessByKey(a, b entry.Entry) bool {
	return a.Key < b.Key
}

func (s *MemStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(len(s.shards))]
}

// Apply resolves and stores e.
func (s *MemStore) Apply(e entry.Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	sh := s.shardFor(e.Key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var existing *entry.Entry
	if cur, ok := sh.tree.Get(entry.Entry{Key: e.Key}); ok {
		existing = &cur
	}
	winner, changed := resolve.Resolve(e, existing)
	if changed {
		sh.tree.ReplaceOrInsert(winner.Clone())
	}
	return changed, nil
}

// Get returns a copy of the entry for key.
func (s *MemStore) Get(key string) (entry.Entry, bool, error) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	cur, ok := sh.tree.Get(entry.Entry{Key: key})
	if !ok {
		return entry.Entry{}, false, nil
	}
	return cur.Clone(), true, nil
}

// Evict removes key.
func (s *MemStore) Evict(key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.tree.Delete(entry.Entry{Key: key})
	sh.mu.Unlock()
	return nil
}

// Scan visits every entry, shard by shard in key order within a shard.
func (s *MemStore) Scan(fn func(entry.Entry) bool) error {
	for _, sh := range s.shards {
		sh.mu.RLock()
		batch := make([]entry.Entry, 0, sh.tree.Len())
		sh.tree.Ascend(func(e entry.Entry) bool {
			batch = append(batch, e.Clone())
			return true
		})
		sh.mu.RUnlock()

		for _, e := range batch {
			if !fn(e) {
				return nil
			}
		}
	}
	return nil
}

// MaxCounter returns the Coordinated counter held for key.
func (s *MemStore) MaxCounter(key string) (uint64, error) {
	e, ok, err := s.Get(key)
	if err != nil || !ok {
		return 0, err
	}
	return coordinatedCounter(e), nil
}

// Len returns the number of stored keys.
func (s *MemStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += sh.tree.Len()
		sh.mu.RUnlock()
	}
	return n
}

// Close is a no-op.
func (s *MemStore) Close() error {
	return nil
}

func coordinatedCounter(e entry.Entry) uint64 {
	if e.Token.Mode != clock.Coordinated {
		return 0
	}
	return e.Token.Counter
}
