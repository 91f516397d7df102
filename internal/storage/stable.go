package storage

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"gridcache/internal/errs"
)

// StableStore holds small pieces of node state that must survive a restart,
// such as the clock's reserved counter.
type StableStore interface {
	Set(key []byte, val []byte) error
	// Get returns nil if key was not found.
	Get(key []byte) ([]byte, error)
	SetUint64(key []byte, val uint64) error
	// GetUint64 returns 0 if key was not found.
	GetUint64(key []byte) (uint64, error)
}

// InmemStable implements StableStore in memory. State is lost on restart;
// it is meant for tests and for nodes run without a data directory.
type InmemStable struct {
	l     sync.RWMutex
	kv    map[string][]byte
	kvInt map[string]uint64
}

// NewInmemStable creates an empty InmemStable.
func NewInmemStable() *InmemStable {
	return &InmemStable{
		kv:    make(map[string][]byte),
		kvInt: make(map[string]uint64),
	}
}

// Set implements the StableStore interface.
func (i *InmemStable) Set(key []byte, val []byte) error {
	i.l.Lock()
	defer i.l.Unlock()
	i.kv[string(key)] = append([]byte(nil), val...)
	return nil
}

// Get implements the StableStore interface.
func (i *InmemStable) Get(key []byte) ([]byte, error) {
	i.l.RLock()
	defer i.l.RUnlock()
	return i.kv[string(key)], nil
}

// SetUint64 implements the StableStore interface.
func (i *InmemStable) SetUint64(key []byte, val uint64) error {
	i.l.Lock()
	defer i.l.Unlock()
	i.kvInt[string(key)] = val
	return nil
}

// GetUint64 implements the StableStore interface.
func (i *InmemStable) GetUint64(key []byte) (uint64, error) {
	i.l.RLock()
	defer i.l.RUnlock()
	return i.kvInt[string(key)], nil
}

var stablePrefix = []byte("s/")

// LevelStable implements StableStore on goleveldb. Writes are synced.
type LevelStable struct {
	db *leveldb.DB
}

// NewLevelStable creates a stable store on db. The store does not own db.
func NewLevelStable(db *leveldb.DB) *LevelStable {
	return &LevelStable{db: db}
}

func stableKey(key []byte) []byte {
	return append(append([]byte(nil), stablePrefix...), key...)
}

// Set implements the StableStore interface.
func (l *LevelStable) Set(key []byte, val []byte) error {
	if err := l.db.Put(stableKey(key), val, syncWrite); err != nil {
		return errors.Wrapf(errs.ErrStoreFailure, "stable set %q: %v", key, err)
	}
	return nil
}

// Get implements the StableStore interface.
func (l *LevelStable) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(stableKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(errs.ErrStoreFailure, "stable get %q: %v", key, err)
	}
	return val, nil
}

// SetUint64 implements the StableStore interface.
func (l *LevelStable) SetUint64(key []byte, val uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], val)
	return l.Set(key, buf[:])
}

// GetUint64 implements the StableStore interface.
func (l *LevelStable) GetUint64(key []byte) (uint64, error) {
	val, err := l.Get(key)
	if err != nil || val == nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, errors.Wrapf(errs.ErrStoreFailure, "stable key %q holds %d bytes, want 8", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}
