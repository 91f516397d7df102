package storage

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"gridcache/internal/entry"
	"gridcache/internal/errs"
	"gridcache/internal/resolve"
	"gridcache/internal/wire"
)

const lockStripes = 64

var syncWrite = &opt.WriteOptions{Sync: true}

// OpenLevelDB opens (creating if needed) the goleveldb database at path. An
// empty path opens a database held in memory.
func OpenLevelDB(path string) (*leveldb.DB, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(lvlstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, &opt.Options{})
	}
	if err != nil {
		return nil, errors.Wrapf(errs.ErrStoreFailure, "open leveldb %q: %v", path, err)
	}
	return db, nil
}

// LevelStore is a Store on a goleveldb database. Several stores can share a
// database; each keeps its entries under its own key prefix. Applies to the
// same key serialize on a lock stripe.
type LevelStore struct {
	db     *leveldb.DB
	prefix []byte
	locks  [lockStripes]sync.Mutex
}

// NewLevelStore creates a store for namespace on db. The store does not own db.
func NewLevelStore(db *leveldb.DB, namespace string) *LevelStore {
	return &LevelStore{
		db:     db,
		prefix: namespacePrefix(namespace),
	}
}

// namespacePrefix is "e/", the namespace length as a uvarint, then the
// namespace. The length keeps one namespace's prefix from being a prefix
// of another's keys.
func namespacePrefix(namespace string) []byte {
	p := make([]byte, 0, 2+binary.MaxVarintLen64+len(namespace))
	p = append(p, "e/"...)
	p = binary.AppendUvarint(p, uint64(len(namespace)))
	return append(p, namespace...)
}

func (s *LevelStore) dbKey(key string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(key))
	k = append(k, s.prefix...)
	return append(k, key...)
}

func (s *LevelStore) lockFor(key string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(key)%lockStripes]
}

// Apply resolves and stores e.
func (s *LevelStore) Apply(e entry.Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	mu := s.lockFor(e.Key)
	mu.Lock()
	defer mu.Unlock()

	cur, found, err := s.get(e.Key)
	if err != nil {
		return false, err
	}
	var existing *entry.Entry
	if found {
		existing = &cur
	}
	winner, changed := resolve.Resolve(e, existing)
	if !changed {
		return false, nil
	}
	if err := s.db.Put(s.dbKey(e.Key), wire.MarshalEntry(winner), nil); err != nil {
		return false, errors.Wrapf(errs.ErrStoreFailure, "put %q: %v", e.Key, err)
	}
	return true, nil
}

// Get reads the entry for key.
func (s *LevelStore) Get(key string) (entry.Entry, bool, error) {
	return s.get(key)
}

func (s *LevelStore) get(key string) (entry.Entry, bool, error) {
	raw, err := s.db.Get(s.dbKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return entry.Entry{}, false, nil
	}
	if err != nil {
		return entry.Entry{}, false, errors.Wrapf(errs.ErrStoreFailure, "get %q: %v", key, err)
	}
	e, err := wire.UnmarshalEntry(raw)
	if err != nil {
		return entry.Entry{}, false, errors.Wrapf(errs.ErrStoreFailure, "decode %q: %v", key, err)
	}
	return e, true, nil
}

// Evict removes key.
func (s *LevelStore) Evict(key string) error {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	if err := s.db.Delete(s.dbKey(key), nil); err != nil {
		return errors.Wrapf(errs.ErrStoreFailure, "delete %q: %v", key, err)
	}
	return nil
}

// Scan visits every entry in key order.
func (s *LevelStore) Scan(fn func(entry.Entry) bool) error {
	it := s.db.NewIterator(util.BytesPrefix(s.prefix), nil)
	defer it.Release()
	for it.Next() {
		e, err := wire.UnmarshalEntry(it.Value())
		if err != nil {
			return errors.Wrapf(errs.ErrStoreFailure, "decode %q: %v", it.Key(), err)
		}
		if !fn(e) {
			return nil
		}
	}
	if err := it.Error(); err != nil {
		return errors.Wrap(errs.ErrStoreFailure, err.Error())
	}
	return nil
}

// MaxCounter returns the Coordinated counter held for key.
func (s *LevelStore) MaxCounter(key string) (uint64, error) {
	e, ok, err := s.get(key)
	if err != nil || !ok {
		return 0, err
	}
	return coordinatedCounter(e), nil
}

// Close is a no-op; the database belongs to whoever opened it.
func (s *LevelStore) Close() error {
	return nil
}
