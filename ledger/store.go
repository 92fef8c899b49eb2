package ledger

import (
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/heliolabs/rollup/common"
)

const (
	ErrNotFound = common.ConstError("not found")
)

//go:generate mockgen -source=store.go -destination=store_mock.go -package=ledger

// Store is the durable backing layer of the ledger: one encoded record per
// account identifier. Apply must persist all entries atomically — either the
// full set of records is durable afterwards, or none of it is.
type Store interface {
	Get(id common.Address) ([]byte, error)
	Apply(entries []Entry) error
	ForEach(fn func(id common.Address, blob []byte) error) error
	Close() error
}

// Entry is a single staged durable write.
type Entry struct {
	ID   common.Address
	Blob []byte
}

// levelDbStore persists account records in a LevelDB instance.
type levelDbStore struct {
	db *leveldb.DB
}

func NewLevelDbStore(path string) (Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &levelDbStore{db: db}, nil
}

func (s *levelDbStore) Get(id common.Address) ([]byte, error) {
	data, err := s.db.Get(id[:], &opt.ReadOptions{})
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *levelDbStore) Apply(entries []Entry) error {
	batch := new(leveldb.Batch)
	for _, entry := range entries {
		batch.Put(entry.ID[:], entry.Blob)
	}
	// A single synced batch write keeps multi-account updates atomic.
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (s *levelDbStore) ForEach(fn func(id common.Address, blob []byte) error) error {
	iter := s.db.NewIterator(nil, &opt.ReadOptions{})
	defer iter.Release()
	for iter.Next() {
		var id common.Address
		copy(id[:], iter.Key())
		blob := make([]byte, len(iter.Value()))
		copy(blob, iter.Value())
		if err := fn(id, blob); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *levelDbStore) Close() error {
	return s.db.Close()
}

// memoryStore is a non-durable in-memory implementation of Store, used for
// tests and throw-away nodes.
type memoryStore struct {
	mu    sync.Mutex
	store map[common.Address][]byte
}

func NewMemoryStore() Store {
	return &memoryStore{store: make(map[common.Address][]byte)}
}

func (s *memoryStore) Get(id common.Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return blob, nil
}

func (s *memoryStore) Apply(entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		s.store[entry.ID] = entry.Blob
	}
	return nil
}

func (s *memoryStore) ForEach(fn func(id common.Address, blob []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, blob := range s.store {
		if err := fn(id, blob); err != nil {
			return err
		}
	}
	return nil
}

func (s *memoryStore) Close() error {
	// No resources to clean up for the in-memory store.
	return nil
}
