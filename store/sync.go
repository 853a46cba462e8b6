package store

import "sync"

// Sync wraps a store with a mutex so that independent goroutines may
// share it. The hosting environment the original design assumed executes
// one transaction at a time; an embedded engine gets no such guarantee,
// so the shared store must serialize access itself.
//
// Iterators returned by a synced store are materialized snapshots taken
// under the lock, which keeps the no-writes-during-iteration contract
// satisfied for all readers.
func Sync(parent CacheableKVStore) CacheableKVStore {
	return &syncStore{parent: parent}
}

type syncStore struct {
	mu     sync.RWMutex
	parent CacheableKVStore
}

var _ CacheableKVStore = (*syncStore)(nil)

func (s *syncStore) Get(key []byte) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parent.Get(key)
}

func (s *syncStore) Has(key []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parent.Has(key)
}

func (s *syncStore) Set(key, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent.Set(key, value)
}

func (s *syncStore) Delete(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent.Delete(key)
}

func (s *syncStore) Iterator(start, end []byte) Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.parent.Iterator(start, end))
}

func (s *syncStore) ReverseIterator(start, end []byte) Iterator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.parent.ReverseIterator(start, end))
}

func (s *syncStore) NewBatch() Batch {
	return NewNonAtomicBatch(s)
}

// CacheWrap returns a cache layer with this synced store as backing.
// Reads pass through under the read lock, writes are collected and
// applied on Write.
func (s *syncStore) CacheWrap() KVCacheWrap {
	return NewBTreeCacheWrap(s, s.NewBatch(), nil)
}

// snapshot drains an iterator into a SliceIterator so the underlying
// store lock can be released before the caller starts consuming.
func snapshot(iter Iterator) Iterator {
	var data []Model
	for ; iter.Valid(); iter.Next() {
		data = append(data, Model{Key: iter.Key(), Value: iter.Value()})
	}
	iter.Close()
	return NewSliceIterator(data)
}
