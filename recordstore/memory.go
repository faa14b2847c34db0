package recordstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a mutex-guarded in-process Store. Each operation is
// linearizable per key, matching the contract the Postgres engine provides;
// it backs the test suites and local development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrKeyNotFound
	}
	return rec, nil
}

func (s *MemoryStore) InsertIfAbsent(_ context.Context, key string, value []byte) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; ok {
		return Record{}, ErrKeyExists
	}
	rec := Record{Key: key, Value: cloneBytes(value), Version: 1}
	s.records[key] = rec
	return rec, nil
}

func (s *MemoryStore) CompareAndSet(_ context.Context, key string, expectedVersion int64, value []byte) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrKeyNotFound
	}
	if rec.Version != expectedVersion {
		return Record{}, ErrVersionMismatch
	}
	next := Record{Key: key, Value: cloneBytes(value), Version: rec.Version + 1}
	s.records[key] = next
	return next, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[key]
	delete(s.records, key)
	return ok, nil
}

func (s *MemoryStore) Scan(_ context.Context, prefix string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for key, rec := range s.records {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Record{Key: rec.Key, Value: cloneBytes(rec.Value), Version: rec.Version})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
