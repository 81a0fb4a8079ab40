package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryTokenStore is a process-local TokenStore. It is safe for concurrent
// use and honours the same versioning contract as the SQL store.
type MemoryTokenStore struct {
	mu      sync.Mutex
	entries map[string]Record
	nowFn   func() time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		entries: map[string]Record{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryTokenStore) Get(_ context.Context, key string) (Record, error) {
	if s == nil {
		return Record{}, fmt.Errorf("core: token store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Record{}, fmt.Errorf("core: record key is required")
	}
	s.mu.Lock()
	record, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrRecordNotFound, key)
	}
	return cloneRecord(record), nil
}

func (s *MemoryTokenStore) Put(_ context.Context, key string, payload []byte) (Record, error) {
	if s == nil {
		return Record{}, fmt.Errorf("core: token store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Record{}, fmt.Errorf("core: record key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.entries[key]
	return s.writeLocked(key, current.Version+1, payload), nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("core: token store is not configured")
	}
	s.mu.Lock()
	delete(s.entries, strings.TrimSpace(key))
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) CompareAndSwap(_ context.Context, key string, expectedVersion int64, payload []byte) (Record, error) {
	if s == nil {
		return Record{}, fmt.Errorf("core: token store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Record{}, fmt.Errorf("core: record key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.entries[key]
	if !exists && expectedVersion != 0 {
		return Record{}, fmt.Errorf("%w: %q was removed", ErrVersionConflict, key)
	}
	if exists && current.Version != expectedVersion {
		return Record{}, fmt.Errorf("%w: %q expected version %d, found %d", ErrVersionConflict, key, expectedVersion, current.Version)
	}
	return s.writeLocked(key, expectedVersion+1, payload), nil
}

func (s *MemoryTokenStore) Scan(_ context.Context, prefix string) ([]Record, error) {
	if s == nil {
		return nil, fmt.Errorf("core: token store is not configured")
	}
	s.mu.Lock()
	out := make([]Record, 0, len(s.entries))
	for key, record := range s.entries {
		if strings.HasPrefix(key, prefix) {
			out = append(out, cloneRecord(record))
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryTokenStore) writeLocked(key string, version int64, payload []byte) Record {
	record := Record{
		Key:       key,
		Kind:      RecordKindForKey(key),
		Version:   version,
		Payload:   append([]byte(nil), payload...),
		UpdatedAt: s.nowFn(),
	}
	s.entries[key] = record
	return cloneRecord(record)
}

func cloneRecord(record Record) Record {
	cloned := record
	cloned.Payload = append([]byte(nil), record.Payload...)
	return cloned
}
