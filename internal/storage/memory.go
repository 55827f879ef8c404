package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore implements ObjectStore with an in-process map. Used in tests and
// single-node deployments without an S3 endpoint.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]Object
}

var _ ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string]Object)}
}

// Put stores or replaces the object at key.
func (m *MemoryStore) Put(_ context.Context, bucket, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string]Object)
		m.buckets[bucket] = b
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	b[key] = Object{Data: copied, ContentType: contentType}
	return nil
}

// Get returns the object at key, or ErrObjectNotFound.
func (m *MemoryStore) Get(_ context.Context, bucket, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.buckets[bucket][key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	copied := make([]byte, len(obj.Data))
	copy(copied, obj.Data)
	return &Object{Data: copied, ContentType: obj.ContentType}, nil
}

// Delete removes the object at key.
func (m *MemoryStore) Delete(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buckets[bucket], key)
	return nil
}

// List returns the keys under the given prefix, sorted.
func (m *MemoryStore) List(_ context.Context, bucket, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.buckets[bucket] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether an object exists at key.
func (m *MemoryStore) Exists(_ context.Context, bucket, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.buckets[bucket][key]
	return ok, nil
}

// Keys returns every key in the bucket, sorted. Test helper.
func (m *MemoryStore) Keys(bucket string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.buckets[bucket] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
