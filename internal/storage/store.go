package storage

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// ErrKeyNotFound is returned when a key doesn't exist in the store
var ErrKeyNotFound = errors.New("key not found")

// Store is a byte-oriented key-value store.
// All implementations must be safe for concurrent use.
type Store interface {
	// Get returns a copy of the value, or ErrKeyNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error

	// Delete removes key and reports whether it existed.
	Delete(key string) (bool, error)

	// Keys returns the keys starting with prefix, sorted.
	Keys(prefix string) []string

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys  int `json:"keys"`
	Bytes int `json:"bytes"`
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	bytes int
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key
// Returns a copy of the value to prevent external modification
func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}
	return slices.Clone(value), nil
}

// Put stores a copy of value.
func (m *MemoryStore) Put(key string, value []byte) error {
	stored := slices.Clone(value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes += len(stored) - len(m.data[key])
	m.data[key] = stored
	return nil
}

// Delete is idempotent.
func (m *MemoryStore) Delete(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.data[key]
	if !ok {
		return false, nil
	}
	m.bytes -= len(value)
	delete(m.data, key)
	return true, nil
}

// Keys returns the matching keys in lexicographic order.
func (m *MemoryStore) Keys(prefix string) []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return StoreStats{Keys: len(m.data), Bytes: m.bytes}
}
