package objectstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrObjectNotFound is returned by MemoryStore.Download for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

const memoryBucket = "memory"

// MemoryStore is a process-local core.ObjectStore.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Download returns a copy of the stored object.
func (m *MemoryStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: '%s'", ErrObjectNotFound, key)
	}

	return append([]byte(nil), data...), nil
}

// Upload stores a copy of data under key.
func (m *MemoryStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = append([]byte(nil), data...)

	return nil
}

// Delete removes key if present.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

// Reference returns objectstore://memory/<key>.
func (m *MemoryStore) Reference(key string) string {
	return referenceScheme + memoryBucket + "/" + key
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.objects)
}
