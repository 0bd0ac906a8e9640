package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrKeyNotFound is returned by MemoryKV.Get for absent keys.
var ErrKeyNotFound = errors.New("testutil: key not found")

// MemoryKV is an in-memory revisioned key-value store with the same method set as
// node.ValueStore. Safe for concurrent use.
type MemoryKV struct {
	mu       sync.RWMutex
	data     map[string][]byte
	revision uint64
}

// NewMemoryKV creates an empty store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Put stores a copy of value and returns the new store revision.
func (kv *MemoryKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	kv.data[key] = stored
	kv.revision++
	return kv.revision, nil
}

// Get returns a copy of the value stored under key.
func (kv *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	val, ok := kv.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (kv *MemoryKV) Delete(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}

// Keys returns the stored keys sorted.
func (kv *MemoryKV) Keys() []string {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
