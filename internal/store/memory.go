package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps state in process memory. It survives orchestrator
// restarts within one process, which is what tests and the CLI dry-run use.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[string]string
	// MaxValueBytes rejects larger values with ErrQuotaExceeded. Zero disables the check.
	MaxValueBytes int
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]map[string]string)}
}

func (m *MemoryBackend) Get(ctx context.Context, scope, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[scope][key]
	return v, ok, nil
}

func (m *MemoryBackend) Set(ctx context.Context, scope, key, value string) error {
	if m.MaxValueBytes > 0 && len(value) > m.MaxValueBytes {
		return ErrQuotaExceeded
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[scope] == nil {
		m.data[scope] = make(map[string]string)
	}
	m.data[scope][key] = value
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[scope], key)
	return nil
}

func (m *MemoryBackend) Clear(ctx context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, scope)
	return nil
}

// Keys returns the keys stored for scope.
func (m *MemoryBackend) Keys(scope string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data[scope]))
	for k := range m.data[scope] {
		keys = append(keys, k)
	}
	return keys
}
