package ledger

import (
	"context"
	"errors"
	"sync"
)

var errClosed = errors.New("ledger backend is closed")

// MemoryBackend keeps state in a map. State is lost when the process exits.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]string)}
}

type mapReader map[string]string

func (m mapReader) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m *MemoryBackend) Update(_ context.Context, fn func(r Reader) (Writes, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}

	writes, err := fn(mapReader(m.data))
	if err != nil {
		return err
	}
	for k, v := range writes {
		if v == nil {
			delete(m.data, k)
			continue
		}
		m.data[k] = *v
	}
	return nil
}

func (m *MemoryBackend) View(_ context.Context, fn func(r Reader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return fn(mapReader(m.data))
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
