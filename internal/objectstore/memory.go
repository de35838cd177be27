package objectstore

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store used by tests and the `memory` backend.
type Memory struct {
	mu         sync.RWMutex
	containers map[string]map[string][]byte
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{containers: make(map[string]map[string][]byte)}
}

func (m *Memory) EnsureContainer(ctx context.Context, container string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateName(container); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[container]; !ok {
		m.containers[container] = make(map[string][]byte)
	}
	return nil
}

func (m *Memory) Exists(ctx context.Context, container, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	objects, ok := m.containers[container]
	if !ok {
		return false, nil
	}
	_, ok = objects[key]
	return ok, nil
}

func (m *Memory) Get(ctx context.Context, container, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.containers[container][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, container, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Put(ctx context.Context, container, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.containers[container]
	if !ok {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, container)
	}
	objects[key] = append([]byte(nil), data...)
	return nil
}
