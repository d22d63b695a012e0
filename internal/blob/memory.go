package blob

import (
	"context"
	"io"
	"sync"
)

// Memory es el backend en memoria para tests y desarrollo local.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string]*Object)}
}

func (m *Memory) Put(ctx context.Context, key, contentType string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.objects[key] = &Object{Data: data, ContentType: contentType, Size: int64(len(data))}
	m.mu.Unlock()
	return int64(len(data)), nil
}

func (m *Memory) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := *obj
	cp.Data = append([]byte(nil), obj.Data...)
	return &cp, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrNotFound
	}
	delete(m.objects, key)
	return nil
}

// Len es un helper de tests.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
