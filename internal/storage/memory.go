package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

type memoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string]json.RawMessage
	closed bool
}

// NewMemory returns a process-local store. It is the default driver and the
// storage used in tests.
func NewMemory() Store {
	return &memoryStore{data: map[string]map[string]json.RawMessage{}}
}

func (s *memoryStore) Collection(ctx context.Context, name string) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.data[name]; !ok {
		s.data[name] = map[string]json.RawMessage{}
	}
	return &memoryCollection{store: s, name: name}, nil
}

func (s *memoryStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data = map[string]map[string]json.RawMessage{}
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type memoryCollection struct {
	store *memoryStore
	name  string
}

func (c *memoryCollection) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.closed {
		return ErrClosed
	}
	m, ok := c.store.data[c.name]
	if !ok {
		m = map[string]json.RawMessage{}
		c.store.data[c.name] = m
	}
	m[key] = b
	return nil
}

func (c *memoryCollection) Get(ctx context.Context, key string, out any) error {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	if c.store.closed {
		return ErrClosed
	}
	b, ok := c.store.data[c.name][key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(b, out)
}

func (c *memoryCollection) Delete(ctx context.Context, key string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.closed {
		return ErrClosed
	}
	delete(c.store.data[c.name], key)
	return nil
}

func (c *memoryCollection) Keys(ctx context.Context) ([]string, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	if c.store.closed {
		return nil, ErrClosed
	}
	m := c.store.data[c.name]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *memoryCollection) Clear(ctx context.Context) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if c.store.closed {
		return ErrClosed
	}
	c.store.data[c.name] = map[string]json.RawMessage{}
	return nil
}
