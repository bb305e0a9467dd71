package persist

import (
	"context"
	"sync"
)

// MemoryStorage keeps records in process memory and reports changes to
// watchers synchronously. It is the default backend and suits tests and
// single-process deployments.
type MemoryStorage struct {
	mu       sync.RWMutex
	records  map[string]Record
	closed   bool
	watchers map[int]WatchFunc
	nextID   int
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records:  make(map[string]Record),
		watchers: make(map[int]WatchFunc),
	}
}

// Get returns a copy of the record under key.
func (m *MemoryStorage) Get(ctx context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed{}
	}

	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	rec = rec.Clone()
	return &rec, nil
}

// Set stores a copy of rec and notifies watchers.
func (m *MemoryStorage) Set(ctx context.Context, key string, rec Record) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStoreClosed{}
	}
	m.records[key] = rec.Clone()
	watchers := m.snapshot()
	m.mu.Unlock()

	for _, fn := range watchers {
		next := rec.Clone()
		fn(key, &next)
	}
	return nil
}

// Delete removes key and notifies watchers if it existed.
func (m *MemoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStoreClosed{}
	}
	_, existed := m.records[key]
	delete(m.records, key)
	watchers := m.snapshot()
	m.mu.Unlock()

	if existed {
		for _, fn := range watchers {
			fn(key, nil)
		}
	}
	return nil
}

// Watch registers fn until stop is called or ctx is done.
func (m *MemoryStorage) Watch(ctx context.Context, fn WatchFunc) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed{}
	}

	id := m.nextID
	m.nextID++
	m.watchers[id] = fn

	var once sync.Once
	done := make(chan struct{})
	stop := func() {
		once.Do(func() {
			close(done)
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop, nil
}

// Close drops every record and watcher.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.records = nil
	m.watchers = make(map[int]WatchFunc)
	return nil
}

// Len returns the number of stored keys.
// This is for monitoring/testing purposes.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Watchers returns the number of active watchers.
func (m *MemoryStorage) Watchers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watchers)
}

// snapshot copies the watcher set. Caller holds m.mu.
func (m *MemoryStorage) snapshot() []WatchFunc {
	out := make([]WatchFunc, 0, len(m.watchers))
	for _, fn := range m.watchers {
		out = append(out, fn)
	}
	return out
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Watcher = (*MemoryStorage)(nil)
)
