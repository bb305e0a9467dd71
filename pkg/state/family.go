package state

import (
	"context"
	"sort"
	"sync"

	"github.com/vango-dev/sharedstate/internal/singleflight"
)

// Family lazily creates and caches one cell per key.
//
// There is at most one member per key at a time. Concurrent first access to
// the same key runs the factory once. Members live until Destroy or
// DestroyAll; there is no eviction.
type Family[K comparable, T any] struct {
	factory func(K) State[T]
	opts    options

	mu      sync.RWMutex
	members map[K]State[T]

	flight singleflight.Group[K, State[T]]
}

// NewFamily creates an empty family that builds members with factory.
//
//	carts := state.NewFamily(func(user string) state.State[Cart] {
//	    return state.New(Cart{}, state.WithName("cart:"+user))
//	})
func NewFamily[K comparable, T any](factory func(K) State[T], opts ...Option) *Family[K, T] {
	return &Family[K, T]{
		factory: factory,
		opts:    applyOptions("family", opts),
		members: make(map[K]State[T]),
	}
}

// Name returns the family's name.
func (f *Family[K, T]) Name() string {
	return f.opts.name
}

// Get returns the member for key, creating it on first access.
// A panic in the factory reaches every caller waiting on that key.
func (f *Family[K, T]) Get(key K) State[T] {
	if m, ok := f.lookup(key); ok {
		return m
	}

	m, err, _ := f.flight.Do(context.Background(), key, func() (State[T], error) {
		if m, ok := f.lookup(key); ok {
			return m, nil
		}
		m := f.factory(key)

		f.mu.Lock()
		f.members[key] = m
		n := len(f.members)
		f.mu.Unlock()

		f.opts.logger.Debug("family member created", "key", key, "members", n)
		f.observe(n)
		return m, nil
	})
	if err != nil {
		panic(err)
	}
	return m
}

// Peek returns the member for key without creating it.
func (f *Family[K, T]) Peek(key K) (State[T], bool) {
	return f.lookup(key)
}

// Destroy destroys and removes the member for key. Absent keys are ignored.
func (f *Family[K, T]) Destroy(key K) {
	f.mu.Lock()
	m, ok := f.members[key]
	if ok {
		delete(f.members, key)
	}
	n := len(f.members)
	f.mu.Unlock()

	if !ok {
		return
	}
	m.Destroy()
	f.opts.logger.Debug("family member destroyed", "key", key, "members", n)
	f.observe(n)
}

// DestroyAll destroys and removes every member.
func (f *Family[K, T]) DestroyAll() {
	f.mu.Lock()
	members := f.members
	f.members = make(map[K]State[T])
	f.mu.Unlock()

	for _, m := range members {
		m.Destroy()
	}
	if len(members) > 0 {
		f.opts.logger.Debug("family cleared", "destroyed", len(members))
		f.observe(0)
	}
}

// Keys returns the keys of the current members in unspecified order.
func (f *Family[K, T]) Keys() []K {
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := make([]K, 0, len(f.members))
	for k := range f.members {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of members.
func (f *Family[K, T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.members)
}

func (f *Family[K, T]) lookup(key K) (State[T], bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.members[key]
	return m, ok
}

func (f *Family[K, T]) observe(members int) {
	if f.opts.observer != nil {
		f.opts.observer.ObserveFamily(f.opts.metricName(), members)
	}
}

// SortedKeys returns the keys of f in ascending order.
func SortedKeys[T any](f *Family[string, T]) []string {
	keys := f.Keys()
	sort.Strings(keys)
	return keys
}
