package state

import "sync"

// Handler wraps a change callback. Handlers are compared by pointer identity:
// subscribing the same *Handler twice registers it once, and Unsubscribe
// removes exactly the handler it is given.
type Handler[T any] struct {
	fn func(next, prev T)
}

// NewHandler creates a handler for fn.
func NewHandler[T any](fn func(next, prev T)) *Handler[T] {
	return &Handler[T]{fn: fn}
}

// Unsubscribe removes the subscription it was returned for.
// Calling it more than once is a no-op.
type Unsubscribe func()

func noopUnsubscribe() {}

// subscribers is the subscriber set shared by every cell kind.
type subscribers[T any] struct {
	mu  sync.Mutex
	set map[*Handler[T]]struct{}
}

// add registers h. Returns the number of subscribers afterwards and
// whether h was not already present.
func (s *subscribers[T]) add(h *Handler[T]) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set == nil {
		s.set = make(map[*Handler[T]]struct{})
	}
	if _, ok := s.set[h]; ok {
		return len(s.set), false
	}
	s.set[h] = struct{}{}
	return len(s.set), true
}

// remove drops h. Returns the number of subscribers afterwards and whether
// h was present.
func (s *subscribers[T]) remove(h *Handler[T]) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.set[h]; !ok {
		return len(s.set), false
	}
	delete(s.set, h)
	return len(s.set), true
}

func (s *subscribers[T]) has(h *Handler[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[h]
	return ok
}

func (s *subscribers[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.set)
}

// clear removes every handler and returns how many were registered.
func (s *subscribers[T]) clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.set)
	s.set = nil
	return n
}

// notify calls every subscriber with (next, prev) and returns how many were
// called. Uses copy-before-notify so handlers may subscribe or unsubscribe
// while being called; a handler removed by an earlier handler in the same
// dispatch is skipped.
func (s *subscribers[T]) notify(next, prev T) int {
	s.mu.Lock()
	subs := make([]*Handler[T], 0, len(s.set))
	for h := range s.set {
		subs = append(subs, h)
	}
	s.mu.Unlock()

	called := 0
	for _, h := range subs {
		if !s.has(h) {
			continue
		}
		h.fn(next, prev)
		called++
	}
	return called
}
