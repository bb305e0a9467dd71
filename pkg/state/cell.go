package state

import "sync"

// Cell is a mutable, observable container for one value.
//
// Writes that are SameValue-equal to the current value are no-ops; every
// other write stores the value and then synchronously calls each subscriber
// with (next, prev). Subscriber order is unspecified.
type Cell[T any] struct {
	subs subscribers[T]

	mu      sync.RWMutex
	value   T
	initial T
	init    func() T
	ready   bool

	equal     func(a, b T) bool
	onObserve func(observed bool)
	opts      options
}

// New creates a cell holding initial.
func New[T any](initial T, opts ...Option) *Cell[T] {
	return &Cell[T]{
		value:   initial,
		initial: initial,
		ready:   true,
		opts:    applyOptions("cell", opts),
	}
}

// NewLazy creates a cell whose value is produced by init on first access.
// Reset calls init again. init must not read the cell it initializes.
func NewLazy[T any](init func() T, opts ...Option) *Cell[T] {
	return &Cell[T]{
		init: init,
		opts: applyOptions("cell", opts),
	}
}

// WithEquals replaces the SameValue policy for this cell.
// Call it before the cell is shared.
func (c *Cell[T]) WithEquals(fn func(a, b T) bool) *Cell[T] {
	c.equal = fn
	return c
}

// OnObserve registers fn to run with true when the cell gains its first
// subscriber and with false when it loses its last one. Subscriptions made
// by derived cells count. Call it before the cell is shared.
func (c *Cell[T]) OnObserve(fn func(observed bool)) *Cell[T] {
	c.onObserve = fn
	return c
}

// Name returns the cell's name.
func (c *Cell[T]) Name() string {
	return c.opts.name
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	if c.ready {
		v := c.value
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensure()
	return c.value
}

// Set stores value and notifies subscribers unless it equals the current value.
func (c *Cell[T]) Set(value T) {
	c.apply(func(T) T { return value })
}

// Update stores fn(current) and notifies subscribers unless the result equals
// the current value. fn runs while the cell is locked and must not access it.
func (c *Cell[T]) Update(fn func(prev T) T) {
	c.apply(fn)
}

// Reset restores the initial value (re-running the lazy initializer), with
// the same no-op-on-equal and notify rules as Set.
func (c *Cell[T]) Reset() {
	c.apply(func(T) T { return c.initialValue() })
}

// Subscribe registers h and returns a function that removes it.
// Subscribing a handler that is already registered does nothing.
func (c *Cell[T]) Subscribe(h *Handler[T]) Unsubscribe {
	if h == nil {
		return noopUnsubscribe
	}
	if n, added := c.subs.add(h); added && n == 1 {
		c.observed(true)
	}
	return func() { c.Unsubscribe(h) }
}

// SubscribeFunc registers fn under a fresh handler.
func (c *Cell[T]) SubscribeFunc(fn func(next, prev T)) Unsubscribe {
	return c.Subscribe(NewHandler(fn))
}

// Unsubscribe removes h. Removing an absent handler is a no-op.
func (c *Cell[T]) Unsubscribe(h *Handler[T]) {
	if h == nil {
		return
	}
	if n, removed := c.subs.remove(h); removed && n == 0 {
		c.observed(false)
	}
}

// HasSubscriber reports whether any handler is registered.
func (c *Cell[T]) HasSubscriber() bool {
	return c.subs.len() > 0
}

// Destroy removes every subscriber. The cell keeps its value and stays usable.
func (c *Cell[T]) Destroy() {
	if c.subs.clear() > 0 {
		c.observed(false)
	}
}

func (c *Cell[T]) observed(on bool) {
	if c.onObserve != nil {
		c.onObserve(on)
	}
}

// Modify calls fn with the current value while the cell is locked. When fn
// returns ok and a value that differs from the current one, the value is
// stored and subscribers are notified after the lock is released.
// Reports whether the value changed. fn must not access the cell.
func (c *Cell[T]) Modify(fn func(prev T) (next T, ok bool)) bool {
	prev, next, changed := c.swapWith(fn)
	if changed {
		c.notify(next, prev)
	}
	return changed
}

func (c *Cell[T]) apply(fn func(T) T) {
	c.Modify(func(prev T) (T, bool) { return fn(prev), true })
}

func (c *Cell[T]) swapWith(fn func(T) (T, bool)) (prev, next T, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ensure()
	prev = c.value
	next, ok := fn(prev)
	if !ok || c.equals(prev, next) {
		return prev, next, false
	}
	c.value = next
	return prev, next, true
}

// swap stores next without notifying. Callers that commit under their own
// lock use it together with notify.
func (c *Cell[T]) swap(next T) (prev T, changed bool) {
	prev, _, changed = c.swapWith(func(T) (T, bool) { return next, true })
	return prev, changed
}

func (c *Cell[T]) notify(next, prev T) {
	n := c.subs.notify(next, prev)
	if c.opts.observer != nil {
		c.opts.observer.ObserveNotify(c.opts.metricName(), n)
	}
}

// ensure runs the lazy initializer once. Caller holds c.mu.
func (c *Cell[T]) ensure() {
	if c.ready {
		return
	}
	c.value = c.init()
	c.initial = c.value
	c.ready = true
}

func (c *Cell[T]) initialValue() T {
	if c.init != nil {
		return c.init()
	}
	return c.initial
}

func (c *Cell[T]) equals(a, b T) bool {
	if c.equal != nil {
		return c.equal(a, b)
	}
	return SameValue(a, b)
}

func (c *Cell[T]) watch(onChange func()) Unsubscribe {
	return c.Subscribe(NewHandler(func(T, T) { onChange() }))
}

func (c *Cell[T]) read(*Tracker) T {
	return c.Get()
}

func (c *Cell[T]) label() string {
	return c.opts.name
}

var _ State[int] = (*Cell[int])(nil)
