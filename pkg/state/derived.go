package state

import (
	"sync"
	"time"
)

// Derived is a cell computed from other cells.
//
// The getter receives a *Tracker; every cell it reads through Track becomes
// a dependency for that pass. The dependency set is rebuilt on each pass, so
// getters may branch and read different cells each time.
//
// A Derived with no subscribers keeps no upstream subscriptions and runs a
// full pass on every Get (pull mode). The first Subscribe runs one pass and
// subscribes to what it read (push mode); from then on upstream changes
// trigger passes and subscribers are notified when the value changes. When
// the last subscriber leaves, every upstream subscription is dropped.
type Derived[T any] struct {
	subs subscribers[T]

	getter func(t *Tracker) T
	setter func(next, prev T)
	equal  func(a, b T) bool
	opts   options

	// passMu serializes passes, reconciliation and the push/pull switch.
	passMu sync.Mutex
	live   bool
	deps   map[node]Unsubscribe

	mu       sync.RWMutex
	value    T
	hasValue bool
}

// NewDerived creates a read-only derived cell; Set and Update are no-ops.
//
//	total := state.NewDerived(func(t *state.Tracker) int {
//	    return state.Track(t, price) * state.Track(t, qty)
//	})
func NewDerived[T any](getter func(t *Tracker) T, opts ...Option) *Derived[T] {
	return NewWritableDerived(getter, nil, opts...)
}

// NewWritableDerived creates a derived cell whose Set and Update call
// setter with (next, prev). The setter decides how to write the value back
// into upstream cells.
func NewWritableDerived[T any](getter func(t *Tracker) T, setter func(next, prev T), opts ...Option) *Derived[T] {
	return &Derived[T]{
		getter: getter,
		setter: setter,
		opts:   applyOptions("derived", opts),
	}
}

// WithEquals replaces the SameValue policy used for change detection.
func (d *Derived[T]) WithEquals(fn func(a, b T) bool) *Derived[T] {
	d.equal = fn
	return d
}

// Name returns the cell's name.
func (d *Derived[T]) Name() string {
	return d.opts.name
}

// Get returns the value. In push mode it is the value kept current by
// upstream notifications; in pull mode it is recomputed.
func (d *Derived[T]) Get() T {
	return d.read(nil)
}

// Set passes value to the setter, if any.
func (d *Derived[T]) Set(value T) {
	d.Update(func(T) T { return value })
}

// Update passes fn(current) to the setter, if any.
func (d *Derived[T]) Update(fn func(prev T) T) {
	if d.setter == nil {
		return
	}
	prev := d.Get()
	d.setter(fn(prev), prev)
}

// Reset forces a pass and notifies subscribers if the value changed.
func (d *Derived[T]) Reset() {
	d.refresh()
}

// Subscribe registers h. The first subscriber switches the cell to push
// mode before Subscribe returns.
func (d *Derived[T]) Subscribe(h *Handler[T]) Unsubscribe {
	if h == nil {
		return noopUnsubscribe
	}

	d.passMu.Lock()
	defer d.passMu.Unlock()

	if !d.live {
		d.activate()
	}
	d.subs.add(h)
	return func() { d.Unsubscribe(h) }
}

// SubscribeFunc registers fn under a fresh handler.
func (d *Derived[T]) SubscribeFunc(fn func(next, prev T)) Unsubscribe {
	return d.Subscribe(NewHandler(fn))
}

// Unsubscribe removes h. Removing the last subscriber drops every upstream
// subscription.
func (d *Derived[T]) Unsubscribe(h *Handler[T]) {
	if h == nil {
		return
	}

	d.passMu.Lock()
	defer d.passMu.Unlock()

	d.subs.remove(h)
	if d.live && d.subs.len() == 0 {
		d.deactivate()
	}
}

// HasSubscriber reports whether any handler is registered.
func (d *Derived[T]) HasSubscriber() bool {
	return d.subs.len() > 0
}

// Destroy removes every subscriber and upstream subscription. The cell
// stays usable in pull mode.
func (d *Derived[T]) Destroy() {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	d.subs.clear()
	if d.live {
		d.deactivate()
	}
}

// Dependencies returns the number of upstream cells currently subscribed.
// It is zero in pull mode.
func (d *Derived[T]) Dependencies() int {
	d.passMu.Lock()
	defer d.passMu.Unlock()
	return len(d.deps)
}

func (d *Derived[T]) read(parent *Tracker) T {
	if parent.visiting(d) {
		panic(cycleError(d.opts.name))
	}

	d.passMu.Lock()
	defer d.passMu.Unlock()

	if d.live {
		d.mu.RLock()
		v := d.value
		d.mu.RUnlock()
		return v
	}

	v, _ := d.pass(parent)
	d.store(v)
	return v
}

// refresh runs a pass, reconciles subscriptions in push mode and notifies
// subscribers if the value changed.
func (d *Derived[T]) refresh() {
	next, prev, changed := d.recompute()
	if changed {
		n := d.subs.notify(next, prev)
		if d.opts.observer != nil {
			d.opts.observer.ObserveNotify(d.opts.metricName(), n)
		}
	}
}

func (d *Derived[T]) recompute() (next, prev T, changed bool) {
	d.passMu.Lock()
	defer d.passMu.Unlock()

	next, t := d.pass(nil)
	if d.live {
		d.reconcile(t)
	}

	d.mu.Lock()
	prev = d.value
	changed = d.live && d.hasValue && !d.equals(prev, next)
	d.value = next
	d.hasValue = true
	d.mu.Unlock()

	return next, prev, changed
}

// activate runs one pass and subscribes to everything it read.
// Caller holds passMu.
func (d *Derived[T]) activate() {
	v, t := d.pass(nil)
	d.reconcile(t)
	d.store(v)
	d.live = true
}

// deactivate drops every upstream subscription. Caller holds passMu.
func (d *Derived[T]) deactivate() {
	for _, stop := range d.deps {
		stop()
	}
	if len(d.deps) > 0 {
		d.opts.logger.Debug("dependencies released", "removed", len(d.deps))
	}
	d.deps = nil
	d.live = false
}

// pass runs the getter once. A panicking getter leaves subscriptions as
// they were: reconciliation only happens after pass returns.
func (d *Derived[T]) pass(parent *Tracker) (T, *Tracker) {
	t := newTracker(d, parent)
	start := time.Now()
	v := d.getter(t)
	if d.opts.observer != nil {
		d.opts.observer.ObservePass(d.opts.metricName(), t.Len(), time.Since(start))
	}
	return v, t
}

// reconcile makes the live subscriptions match what t read: cells read in
// both passes keep their subscription, new cells are subscribed, cells no
// longer read are unsubscribed. Caller holds passMu.
func (d *Derived[T]) reconcile(t *Tracker) {
	read := t.deps()
	next := make(map[node]Unsubscribe, len(read))
	added, removed := 0, 0

	for _, n := range read {
		if stop, ok := d.deps[n]; ok {
			next[n] = stop
			continue
		}
		next[n] = n.watch(d.refresh)
		added++
	}
	for n, stop := range d.deps {
		if _, ok := next[n]; !ok {
			stop()
			removed++
		}
	}
	d.deps = next

	if added > 0 || removed > 0 {
		d.opts.logger.Debug("dependencies reconciled",
			"added", added,
			"removed", removed,
			"total", len(next))
	}
}

func (d *Derived[T]) store(v T) {
	d.mu.Lock()
	d.value = v
	d.hasValue = true
	d.mu.Unlock()
}

func (d *Derived[T]) equals(a, b T) bool {
	if d.equal != nil {
		return d.equal(a, b)
	}
	return SameValue(a, b)
}

func (d *Derived[T]) watch(onChange func()) Unsubscribe {
	return d.Subscribe(NewHandler(func(T, T) { onChange() }))
}

func (d *Derived[T]) label() string {
	return d.opts.name
}

var _ State[int] = (*Derived[int])(nil)
