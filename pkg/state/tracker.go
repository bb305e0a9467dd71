package state

import "sync"

// Source is a readable, subscribable cell. Every cell kind in this package
// implements it, and so does any type that embeds one of them.
type Source[T any] interface {
	Get() T
	Subscribe(h *Handler[T]) Unsubscribe
	Unsubscribe(h *Handler[T])
	HasSubscriber() bool

	node
	read(parent *Tracker) T
}

// State is a Source that can be written, reset and destroyed.
type State[T any] interface {
	Source[T]
	Set(value T)
	Update(fn func(prev T) T)
	Reset()
	Destroy()
}

// node is the type-erased view of a cell used for dependency bookkeeping.
type node interface {
	// watch subscribes onChange and returns the matching unsubscribe.
	// Each call creates an independent subscription.
	watch(onChange func()) Unsubscribe
	label() string
}

// Tracker records the cells read during one derivation pass.
// A Tracker is only valid inside the getter it was passed to.
type Tracker struct {
	owner  node
	parent *Tracker

	mu    sync.Mutex
	seen  map[node]struct{}
	order []node

	// onRead, when set, runs the first time a pass reads a node.
	onRead func(node)
}

func newTracker(owner node, parent *Tracker) *Tracker {
	return &Tracker{
		owner:  owner,
		parent: parent,
		seen:   make(map[node]struct{}),
	}
}

// Track reads src and records it as a dependency of the running pass.
// A nil tracker reads without recording.
func Track[T any](t *Tracker, src Source[T]) T {
	if t == nil {
		return src.Get()
	}
	t.record(src)
	return src.read(t)
}

// Len returns how many distinct cells the pass has read so far.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

func (t *Tracker) record(n node) {
	t.mu.Lock()
	if _, ok := t.seen[n]; ok {
		t.mu.Unlock()
		return
	}
	t.seen[n] = struct{}{}
	t.order = append(t.order, n)
	onRead := t.onRead
	t.mu.Unlock()

	if onRead != nil {
		onRead(n)
	}
}

func (t *Tracker) saw(n node) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.seen[n]
	return ok
}

// deps returns the nodes read, in first-read order.
func (t *Tracker) deps() []node {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]node, len(t.order))
	copy(out, t.order)
	return out
}

// visiting reports whether n is computing somewhere up the chain of passes
// that led to t.
func (t *Tracker) visiting(n node) bool {
	for p := t; p != nil; p = p.parent {
		if p.owner == n {
			return true
		}
	}
	return false
}
