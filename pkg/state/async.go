package state

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	errs "github.com/vango-dev/sharedstate/internal/errors"
)

// AsyncDerived is a derived cell whose getter runs on its own goroutine.
//
// Each pass takes the next task id. When a pass settles, its result is
// committed (and Hydrating flips back to false) only if its id is still the
// latest; results of superseded passes are dropped, so a slow stale pass can
// never overwrite a newer one. A superseded pass also sees its context
// cancelled.
//
// Any upstream change starts a new pass. Because the getter may read cells
// after it suspends, a read subscribes right away (reusing the subscription
// from earlier passes); cells the current pass did not read are unsubscribed
// when it settles.
type AsyncDerived[T any] struct {
	value     *Cell[T]
	hydrating *Cell[bool]

	getter func(ctx context.Context, t *Tracker) (T, error)
	setter func(next, prev T)
	opts   options

	mu        sync.Mutex
	taskID    uint64
	cancel    context.CancelFunc
	deps      map[node]Unsubscribe
	committed bool

	inflight conc.WaitGroup
}

// NewAsync creates a read-only async derived cell and starts its first pass.
//
//	profile := state.NewAsync(func(ctx context.Context, t *state.Tracker) (Profile, error) {
//	    return api.FetchProfile(ctx, state.Track(t, userID))
//	})
func NewAsync[T any](getter func(ctx context.Context, t *Tracker) (T, error), opts ...Option) *AsyncDerived[T] {
	return NewWritableAsync(getter, nil, opts...)
}

// NewWritableAsync creates an async derived cell whose Set and Update call
// setter with (next, prev), and starts its first pass.
func NewWritableAsync[T any](getter func(ctx context.Context, t *Tracker) (T, error), setter func(next, prev T), opts ...Option) *AsyncDerived[T] {
	o := applyOptions("async", opts)

	ho := o
	ho.name = o.name + ".hydrating"
	ho.observer = nil

	a := &AsyncDerived[T]{
		value:     &Cell[T]{ready: true, opts: o},
		hydrating: &Cell[bool]{ready: true, opts: ho},
		getter:    getter,
		setter:    setter,
		opts:      o,
		deps:      make(map[node]Unsubscribe),
	}
	a.hydrate()
	return a
}

// WithEquals replaces the SameValue policy used when committing results.
func (a *AsyncDerived[T]) WithEquals(fn func(a, b T) bool) *AsyncDerived[T] {
	a.value.WithEquals(fn)
	return a
}

// Name returns the cell's name.
func (a *AsyncDerived[T]) Name() string {
	return a.opts.name
}

// Get returns the last committed value, or the zero value of T before the
// first commit. It never waits for a pass.
func (a *AsyncDerived[T]) Get() T {
	return a.value.Get()
}

// Load returns the last committed value and whether any pass has committed.
func (a *AsyncDerived[T]) Load() (T, bool) {
	a.mu.Lock()
	ok := a.committed
	a.mu.Unlock()
	return a.value.Get(), ok
}

// Hydrating is true while the current pass is running.
func (a *AsyncDerived[T]) Hydrating() *Cell[bool] {
	return a.hydrating
}

// Set passes value to the setter, if any.
func (a *AsyncDerived[T]) Set(value T) {
	a.Update(func(T) T { return value })
}

// Update passes fn(current) to the setter, if any.
func (a *AsyncDerived[T]) Update(fn func(prev T) T) {
	if a.setter == nil {
		return
	}
	prev := a.value.Get()
	a.setter(fn(prev), prev)
}

// Reset starts a new pass, superseding the one in flight.
func (a *AsyncDerived[T]) Reset() {
	a.hydrate()
}

// Subscribe registers h for committed value changes.
func (a *AsyncDerived[T]) Subscribe(h *Handler[T]) Unsubscribe {
	return a.value.Subscribe(h)
}

// SubscribeFunc registers fn under a fresh handler.
func (a *AsyncDerived[T]) SubscribeFunc(fn func(next, prev T)) Unsubscribe {
	return a.value.SubscribeFunc(fn)
}

// Unsubscribe removes h.
func (a *AsyncDerived[T]) Unsubscribe(h *Handler[T]) {
	a.value.Unsubscribe(h)
}

// HasSubscriber reports whether any handler is registered.
func (a *AsyncDerived[T]) HasSubscriber() bool {
	return a.value.HasSubscriber()
}

// Destroy drops every upstream subscription and every subscriber of the
// value and Hydrating cells. The in-flight pass is cancelled and can no
// longer commit. Reset starts over.
func (a *AsyncDerived[T]) Destroy() {
	a.mu.Lock()
	a.taskID++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	deps := a.deps
	a.deps = make(map[node]Unsubscribe)
	a.hydrating.swap(false)
	a.mu.Unlock()

	for _, stop := range deps {
		stop()
	}
	a.value.Destroy()
	a.hydrating.Destroy()
}

// Wait blocks until every pass started so far has settled.
func (a *AsyncDerived[T]) Wait() {
	a.inflight.Wait()
}

// Dependencies returns the number of upstream cells currently subscribed.
func (a *AsyncDerived[T]) Dependencies() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.deps)
}

// hydrate starts a pass.
func (a *AsyncDerived[T]) hydrate() {
	a.mu.Lock()
	a.taskID++
	id := a.taskID
	if a.cancel != nil {
		a.cancel()
	}
	ctx, cancel := context.WithCancel(a.opts.ctx)
	a.cancel = cancel
	_, started := a.hydrating.swap(true)
	a.mu.Unlock()

	if started {
		a.hydrating.notify(true, false)
	}

	t := newTracker(a, nil)
	t.onRead = func(n node) { a.adopt(id, n) }

	start := time.Now()
	a.inflight.Go(func() {
		defer cancel()
		v, err := a.run(ctx, t)
		a.settle(id, t, v, err, time.Since(start))
	})
}

// run calls the getter, turning panics into errors.
func (a *AsyncDerived[T]) run(ctx context.Context, t *Tracker) (v T, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		v, err = a.getter(ctx, t)
	})
	if r := pc.Recovered(); r != nil {
		return v, errs.New("S003").WithSubject(a.opts.name).Wrap(r.AsError())
	}
	if err != nil {
		return v, errs.New("S002").WithSubject(a.opts.name).Wrap(err)
	}
	return v, nil
}

// adopt makes sure the cell is subscribed to n, unless pass id is already
// superseded.
func (a *AsyncDerived[T]) adopt(id uint64, n node) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if id != a.taskID {
		return
	}
	if _, ok := a.deps[n]; ok {
		return
	}
	a.deps[n] = n.watch(a.hydrate)
}

// settle commits the outcome of pass id if it is still the latest.
func (a *AsyncDerived[T]) settle(id uint64, t *Tracker, v T, err error, elapsed time.Duration) {
	a.mu.Lock()
	if id != a.taskID {
		a.mu.Unlock()
		a.opts.logger.Debug("async pass superseded", "task", id)
		a.observeSettle(OutcomeSuperseded, elapsed)
		return
	}

	removed := 0
	for n, stop := range a.deps {
		if !t.saw(n) {
			stop()
			delete(a.deps, n)
			removed++
		}
	}

	var (
		prev    T
		changed bool
	)
	if err == nil {
		prev, changed = a.value.swap(v)
		a.committed = true
	}
	_, finished := a.hydrating.swap(false)
	a.mu.Unlock()

	if removed > 0 {
		a.opts.logger.Debug("dependencies reconciled", "removed", removed, "task", id)
	}
	if changed {
		a.value.notify(v, prev)
	}
	if finished {
		a.hydrating.notify(false, true)
	}

	if err != nil {
		a.opts.logger.Warn("async pass failed", "task", id, "error", err)
		a.observeSettle(OutcomeFailed, elapsed)
		if a.opts.onError != nil {
			a.opts.onError(err)
		}
		return
	}
	a.observeSettle(OutcomeCommitted, elapsed)
}

func (a *AsyncDerived[T]) observeSettle(outcome Outcome, elapsed time.Duration) {
	if a.opts.observer != nil {
		a.opts.observer.ObserveSettle(a.opts.metricName(), outcome, elapsed)
	}
}

func (a *AsyncDerived[T]) read(parent *Tracker) T {
	if parent.visiting(a) {
		panic(cycleError(a.opts.name))
	}
	return a.value.Get()
}

func (a *AsyncDerived[T]) watch(onChange func()) Unsubscribe {
	return a.value.watch(onChange)
}

func (a *AsyncDerived[T]) label() string {
	return a.opts.name
}

var _ State[int] = (*AsyncDerived[int])(nil)
