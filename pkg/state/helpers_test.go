package state

import (
	"sync"
	"time"
)

// recorder collects (next, prev) pairs delivered to a subscriber.
type recorder[T any] struct {
	mu    sync.Mutex
	calls [][2]T
}

func (r *recorder[T]) handler() *Handler[T] {
	return NewHandler(r.record)
}

func (r *recorder[T]) record(next, prev T) {
	r.mu.Lock()
	r.calls = append(r.calls, [2]T{next, prev})
	r.mu.Unlock()
}

func (r *recorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder[T]) nexts() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.calls))
	for i, c := range r.calls {
		out[i] = c[0]
	}
	return out
}

type settleEvent struct {
	cell    string
	outcome Outcome
}

// fakeObserver records observer callbacks.
type fakeObserver struct {
	mu       sync.Mutex
	notifies map[string]int
	passes   map[string]int
	settles  []settleEvent
	families map[string]int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{
		notifies: make(map[string]int),
		passes:   make(map[string]int),
		families: make(map[string]int),
	}
}

func (o *fakeObserver) ObserveNotify(cell string, _ int) {
	o.mu.Lock()
	o.notifies[cell]++
	o.mu.Unlock()
}

func (o *fakeObserver) ObservePass(cell string, _ int, _ time.Duration) {
	o.mu.Lock()
	o.passes[cell]++
	o.mu.Unlock()
}

func (o *fakeObserver) ObserveSettle(cell string, outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	o.settles = append(o.settles, settleEvent{cell, outcome})
	o.mu.Unlock()
}

func (o *fakeObserver) ObserveFamily(family string, members int) {
	o.mu.Lock()
	o.families[family] = members
	o.mu.Unlock()
}

func (o *fakeObserver) outcomes() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Outcome, len(o.settles))
	for i, s := range o.settles {
		out[i] = s.outcome
	}
	return out
}
