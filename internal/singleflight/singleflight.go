// Package singleflight coalesces concurrent calls that share a key.
package singleflight

import (
	"context"
	"fmt"
	"sync"
)

// Group runs fn at most once per key among concurrent callers.
//
//   - The first caller for a key becomes the leader and runs fn.
//   - Followers wait on c.done. The result is published before done is
//     closed, so reads after <-done see the final values.
//   - Cancelling ctx in a follower unblocks only that follower.
//   - If fn panics, the leader re-panics after followers are released;
//     followers get a *PanicError.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/err are published
	val  V
	err  error
	dups int
}

// PanicError is returned to followers when the leader's fn panicked.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("singleflight: leader panicked: %v", p.Value)
}

// Do runs fn once for key. shared reports whether the result was delivered
// to more than one caller.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (v V, err error, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		c.dups++
		done := c.done
		g.mu.Unlock()

		select {
		case <-done:
			return c.val, c.err, true
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err(), true
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	normal := false
	defer func() {
		if !normal {
			r := recover()
			c.err = &PanicError{Value: r}
			g.finish(key, c)
			panic(r)
		}
	}()

	c.val, c.err = fn()
	normal = true
	shared = g.finish(key, c)
	return c.val, c.err, shared
}

// Forget drops the in-flight marker for key so the next Do runs fn again.
func (g *Group[K, V]) Forget(key K) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// finish publishes c and removes the in-flight marker.
func (g *Group[K, V]) finish(key K, c *call[V]) bool {
	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	dups := c.dups
	g.mu.Unlock()

	close(c.done)
	return dups > 0
}
