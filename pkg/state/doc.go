// Package state provides observable cells and the derivations built on them.
//
// # Core Types
//
// Cell[T] is a mutable value container:
//
//	count := state.New(0)
//	count.Get()                                  // 0
//	count.Set(5)                                 // notifies subscribers
//	count.Update(func(n int) int { return n + 1 })
//
// Derived[T] computes a value from other cells. Dependencies are recorded
// through the Tracker passed to the getter and rebuilt on every pass:
//
//	doubled := state.NewDerived(func(t *state.Tracker) int {
//	    return state.Track(t, count) * 2
//	})
//
// Without subscribers a Derived recomputes on every Get (pull mode). Once
// subscribed it keeps upstream subscriptions and updates itself when they
// change (push mode).
//
// AsyncDerived[T] runs its getter on a goroutine and only commits the result
// of the latest pass. Its Hydrating cell reports whether a pass is running:
//
//	user := state.NewAsync(func(ctx context.Context, t *state.Tracker) (User, error) {
//	    return api.User(ctx, state.Track(t, userID))
//	})
//
// Family[K, T] creates one cell per key on first access and caches it until
// destroyed:
//
//	carts := state.NewFamily(func(id string) state.State[Cart] {
//	    return state.New(Cart{})
//	})
//	carts.Get("u1").Set(Cart{Items: 1})
//
// # Equality
//
// Writes and recomputations that are equal under SameValue do not notify.
// WithEquals overrides the policy per cell.
//
// # Thread Safety
//
// All types are safe for concurrent use. Subscribers are called
// synchronously on the goroutine that changed the value, outside the cell's
// locks. Getters must not write to cells.
package state
