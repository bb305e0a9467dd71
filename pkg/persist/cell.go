package persist

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/sourcegraph/conc"

	errs "github.com/vango-dev/sharedstate/internal/errors"
	"github.com/vango-dev/sharedstate/pkg/state"
)

// Cell is a state.Cell whose value is loaded from and written to a Storage.
//
// The value is loaded asynchronously on construction and by Hydrate. A
// stored record only replaces the value when it is newer than the last write
// this cell knows of, so a local Set made while hydrating wins. Set and
// Update change the value at once and persist it in the background; Flush
// waits for the pending write. If the storage is a Watcher, changes made
// elsewhere reach the cell while it has subscribers, derived cells that
// track it included.
//
// Handlers subscribed to Hydrating or Mutating must not write to the cell.
type Cell[T any] struct {
	*state.Cell[T]

	storage Storage
	key     string
	initial T
	opts    options[T]

	hydrating *state.Cell[bool]
	mutating  *state.Cell[bool]

	mu           sync.Mutex
	lastModified int64
	hydrations   int
	pending      *Record
	writing      bool
	idle         chan struct{}
	stopWatch    func()

	// flagMu keeps Hydrating and Mutating in step with the counters above.
	flagMu  sync.Mutex
	workers conc.WaitGroup
}

// New creates a persistent cell for key holding initial until the stored
// value is loaded.
//
//	theme := persist.New(storage, "theme", "light", persist.WithVersion[string]("2"))
//	theme.Set("dark") // persisted in the background
func New[T any](storage Storage, key string, initial T, opts ...Option[T]) *Cell[T] {
	o := applyOptions(key, opts)
	cellOpts := append([]state.Option{state.WithName("persist:" + key)}, o.cellOpts...)

	c := &Cell[T]{
		Cell:      state.New(initial, cellOpts...),
		storage:   storage,
		key:       key,
		initial:   initial,
		opts:      o,
		hydrating: state.New(false, state.WithName("persist:"+key+".hydrating")),
		mutating:  state.New(false, state.WithName("persist:"+key+".mutating")),
	}
	c.Cell.OnObserve(c.observe)
	if !o.noHydrate {
		c.Hydrate()
	}
	return c
}

// Key returns the storage key.
func (c *Cell[T]) Key() string {
	return c.key
}

// Hydrating is true while a load from storage is in flight.
func (c *Cell[T]) Hydrating() *state.Cell[bool] {
	return c.hydrating
}

// Mutating is true while a write to storage is pending.
func (c *Cell[T]) Mutating() *state.Cell[bool] {
	return c.mutating
}

// Set stores value and persists it unless it equals the current value.
func (c *Cell[T]) Set(value T) {
	c.Update(func(T) T { return value })
}

// Update stores fn(current) and persists it unless it equals the current
// value. fn runs while the cell is locked and must not access it.
func (c *Cell[T]) Update(fn func(prev T) T) {
	var (
		start  bool
		encErr error
	)
	c.Cell.Modify(func(prev T) (T, bool) {
		next := fn(prev)
		if state.SameValue(prev, next) {
			return prev, false
		}
		raw, err := sonic.Marshal(next)
		if err != nil {
			encErr = err
			return prev, false
		}

		c.mu.Lock()
		rec := Record{Value: raw, Version: c.opts.version, LastModified: c.tick()}
		start = c.enqueue(rec)
		c.mu.Unlock()
		return next, true
	})

	if encErr != nil {
		c.fail(errs.New("P002").WithSubject(c.key).WithDetail("value could not be encoded").Wrap(encErr))
		return
	}
	if start {
		c.syncFlags()
		c.workers.Go(c.drain)
	}
}

// Reset stores and persists the initial value.
func (c *Cell[T]) Reset() {
	c.Set(c.initial)
}

// Destroy stops watching and removes every subscriber of the cell and of
// its Hydrating and Mutating cells. Pending writes still complete.
func (c *Cell[T]) Destroy() {
	c.Cell.Destroy()
	c.unwatchStorage()
	c.hydrating.Destroy()
	c.mutating.Destroy()
}

// Hydrate loads the stored value in the background.
func (c *Cell[T]) Hydrate() {
	c.mu.Lock()
	c.hydrations++
	c.mu.Unlock()
	c.syncFlags()

	c.workers.Go(func() {
		c.hydrate()

		c.mu.Lock()
		c.hydrations--
		c.mu.Unlock()
		c.syncFlags()
	})
}

// Flush waits until every write made before the call reached the storage.
func (c *Cell[T]) Flush(ctx context.Context) error {
	c.mu.Lock()
	if !c.writing {
		c.mu.Unlock()
		return nil
	}
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until background loads and writes have finished.
func (c *Cell[T]) Wait() {
	c.workers.Wait()
}

func (c *Cell[T]) hydrate() {
	ctx, cancel := context.WithTimeout(c.opts.ctx, c.opts.timeout)
	defer cancel()

	rec, err := c.storage.Get(ctx, c.key)
	if err != nil {
		c.fail(errs.New("P001").WithSubject(c.key).Wrap(err))
		return
	}
	if rec == nil {
		return
	}
	if c.commit(rec) {
		c.opts.logger.Debug("hydrated", "lastModified", rec.LastModified)
	}
}

// commit replaces the value with rec if rec is newer than the last known
// write. Reports whether the value was replaced.
func (c *Cell[T]) commit(rec *Record) bool {
	v, err := c.decode(rec)
	if err != nil {
		c.fail(err)
		return false
	}

	applied := false
	c.Cell.Modify(func(prev T) (T, bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if rec.LastModified <= c.lastModified {
			return prev, false
		}
		c.lastModified = rec.LastModified
		applied = true
		return v, true
	})
	return applied
}

// decode turns rec into a value, migrating it when its version differs.
func (c *Cell[T]) decode(rec *Record) (T, error) {
	if rec.Version == c.opts.version {
		var v T
		if err := sonic.Unmarshal(rec.Value, &v); err != nil {
			return v, errs.New("P003").WithSubject(c.key).Wrap(err)
		}
		return v, nil
	}

	if c.opts.migrator != nil {
		v, err := c.opts.migrator(rec.Value, rec.Version)
		if err != nil {
			return v, errs.New("P003").WithSubject(c.key).WithDetail("migration from version " + rec.Version + " failed").Wrap(err)
		}
		return v, nil
	}

	c.fail(errs.New("P004").WithSubject(c.key).
		WithSuggestion("pass persist.WithMigrator to convert records written with version " + rec.Version))
	return c.initial, nil
}

// onStorageChange applies changes reported by a Watcher.
func (c *Cell[T]) onStorageChange(key string, next *Record) {
	if key != c.key {
		return
	}
	if next != nil {
		c.commit(next)
		return
	}

	// Deleted elsewhere: back to the initial value.
	c.Cell.Modify(func(T) (T, bool) {
		c.mu.Lock()
		c.tick()
		c.mu.Unlock()
		return c.initial, true
	})
}

// enqueue makes rec the pending write. Reports whether a writer must be
// started. Caller holds c.mu.
func (c *Cell[T]) enqueue(rec Record) bool {
	c.pending = &rec
	if c.writing {
		return false
	}
	c.writing = true
	c.idle = make(chan struct{})
	return true
}

// drain writes pending records until none is left. Records queued while a
// write is in flight coalesce into the latest one.
func (c *Cell[T]) drain() {
	for {
		c.mu.Lock()
		rec := c.pending
		c.pending = nil
		if rec == nil {
			c.writing = false
			idle := c.idle
			c.mu.Unlock()

			c.syncFlags()
			close(idle)
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(c.opts.ctx, c.opts.timeout)
		err := c.storage.Set(ctx, c.key, *rec)
		cancel()
		if err != nil {
			c.fail(errs.New("P002").WithSubject(c.key).Wrap(err))
		}
	}
}

// tick returns a LastModified for a local write, strictly after every write
// seen so far. Caller holds c.mu.
func (c *Cell[T]) tick() int64 {
	now := nowMillis()
	if now <= c.lastModified {
		now = c.lastModified + 1
	}
	c.lastModified = now
	return now
}

// observe starts watching the storage while the cell has subscribers,
// including derived cells that track it.
func (c *Cell[T]) observe(observed bool) {
	if observed {
		c.watchStorage()
		return
	}
	c.unwatchStorage()
}

func (c *Cell[T]) watchStorage() {
	w, ok := c.storage.(Watcher)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopWatch != nil || !c.Cell.HasSubscriber() {
		return
	}

	stop, err := w.Watch(c.opts.ctx, c.onStorageChange)
	if err != nil {
		c.opts.logger.Warn("storage watch failed", "error", err)
		return
	}
	c.stopWatch = stop
	c.opts.logger.Debug("watching storage")
}

func (c *Cell[T]) unwatchStorage() {
	c.mu.Lock()
	if c.Cell.HasSubscriber() {
		c.mu.Unlock()
		return
	}
	stop := c.stopWatch
	c.stopWatch = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		c.opts.logger.Debug("stopped watching storage")
	}
}

func (c *Cell[T]) syncFlags() {
	c.flagMu.Lock()
	defer c.flagMu.Unlock()

	c.mu.Lock()
	hydrating, mutating := c.hydrations > 0, c.writing
	c.mu.Unlock()

	c.hydrating.Set(hydrating)
	c.mutating.Set(mutating)
}

func (c *Cell[T]) fail(err error) {
	c.opts.logger.Warn("persistence failed", "error", err)
	if c.opts.onError != nil {
		c.opts.onError(err)
	}
}

var _ state.State[int] = (*Cell[int])(nil)
