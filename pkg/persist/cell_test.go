package persist

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/vango-dev/sharedstate/internal/errors"
	"github.com/vango-dev/sharedstate/pkg/state"
)

type prefs struct {
	Theme string `json:"theme"`
	Size  int    `json:"size"`
}

// gatedStorage blocks Get until gate is closed.
type gatedStorage struct {
	Storage
	gate chan struct{}
}

func (g *gatedStorage) Get(ctx context.Context, key string) (*Record, error) {
	<-g.gate
	return g.Storage.Get(ctx, key)
}

// failingStorage fails every call.
type failingStorage struct{ err error }

func (f failingStorage) Get(context.Context, string) (*Record, error) { return nil, f.err }
func (f failingStorage) Set(context.Context, string, Record) error    { return f.err }
func (f failingStorage) Delete(context.Context, string) error         { return f.err }
func (f failingStorage) Close() error                                 { return nil }

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func store(t *testing.T, s Storage, key string, value any, version string, lastModified int64) {
	t.Helper()
	raw, err := json.Marshal(value)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), key, Record{Value: raw, Version: version, LastModified: lastModified}))
}

func load[T any](t *testing.T, s Storage, key string) (T, *Record) {
	t.Helper()
	var v T
	rec, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NoError(t, json.Unmarshal(rec.Value, &v))
	return v, rec
}

func TestCell_InitialWhenMissing(t *testing.T) {
	c := New(NewMemoryStorage(), "count", 7)
	c.Wait()

	assert.Equal(t, 7, c.Get())
	assert.False(t, c.Hydrating().Get())
}

func TestCell_Hydrates(t *testing.T) {
	s := NewMemoryStorage()
	store(t, s, "prefs", prefs{Theme: "dark", Size: 14}, "", 10)

	c := New(s, "prefs", prefs{Theme: "light"})
	c.Wait()

	assert.Equal(t, prefs{Theme: "dark", Size: 14}, c.Get())
	assert.False(t, c.Hydrating().Get())
}

func TestCell_HydratingFlag(t *testing.T) {
	s := &gatedStorage{Storage: NewMemoryStorage(), gate: make(chan struct{})}
	c := New[int](s, "n", 0)
	assert.True(t, c.Hydrating().Get())

	var seen []bool
	c.Hydrating().SubscribeFunc(func(next, _ bool) { seen = append(seen, next) })

	close(s.gate)
	c.Wait()
	assert.Equal(t, []bool{false}, seen)
}

func TestCell_SetPersists(t *testing.T) {
	s := NewMemoryStorage()
	c := New(s, "prefs", prefs{Theme: "light"}, WithVersion[prefs]("2"))
	c.Wait()

	c.Set(prefs{Theme: "dark", Size: 12})
	require.NoError(t, c.Flush(context.Background()))

	got, rec := load[prefs](t, s, "prefs")
	assert.Equal(t, prefs{Theme: "dark", Size: 12}, got)
	assert.Equal(t, "2", rec.Version)
	assert.Positive(t, rec.LastModified)
}

func TestCell_UpdateAndReset(t *testing.T) {
	s := NewMemoryStorage()
	c := New(s, "n", 1)
	c.Wait()

	c.Update(func(n int) int { return n + 41 })
	require.NoError(t, c.Flush(context.Background()))
	got, _ := load[int](t, s, "n")
	assert.Equal(t, 42, got)

	c.Reset()
	require.NoError(t, c.Flush(context.Background()))
	got, _ = load[int](t, s, "n")
	assert.Equal(t, 1, got)
	assert.Equal(t, 1, c.Get())
}

func TestCell_SetEqualSkipsWrite(t *testing.T) {
	s := NewMemoryStorage()
	c := New(s, "n", 5)
	c.Wait()

	c.Set(5)
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 0, s.Len())
}

func TestCell_LocalSetDuringHydrationWins(t *testing.T) {
	mem := NewMemoryStorage()
	store(t, mem, "k", "stored", "", 1)

	s := &gatedStorage{Storage: mem, gate: make(chan struct{})}
	c := New(s, "k", "initial")
	c.Set("local")

	close(s.gate)
	c.Wait()
	require.NoError(t, c.Flush(context.Background()))

	assert.Equal(t, "local", c.Get())
	got, _ := load[string](t, mem, "k")
	assert.Equal(t, "local", got)
}

func TestCell_NewerStoredValueWins(t *testing.T) {
	mem := NewMemoryStorage()
	s := &gatedStorage{Storage: mem, gate: make(chan struct{})}
	c := New(s, "k", "initial")
	c.Set("local")
	require.NoError(t, c.Flush(context.Background()))

	store(t, mem, "k", "remote", "", time.Now().Add(time.Hour).UnixMilli())
	close(s.gate)
	c.Wait()

	assert.Equal(t, "remote", c.Get())
}

func TestCell_Migrator(t *testing.T) {
	s := NewMemoryStorage()
	store(t, s, "prefs", map[string]string{"color": "blue"}, "1", 10)

	c := New(s, "prefs", prefs{},
		WithVersion[prefs]("2"),
		WithMigrator(func(raw json.RawMessage, version string) (prefs, error) {
			assert.Equal(t, "1", version)
			var old map[string]string
			if err := json.Unmarshal(raw, &old); err != nil {
				return prefs{}, err
			}
			return prefs{Theme: old["color"], Size: 10}, nil
		}))
	c.Wait()

	assert.Equal(t, prefs{Theme: "blue", Size: 10}, c.Get())
}

func TestCell_MigratorError(t *testing.T) {
	s := NewMemoryStorage()
	store(t, s, "n", 1, "1", 10)
	sink := &errorSink{}

	c := New(s, "n", 0,
		WithVersion[int]("2"),
		WithErrorHandler[int](sink.handle),
		WithMigrator(func(json.RawMessage, string) (int, error) {
			return 0, errors.New("cannot migrate")
		}))
	c.Wait()

	assert.Equal(t, 0, c.Get())
	require.Len(t, sink.all(), 1)
	assert.True(t, errs.HasCode(sink.all()[0], "P003"))
}

func TestCell_VersionMismatchWithoutMigrator(t *testing.T) {
	s := NewMemoryStorage()
	store(t, s, "n", 99, "1", 10)
	sink := &errorSink{}

	c := New(s, "n", 3, WithVersion[int]("2"), WithErrorHandler[int](sink.handle))
	c.Wait()

	assert.Equal(t, 3, c.Get(), "falls back to the initial value")
	require.Len(t, sink.all(), 1)
	assert.True(t, errs.HasCode(sink.all()[0], "P004"))
}

func TestCell_DecodeError(t *testing.T) {
	s := NewMemoryStorage()
	store(t, s, "n", "not a number", "", 10)
	sink := &errorSink{}

	c := New(s, "n", 3, WithErrorHandler[int](sink.handle))
	c.Wait()

	assert.Equal(t, 3, c.Get())
	require.Len(t, sink.all(), 1)
	assert.True(t, errs.HasCode(sink.all()[0], "P003"))
}

func TestCell_StorageErrors(t *testing.T) {
	boom := errors.New("backend down")
	sink := &errorSink{}

	c := New(Storage(failingStorage{err: boom}), "n", 0, WithErrorHandler[int](sink.handle))
	c.Wait()

	c.Set(1)
	require.NoError(t, c.Flush(context.Background()))
	c.Wait()

	assert.Equal(t, 1, c.Get(), "the in-memory value is kept when a write fails")
	all := sink.all()
	require.Len(t, all, 2)
	assert.True(t, errs.HasCode(all[0], "P001"))
	assert.True(t, errs.HasCode(all[1], "P002"))
	assert.ErrorIs(t, all[1], boom)
}

func TestCell_MutatingFlag(t *testing.T) {
	c := New(NewMemoryStorage(), "n", 0)
	c.Wait()

	var (
		mu   sync.Mutex
		seen []bool
	)
	c.Mutating().SubscribeFunc(func(next, _ bool) {
		mu.Lock()
		seen = append(seen, next)
		mu.Unlock()
	})

	c.Set(1)
	require.NoError(t, c.Flush(context.Background()))
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, seen)
	assert.False(t, c.Mutating().Get())
}

func TestCell_WritesCoalesce(t *testing.T) {
	s := NewMemoryStorage()
	c := New(s, "n", 0)
	c.Wait()

	for i := 1; i <= 50; i++ {
		c.Set(i)
	}
	require.NoError(t, c.Flush(context.Background()))

	got, _ := load[int](t, s, "n")
	assert.Equal(t, 50, got, "the last write wins")
}

func TestCell_WatchesOtherWriters(t *testing.T) {
	s := NewMemoryStorage()
	writer := New(s, "shared", "a")
	reader := New(s, "shared", "a")
	writer.Wait()
	reader.Wait()

	var (
		mu   sync.Mutex
		seen []string
	)
	unsub := reader.SubscribeFunc(func(next, _ string) {
		mu.Lock()
		seen = append(seen, next)
		mu.Unlock()
	})
	assert.Equal(t, 1, s.Watchers())

	writer.Set("b")
	require.NoError(t, writer.Flush(context.Background()))
	assert.Equal(t, "b", reader.Get())

	require.NoError(t, s.Delete(context.Background(), "shared"))
	assert.Equal(t, "a", reader.Get(), "a deleted record resets to the initial value")

	// Other keys are ignored.
	store(t, s, "other", "zzz", "", time.Now().Add(time.Hour).UnixMilli())
	assert.Equal(t, "a", reader.Get())

	unsub()
	assert.Equal(t, 0, s.Watchers(), "the last unsubscribe stops watching")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b", "a"}, seen)
}

func TestCell_Destroy(t *testing.T) {
	s := NewMemoryStorage()
	c := New(s, "n", 0)
	c.Wait()
	c.SubscribeFunc(func(int, int) {})
	require.Equal(t, 1, s.Watchers())

	c.Destroy()
	assert.False(t, c.HasSubscriber())
	assert.Equal(t, 0, s.Watchers())

	c.Set(4)
	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 4, c.Get(), "a destroyed cell stays usable")
}

func TestCell_WithoutHydration(t *testing.T) {
	s := NewMemoryStorage()
	store(t, s, "n", 12, "", 10)

	c := New(s, "n", 0, WithoutHydration[int]())
	c.Wait()
	assert.Equal(t, 0, c.Get())

	c.Hydrate()
	c.Wait()
	assert.Equal(t, 12, c.Get())
}

func TestCell_TrackedByDerived(t *testing.T) {
	s := NewMemoryStorage()
	qty := New(s, "qty", 2)
	qty.Wait()

	total := state.NewDerived(func(t *state.Tracker) int {
		return state.Track[int](t, qty) * 5
	})
	var got []int
	total.SubscribeFunc(func(next, _ int) { got = append(got, next) })

	qty.Set(3)
	assert.Equal(t, 15, total.Get())
	assert.Equal(t, []int{15}, got)
}

func TestCell_DerivedSeesOtherWriters(t *testing.T) {
	s := NewMemoryStorage()
	store(t, s, "k", 1, "", 10)
	p := New(s, "k", 0)
	p.Wait()

	tenfold := state.NewDerived(func(t *state.Tracker) int {
		return state.Track[int](t, p) * 10
	})
	var (
		mu  sync.Mutex
		got []int
	)
	unsub := tenfold.SubscribeFunc(func(next, _ int) {
		mu.Lock()
		got = append(got, next)
		mu.Unlock()
	})
	require.Equal(t, 1, s.Watchers(), "a tracking derived cell starts watching")

	store(t, s, "k", 5, "", time.Now().Add(time.Hour).UnixMilli())
	assert.Equal(t, 5, p.Get())
	assert.Equal(t, 50, tenfold.Get())

	unsub()
	assert.Equal(t, 0, s.Watchers(), "releasing the derived cell stops watching")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{50}, got)
}

func TestCell_AsyncSeesOtherWriters(t *testing.T) {
	s := NewMemoryStorage()
	p := New(s, "k", 1)
	p.Wait()

	double := state.NewAsync(func(_ context.Context, t *state.Tracker) (int, error) {
		return state.Track[int](t, p) * 2, nil
	})
	double.Wait()
	require.Equal(t, 2, double.Get())
	require.Equal(t, 1, s.Watchers())

	store(t, s, "k", 4, "", time.Now().Add(time.Hour).UnixMilli())
	double.Wait()
	assert.Equal(t, 8, double.Get())

	double.Destroy()
	assert.Equal(t, 0, s.Watchers())
}

func TestCell_InFamily(t *testing.T) {
	s := NewMemoryStorage()
	family := state.NewFamily(func(key string) state.State[int] {
		return New(s, "counter:"+key, 0)
	})

	for i := 0; i < 3; i++ {
		family.Get(strconv.Itoa(i)).Set(i + 10)
	}
	for _, key := range family.Keys() {
		require.NoError(t, family.Get(key).(*Cell[int]).Flush(context.Background()))
	}
	assert.Equal(t, 3, s.Len())

	got, _ := load[int](t, s, "counter:2")
	assert.Equal(t, 12, got)
}

func TestCell_FlushHonorsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	s := &blockingSetStorage{Storage: NewMemoryStorage(), block: block}
	c := New(Storage(s), "n", 0)
	c.Wait()
	c.Set(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Flush(ctx), context.DeadlineExceeded)
}

type blockingSetStorage struct {
	Storage
	block chan struct{}
}

func (b *blockingSetStorage) Set(ctx context.Context, key string, rec Record) error {
	<-b.block
	return b.Storage.Set(ctx, key, rec)
}
