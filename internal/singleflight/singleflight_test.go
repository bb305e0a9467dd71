package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_Single(t *testing.T) {
	var g Group[string, int]
	v, err, shared := g.Do(context.Background(), "a", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.False(t, shared)
}

func TestDo_Coalesces(t *testing.T) {
	var g Group[string, int]
	var calls atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 8)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _, _ = g.Do(context.Background(), "k", func() (int, error) {
			calls.Add(1)
			close(entered)
			<-release
			return 42, nil
		})
	}()
	<-entered

	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, _ = g.Do(context.Background(), "k", func() (int, error) {
				calls.Add(1)
				return -1, nil
			})
		}(i)
	}

	// Followers register before the leader is released.
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.m["k"] != nil && g.m["k"].dups == len(results)-1
	}, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, 42, r)
	}
}

func TestDo_Error(t *testing.T) {
	var g Group[int, string]
	boom := errors.New("boom")
	_, err, _ := g.Do(context.Background(), 1, func() (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)

	// The marker is gone; the next call runs fn again.
	v, err, _ := g.Do(context.Background(), 1, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestDo_FollowerCancel(t *testing.T) {
	var g Group[string, int]
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go g.Do(context.Background(), "k", func() (int, error) {
		close(entered)
		<-release
		return 1, nil
	})
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err, shared := g.Do(ctx, "k", func() (int, error) { return 2, nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, shared)
}

func TestDo_Panic(t *testing.T) {
	var g Group[string, int]
	entered := make(chan struct{})
	release := make(chan struct{})

	followerErr := make(chan error, 1)
	leaderPanic := make(chan any, 1)

	go func() {
		defer func() { leaderPanic <- recover() }()
		g.Do(context.Background(), "k", func() (int, error) {
			close(entered)
			<-release
			panic("kaboom")
		})
	}()
	<-entered

	go func() {
		_, err, _ := g.Do(context.Background(), "k", func() (int, error) { return 0, nil })
		followerErr <- err
	}()
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.m["k"] != nil && g.m["k"].dups == 1
	}, time.Second, time.Millisecond)

	close(release)

	assert.Equal(t, "kaboom", <-leaderPanic)
	err := <-followerErr
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
}

func TestForget(t *testing.T) {
	var g Group[string, int]
	g.Forget("missing")
	v, _, _ := g.Do(context.Background(), "x", func() (int, error) { return 3, nil })
	assert.Equal(t, 3, v)
}
