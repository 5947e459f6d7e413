package cache

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

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newMemoryCache(t *testing.T) (*Cache, *clock) {
	t.Helper()

	store, err := NewMemoryStore(128)
	require.NoError(t, err)
	clk := &clock{t: time.Unix(1700000000, 0)}
	store.now = clk.now

	return New(store), clk
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	c, clk := newMemoryCache(t)

	require.NoError(t, c.Set(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, c.Set(ctx, "forever", []byte("b"), 0))

	clk.advance(2 * time.Minute)

	_, ok, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)

	val, ok, err := c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("b"), val)
}

func TestMemoryStore_EmptyValueIsAHit(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryCache(t)

	require.NoError(t, c.Set(ctx, "k", nil, time.Minute))

	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, val)
}

func TestTryGet_ProducesOnceThenHits(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryCache(t)

	var calls int
	produce := func(context.Context) ([]byte, error) {
		calls++
		return []byte("fresh"), nil
	}

	for range 3 {
		val, err := c.TryGet(ctx, "k", TryGetOpts{TTL: time.Minute}, produce)
		require.NoError(t, err)
		assert.Equal(t, []byte("fresh"), val)
	}
	assert.Equal(t, 1, calls)
}

func TestTryGet_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryCache(t)

	boom := errors.New("boom")
	_, err := c.TryGet(ctx, "k", TryGetOpts{TTL: time.Minute}, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryGet_Refresh(t *testing.T) {
	ctx := context.Background()
	c, clk := newMemoryCache(t)

	produce := func(context.Context) ([]byte, error) { return []byte("v"), nil }
	opts := TryGetOpts{TTL: time.Hour, Refresh: true}

	_, err := c.TryGet(ctx, "k", opts, produce)
	require.NoError(t, err)

	// Each hit inside the window pushes expiry out again.
	for range 3 {
		clk.advance(50 * time.Minute)
		_, err := c.TryGet(ctx, "k", opts, func(context.Context) ([]byte, error) {
			t.Fatal("should have been a hit")
			return nil, nil
		})
		require.NoError(t, err)
	}
}

func TestTryGet_RefreshSkipsEmptyValues(t *testing.T) {
	ctx := context.Background()
	c, clk := newMemoryCache(t)

	opts := TryGetOpts{TTL: time.Hour, Refresh: true}
	_, err := c.TryGet(ctx, "k", opts, func(context.Context) ([]byte, error) { return []byte{}, nil })
	require.NoError(t, err)

	clk.advance(50 * time.Minute)
	_, err = c.TryGet(ctx, "k", opts, func(context.Context) ([]byte, error) {
		t.Fatal("should have been a hit")
		return nil, nil
	})
	require.NoError(t, err)

	// No refresh happened, so the original TTL lapses.
	clk.advance(11 * time.Minute)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryGet_DedupesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	c, _ := newMemoryCache(t)

	var (
		calls   atomic.Int32
		release = make(chan struct{})
		started = make(chan struct{})
		once    sync.Once
	)
	produce := func(context.Context) ([]byte, error) {
		calls.Add(1)
		once.Do(func() { close(started) })
		<-release
		return []byte("shared"), nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			val, err := c.TryGet(ctx, "k", TryGetOpts{TTL: time.Minute, Dedupe: true}, produce)
			assert.NoError(t, err)
			results[i] = val
		}()
	}

	<-started
	// Let the other callers pile up on the flight.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, []byte("shared"), r)
	}
}

func TestTryGet_DedupeHonorsCallerCancel(t *testing.T) {
	c, _ := newMemoryCache(t)

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.TryGet(ctx, "k", TryGetOpts{Dedupe: true}, func(context.Context) ([]byte, error) {
		<-release
		return []byte("late"), nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTryGet_DedupeOutlivesFirstCaller(t *testing.T) {
	c, _ := newMemoryCache(t)

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	produce := func(ctx context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return []byte("v"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.TryGet(ctxA, "k", TryGetOpts{TTL: time.Minute, Dedupe: true}, produce)
		errA <- err
	}()
	<-started

	type result struct {
		val []byte
		err error
	}
	resB := make(chan result, 1)
	go func() {
		val, err := c.TryGet(context.Background(), "k", TryGetOpts{TTL: time.Minute, Dedupe: true}, produce)
		resB <- result{val: val, err: err}
	}()

	// Let the second caller join the flight before the first one leaves
	time.Sleep(20 * time.Millisecond)
	cancelA()
	assert.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	res := <-resB
	require.NoError(t, res.err)
	assert.Equal(t, []byte("v"), res.val)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTryGet_FlightTimeout(t *testing.T) {
	store, err := NewMemoryStore(4)
	require.NoError(t, err)
	c := New(store, WithFlightTimeout(10*time.Millisecond))

	_, err = c.TryGet(context.Background(), "k", TryGetOpts{Dedupe: true}, func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryStore_ExpiredReadKeepsLaterWrite(t *testing.T) {
	ctx := context.Background()
	c, clk := newMemoryCache(t)

	require.NoError(t, c.Set(ctx, "k", []byte("a"), time.Second))
	clk.advance(2 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("b"), time.Minute))
	val, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), val)
}

func TestMemoryStore_ExpiredEntriesAreNotPromoted(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(2)
	require.NoError(t, err)
	clk := &clock{t: time.Unix(1700000000, 0)}
	store.now = clk.now

	require.NoError(t, store.Set(ctx, "stale", []byte("a"), time.Second))
	require.NoError(t, store.Set(ctx, "live", []byte("b"), 0))
	clk.advance(2 * time.Second)

	_, ok, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "new", []byte("c"), 0))
	assert.False(t, store.entries.Contains("stale"))
	assert.True(t, store.entries.Contains("live"))
	assert.True(t, store.entries.Contains("new"))
}

type brokenStore struct {
	Store
}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func TestTryGet_ReadErrorFallsThroughToProducer(t *testing.T) {
	mem, err := NewMemoryStore(4)
	require.NoError(t, err)
	c := New(brokenStore{Store: mem})

	val, err := c.TryGet(context.Background(), "k", TryGetOpts{}, func(context.Context) ([]byte, error) {
		return []byte("computed"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("computed"), val)
}

func TestPurgeExpired_NoopForMemory(t *testing.T) {
	c, _ := newMemoryCache(t)

	n, err := c.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
