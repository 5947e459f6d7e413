// Package cache is the key-value cache shared by the identity resolver, the
// per-source result cache and the accumulation cache.
//
// A Cache is constructed once per process and handed to its users; there is
// no package level state.
package cache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

type (
	// Store is the storage behind a Cache.
	Store interface {
		// Get returns the value for key. A missing or expired key is reported
		// with ok == false and a nil error.
		Get(ctx context.Context, key string) (value []byte, ok bool, err error)
		// Set replaces the value for key. A ttl of zero never expires.
		Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
		Delete(ctx context.Context, key string) error
	}

	// Purger is implemented by stores that keep expired entries around until
	// they are swept.
	Purger interface {
		PurgeExpired(ctx context.Context) (int64, error)
	}

	// Producer computes a value on a miss.
	Producer func(ctx context.Context) ([]byte, error)

	// TryGetOpts controls a single TryGet.
	TryGetOpts struct {
		// TTL for a freshly produced value. Zero never expires.
		TTL time.Duration
		// Dedupe collapses concurrent misses for the same key into one
		// producer call.
		Dedupe bool
		// Refresh re-arms the TTL of a non-empty value on every hit.
		Refresh bool
	}
)

// DefaultFlightTimeout bounds a deduplicated producer call.
const DefaultFlightTimeout = 30 * time.Second

// Cache wraps a Store with get-or-compute semantics.
type Cache struct {
	store         Store
	group         singleflight.Group
	flightTimeout time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithFlightTimeout bounds how long a deduplicated producer may run. It is
// detached from the callers waiting on it, so this is its only deadline.
func WithFlightTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.flightTimeout = d
		}
	}
}

// New creates a Cache backed by store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:         store,
		flightTimeout: DefaultFlightTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.store.Get(ctx, key)
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.store.Set(ctx, key, value, ttl)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// TryGet returns the cached value for key, or calls produce and stores its
// result. Errors from produce are returned to every waiting caller and are
// never cached.
//
// With Dedupe, produce runs detached from ctx under the flight timeout; a
// caller whose ctx ends stops waiting without affecting the others.
func (c *Cache) TryGet(ctx context.Context, key string, opts TryGetOpts, produce Producer) ([]byte, error) {
	if val, ok := c.lookup(ctx, key, opts); ok {
		return val, nil
	}

	if !opts.Dedupe {
		return c.compute(ctx, key, opts.TTL, produce)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// The flight is shared by every waiter, so one caller ending must not
		// end it. Context values (log attrs) are kept.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()

		// Another flight may have filled the key between the lookup and now.
		if val, ok := c.lookup(fctx, key, TryGetOpts{}); ok {
			return val, nil
		}

		return c.compute(fctx, key, opts.TTL, produce)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.([]byte), nil
	}
}

// PurgeExpired sweeps expired entries if the store needs it.
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	p, ok := c.store.(Purger)
	if !ok {
		return 0, nil
	}

	return p.PurgeExpired(ctx)
}

func (c *Cache) lookup(ctx context.Context, key string, opts TryGetOpts) ([]byte, bool) {
	val, ok, err := c.store.Get(ctx, key)
	if err != nil {
		// Store errors count as a miss
		slog.WarnContext(ctx, "error reading cache", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	if opts.Refresh && len(val) > 0 {
		if err := c.store.Set(ctx, key, val, opts.TTL); err != nil {
			slog.WarnContext(ctx, "error refreshing cache entry", "key", key, "error", err)
		}
	}

	return val, true
}

func (c *Cache) compute(ctx context.Context, key string, ttl time.Duration, produce Producer) ([]byte, error) {
	val, err := produce(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, key, val, ttl); err != nil {
		slog.WarnContext(ctx, "error writing cache", "key", key, "error", err)
	}

	return val, nil
}
