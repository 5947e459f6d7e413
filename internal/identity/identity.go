// Package identity resolves user supplied handles to stable account ids.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xiaobinji/RSSHub/internal/cache"
	"github.com/xiaobinji/RSSHub/internal/twitter"
)

// NumericPrefix marks a handle that is already a numeric account id.
const NumericPrefix = "+"

type (
	// Lookup is the upstream identity boundary.
	Lookup interface {
		// UserByScreenName returns twitter.ErrNotFound when the account doesn't
		// exist.
		UserByScreenName(ctx context.Context, screenName string) (twitter.Identity, error)
		UserByID(ctx context.Context, id twitter.ID) (twitter.Identity, error)
	}

	// Cache is the part of the cache service the resolver needs.
	Cache interface {
		TryGet(ctx context.Context, key string, opts cache.TryGetOpts, produce cache.Producer) ([]byte, error)
		Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
		Delete(ctx context.Context, key string) error
	}
)

// Resolver maps handles to identities, caching both hits and misses for the
// content expiry window.
type Resolver struct {
	lookup Lookup
	cache  Cache
	ttl    time.Duration
}

func NewResolver(lookup Lookup, c Cache, contentTTL time.Duration) *Resolver {
	return &Resolver{
		lookup: lookup,
		cache:  c,
		ttl:    contentTTL,
	}
}

// Key is the cache key for handle.
func Key(handle string) string {
	return "twitter:user:" + strings.ToLower(strings.TrimSpace(handle))
}

// Resolve returns the identity for handle, either a screen name or
// "+<digits>".
func (r *Resolver) Resolve(ctx context.Context, handle string) (twitter.Identity, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || handle == NumericPrefix {
		return twitter.Identity{}, fmt.Errorf("empty handle: %w", twitter.ErrNotFound)
	}

	key := Key(handle)
	byts, err := r.cache.TryGet(ctx, key, cache.TryGetOpts{TTL: r.ttl, Dedupe: true, Refresh: true}, func(ctx context.Context) ([]byte, error) {
		ident, err := r.fetch(ctx, handle)
		if errors.Is(err, twitter.ErrNotFound) {
			// Empty value is the negative sentinel
			return []byte{}, nil
		}
		if err != nil {
			return nil, err
		}

		return json.Marshal(ident)
	})
	if err != nil {
		return twitter.Identity{}, fmt.Errorf("error resolving %q: %w", handle, err)
	}
	if len(byts) == 0 {
		return twitter.Identity{}, fmt.Errorf("%q: %w", handle, twitter.ErrNotFound)
	}

	var ident twitter.Identity
	if err := json.Unmarshal(byts, &ident); err != nil || ident.ID.IsZero() {
		// Unreadable entry, drop it so the next call goes upstream again
		slog.WarnContext(ctx, "discarding unreadable identity entry", "key", key, "error", err)
		if err := r.cache.Delete(ctx, key); err != nil {
			slog.WarnContext(ctx, "error deleting identity entry", "key", key, "error", err)
		}

		return r.fetchUncached(ctx, handle)
	}

	return ident, nil
}

// Purge forgets whatever is cached for handle.
func (r *Resolver) Purge(ctx context.Context, handle string) error {
	if err := r.cache.Delete(ctx, Key(handle)); err != nil {
		return fmt.Errorf("error purging identity: %w", err)
	}

	return nil
}

func (r *Resolver) fetchUncached(ctx context.Context, handle string) (twitter.Identity, error) {
	ident, err := r.fetch(ctx, handle)
	if err != nil {
		return twitter.Identity{}, fmt.Errorf("error resolving %q: %w", handle, err)
	}

	return ident, nil
}

func (r *Resolver) fetch(ctx context.Context, handle string) (twitter.Identity, error) {
	if rest, ok := strings.CutPrefix(handle, NumericPrefix); ok {
		id, err := twitter.ParseID(rest)
		if err != nil || id.IsZero() {
			return twitter.Identity{}, twitter.ErrNotFound
		}

		return r.lookup.UserByID(ctx, id)
	}

	return r.lookup.UserByScreenName(ctx, handle)
}
