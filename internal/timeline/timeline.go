// Package timeline builds the timelines served for an account: the merged
// user timeline kept in the accumulation cache, and the single source routes
// (media, likes, search, lists, home, threads).
//
// Every upstream source is walked through a Walker and memoized in the route
// cache under (identity, source, params) for the route expiry window.
package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xiaobinji/RSSHub/internal/cache"
	"github.com/xiaobinji/RSSHub/internal/twitter"
)

// DefaultPageSize is how many items a timeline holds unless configured.
const DefaultPageSize = 20

// ErrUnavailable is returned by routes whose source isn't configured, like
// the home timelines without a logged in session.
var ErrUnavailable = errors.New("source unavailable")

type (
	Resolver interface {
		Resolve(ctx context.Context, handle string) (twitter.Identity, error)
		Purge(ctx context.Context, handle string) error
	}

	Walker interface {
		Walk(ctx context.Context, src twitter.Source, ident twitter.ID, params twitter.Params) ([]twitter.Item, error)
	}

	Cache interface {
		TryGet(ctx context.Context, key string, opts cache.TryGetOpts, produce cache.Producer) ([]byte, error)
		Get(ctx context.Context, key string) ([]byte, bool, error)
		Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
		Delete(ctx context.Context, key string) error
	}

	// Sources are the upstream streams. A nil source makes its route
	// unavailable and drops it from the aggregate.
	Sources struct {
		Tweets     twitter.Source
		Media      twitter.Source
		Replies    twitter.Source
		Likes      twitter.Source
		Detail     twitter.Source
		Search     twitter.Source
		List       twitter.Source
		Home       twitter.Source
		HomeLatest twitter.Source
	}

	Config struct {
		// RouteTTL is how long a walked source stays memoized.
		RouteTTL time.Duration
		// PageSize caps the aggregate and is the default count of every route.
		PageSize int
		// MaxConcurrency bounds the aggregate fan-out. Zero is unbounded.
		MaxConcurrency int
	}
)

// Service serves timelines.
type Service struct {
	cfg      Config
	cache    Cache
	resolver Resolver
	walker   Walker
	sources  Sources
}

func NewService(cfg Config, c Cache, resolver Resolver, walker Walker, sources Sources) *Service {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	return &Service{
		cfg:      cfg,
		cache:    c,
		resolver: resolver,
		walker:   walker,
		sources:  sources,
	}
}

// routeKey is the memoization key of one walk.
func routeKey(ident twitter.ID, source string, params twitter.Params) (string, error) {
	byts, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("error encoding params: %s", err)
	}

	owner := "-"
	if !ident.IsZero() {
		owner = ident.String()
	}

	return fmt.Sprintf("twitter:%s:%s:%s", owner, source, byts), nil
}

// fetch walks src, or returns the memoized result of an earlier walk.
// Concurrent fetches of the same key share one walk.
func (s *Service) fetch(ctx context.Context, src twitter.Source, ident twitter.ID, params twitter.Params) ([]twitter.Item, error) {
	if src == nil {
		return nil, ErrUnavailable
	}

	key, err := routeKey(ident, src.Name(), params)
	if err != nil {
		return nil, err
	}

	opts := cache.TryGetOpts{TTL: s.cfg.RouteTTL, Dedupe: true}
	byts, err := s.cache.TryGet(ctx, key, opts, func(ctx context.Context) ([]byte, error) {
		items, err := s.walker.Walk(ctx, src, ident, params)
		if err != nil {
			return nil, err
		}

		slog.DebugContext(ctx, "walked source", "source", src.Name(), "items", len(items))
		return json.Marshal(items)
	})
	if err != nil {
		return nil, err
	}

	var items []twitter.Item
	if err := json.Unmarshal(byts, &items); err != nil {
		return nil, fmt.Errorf("error decoding %s result: %w", src.Name(), err)
	}

	return items, nil
}

// order dedupes items by id keeping the first occurrence, sorts them
// newest first and keeps at most limit of them. Items without an id are
// dropped.
func order(items []twitter.Item, limit int) []twitter.Item {
	seen := make(map[twitter.ID]struct{}, len(items))
	out := make([]twitter.Item, 0, len(items))
	for _, it := range items {
		if it.ID.IsZero() {
			continue
		}
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}

	sortNewestFirst(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

func (s *Service) limit(params twitter.Params) int {
	if params.Count > 0 {
		return params.Count
	}

	return s.cfg.PageSize
}
