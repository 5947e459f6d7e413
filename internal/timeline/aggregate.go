package timeline

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/xiaobinji/RSSHub/internal/twitter"
)

// failureLevels is the recovery policy of the aggregate: a failed source
// contributes nothing and is logged at its level here, Warn if unlisted.
// The replies endpoint is unreliable upstream, so its failures are expected.
var failureLevels = map[string]slog.Level{
	"replies": slog.LevelDebug,
}

func failureLevel(source string) slog.Level {
	if lvl, ok := failureLevels[source]; ok {
		return lvl
	}

	return slog.LevelWarn
}

// AccumulationKey is where the last merged timeline of ident is kept.
func AccumulationKey(ident twitter.ID) string {
	return "twitter:user:tweets-cache:" + ident.String()
}

// UserTimeline resolves handle and returns its aggregate.
func (s *Service) UserTimeline(ctx context.Context, handle string, params twitter.Params) ([]twitter.Item, error) {
	ident, err := s.resolver.Resolve(ctx, handle)
	if err != nil {
		return nil, err
	}

	return s.Aggregate(ctx, ident.ID, params)
}

// Aggregate merges the tweets, media and replies of ident with what the
// previous aggregate held. A failing source only shrinks the result; the
// call fails when ctx ends before every source settled.
func (s *Service) Aggregate(ctx context.Context, ident twitter.ID, params twitter.Params) ([]twitter.Item, error) {
	var branches []twitter.Source
	for _, src := range []twitter.Source{s.sources.Tweets, s.sources.Media, s.sources.Replies} {
		if src != nil {
			branches = append(branches, src)
		}
	}

	// Sources are walked for a full page whatever the caller asked for, so
	// the stored aggregate is never built from a trimmed fetch.
	fetchParams := params
	fetchParams.Count = 0

	results := make([][]twitter.Item, len(branches))
	var g errgroup.Group
	if s.cfg.MaxConcurrency > 0 {
		g.SetLimit(s.cfg.MaxConcurrency)
	}
	for i, src := range branches {
		g.Go(func() error {
			items, err := s.fetch(ctx, src, ident, fetchParams)
			if err != nil {
				slog.Log(ctx, failureLevel(src.Name()), "source failed", "source", src.Name(), "error", err)
				return nil
			}

			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	// Nothing is written for an aborted cycle
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("error aggregating %s: %w", ident, err)
	}

	merged := s.accumulated(ctx, ident)
	for _, items := range results {
		merged = append(merged, items...)
	}

	kept := merged[:0]
	for _, it := range merged {
		if !it.InReplyToUserID.IsZero() && it.InReplyToUserID != ident {
			continue
		}
		kept = append(kept, it)
	}

	out := order(kept, s.cfg.PageSize)
	s.accumulate(ctx, ident, out)

	// The stored aggregate is always a full page
	if n := s.limit(params); len(out) > n {
		out = out[:n]
	}

	return out, nil
}

// accumulated reads the previous aggregate. Anything unreadable counts as
// empty.
func (s *Service) accumulated(ctx context.Context, ident twitter.ID) []twitter.Item {
	key := AccumulationKey(ident)
	byts, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "error reading accumulated timeline", "key", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	var items []twitter.Item
	if err := json.Unmarshal(byts, &items); err != nil {
		slog.WarnContext(ctx, "discarding corrupt accumulated timeline", "key", key, "error", err)
		return nil
	}

	return items
}

// accumulate overwrites the stored aggregate, even with an empty one.
func (s *Service) accumulate(ctx context.Context, ident twitter.ID, items []twitter.Item) {
	key := AccumulationKey(ident)
	byts, err := json.Marshal(items)
	if err != nil {
		slog.ErrorContext(ctx, "error encoding accumulated timeline", "key", key, "error", err)
		return
	}

	if err := s.cache.Set(ctx, key, byts, 0); err != nil {
		slog.ErrorContext(ctx, "error writing accumulated timeline", "key", key, "error", err)
	}
}

// sortNewestFirst orders by id, which grows with creation time. Equal ids
// keep their relative order.
func sortNewestFirst(items []twitter.Item) {
	slices.SortStableFunc(items, func(a, b twitter.Item) int {
		return cmp.Compare(b.ID, a.ID)
	})
}
