package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xiaobinji/RSSHub/internal/twitter"
)

// UserMedia is the media grid of handle.
func (s *Service) UserMedia(ctx context.Context, handle string, params twitter.Params) ([]twitter.Item, error) {
	return s.userRoute(ctx, s.sources.Media, handle, params)
}

// UserLikes is what handle liked.
func (s *Service) UserLikes(ctx context.Context, handle string, params twitter.Params) ([]twitter.Item, error) {
	return s.userRoute(ctx, s.sources.Likes, handle, params)
}

func (s *Service) userRoute(ctx context.Context, src twitter.Source, handle string, params twitter.Params) ([]twitter.Item, error) {
	ident, err := s.resolver.Resolve(ctx, handle)
	if err != nil {
		return nil, err
	}

	items, err := s.fetch(ctx, src, ident.ID, params)
	if err != nil {
		return nil, err
	}

	return order(items, s.limit(params)), nil
}

// Search returns the latest tweets matching query.
func (s *Service) Search(ctx context.Context, query string, params twitter.Params) ([]twitter.Item, error) {
	params.Query = query
	return s.anonymousRoute(ctx, s.sources.Search, params)
}

// List returns the latest tweets of a list.
func (s *Service) List(ctx context.Context, listID string, params twitter.Params) ([]twitter.Item, error) {
	params.ListID = listID
	return s.anonymousRoute(ctx, s.sources.List, params)
}

// Home is the "For you" timeline of the configured session.
func (s *Service) Home(ctx context.Context, params twitter.Params) ([]twitter.Item, error) {
	return s.anonymousRoute(ctx, s.sources.Home, params)
}

// HomeLatest is the "Following" timeline of the configured session.
func (s *Service) HomeLatest(ctx context.Context, params twitter.Params) ([]twitter.Item, error) {
	return s.anonymousRoute(ctx, s.sources.HomeLatest, params)
}

func (s *Service) anonymousRoute(ctx context.Context, src twitter.Source, params twitter.Params) ([]twitter.Item, error) {
	items, err := s.fetch(ctx, src, 0, params)
	if err != nil {
		return nil, err
	}

	return order(items, s.limit(params)), nil
}

// Tweet returns the part of the thread around status that handle wrote.
func (s *Service) Tweet(ctx context.Context, handle string, status twitter.ID) ([]twitter.Item, error) {
	ident, err := s.resolver.Resolve(ctx, handle)
	if err != nil {
		return nil, err
	}

	items, err := s.fetch(ctx, s.sources.Detail, ident.ID, twitter.Params{Focal: status})
	if err != nil {
		return nil, err
	}

	var conversation twitter.ID
	for _, it := range items {
		if it.ID == status {
			conversation = it.ConversationID
			if conversation.IsZero() {
				conversation = it.ID
			}
			break
		}
	}
	if conversation.IsZero() {
		return nil, fmt.Errorf("%s: %w", status, twitter.ErrTweetNotFound)
	}

	var thread []twitter.Item
	for _, it := range items {
		convo := it.ConversationID
		if convo.IsZero() {
			convo = it.ID
		}
		if convo == conversation && it.Author.ID == ident.ID {
			thread = append(thread, it)
		}
	}

	return order(thread, 0), nil
}

// Purge drops everything cached for handle: the accumulated timeline and the
// identity itself.
func (s *Service) Purge(ctx context.Context, handle string) error {
	ident, err := s.resolver.Resolve(ctx, handle)
	switch {
	case errors.Is(err, twitter.ErrNotFound):
		// Only the negative entry is cached
	case err != nil:
		return err
	default:
		if err := s.cache.Delete(ctx, AccumulationKey(ident.ID)); err != nil {
			return fmt.Errorf("error purging accumulated timeline: %w", err)
		}
	}

	if err := s.resolver.Purge(ctx, handle); err != nil {
		return err
	}
	slog.InfoContext(ctx, "purged cached timeline", "handle", handle)

	return nil
}
