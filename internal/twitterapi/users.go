package twitterapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaobinji/RSSHub/internal/twitter"
)

// Error codes the API uses for accounts that don't exist or are suspended.
const (
	codeUserNotFound  = 50
	codeUserSuspended = 63
)

func (c *Client) UserByScreenName(ctx context.Context, screenName string) (twitter.Identity, error) {
	return c.user(ctx, userByScreenName, map[string]any{
		"screen_name":              screenName,
		"withSafetyModeUserFields": true,
	})
}

func (c *Client) UserByID(ctx context.Context, id twitter.ID) (twitter.Identity, error) {
	return c.user(ctx, userByRestID, map[string]any{
		"userId":                   id.String(),
		"withSafetyModeUserFields": true,
	})
}

func (c *Client) user(ctx context.Context, ep endpoint, variables map[string]any) (twitter.Identity, error) {
	data, err := c.graphql(ctx, ep, variables)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.Code == codeUserNotFound || apiErr.Code == codeUserSuspended) {
		return twitter.Identity{}, twitter.ErrNotFound
	}
	if err != nil {
		return twitter.Identity{}, fmt.Errorf("error looking up user: %w", err)
	}

	ident, ok := parseUser(data.Get("user.result"))
	if !ok {
		return twitter.Identity{}, twitter.ErrNotFound
	}

	return ident, nil
}
