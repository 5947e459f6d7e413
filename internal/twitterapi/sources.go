package twitterapi

import (
	"context"

	"github.com/xiaobinji/RSSHub/internal/twitter"
)

const defaultCount = 20

// timelineSource is one GraphQL timeline exposed as a twitter.Source.
type timelineSource struct {
	client    *Client
	name      string
	ep        endpoint
	paths     []string
	variables func(q twitter.Query) map[string]any
	keep      func(q twitter.Query, item twitter.Item) bool
}

func (s *timelineSource) Name() string {
	return s.name
}

func (s *timelineSource) Fetch(ctx context.Context, q twitter.Query) (twitter.Page, error) {
	vars := s.variables(q)
	if q.Cursor != "" {
		vars["cursor"] = q.Cursor
	}

	data, err := s.client.graphql(ctx, s.ep, vars)
	if err != nil {
		return twitter.Page{}, err
	}

	page := parsePage(data, s.paths)
	if s.keep != nil {
		kept := page.Items[:0]
		for _, it := range page.Items {
			if s.keep(q, it) {
				kept = append(kept, it)
			}
		}
		page.Items = kept
	}

	return page, nil
}

// probeSource is a timeline whose first response only carries cursors.
type probeSource struct {
	*timelineSource
	cursor twitter.CursorKind
}

func (s probeSource) ProbeCursor() twitter.CursorKind {
	return s.cursor
}

func count(p twitter.Params) int {
	if p.Count > 0 {
		return p.Count
	}

	return defaultCount
}

func userVariables(extra map[string]any) func(q twitter.Query) map[string]any {
	return func(q twitter.Query) map[string]any {
		vars := map[string]any{
			"userId":                 q.Identity.String(),
			"count":                  count(q.Params),
			"includePromotedContent": false,
			"withVoice":              true,
			"withV2Timeline":         true,
		}
		for k, v := range extra {
			vars[k] = v
		}
		return vars
	}
}

// UserTweets is the account's own timeline.
func (c *Client) UserTweets() twitter.Source {
	return &timelineSource{
		client: c,
		name:   "tweets",
		ep:     userTweets,
		paths:  userInstructionPaths,
		variables: userVariables(map[string]any{
			"withQuickPromoteEligibilityTweetFields": true,
		}),
	}
}

// UserTweetsAndReplies is the "replies" tab. Conversations pulled in around
// the account's replies are dropped.
func (c *Client) UserTweetsAndReplies() twitter.Source {
	return &timelineSource{
		client: c,
		name:   "replies",
		ep:     userTweetsAndReplies,
		paths:  userInstructionPaths,
		variables: userVariables(map[string]any{
			"withCommunity": true,
		}),
		keep: func(q twitter.Query, it twitter.Item) bool {
			return it.Author.ID == q.Identity
		},
	}
}

// UserMedia is the media grid. Its first response only positions the grid,
// the data comes from the request made with its Top cursor.
func (c *Client) UserMedia() twitter.Source {
	return probeSource{
		timelineSource: &timelineSource{
			client: c,
			name:   "media",
			ep:     userMedia,
			paths:  userInstructionPaths,
			variables: userVariables(map[string]any{
				"withClientEventToken": false,
				"withBirdwatchNotes":   false,
			}),
		},
		cursor: twitter.CursorTop,
	}
}

func (c *Client) Likes() twitter.Source {
	return &timelineSource{
		client: c,
		name:   "likes",
		ep:     likes,
		paths:  userInstructionPaths,
		variables: userVariables(map[string]any{
			"withClientEventToken": false,
			"withBirdwatchNotes":   false,
		}),
	}
}

// TweetDetail is the conversation around Params.Focal.
func (c *Client) TweetDetail() twitter.Source {
	return &timelineSource{
		client: c,
		name:   "detail",
		ep:     tweetDetail,
		paths:  detailInstructionPaths,
		variables: func(q twitter.Query) map[string]any {
			return map[string]any{
				"focalTweetId":                           q.Params.Focal.String(),
				"with_rux_injections":                    false,
				"includePromotedContent":                 false,
				"withCommunity":                          true,
				"withQuickPromoteEligibilityTweetFields": true,
				"withBirdwatchNotes":                     true,
				"withVoice":                              true,
				"withV2Timeline":                         true,
			}
		},
	}
}

// Search runs Params.Query against the latest tab.
func (c *Client) Search() twitter.Source {
	return &timelineSource{
		client: c,
		name:   "search",
		ep:     searchTimeline,
		paths:  searchInstructionPaths,
		variables: func(q twitter.Query) map[string]any {
			return map[string]any{
				"rawQuery":    q.Params.Query,
				"count":       count(q.Params),
				"querySource": "typed_query",
				"product":     "Latest",
			}
		},
	}
}

// ListTweets is the latest tweets of Params.ListID.
func (c *Client) ListTweets() twitter.Source {
	return &timelineSource{
		client: c,
		name:   "list",
		ep:     listLatestTweetsTimeline,
		paths:  listInstructionPaths,
		variables: func(q twitter.Query) map[string]any {
			return map[string]any{
				"listId": q.Params.ListID,
				"count":  count(q.Params),
			}
		},
	}
}

func homeVariables(q twitter.Query) map[string]any {
	return map[string]any{
		"count":                  count(q.Params),
		"includePromotedContent": false,
		"latestControlAvailable": true,
		"requestContext":         "launch",
		"withCommunity":          true,
	}
}

// HomeTimeline is the "For you" timeline of the logged in account.
func (c *Client) HomeTimeline() twitter.Source {
	return &timelineSource{
		client:    c,
		name:      "home",
		ep:        homeTimeline,
		paths:     homeInstructionPaths,
		variables: homeVariables,
	}
}

// HomeLatestTimeline is the "Following" timeline of the logged in account.
func (c *Client) HomeLatestTimeline() twitter.Source {
	return &timelineSource{
		client:    c,
		name:      "home_latest",
		ep:        homeLatestTimeline,
		paths:     homeInstructionPaths,
		variables: homeVariables,
	}
}
