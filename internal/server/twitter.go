package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	v1 "github.com/xiaobinji/RSSHub/api/timeline/v1"
	twerrs "github.com/xiaobinji/RSSHub/internal/errors"
	"github.com/xiaobinji/RSSHub/internal/timeline"
	"github.com/xiaobinji/RSSHub/internal/twitter"
	"github.com/xiaobinji/RSSHub/internal/twitterapi"
)

// Timelines is what the routes serve. Implemented by [timeline.Service].
type Timelines interface {
	UserTimeline(ctx context.Context, handle string, params twitter.Params) ([]twitter.Item, error)
	UserMedia(ctx context.Context, handle string, params twitter.Params) ([]twitter.Item, error)
	UserLikes(ctx context.Context, handle string, params twitter.Params) ([]twitter.Item, error)
	Search(ctx context.Context, query string, params twitter.Params) ([]twitter.Item, error)
	List(ctx context.Context, listID string, params twitter.Params) ([]twitter.Item, error)
	Home(ctx context.Context, params twitter.Params) ([]twitter.Item, error)
	HomeLatest(ctx context.Context, params twitter.Params) ([]twitter.Item, error)
	Tweet(ctx context.Context, handle string, status twitter.ID) ([]twitter.Item, error)
	Purge(ctx context.Context, handle string) error
}

var _ Timelines = (*timeline.Service)(nil)

func attachRoutes(r ErrRouter, svc Timelines) {
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	handle := func(fetch func(r *http.Request, params twitter.Params) ([]twitter.Item, error)) HandlerFuncE {
		return func(w http.ResponseWriter, r *http.Request) error {
			q, err := QueryValid(r, parseTimelineQuery)
			if err != nil {
				return err
			}

			items, err := fetch(r, twitter.Params{Count: q.Count})
			if err != nil {
				return timelineError(err)
			}

			return WriteJSON(w, http.StatusOK, toTimeline(filter(items, q)))
		}
	}

	r.HandleFuncE("/twitter/user/{id}", handle(func(r *http.Request, p twitter.Params) ([]twitter.Item, error) {
		return svc.UserTimeline(r.Context(), mux.Vars(r)["id"], p)
	})).Methods(http.MethodGet)
	r.HandleFuncE("/twitter/media/{id}", handle(func(r *http.Request, p twitter.Params) ([]twitter.Item, error) {
		return svc.UserMedia(r.Context(), mux.Vars(r)["id"], p)
	})).Methods(http.MethodGet)
	r.HandleFuncE("/twitter/likes/{id}", handle(func(r *http.Request, p twitter.Params) ([]twitter.Item, error) {
		return svc.UserLikes(r.Context(), mux.Vars(r)["id"], p)
	})).Methods(http.MethodGet)
	r.HandleFuncE("/twitter/keyword/{keyword}", handle(func(r *http.Request, p twitter.Params) ([]twitter.Item, error) {
		return svc.Search(r.Context(), mux.Vars(r)["keyword"], p)
	})).Methods(http.MethodGet)
	r.HandleFuncE("/twitter/list/{id}", handle(func(r *http.Request, p twitter.Params) ([]twitter.Item, error) {
		return svc.List(r.Context(), mux.Vars(r)["id"], p)
	})).Methods(http.MethodGet)
	r.HandleFuncE("/twitter/home", handle(func(r *http.Request, p twitter.Params) ([]twitter.Item, error) {
		return svc.Home(r.Context(), p)
	})).Methods(http.MethodGet)
	r.HandleFuncE("/twitter/home_latest", handle(func(r *http.Request, p twitter.Params) ([]twitter.Item, error) {
		return svc.HomeLatest(r.Context(), p)
	})).Methods(http.MethodGet)
	r.HandleFuncE("/twitter/tweet/{id}/status/{status}", handle(func(r *http.Request, _ twitter.Params) ([]twitter.Item, error) {
		status, err := twitter.ParseID(mux.Vars(r)["status"])
		if err != nil || status.IsZero() {
			return nil, twerrs.E("invalid request", http.StatusBadRequest, twerrs.Detail{Field: "status", Error: "must be a tweet id"})
		}

		return svc.Tweet(r.Context(), mux.Vars(r)["id"], status)
	})).Methods(http.MethodGet)

	r.HandleFuncE("/twitter/user/{id}/cache", func(w http.ResponseWriter, r *http.Request) error {
		if err := svc.Purge(r.Context(), mux.Vars(r)["id"]); err != nil {
			return timelineError(err)
		}

		w.WriteHeader(http.StatusNoContent)
		return nil
	}).Methods(http.MethodDelete)
}

func parseTimelineQuery(vals url.Values) (v1.TimelineQuery, error) {
	var q v1.TimelineQuery
	if c := vals.Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n == 0 {
			return q, twerrs.E("invalid request", http.StatusBadRequest, twerrs.Detail{Field: "count", Error: "must be between 1 and 100"})
		}
		q.Count = n
	}
	q.ExcludeRetweets = truthy(vals.Get("exclude_rts"))
	q.ExcludeReplies = truthy(vals.Get("exclude_replies"))

	return q, nil
}

func truthy(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// timelineError maps service errors to the status they are served with.
func timelineError(err error) error {
	var (
		sErr   *twerrs.Error
		apiErr *twitterapi.APIError
	)
	switch {
	case errors.As(err, &sErr):
		return sErr
	case errors.Is(err, twitter.ErrNotFound), errors.Is(err, twitter.ErrTweetNotFound):
		return twerrs.E(http.StatusNotFound, err)
	case errors.Is(err, timeline.ErrUnavailable):
		return twerrs.E(http.StatusServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return twerrs.E(http.StatusGatewayTimeout, "upstream timed out")
	case errors.As(err, &apiErr):
		return upstreamError(apiErr)
	}

	return err
}

// upstreamError reports a failed upstream call as a 502, passing the
// upstream error code through so rate limits and auth failures can be told
// apart.
func upstreamError(apiErr *twitterapi.APIError) *twerrs.Error {
	e := twerrs.E(http.StatusBadGateway, fmt.Errorf("upstream responded %d", apiErr.Status))
	if apiErr.Code != 0 {
		e.Details = append(e.Details, twerrs.Detail{
			Field: "upstream",
			Error: fmt.Sprintf("code %d: %s", apiErr.Code, apiErr.Message),
		})
	}

	return e
}

func filter(items []twitter.Item, q v1.TimelineQuery) []twitter.Item {
	if !q.ExcludeRetweets && !q.ExcludeReplies {
		return items
	}

	out := make([]twitter.Item, 0, len(items))
	for _, it := range items {
		if q.ExcludeRetweets && it.Retweeted != nil {
			continue
		}
		if q.ExcludeReplies && it.IsReply() {
			continue
		}
		out = append(out, it)
	}

	return out
}

func toTimeline(items []twitter.Item) v1.Timeline {
	tl := v1.Timeline{Items: make([]v1.Tweet, 0, len(items))}
	for _, it := range items {
		tl.Items = append(tl.Items, toTweet(it))
	}

	return tl
}

func toTweet(it twitter.Item) v1.Tweet {
	t := v1.Tweet{
		ID:        it.ID.String(),
		Text:      it.Text,
		CreatedAt: it.CreatedAt,
		Author: v1.Author{
			ID:              it.Author.ID.String(),
			ScreenName:      it.Author.ScreenName,
			Name:            it.Author.Name,
			ProfileImageURL: it.Author.ProfileImageURL,
		},
		ConversationID:    optionalID(it.ConversationID),
		InReplyToStatusID: optionalID(it.InReplyToStatusID),
		InReplyToUserID:   optionalID(it.InReplyToUserID),
		Raw:               it.Payload,
	}
	screenName := it.Author.ScreenName
	if screenName == "" {
		screenName = "i/web"
	}
	t.URL = fmt.Sprintf("https://x.com/%s/status/%s", screenName, t.ID)

	for _, m := range it.Media {
		t.Media = append(t.Media, v1.Media(m))
	}
	if it.Retweeted != nil {
		rt := toTweet(*it.Retweeted)
		t.Retweet = &rt
	}
	if it.Quoted != nil {
		qt := toTweet(*it.Quoted)
		t.Quote = &qt
	}

	return t
}

func optionalID(id twitter.ID) string {
	if id.IsZero() {
		return ""
	}

	return id.String()
}
