// Package twitter holds the domain types shared by the timeline engine:
// identities, normalized items, and the contract every upstream source
// adapter satisfies.
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a handle does not resolve to an account.
	ErrNotFound = errors.New("user not found")
	// ErrTweetNotFound is returned when a status isn't part of the thread
	// upstream returned for it.
	ErrTweetNotFound = errors.New("tweet not found")
	// ErrCursorNotFound is returned when a probe page is missing the cursor
	// a two-phase source needs to continue.
	ErrCursorNotFound = errors.New("cursor not found")
)

type (
	// Identity is a resolved account.
	Identity struct {
		ID              ID     `json:"id"`
		ScreenName      string `json:"screen_name"`
		Name            string `json:"name"`
		Description     string `json:"description,omitempty"`
		ProfileImageURL string `json:"profile_image_url,omitempty"`
		Protected       bool   `json:"protected,omitempty"`
	}

	// Author is the subset of the posting account carried on every item.
	Author struct {
		ID              ID     `json:"id"`
		ScreenName      string `json:"screen_name"`
		Name            string `json:"name"`
		ProfileImageURL string `json:"profile_image_url,omitempty"`
	}

	// Media is a photo, video or animated gif attached to an item.
	Media struct {
		Type        string `json:"type"`
		URL         string `json:"url"`
		ExpandedURL string `json:"expanded_url,omitempty"`
		VideoURL    string `json:"video_url,omitempty"`
	}

	// Item is one normalized post.
	Item struct {
		ID                ID        `json:"id"`
		ConversationID    ID        `json:"conversation_id,omitempty"`
		InReplyToStatusID ID        `json:"in_reply_to_status_id,omitempty"`
		InReplyToUserID   ID        `json:"in_reply_to_user_id,omitempty"`
		Author            Author    `json:"author"`
		Text              string    `json:"text"`
		CreatedAt         time.Time `json:"created_at"`
		Media             []Media   `json:"media,omitempty"`
		Retweeted         *Item     `json:"retweeted,omitempty"`
		Quoted            *Item     `json:"quoted,omitempty"`

		// Payload is the upstream record, passed through untouched.
		Payload json.RawMessage `json:"payload,omitempty"`
	}

	// Params are the caller supplied filters. The serialized form is part of
	// every per-source cache key.
	Params struct {
		Count  int    `json:"count,omitempty"`
		Query  string `json:"query,omitempty"`
		ListID string `json:"list_id,omitempty"`
		Focal  ID     `json:"focal,omitempty"`
	}
)

// IsReply reports whether the item answers another post.
func (i Item) IsReply() bool {
	return !i.InReplyToUserID.IsZero() || !i.InReplyToStatusID.IsZero()
}

// CursorKind names one of the continuation cursors embedded in a page.
type CursorKind string

const (
	CursorTop    CursorKind = "Top"
	CursorBottom CursorKind = "Bottom"
)

type (
	// Query is a single page request handed to a Source.
	Query struct {
		Identity ID
		Params   Params
		Cursor   string
	}

	// Page is one normalized page of a source.
	Page struct {
		Items   []Item
		Cursors map[CursorKind]string
	}

	// Source is one upstream content stream.
	Source interface {
		// Name identifies the source in cache keys and logs.
		Name() string
		// Fetch returns a single page starting at q.Cursor.
		Fetch(ctx context.Context, q Query) (Page, error)
	}

	// Prober is implemented by sources whose first page is a cursor-discovery
	// probe. The walk starts from the returned cursor kind found on that probe.
	Prober interface {
		ProbeCursor() CursorKind
	}
)
