package v1

import (
	"encoding/json"
	"net/http"
	"time"

	twerrs "github.com/xiaobinji/RSSHub/internal/errors"
)

// MaxCount is the largest page a caller may ask for.
const MaxCount = 100

type (
	// TimelineQuery are the query string options every timeline route takes.
	TimelineQuery struct {
		Count           int
		ExcludeRetweets bool
		ExcludeReplies  bool
	}

	Author struct {
		ID              string `json:"id"`
		ScreenName      string `json:"screen_name"`
		Name            string `json:"name"`
		ProfileImageURL string `json:"profile_image_url,omitempty"`
	}

	Media struct {
		Type        string `json:"type"`
		URL         string `json:"url"`
		ExpandedURL string `json:"expanded_url,omitempty"`
		VideoURL    string `json:"video_url,omitempty"`
	}

	Tweet struct {
		ID                string          `json:"id"`
		URL               string          `json:"url"`
		Text              string          `json:"text"`
		CreatedAt         time.Time       `json:"created_at"`
		Author            Author          `json:"author"`
		ConversationID    string          `json:"conversation_id,omitempty"`
		InReplyToStatusID string          `json:"in_reply_to_status_id,omitempty"`
		InReplyToUserID   string          `json:"in_reply_to_user_id,omitempty"`
		Media             []Media         `json:"media,omitempty"`
		Retweet           *Tweet          `json:"retweet,omitempty"`
		Quote             *Tweet          `json:"quote,omitempty"`
		Raw               json.RawMessage `json:"raw,omitempty"`
	}

	Timeline struct {
		Items []Tweet `json:"items"`
	}
)

func (q TimelineQuery) Validate() error {
	var errs []twerrs.Detail
	if q.Count < 0 || q.Count > MaxCount {
		errs = append(errs, twerrs.Detail{Field: "count", Error: "must be between 1 and 100"})
	}
	if len(errs) > 0 {
		return twerrs.E("invalid request", http.StatusBadRequest, errs)
	}

	return nil
}
