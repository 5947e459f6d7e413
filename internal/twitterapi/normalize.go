package twitterapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/xiaobinji/RSSHub/internal/twitter"
)

// pageBuilder collects the tweets and cursors of one response.
type pageBuilder struct {
	items   []twitter.Item
	cursors map[twitter.CursorKind]string
}

// parsePage flattens the first instruction list found under paths.
func parsePage(data gjson.Result, paths []string) twitter.Page {
	b := pageBuilder{cursors: map[twitter.CursorKind]string{}}

	var instructions gjson.Result
	for _, p := range paths {
		if instructions = data.Get(p); instructions.IsArray() {
			break
		}
	}

	for _, ins := range instructions.Array() {
		switch ins.Get("type").String() {
		case "TimelineAddEntries":
			for _, entry := range ins.Get("entries").Array() {
				b.addEntry(entry)
			}
		case "TimelineAddToModule":
			for _, mi := range ins.Get("moduleItems").Array() {
				b.addItemContent(mi.Get("entryId").String(), mi.Get("item.itemContent"))
			}
		case "TimelineReplaceEntry", "TimelinePinEntry":
			b.addEntry(ins.Get("entry"))
		}
	}

	return twitter.Page{Items: b.items, Cursors: b.cursors}
}

func (b *pageBuilder) addEntry(entry gjson.Result) {
	entryID := entry.Get("entryId").String()
	content := entry.Get("content")

	switch {
	case strings.HasPrefix(entryID, "promoted"):
	case strings.HasPrefix(entryID, "cursor-"):
		b.addCursor(content)
	case content.Get("itemContent").Exists():
		b.addItemContent(entryID, content.Get("itemContent"))
	case content.Get("items").IsArray():
		// Modules: profile grids, conversation threads, home conversations
		for _, it := range content.Get("items").Array() {
			b.addItemContent(it.Get("entryId").String(), it.Get("item.itemContent"))
		}
	}
}

func (b *pageBuilder) addItemContent(entryID string, ic gjson.Result) {
	if strings.Contains(entryID, "promoted") {
		return
	}

	switch ic.Get("itemType").String() {
	case "TimelineTimelineCursor":
		b.addCursor(ic)
	case "TimelineTweet":
		if ic.Get("promotedMetadata").Exists() {
			return
		}
		if item, ok := parseTweet(ic.Get("tweet_results.result"), true); ok {
			b.items = append(b.items, item)
		}
	}
}

func (b *pageBuilder) addCursor(c gjson.Result) {
	kind := twitter.CursorKind(c.Get("cursorType").String())
	value := c.Get("value").String()
	if kind == "" || value == "" {
		return
	}

	b.cursors[kind] = value
}

// parseTweet normalizes a tweet result. Retweeted and quoted statuses are
// followed one level deep when nested is set.
func parseTweet(res gjson.Result, nested bool) (twitter.Item, bool) {
	if res.Get("__typename").String() == "TweetWithVisibilityResults" {
		res = res.Get("tweet")
	}

	legacy := res.Get("legacy")
	if !legacy.Exists() {
		// Tombstones and unavailable tweets
		return twitter.Item{}, false
	}

	id := parseID(legacy.Get("id_str").String())
	if id.IsZero() {
		id = parseID(res.Get("rest_id").String())
	}

	item := twitter.Item{
		ID:                id,
		ConversationID:    parseID(legacy.Get("conversation_id_str").String()),
		InReplyToStatusID: parseID(legacy.Get("in_reply_to_status_id_str").String()),
		InReplyToUserID:   parseID(legacy.Get("in_reply_to_user_id_str").String()),
		Author:            parseAuthor(res.Get("core.user_results.result")),
		Text:              legacy.Get("full_text").String(),
		Media:             parseMedia(legacy.Get("extended_entities.media")),
		Payload:           json.RawMessage(legacy.Raw),
	}
	if note := res.Get("note_tweet.note_tweet_results.result.text"); note.Exists() {
		item.Text = note.String()
	}
	if t, err := time.Parse(time.RubyDate, legacy.Get("created_at").String()); err == nil {
		item.CreatedAt = t.UTC()
	}

	if nested {
		if rt, ok := parseTweet(legacy.Get("retweeted_status_result.result"), false); ok {
			item.Retweeted = &rt
		}
		if qt, ok := parseTweet(res.Get("quoted_status_result.result"), false); ok {
			item.Quoted = &qt
		}
	}

	return item, true
}

func parseAuthor(user gjson.Result) twitter.Author {
	return twitter.Author{
		ID:              parseID(user.Get("rest_id").String()),
		ScreenName:      firstString(user, "legacy.screen_name", "core.screen_name"),
		Name:            firstString(user, "legacy.name", "core.name"),
		ProfileImageURL: firstString(user, "legacy.profile_image_url_https", "avatar.image_url"),
	}
}

func parseMedia(media gjson.Result) []twitter.Media {
	var out []twitter.Media
	for _, m := range media.Array() {
		md := twitter.Media{
			Type:        m.Get("type").String(),
			URL:         m.Get("media_url_https").String(),
			ExpandedURL: m.Get("expanded_url").String(),
		}

		// Highest bitrate mp4 wins
		var bitrate int64 = -1
		for _, v := range m.Get("video_info.variants").Array() {
			if v.Get("content_type").String() != "video/mp4" {
				continue
			}
			if br := v.Get("bitrate").Int(); br > bitrate {
				bitrate = br
				md.VideoURL = v.Get("url").String()
			}
		}

		out = append(out, md)
	}

	return out
}

func parseUser(user gjson.Result) (twitter.Identity, bool) {
	if user.Get("__typename").String() == "UserUnavailable" {
		return twitter.Identity{}, false
	}

	id := parseID(user.Get("rest_id").String())
	if id.IsZero() {
		return twitter.Identity{}, false
	}

	return twitter.Identity{
		ID:              id,
		ScreenName:      firstString(user, "legacy.screen_name", "core.screen_name"),
		Name:            firstString(user, "legacy.name", "core.name"),
		Description:     user.Get("legacy.description").String(),
		ProfileImageURL: firstString(user, "legacy.profile_image_url_https", "avatar.image_url"),
		Protected:       user.Get("legacy.protected").Bool() || user.Get("privacy.protected").Bool(),
	}, true
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := res.Get(p).String(); v != "" {
			return v
		}
	}

	return ""
}

// parseID drops malformed ids; the item is then filtered out downstream.
func parseID(s string) twitter.ID {
	id, err := twitter.ParseID(s)
	if err != nil {
		return 0
	}

	return id
}
