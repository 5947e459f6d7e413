package twitterapi

import "encoding/json"

type endpoint struct {
	name         string
	queryID      string
	fieldToggles string
}

var (
	userByScreenName         = endpoint{name: "UserByScreenName", queryID: "Yka-W8dz7RaEuQNkroPkYw", fieldToggles: `{"withAuxiliaryUserLabels":false}`}
	userByRestID             = endpoint{name: "UserByRestId", queryID: "Qw77dDjp9xCpUY-AXwt-yQ"}
	userTweets               = endpoint{name: "UserTweets", queryID: "E3opETHurmVJflFsUBVuUQ"}
	userTweetsAndReplies     = endpoint{name: "UserTweetsAndReplies", queryID: "bt4TKuFz4T7Ckk-VvQVSow"}
	userMedia                = endpoint{name: "UserMedia", queryID: "dexO_2tohK86JDudXXG3Yw"}
	likes                    = endpoint{name: "Likes", queryID: "eSSNbhECHHWWALkkQq-YTA"}
	tweetDetail              = endpoint{name: "TweetDetail", queryID: "QuBlQ6SxNAQCt6-kBiCXCQ", fieldToggles: `{"withArticleRichContentState":false}`}
	searchTimeline           = endpoint{name: "SearchTimeline", queryID: "UN1i3zUiCWa-6r-Uaho4fw"}
	listLatestTweetsTimeline = endpoint{name: "ListLatestTweetsTimeline", queryID: "Pa45JvqZuKcW1plybfgBlQ"}
	homeTimeline             = endpoint{name: "HomeTimeline", queryID: "HJFjzBgCs16TqxewQOeLNg"}
	homeLatestTimeline       = endpoint{name: "HomeLatestTimeline", queryID: "DiTkXJgLqBBxCs7zaYsbtA"}
)

// Where each response keeps its instruction list.
var (
	userInstructionPaths   = []string{"user.result.timeline_v2.timeline.instructions", "user.result.timeline.timeline.instructions"}
	detailInstructionPaths = []string{"threaded_conversation_with_injections_v2.instructions"}
	searchInstructionPaths = []string{"search_by_raw_query.search_timeline.timeline.instructions"}
	listInstructionPaths   = []string{"list.tweets_timeline.timeline.instructions"}
	homeInstructionPaths   = []string{"home.home_timeline_urt.instructions"}
)

// Feature switches sent with every query. The API rejects requests that
// leave out the ones it currently expects.
var features = map[string]bool{
	"rweb_tipjar_consumption_enabled":                                         true,
	"responsive_web_graphql_exclude_directive_enabled":                        true,
	"verified_phone_label_enabled":                                            false,
	"creator_subscriptions_tweet_preview_api_enabled":                         true,
	"responsive_web_graphql_timeline_navigation_enabled":                      true,
	"responsive_web_graphql_skip_user_profile_image_extensions_enabled":       false,
	"communities_web_enable_tweet_community_results_fetch":                    true,
	"c9s_tweet_anatomy_moderator_badge_enabled":                               true,
	"articles_preview_enabled":                                                true,
	"tweetypie_unmention_optimization_enabled":                                true,
	"responsive_web_edit_tweet_api_enabled":                                   true,
	"graphql_is_translatable_rweb_tweet_is_translatable_enabled":              true,
	"view_counts_everywhere_api_enabled":                                      true,
	"longform_notetweets_consumption_enabled":                                 true,
	"responsive_web_twitter_article_tweet_consumption_enabled":                true,
	"tweet_awards_web_tipping_enabled":                                        false,
	"creator_subscriptions_quote_tweet_preview_enabled":                       false,
	"freedom_of_speech_not_reach_fetch_enabled":                               true,
	"standardized_nudges_misinfo":                                             true,
	"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled": true,
	"rweb_video_timestamps_enabled":                                           true,
	"longform_notetweets_rich_text_read_enabled":                              true,
	"longform_notetweets_inline_media_enabled":                                true,
	"responsive_web_enhance_cards_enabled":                                    false,
	"hidden_profile_likes_enabled":                                            true,
	"hidden_profile_subscriptions_enabled":                                    true,
	"highlights_tweets_tab_ui_enabled":                                        true,
	"subscriptions_verification_info_is_identity_verified_enabled":            true,
	"subscriptions_verification_info_verified_since_enabled":                  true,
	"responsive_web_twitter_article_notes_tab_enabled":                        true,
}

var featuresJSON = func() string {
	byts, err := json.Marshal(features)
	if err != nil {
		panic(err)
	}
	return string(byts)
}()
