package xapi

import (
	"encoding/json"
	"time"
)

// Raw response shapes for the official X API v2.

type officialTweetsResponse struct {
	Data []officialTweet `json:"data"`
	Meta struct {
		NextToken   string `json:"next_token"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

type officialTweet struct {
	ID                string           `json:"id"`
	Text              string           `json:"text"`
	CreatedAt         time.Time        `json:"created_at"`
	Lang              string           `json:"lang"`
	ConversationID    string           `json:"conversation_id"`
	InReplyToUserID   string           `json:"in_reply_to_user_id"`
	PossiblySensitive *bool            `json:"possibly_sensitive"`
	Source            string           `json:"source"`
	PublicMetrics     *officialMetrics `json:"public_metrics"`
	Entities          json.RawMessage  `json:"entities"`
	ReferencedTweets  []officialRef    `json:"referenced_tweets"`
}

// Counters are pointers: a field the API did not send stays nil instead of
// collapsing into zero.
type officialMetrics struct {
	LikeCount       *int64 `json:"like_count"`
	ReplyCount      *int64 `json:"reply_count"`
	RetweetCount    *int64 `json:"retweet_count"`
	QuoteCount      *int64 `json:"quote_count"`
	BookmarkCount   *int64 `json:"bookmark_count"`
	ImpressionCount *int64 `json:"impression_count"`
}

type officialRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type officialUsersResponse struct {
	Data []officialUser `json:"data"`
}

type officialUser struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Name          string     `json:"name"`
	CreatedAt     *time.Time `json:"created_at"`
	Verified      bool       `json:"verified"`
	Protected     bool       `json:"protected"`
	Location      *string    `json:"location"`
	Description   *string    `json:"description"`
	PublicMetrics struct {
		FollowersCount int64 `json:"followers_count"`
		FollowingCount int64 `json:"following_count"`
		TweetCount     int64 `json:"tweet_count"`
		ListedCount    int64 `json:"listed_count"`
	} `json:"public_metrics"`
}

type officialTrendsResponse struct {
	Data []struct {
		TrendName  string `json:"trend_name"`
		TweetCount *int64 `json:"tweet_count"`
	} `json:"data"`
}

// Raw response shapes for the twitterapi.io proxy.

type proxyTweetsResponse struct {
	Data struct {
		Tweets []proxyTweet `json:"tweets"`
	} `json:"data"`
	HasNextPage bool   `json:"has_next_page"`
	NextCursor  string `json:"next_cursor"`
	Status      string `json:"status"`
	Msg         string `json:"msg"`
}

type proxyTweet struct {
	ID                string          `json:"id"`
	Text              string          `json:"text"`
	CreatedAt         string          `json:"createdAt"`
	Lang              string          `json:"lang"`
	ConversationID    string          `json:"conversationId"`
	InReplyToUserID   json.Number     `json:"inReplyToUserId"`
	PossiblySensitive *bool           `json:"possiblySensitive"`
	Source            string          `json:"source"`
	Entities          json.RawMessage `json:"entities"`
	LikeCount         *int64          `json:"likeCount"`
	ReplyCount        *int64          `json:"replyCount"`
	RetweetCount      *int64          `json:"retweetCount"`
	QuoteCount        *int64          `json:"quoteCount"`
	BookmarkCount     *int64          `json:"bookmarkCount"`
	ViewCount         *int64          `json:"viewCount"`
	RetweetedTweet    *proxyTweetRef  `json:"retweeted_tweet"`
	QuotedTweet       *proxyTweetRef  `json:"quoted_tweet"`
	IsReply           bool            `json:"isReply"`
	InReplyToID       string          `json:"inReplyToId"`
}

type proxyTweetRef struct {
	ID string `json:"id"`
}

type proxyTrendsResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
	Trends []struct {
		Trend struct {
			Name            string `json:"name"`
			Rank            int    `json:"rank"`
			MetaDescription string `json:"meta_description"`
		} `json:"trend"`
	} `json:"trends"`
}

type proxyUserResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
	Data   struct {
		ID             string `json:"id"`
		UserName       string `json:"userName"`
		Name           string `json:"name"`
		CreatedAt      string `json:"createdAt"`
		IsVerified     bool   `json:"isVerified"`
		IsBlueVerified bool   `json:"isBlueVerified"`
		Protected      bool   `json:"protected"`
		Followers      int64  `json:"followers"`
		Following      int64  `json:"following"`
		StatusesCount  int64  `json:"statusesCount"`
		ListedCount    int64  `json:"listedCount"`
		Location       string `json:"location"`
		Description    string `json:"description"`
	} `json:"data"`
}

// proxyCreatedAtLayout is the classic Twitter timestamp format the proxy
// emits, e.g. "Sat Sep 27 09:05:04 +0000 2025".
const proxyCreatedAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

func parseProxyCreatedAt(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(proxyCreatedAtLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
