package domain

import (
	"encoding/json"
	"time"
)

// RefKind classifies how one tweet references another.
type RefKind string

const (
	RefRepliedTo RefKind = "replied_to"
	RefRetweeted RefKind = "retweeted"
	RefQuoted    RefKind = "quoted"
)

// TweetRef is a typed reference from one tweet to another.
type TweetRef struct {
	ID   string  `json:"id"`
	Kind RefKind `json:"type"`
}

// Tweet is the canonical post record both API backends normalize into.
//
// Post and conversation identifiers are decimal strings: they are 18-19
// digit integers upstream and must never pass through a float. Engagement
// counters are pointers so that "backend does not expose this counter"
// stays distinguishable from a stored zero.
type Tweet struct {
	ID                string
	AuthorID          int64
	Username          string
	CreatedAt         time.Time
	Text              string
	Lang              string
	ConversationID    string
	InReplyToUserID   *int64
	PossiblySensitive *bool
	LikeCount         *int64
	ReplyCount        *int64
	RetweetCount      *int64
	QuoteCount        *int64
	BookmarkCount     *int64
	ImpressionCount   *int64
	Source            string
	Entities          json.RawMessage
	ReferencedTweets  []TweetRef
	RetrievedAt       time.Time
}

// Author is one roster entry: a tracked account we fetch tweets for.
type Author struct {
	ID       int64
	Username string
}

// AuthorExtent describes the newest or oldest stored tweet for an author,
// depending on which scan produced it.
type AuthorExtent struct {
	AuthorID   int64     `db:"author_id"`
	Username   string    `db:"username"`
	TweetID    string    `db:"tweet_id"`
	CreatedAt  time.Time `db:"created_at"`
	TweetCount int64     `db:"tweet_count"`
}
