package xapi

import (
	"context"
	"time"

	"xminer/internal/domain"
)

// FetchRequest bounds one page request for an author's tweets. SinceID and
// StartTime are lower bounds; when both are set SinceID wins, because post
// ids are assigned monotonically upstream and are immune to clock skew.
// Cursor, when non-empty, continues a previous page.
type FetchRequest struct {
	AuthorID   int64
	Username   string
	MaxResults int
	SinceID    string
	StartTime  time.Time
	EndTime    time.Time
	Cursor     string
}

// Page is one normalized page of tweets. NextCursor is empty when
// pagination is exhausted (or, for the proxy backend, when the page has
// moved entirely past the requested lower bound).
type Page struct {
	Tweets     []domain.Tweet
	NextCursor string
}

// TrendItem is one entry from a location trends poll. TweetCount is nil
// when the backend only reports a textual volume hint (MetaDescription).
type TrendItem struct {
	Name            string
	TweetCount      *int64
	Rank            int
	MetaDescription string
}

// Self identifies the authenticated account.
type Self struct {
	ID       string
	Username string
}

// Backend is the single surface both tweet sources implement. Throttling
// surfaces as *ThrottleError and authentication failures as *AuthError so
// callers can retry the former and abort on the latter; backends never
// translate these into generic errors.
type Backend interface {
	Name() string
	FetchUserTweets(ctx context.Context, req FetchRequest) (*Page, error)
	FetchTrends(ctx context.Context, woeid int64) ([]TrendItem, error)
	FetchUsers(ctx context.Context, usernames []string) ([]domain.ProfileSnapshot, error)
	FetchSelf(ctx context.Context) (*Self, error)
}

// idLess reports a < b for decimal post-id strings without parsing them
// into a numeric type. Ids have no leading zeros, so a longer string is
// always the larger number.
func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
