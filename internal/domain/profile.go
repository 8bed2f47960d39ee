package domain

import "time"

// ProfileSnapshot is a point-in-time capture of an account. Snapshots are
// append-only; the latest profile is derived by picking the most recent
// snapshot per username.
type ProfileSnapshot struct {
	AuthorID       int64
	Username       string
	Name           string
	CreatedAt      *time.Time
	Verified       bool
	Protected      bool
	FollowersCount int64
	FollowingCount int64
	TweetCount     int64
	ListedCount    int64
	Location       *string
	Description    *string
	RetrievedAt    time.Time
}
