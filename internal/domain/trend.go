package domain

import "time"

// TrendSnapshot is one trend entry from a location poll, keyed by
// (woeid, retrieved_at, trend_name) so repeated polls accumulate a time
// series instead of overwriting each other.
type TrendSnapshot struct {
	WOEID         int64
	PlaceName     string
	Name          string
	TweetCount    *int64
	Rank          int
	RetrievedAt   time.Time
	SourceVersion string
}
