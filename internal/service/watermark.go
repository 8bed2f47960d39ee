package service

import (
	"context"
	"time"
)

// ForwardMark is the resume point for routine forward polling. Exactly
// one of SinceID / StartTime is set, or neither: an author with stored
// tweets resumes from their highest stored id, a brand-new author from
// the configured fallback start time, and with no fallback the fetch is
// unbounded and relies on the backend's page cap.
type ForwardMark struct {
	SinceID   string
	StartTime time.Time
}

// WatermarkResolver computes per-author fetch bounds from the tweets
// table on every call. Nothing here is cached: a prior run may have
// committed rows after this process last looked, and a stale watermark
// must lose no tweets.
type WatermarkResolver struct {
	tweets        TweetStore
	fallbackStart time.Time
}

// NewWatermarkResolver creates a resolver. fallbackStart may be the zero
// time, meaning new authors are fetched without a lower bound.
func NewWatermarkResolver(tweets TweetStore, fallbackStart time.Time) *WatermarkResolver {
	return &WatermarkResolver{tweets: tweets, fallbackStart: fallbackStart}
}

// Forward resolves the routine-poll resume point for an author. A stored
// since-id always wins over the start-time fallback: ids order posts the
// way the upstream assigned them, immune to clock skew.
func (r *WatermarkResolver) Forward(ctx context.Context, authorID int64) (ForwardMark, error) {
	latest, err := r.tweets.LatestTweetID(ctx, authorID)
	if err != nil {
		return ForwardMark{}, err
	}
	if latest != "" {
		return ForwardMark{SinceID: latest}, nil
	}
	if !r.fallbackStart.IsZero() {
		return ForwardMark{StartTime: r.fallbackStart}, nil
	}
	return ForwardMark{}, nil
}

// Backward resolves the historical-backfill boundary: the oldest stored
// creation time, where backward pagination stops. ok is false for authors
// with no stored tweets, which have nothing to backfill behind.
func (r *WatermarkResolver) Backward(ctx context.Context, authorID int64) (time.Time, bool, error) {
	return r.tweets.OldestCreatedAt(ctx, authorID)
}
