package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"xminer/internal/domain"
	"xminer/internal/source/xapi"
	"xminer/internal/storage/postgres"
)

// TweetStore is the single write path for tweets plus the watermark and
// candidate-scan queries derived from the tweets table.
type TweetStore interface {
	Upsert(ctx context.Context, rows []postgres.TweetRow) (int64, error)
	LatestTweetID(ctx context.Context, authorID int64) (string, error)
	OldestCreatedAt(ctx context.Context, authorID int64) (time.Time, bool, error)
	ExistingIDs(ctx context.Context, authorID int64, ids []string) (map[string]struct{}, error)
	AuthorsByLatest(ctx context.Context) ([]domain.AuthorExtent, error)
	AuthorsByOldest(ctx context.Context) ([]domain.AuthorExtent, error)
}

type ProfileStore interface {
	InsertSnapshots(ctx context.Context, snaps []domain.ProfileSnapshot) (int64, error)
	Roster(ctx context.Context) ([]domain.Author, error)
	TrackedUsernames(ctx context.Context) ([]string, error)
}

type TrendStore interface {
	UpsertSnapshots(ctx context.Context, snaps []domain.TrendSnapshot) (int64, error)
}

type SyncStateStore interface {
	Get(ctx context.Context, job string) (*domain.SyncState, error)
	Update(ctx context.Context, state *domain.SyncState) error
}

// Source is the backend surface the services consume; implemented by both
// xapi backends.
type Source interface {
	Name() string
	FetchUserTweets(ctx context.Context, req xapi.FetchRequest) (*xapi.Page, error)
	FetchTrends(ctx context.Context, woeid int64) ([]xapi.TrendItem, error)
	FetchUsers(ctx context.Context, usernames []string) ([]domain.ProfileSnapshot, error)
	FetchSelf(ctx context.Context) (*xapi.Self, error)
}

// Governor wraps a request-issuing function, sleeping and replaying it on
// throttling and returning every other error untouched.
type Governor interface {
	Do(ctx context.Context, fn func() error) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	PublishTweet(ctx context.Context, tweet *domain.Tweet, isNew bool) error
	Close() error
}
