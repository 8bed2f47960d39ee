package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"xminer/internal/config"
	"xminer/internal/domain"
	"xminer/internal/service/mocks"
	"xminer/internal/source/xapi"
)

type GapScannerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	source    *mocks.MockSource
	tweets    *mocks.MockTweetStore
	profiles  *mocks.MockProfileStore
	txManager *mocks.MockTransactionManager
	governor  *mocks.MockGovernor

	scanner *GapScanner
	logger  *slog.Logger
}

func (s *GapScannerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.source = mocks.NewMockSource(s.ctrl)
	s.tweets = mocks.NewMockTweetStore(s.ctrl)
	s.profiles = mocks.NewMockProfileStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.governor = mocks.NewMockGovernor(s.ctrl)

	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.source.EXPECT().Name().Return("official").AnyTimes()
	s.governor.EXPECT().Do(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func() error) error {
			return fn()
		},
	).AnyTimes()

	s.scanner = NewGapScanner(
		s.source,
		s.tweets,
		s.profiles,
		s.txManager,
		s.governor,
		s.logger,
		config.BackfillConfig{ForwardMaxPages: 5, BackwardMaxPages: 10, MinGapDays: 30},
		100,
	)
}

func (s *GapScannerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestGapScannerTestSuite(t *testing.T) {
	suite.Run(t, new(GapScannerTestSuite))
}

func (s *GapScannerTestSuite) expectTransaction(ctx context.Context) {
	s.txManager.EXPECT().WithTransaction(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
}

func (s *GapScannerTestSuite) TestFillGaps_NoCandidates() {
	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.Add(-24 * time.Hour)

	// Every author's newest stored tweet is fresher than the cutoff: a
	// clean dataset yields zero candidates and zero writes.
	s.tweets.EXPECT().AuthorsByLatest(ctx).Return([]domain.AuthorExtent{
		{AuthorID: 42, Username: "someone", TweetID: "110", CreatedAt: now},
	}, nil)

	stats, err := s.scanner.FillGaps(ctx, GapRunOptions{Cutoff: cutoff, AllAuthors: true})

	s.NoError(err)
	s.Equal(0, stats.Candidates)
	s.Equal(0, stats.Fetched)
	s.Equal(0, stats.Saved)
}

func (s *GapScannerTestSuite) TestFillGaps_SavesOnlyFresh() {
	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.Add(-24 * time.Hour)
	stale := now.Add(-72 * time.Hour)

	s.tweets.EXPECT().AuthorsByLatest(ctx).Return([]domain.AuthorExtent{
		{AuthorID: 42, Username: "someone", TweetID: "105", CreatedAt: stale, TweetCount: 10},
	}, nil)

	s.source.EXPECT().FetchUserTweets(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, req xapi.FetchRequest) (*xapi.Page, error) {
			s.Equal("105", req.SinceID)
			return &xapi.Page{Tweets: []domain.Tweet{
				tweet("105", 42, stale),
				tweet("110", 42, now),
			}}, nil
		},
	)

	// 105 is already stored; only 110 is written.
	s.tweets.EXPECT().ExistingIDs(ctx, int64(42), []string{"105", "110"}).
		Return(map[string]struct{}{"105": {}}, nil)

	s.expectTransaction(ctx)
	s.tweets.EXPECT().Upsert(ctx, gomock.Len(1)).Return(int64(1), nil)

	stats, err := s.scanner.FillGaps(ctx, GapRunOptions{Cutoff: cutoff, AllAuthors: true})

	s.NoError(err)
	s.Equal(1, stats.Candidates)
	s.Equal(2, stats.Fetched)
	s.Equal(1, stats.Saved)
}

func (s *GapScannerTestSuite) TestFillGaps_DryRunComputesSameChangeSet() {
	ctx := context.Background()
	now := time.Now().UTC()
	stale := now.Add(-72 * time.Hour)

	s.tweets.EXPECT().AuthorsByLatest(ctx).Return([]domain.AuthorExtent{
		{AuthorID: 42, Username: "someone", TweetID: "105", CreatedAt: stale},
	}, nil)

	s.source.EXPECT().FetchUserTweets(ctx, gomock.Any()).Return(&xapi.Page{Tweets: []domain.Tweet{
		tweet("105", 42, stale),
		tweet("110", 42, now),
	}}, nil)

	s.tweets.EXPECT().ExistingIDs(ctx, int64(42), []string{"105", "110"}).
		Return(map[string]struct{}{"105": {}}, nil)

	// No transaction, no upsert; the reported count matches what a real
	// run would write.
	stats, err := s.scanner.FillGaps(ctx, GapRunOptions{
		Cutoff: now.Add(-24 * time.Hour), AllAuthors: true, DryRun: true,
	})

	s.NoError(err)
	s.True(stats.DryRun)
	s.Equal(1, stats.Saved)
}

func (s *GapScannerTestSuite) TestFillGaps_ZeroCutoffScansEveryone() {
	ctx := context.Background()
	now := time.Now().UTC()

	s.tweets.EXPECT().AuthorsByLatest(ctx).Return([]domain.AuthorExtent{
		{AuthorID: 42, Username: "someone", TweetID: "110", CreatedAt: now},
	}, nil)

	s.source.EXPECT().FetchUserTweets(ctx, gomock.Any()).Return(&xapi.Page{}, nil)

	stats, err := s.scanner.FillGaps(ctx, GapRunOptions{AllAuthors: true})

	s.NoError(err)
	s.Equal(1, stats.Candidates)
}

func (s *GapScannerTestSuite) TestFillGaps_RosterRestriction() {
	ctx := context.Background()
	now := time.Now().UTC()
	stale := now.Add(-72 * time.Hour)

	s.tweets.EXPECT().AuthorsByLatest(ctx).Return([]domain.AuthorExtent{
		{AuthorID: 42, Username: "tracked", TweetID: "105", CreatedAt: stale},
		{AuthorID: 77, Username: "stray", TweetID: "205", CreatedAt: stale},
	}, nil)
	s.profiles.EXPECT().Roster(ctx).Return([]domain.Author{{ID: 42, Username: "tracked"}}, nil)

	s.source.EXPECT().FetchUserTweets(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, req xapi.FetchRequest) (*xapi.Page, error) {
			s.Equal(int64(42), req.AuthorID)
			return &xapi.Page{}, nil
		},
	)

	stats, err := s.scanner.FillGaps(ctx, GapRunOptions{Cutoff: now})

	s.NoError(err)
	s.Equal(1, stats.Candidates)
}

func (s *GapScannerTestSuite) TestFillGaps_AuthorWithoutStoredTweets() {
	ctx := context.Background()

	s.tweets.EXPECT().AuthorsByLatest(ctx).Return(nil, nil)

	_, err := s.scanner.FillGaps(ctx, GapRunOptions{Author: "ghost", AllAuthors: true})

	s.Error(err)
	s.Contains(err.Error(), "no stored tweets")
}

func (s *GapScannerTestSuite) TestFillGaps_PerAuthorFailureContinues() {
	ctx := context.Background()
	now := time.Now().UTC()
	stale := now.Add(-72 * time.Hour)

	s.tweets.EXPECT().AuthorsByLatest(ctx).Return([]domain.AuthorExtent{
		{AuthorID: 42, Username: "broken", TweetID: "105", CreatedAt: stale},
		{AuthorID: 43, Username: "healthy", TweetID: "205", CreatedAt: stale},
	}, nil)

	gomock.InOrder(
		s.source.EXPECT().FetchUserTweets(ctx, gomock.Any()).Return(nil, errors.New("api error")),
		s.source.EXPECT().FetchUserTweets(ctx, gomock.Any()).Return(&xapi.Page{Tweets: []domain.Tweet{
			tweet("210", 43, now),
		}}, nil),
	)

	s.tweets.EXPECT().ExistingIDs(ctx, int64(43), []string{"210"}).Return(map[string]struct{}{}, nil)
	s.expectTransaction(ctx)
	s.tweets.EXPECT().Upsert(ctx, gomock.Len(1)).Return(int64(1), nil)

	stats, err := s.scanner.FillGaps(ctx, GapRunOptions{Cutoff: now, AllAuthors: true})

	s.NoError(err)
	s.Equal(2, stats.Candidates)
	s.Equal(1, stats.Errors)
	s.Equal(1, stats.Saved)
}

func (s *GapScannerTestSuite) TestHistorical_BoundaryStop() {
	ctx := context.Background()
	now := time.Now().UTC()
	oldest := now.Add(-5 * 24 * time.Hour)

	s.tweets.EXPECT().AuthorsByOldest(ctx).Return([]domain.AuthorExtent{
		{AuthorID: 42, Username: "someone", TweetID: "100", CreatedAt: oldest, TweetCount: 3},
	}, nil)

	// Page 1 is entirely newer than the stored minimum; page 2 reaches
	// past it, so page 3 is never requested even though the cursor and
	// the page cap both allow it.
	gomock.InOrder(
		s.source.EXPECT().FetchUserTweets(ctx, gomock.Any()).DoAndReturn(
			func(ctx context.Context, req xapi.FetchRequest) (*xapi.Page, error) {
				s.Empty(req.SinceID)
				s.Empty(req.Cursor)
				return &xapi.Page{
					Tweets:     []domain.Tweet{tweet("120", 42, now.Add(-24 * time.Hour))},
					NextCursor: "c1",
				}, nil
			},
		),
		s.source.EXPECT().FetchUserTweets(ctx, gomock.Any()).DoAndReturn(
			func(ctx context.Context, req xapi.FetchRequest) (*xapi.Page, error) {
				s.Equal("c1", req.Cursor)
				return &xapi.Page{
					Tweets: []domain.Tweet{
						tweet("110", 42, now.Add(-48*time.Hour)),
						tweet("90", 42, oldest.Add(-24*time.Hour)),
					},
					NextCursor: "c2",
				}, nil
			},
		),
	)

	// The boundary page's older tweets are gap history and are kept.
	s.tweets.EXPECT().ExistingIDs(ctx, int64(42), []string{"120", "110", "90"}).
		Return(map[string]struct{}{}, nil)
	s.expectTransaction(ctx)
	s.tweets.EXPECT().Upsert(ctx, gomock.Len(3)).Return(int64(3), nil)

	stats, err := s.scanner.Historical(ctx, GapRunOptions{AllAuthors: true, MinGapDays: 30})

	s.NoError(err)
	s.Equal(1, stats.Candidates)
	s.Equal(3, stats.Fetched)
	s.Equal(3, stats.Saved)
}

func (s *GapScannerTestSuite) TestHistorical_CompleteHistoryNotACandidate() {
	ctx := context.Background()
	now := time.Now().UTC()

	// Oldest stored tweet predates the gap window: history is complete
	// enough, nothing to backfill.
	s.tweets.EXPECT().AuthorsByOldest(ctx).Return([]domain.AuthorExtent{
		{AuthorID: 42, Username: "someone", TweetID: "10", CreatedAt: now.AddDate(0, 0, -90)},
	}, nil)

	stats, err := s.scanner.Historical(ctx, GapRunOptions{AllAuthors: true, MinGapDays: 30})

	s.NoError(err)
	s.Equal(0, stats.Candidates)
	s.Equal(0, stats.Saved)
}

func (s *GapScannerTestSuite) TestHistorical_AllFetchedAlreadyStored() {
	ctx := context.Background()
	now := time.Now().UTC()
	oldest := now.AddDate(0, 0, -5)

	s.tweets.EXPECT().AuthorsByOldest(ctx).Return([]domain.AuthorExtent{
		{AuthorID: 42, Username: "someone", TweetID: "100", CreatedAt: oldest},
	}, nil)

	s.source.EXPECT().FetchUserTweets(ctx, gomock.Any()).Return(&xapi.Page{
		Tweets: []domain.Tweet{tweet("100", 42, oldest)},
	}, nil)

	s.tweets.EXPECT().ExistingIDs(ctx, int64(42), []string{"100"}).
		Return(map[string]struct{}{"100": {}}, nil)

	// Nothing fresh: no transaction, no write.
	stats, err := s.scanner.Historical(ctx, GapRunOptions{AllAuthors: true, MinGapDays: 30})

	s.NoError(err)
	s.Equal(1, stats.Fetched)
	s.Equal(0, stats.Saved)
}
