package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"xminer/internal/config"
	"xminer/internal/domain"
	"xminer/internal/service/mocks"
	"xminer/internal/source/xapi"
	"xminer/testdata/utils"
)

func TestParseApproxCount(t *testing.T) {
	cases := []struct {
		meta string
		want *int64
	}{
		{"684K posts", utils.Ptr(int64(684000))},
		{"2,867 posts", utils.Ptr(int64(2867))},
		{"45.9K posts", utils.Ptr(int64(45900))},
		{"1.5M posts", utils.Ptr(int64(1500000))},
		{"2B posts", utils.Ptr(int64(2000000000))},
		{"120 Tweets", utils.Ptr(int64(120))},
		{"", nil},
		{"trending now", nil},
	}
	for _, tc := range cases {
		t.Run(tc.meta, func(t *testing.T) {
			got := parseApproxCount(tc.meta)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tc.want, *got)
		})
	}
}

func newTrendsFixture(t *testing.T) (*TrendService, *mocks.MockSource, *mocks.MockTrendStore) {
	ctrl := gomock.NewController(t)
	source := mocks.NewMockSource(ctrl)
	trends := mocks.NewMockTrendStore(ctrl)
	governor := mocks.NewMockGovernor(ctrl)

	source.EXPECT().Name().Return("twitterapiio").AnyTimes()
	governor.EXPECT().Do(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func() error) error {
			return fn()
		},
	).AnyTimes()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewTrendService(source, trends, governor, logger,
		config.TrendsConfig{WOEID: 23424829, PlaceName: "Germany"})
	return svc, source, trends
}

func TestTrendService_Run(t *testing.T) {
	svc, source, trends := newTrendsFixture(t)
	ctx := context.Background()

	source.EXPECT().FetchTrends(ctx, int64(23424829)).Return([]xapi.TrendItem{
		{Name: "#first", TweetCount: utils.Ptr(int64(684000)), Rank: 1},
		{Name: "#second", Rank: 2, MetaDescription: "45.9K posts"},
		{Name: "#third", Rank: 3},
	}, nil)

	trends.EXPECT().UpsertSnapshots(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, snaps []domain.TrendSnapshot) (int64, error) {
			require.Len(t, snaps, 3)

			assert.Equal(t, int64(23424829), snaps[0].WOEID)
			assert.Equal(t, "Germany", snaps[0].PlaceName)
			assert.Equal(t, "twitterapiio", snaps[0].SourceVersion)
			require.NotNil(t, snaps[0].TweetCount)
			assert.Equal(t, int64(684000), *snaps[0].TweetCount)

			// Counts recovered from the textual hint when absent.
			require.NotNil(t, snaps[1].TweetCount)
			assert.Equal(t, int64(45900), *snaps[1].TweetCount)

			// No count and no hint stays null, never zero.
			assert.Nil(t, snaps[2].TweetCount)

			// One shared retrieval time for the whole batch.
			assert.Equal(t, snaps[0].RetrievedAt, snaps[2].RetrievedAt)
			return 3, nil
		},
	)

	n, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTrendService_Run_FetchError(t *testing.T) {
	svc, source, _ := newTrendsFixture(t)
	ctx := context.Background()

	source.EXPECT().FetchTrends(ctx, int64(23424829)).Return(nil, errors.New("api error"))

	_, err := svc.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch trends")
}
