package xapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestOfficial(t *testing.T, handler http.HandlerFunc) *Official {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOfficial(OfficialConfig{
		BaseURL:           srv.URL,
		BearerToken:       "test-token",
		RequestsPerSecond: 1000,
		Burst:             1000,
	}, testLogger())
}

func TestOfficial_FetchUserTweets(t *testing.T) {
	var gotQuery map[string][]string
	backend := newTestOfficial(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/42/tweets", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		gotQuery = r.URL.Query()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": [
				{"id": "1976972865493077998", "text": "hello", "created_at": "2025-09-27T09:05:04Z",
				 "public_metrics": {"like_count": 9, "reply_count": 0}}
			],
			"meta": {"next_token": "cursor-2", "result_count": 1}
		}`))
	})

	page, err := backend.FetchUserTweets(context.Background(), FetchRequest{
		AuthorID:   42,
		Username:   "someone",
		MaxResults: 100,
		SinceID:    "1976972865493077990",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"1976972865493077990"}, gotQuery["since_id"])
	assert.NotContains(t, gotQuery, "start_time")

	require.Len(t, page.Tweets, 1)
	assert.Equal(t, "1976972865493077998", page.Tweets[0].ID)
	assert.Equal(t, int64(42), page.Tweets[0].AuthorID)
	require.NotNil(t, page.Tweets[0].LikeCount)
	assert.Equal(t, int64(9), *page.Tweets[0].LikeCount)
	assert.Nil(t, page.Tweets[0].RetweetCount)
	assert.Equal(t, "cursor-2", page.NextCursor)
}

func TestOfficial_FetchUserTweets_StartTimeOnlyWithoutSinceID(t *testing.T) {
	var gotQuery map[string][]string
	backend := newTestOfficial(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"data": [], "meta": {}}`))
	})

	start := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	_, err := backend.FetchUserTweets(context.Background(), FetchRequest{
		AuthorID:   42,
		MaxResults: 100,
		SinceID:    "100",
		StartTime:  start,
	})
	require.NoError(t, err)

	// since_id wins over start_time when both are present.
	assert.Contains(t, gotQuery, "since_id")
	assert.NotContains(t, gotQuery, "start_time")

	_, err = backend.FetchUserTweets(context.Background(), FetchRequest{
		AuthorID:   42,
		MaxResults: 100,
		StartTime:  start,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-09-01T00:00:00Z"}, gotQuery["start_time"])
}

func TestOfficial_FetchUserTweets_Throttled(t *testing.T) {
	backend := newTestOfficial(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-rate-limit-reset", "1758963904")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := backend.FetchUserTweets(context.Background(), FetchRequest{AuthorID: 42, MaxResults: 100})
	require.Error(t, err)

	var throttled *ThrottleError
	require.True(t, errors.As(err, &throttled))
	assert.Equal(t, "official", throttled.Backend)
	assert.Equal(t, time.Unix(1758963904, 0).UTC(), throttled.ResetAt)
}

func TestOfficial_FetchUserTweets_ThrottledNoHeader(t *testing.T) {
	backend := newTestOfficial(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := backend.FetchUserTweets(context.Background(), FetchRequest{AuthorID: 42, MaxResults: 100})

	var throttled *ThrottleError
	require.True(t, errors.As(err, &throttled))
	assert.True(t, throttled.ResetAt.IsZero())
}

func TestOfficial_AuthError(t *testing.T) {
	backend := newTestOfficial(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := backend.FetchSelf(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
}

func TestOfficial_FetchSelf(t *testing.T) {
	backend := newTestOfficial(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/me", r.URL.Path)
		_, _ = w.Write([]byte(`{"data": {"id": "42", "username": "someone"}}`))
	})

	self, err := backend.FetchSelf(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "someone", self.Username)
}

func TestOfficial_FetchUsers(t *testing.T) {
	backend := newTestOfficial(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/by", r.URL.Path)
		assert.Equal(t, "alpha,bravo", r.URL.Query().Get("usernames"))
		_, _ = w.Write([]byte(`{
			"data": [
				{"id": "42", "username": "alpha", "name": "Alpha",
				 "public_metrics": {"followers_count": 10, "tweet_count": 5}},
				{"id": "not-numeric", "username": "bravo"}
			]
		}`))
	})

	snaps, err := backend.FetchUsers(context.Background(), []string{"alpha", "bravo"})
	require.NoError(t, err)

	// The non-numeric id is skipped, not fatal.
	require.Len(t, snaps, 1)
	assert.Equal(t, int64(42), snaps[0].AuthorID)
	assert.Equal(t, int64(10), snaps[0].FollowersCount)
}

func TestOfficial_FetchTrends(t *testing.T) {
	backend := newTestOfficial(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trends/by/woeid/23424829", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"data": [
				{"trend_name": "#first", "tweet_count": 684000},
				{"trend_name": "#second"}
			]
		}`))
	})

	items, err := backend.FetchTrends(context.Background(), 23424829)
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, 1, items[0].Rank)
	require.NotNil(t, items[0].TweetCount)
	assert.Equal(t, int64(684000), *items[0].TweetCount)
	assert.Equal(t, 2, items[1].Rank)
	assert.Nil(t, items[1].TweetCount)
}
