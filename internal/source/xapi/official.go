package xapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"xminer/internal/domain"
)

const officialName = "official"

// defaultTweetFields mirrors the field set every fetch script requested.
var defaultTweetFields = []string{
	"created_at", "lang", "public_metrics", "conversation_id",
	"in_reply_to_user_id", "possibly_sensitive", "source",
	"entities", "referenced_tweets",
}

// OfficialConfig holds official X API v2 backend configuration.
type OfficialConfig struct {
	BaseURL           string
	BearerToken       string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	TweetFields       []string
}

// Official talks to the X API v2 with bearer-token auth. Pagination uses
// the native since_id/start_time/end_time parameters plus an opaque
// pagination_token.
type Official struct {
	httpClient  *http.Client
	baseURL     string
	bearerToken string
	limiter     *rate.Limiter
	tweetFields string
	logger      *slog.Logger
	now         func() time.Time
}

// NewOfficial creates the official-API backend.
func NewOfficial(cfg OfficialConfig, logger *slog.Logger) *Official {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.com/2"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst == 0 {
		cfg.Burst = 10
	}
	fields := cfg.TweetFields
	if len(fields) == 0 {
		fields = defaultTweetFields
	}

	return &Official{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		bearerToken: cfg.BearerToken,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		tweetFields: strings.Join(fields, ","),
		logger:      logger.With("backend", officialName),
		now:         time.Now,
	}
}

func (o *Official) Name() string {
	return officialName
}

// FetchUserTweets fetches one page of an author's tweets.
func (o *Official) FetchUserTweets(ctx context.Context, req FetchRequest) (*Page, error) {
	q := url.Values{}
	q.Set("max_results", strconv.Itoa(req.MaxResults))
	q.Set("tweet.fields", o.tweetFields)
	if req.SinceID != "" {
		q.Set("since_id", req.SinceID)
	} else if !req.StartTime.IsZero() {
		q.Set("start_time", req.StartTime.UTC().Format(time.RFC3339))
	}
	if !req.EndTime.IsZero() {
		q.Set("end_time", req.EndTime.UTC().Format(time.RFC3339))
	}
	if req.Cursor != "" {
		q.Set("pagination_token", req.Cursor)
	}

	var resp officialTweetsResponse
	u := fmt.Sprintf("%s/users/%d/tweets?%s", o.baseURL, req.AuthorID, q.Encode())
	if err := o.get(ctx, u, &resp); err != nil {
		return nil, err
	}

	retrievedAt := o.now().UTC()
	page := &Page{NextCursor: resp.Meta.NextToken}
	for _, t := range resp.Data {
		page.Tweets = append(page.Tweets, normalizeOfficial(t, req.AuthorID, req.Username, retrievedAt))
	}

	o.logger.Debug("fetched page",
		"author_id", req.AuthorID,
		"tweets", len(page.Tweets),
		"has_next", page.NextCursor != "",
	)

	return page, nil
}

// FetchTrends fetches trends for a WOEID. The official endpoint reports a
// numeric tweet_count and no rank, so rank is assigned by position.
func (o *Official) FetchTrends(ctx context.Context, woeid int64) ([]TrendItem, error) {
	var resp officialTrendsResponse
	u := fmt.Sprintf("%s/trends/by/woeid/%d", o.baseURL, woeid)
	if err := o.get(ctx, u, &resp); err != nil {
		return nil, err
	}

	items := make([]TrendItem, 0, len(resp.Data))
	for i, t := range resp.Data {
		items = append(items, TrendItem{
			Name:       t.TrendName,
			TweetCount: t.TweetCount,
			Rank:       i + 1,
		})
	}
	return items, nil
}

// FetchUsers looks up profile snapshots for up to 100 usernames per call.
func (o *Official) FetchUsers(ctx context.Context, usernames []string) ([]domain.ProfileSnapshot, error) {
	if len(usernames) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("usernames", strings.Join(usernames, ","))
	q.Set("user.fields", "created_at,description,location,public_metrics,protected,verified")

	var resp officialUsersResponse
	u := fmt.Sprintf("%s/users/by?%s", o.baseURL, q.Encode())
	if err := o.get(ctx, u, &resp); err != nil {
		return nil, err
	}

	retrievedAt := o.now().UTC()
	out := make([]domain.ProfileSnapshot, 0, len(resp.Data))
	for _, u := range resp.Data {
		authorID, err := strconv.ParseInt(u.ID, 10, 64)
		if err != nil {
			o.logger.Warn("skipping user with non-numeric id", "id", u.ID, "username", u.Username)
			continue
		}
		out = append(out, domain.ProfileSnapshot{
			AuthorID:       authorID,
			Username:       u.Username,
			Name:           u.Name,
			CreatedAt:      u.CreatedAt,
			Verified:       u.Verified,
			Protected:      u.Protected,
			FollowersCount: u.PublicMetrics.FollowersCount,
			FollowingCount: u.PublicMetrics.FollowingCount,
			TweetCount:     u.PublicMetrics.TweetCount,
			ListedCount:    u.PublicMetrics.ListedCount,
			Location:       u.Location,
			Description:    u.Description,
			RetrievedAt:    retrievedAt,
		})
	}
	return out, nil
}

// FetchSelf returns the authenticated account.
func (o *Official) FetchSelf(ctx context.Context) (*Self, error) {
	var resp struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := o.get(ctx, o.baseURL+"/users/me", &resp); err != nil {
		return nil, err
	}
	return &Self{ID: resp.Data.ID, Username: resp.Data.Username}, nil
}

func (o *Official) get(ctx context.Context, u string, out any) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.bearerToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "xminer/1.0")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ThrottleError{Backend: officialName, ResetAt: resetFromHeader(resp.Header)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Backend: officialName, Status: resp.StatusCode}
	default:
		return &statusError{Backend: officialName, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// resetFromHeader reads the x-rate-limit-reset epoch-seconds header; zero
// time when absent or malformed.
func resetFromHeader(h http.Header) time.Time {
	v := h.Get("x-rate-limit-reset")
	if v == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
