package xapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"xminer/internal/domain"
)

const proxyName = "twitterapiio"

// ProxyConfig holds twitterapi.io backend configuration.
type ProxyConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Proxy talks to the twitterapi.io service. The proxy paginates with an
// opaque cursor and has no native since_id/start_time support, so lower
// bounds are enforced client-side: filtered from each page, with
// pagination cut short once a page has moved entirely past the bound.
// Without that early stop every poll would walk the account's full
// history.
type Proxy struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
	now        func() time.Time
}

// NewProxy creates the twitterapi.io backend.
func NewProxy(cfg ProxyConfig, logger *slog.Logger) *Proxy {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twitterapi.io"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Proxy{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		logger:     logger.With("backend", proxyName),
		now:        time.Now,
	}
}

func (p *Proxy) Name() string {
	return proxyName
}

// FetchUserTweets fetches one page and applies the request bounds.
func (p *Proxy) FetchUserTweets(ctx context.Context, req FetchRequest) (*Page, error) {
	q := url.Values{}
	q.Set("userId", strconv.FormatInt(req.AuthorID, 10))
	q.Set("includeReplies", "true")
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}

	var resp proxyTweetsResponse
	u := fmt.Sprintf("%s/twitter/user/last_tweets?%s", p.baseURL, q.Encode())
	if err := p.get(ctx, u, &resp); err != nil {
		return nil, err
	}

	retrievedAt := p.now().UTC()
	raw := make([]domain.Tweet, 0, len(resp.Data.Tweets))
	for _, t := range resp.Data.Tweets {
		raw = append(raw, normalizeProxy(t, req.AuthorID, req.Username, retrievedAt))
	}

	// A page that has moved entirely past the lower bound means deeper
	// pages are older still; drop the cursor to terminate pagination.
	pastBound := len(raw) > 0 && pageEntirelyBelowBound(raw, req)

	page := &Page{}
	for _, t := range raw {
		if req.SinceID != "" && !idLess(req.SinceID, t.ID) {
			continue
		}
		if req.SinceID == "" && !req.StartTime.IsZero() &&
			(t.CreatedAt.IsZero() || !t.CreatedAt.After(req.StartTime)) {
			continue
		}
		if !req.EndTime.IsZero() && t.CreatedAt.After(req.EndTime) {
			continue
		}
		page.Tweets = append(page.Tweets, t)
	}

	if resp.HasNextPage && !pastBound {
		page.NextCursor = resp.NextCursor
	}

	p.logger.Debug("fetched page",
		"author_id", req.AuthorID,
		"raw", len(raw),
		"kept", len(page.Tweets),
		"has_next", page.NextCursor != "",
	)

	return page, nil
}

// pageEntirelyBelowBound reports whether every tweet on the page falls at
// or below the request's lower bound (since-id first, else start-time).
func pageEntirelyBelowBound(tweets []domain.Tweet, req FetchRequest) bool {
	switch {
	case req.SinceID != "":
		for _, t := range tweets {
			if idLess(req.SinceID, t.ID) {
				return false
			}
		}
		return true
	case !req.StartTime.IsZero():
		for _, t := range tweets {
			if t.CreatedAt.After(req.StartTime) {
				return false
			}
		}
		return true
	}
	return false
}

// FetchTrends fetches trends for a WOEID. The proxy reports volume only as
// a meta description like "684K posts".
func (p *Proxy) FetchTrends(ctx context.Context, woeid int64) ([]TrendItem, error) {
	var resp proxyTrendsResponse
	u := fmt.Sprintf("%s/twitter/trends?woeid=%d", p.baseURL, woeid)
	if err := p.get(ctx, u, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%s: trends request failed: %s", proxyName, resp.Msg)
	}

	items := make([]TrendItem, 0, len(resp.Trends))
	for i, t := range resp.Trends {
		rank := t.Trend.Rank
		if rank == 0 {
			rank = i + 1
		}
		items = append(items, TrendItem{
			Name:            t.Trend.Name,
			Rank:            rank,
			MetaDescription: t.Trend.MetaDescription,
		})
	}
	return items, nil
}

// FetchUsers looks up profiles one username at a time; the proxy has no
// batch endpoint.
func (p *Proxy) FetchUsers(ctx context.Context, usernames []string) ([]domain.ProfileSnapshot, error) {
	out := make([]domain.ProfileSnapshot, 0, len(usernames))
	for _, name := range usernames {
		var resp proxyUserResponse
		u := fmt.Sprintf("%s/twitter/user/info?userName=%s", p.baseURL, url.QueryEscape(name))
		if err := p.get(ctx, u, &resp); err != nil {
			return out, fmt.Errorf("fetch user %s: %w", name, err)
		}
		if resp.Status != "success" {
			p.logger.Warn("user lookup failed", "username", name, "msg", resp.Msg)
			continue
		}

		authorID, err := strconv.ParseInt(resp.Data.ID, 10, 64)
		if err != nil {
			p.logger.Warn("skipping user with non-numeric id", "id", resp.Data.ID, "username", name)
			continue
		}

		snap := domain.ProfileSnapshot{
			AuthorID:       authorID,
			Username:       resp.Data.UserName,
			Name:           resp.Data.Name,
			Verified:       resp.Data.IsVerified || resp.Data.IsBlueVerified,
			Protected:      resp.Data.Protected,
			FollowersCount: resp.Data.Followers,
			FollowingCount: resp.Data.Following,
			TweetCount:     resp.Data.StatusesCount,
			ListedCount:    resp.Data.ListedCount,
			RetrievedAt:    p.now().UTC(),
		}
		if ts, ok := parseProxyCreatedAt(resp.Data.CreatedAt); ok {
			snap.CreatedAt = &ts
		}
		if resp.Data.Location != "" {
			loc := resp.Data.Location
			snap.Location = &loc
		}
		if resp.Data.Description != "" {
			desc := resp.Data.Description
			snap.Description = &desc
		}
		out = append(out, snap)
	}
	return out, nil
}

// FetchSelf returns a static identity; the proxy exposes no /me endpoint.
func (p *Proxy) FetchSelf(ctx context.Context) (*Self, error) {
	return &Self{Username: "twitterapiio_user"}, nil
}

func (p *Proxy) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", p.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "xminer/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ThrottleError{Backend: proxyName, ResetAt: p.retryAfter(resp.Header)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Backend: proxyName, Status: resp.StatusCode}
	default:
		return &statusError{Backend: proxyName, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// retryAfter converts a Retry-After seconds header into an absolute reset
// time; zero time when absent.
func (p *Proxy) retryAfter(h http.Header) time.Time {
	v := h.Get("Retry-After")
	if v == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return p.now().UTC().Add(time.Duration(secs) * time.Second)
}
