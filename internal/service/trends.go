package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"xminer/internal/config"
	"xminer/internal/domain"
)

// TrendService polls location trends and accumulates snapshot rows.
type TrendService struct {
	source   Source
	trends   TrendStore
	governor Governor
	logger   *slog.Logger
	cfg      config.TrendsConfig
}

func NewTrendService(
	source Source,
	trends TrendStore,
	governor Governor,
	logger *slog.Logger,
	cfg config.TrendsConfig,
) *TrendService {
	return &TrendService{
		source:   source,
		trends:   trends,
		governor: governor,
		logger:   logger.With("job", "fetch_trends", "backend", source.Name()),
		cfg:      cfg,
	}
}

// Run fetches the current trends for the configured WOEID and upserts one
// snapshot batch, all rows sharing a single retrieval time.
func (s *TrendService) Run(ctx context.Context) (int64, error) {
	s.logger.Info("fetching trends", "woeid", s.cfg.WOEID, "place", s.cfg.PlaceName)

	var items []struct {
		name  string
		count *int64
		rank  int
	}
	err := s.governor.Do(ctx, func() error {
		fetched, err := s.source.FetchTrends(ctx, s.cfg.WOEID)
		if err != nil {
			return err
		}
		items = items[:0]
		for _, it := range fetched {
			count := it.TweetCount
			if count == nil {
				count = parseApproxCount(it.MetaDescription)
			}
			items = append(items, struct {
				name  string
				count *int64
				rank  int
			}{it.Name, count, it.Rank})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("fetch trends: %w", err)
	}

	s.logger.Info("fetched trends", "count", len(items))
	for _, it := range items {
		if it.rank > 5 {
			continue
		}
		s.logger.Info("trend", "rank", it.rank, "name", it.name, "tweet_count", it.count)
	}

	retrievedAt := time.Now().UTC()
	snaps := make([]domain.TrendSnapshot, 0, len(items))
	for _, it := range items {
		snaps = append(snaps, domain.TrendSnapshot{
			WOEID:         s.cfg.WOEID,
			PlaceName:     s.cfg.PlaceName,
			Name:          it.name,
			TweetCount:    it.count,
			Rank:          it.rank,
			RetrievedAt:   retrievedAt,
			SourceVersion: s.source.Name(),
		})
	}

	n, err := s.trends.UpsertSnapshots(ctx, snaps)
	if err != nil {
		return 0, fmt.Errorf("upsert trends: %w", err)
	}
	s.logger.Info("trends stored", "rows", n)
	return n, nil
}

// approxCountRE matches volume hints like "699K posts", "2,867 posts",
// "45.9K posts" or "1.5M posts".
var approxCountRE = regexp.MustCompile(`(?i)([\d,.]+)\s*([KMB]?)\s*(?:posts?|tweets?)?`)

// parseApproxCount turns a textual volume hint into a count; nil when the
// hint is absent or unparsable, never zero.
func parseApproxCount(meta string) *int64 {
	if meta == "" {
		return nil
	}
	m := approxCountRE.FindStringSubmatch(meta)
	if m == nil {
		return nil
	}

	num, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}

	mult := float64(1)
	switch strings.ToUpper(m[2]) {
	case "K":
		mult = 1e3
	case "M":
		mult = 1e6
	case "B":
		mult = 1e9
	}

	v := int64(num * mult)
	return &v
}
