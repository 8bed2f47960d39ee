package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"xminer/internal/config"
	"xminer/internal/domain"
	"xminer/internal/sanitize"
	"xminer/internal/source/xapi"
)

// GapScanner is the reconciliation batch job. It runs after routine
// polling, in two independent modes: FillGaps re-fetches forward for
// authors whose newest stored tweet looks stale, Historical paginates
// backward for authors whose history was truncated by earlier page caps.
// Finding nothing is the expected common case, not an error.
type GapScanner struct {
	source    Source
	tweets    TweetStore
	profiles  ProfileStore
	txManager TransactionManager
	governor  Governor
	logger    *slog.Logger
	cfg       config.BackfillConfig
	pageSize  int
}

// GapRunOptions are per-invocation settings shared by both modes.
type GapRunOptions struct {
	DryRun bool
	Author string
	Limit  int
	// Cutoff bounds the FillGaps candidate scan: only authors whose
	// newest stored tweet predates it are re-fetched. Zero means every
	// author is a candidate.
	Cutoff time.Time
	// MinGapDays bounds the Historical candidate scan: only authors
	// whose oldest stored tweet is newer than now minus this many days
	// are suspected of a truncated history. Zero falls back to config.
	MinGapDays int
	// AllAuthors widens both scans beyond the tracked roster.
	AllAuthors bool
}

func NewGapScanner(
	source Source,
	tweets TweetStore,
	profiles ProfileStore,
	txManager TransactionManager,
	governor Governor,
	logger *slog.Logger,
	cfg config.BackfillConfig,
	pageSize int,
) *GapScanner {
	return &GapScanner{
		source:    source,
		tweets:    tweets,
		profiles:  profiles,
		txManager: txManager,
		governor:  governor,
		logger:    logger.With("backend", source.Name()),
		cfg:       cfg,
		pageSize:  pageSize,
	}
}

// FillGaps re-fetches forward from each candidate author's newest stored
// tweet id and appends only genuinely new posts.
func (s *GapScanner) FillGaps(ctx context.Context, opts GapRunOptions) (*domain.GapStats, error) {
	startTime := time.Now()
	logger := s.logger.With("job", "fill_gaps", "dry_run", opts.DryRun)

	authors, err := s.tweets.AuthorsByLatest(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan authors: %w", err)
	}
	logger.Info("authors with stored tweets", "count", len(authors))

	authors, err = s.filterCandidates(ctx, authors, opts, func(a domain.AuthorExtent) bool {
		return opts.Cutoff.IsZero() || a.CreatedAt.Before(opts.Cutoff)
	})
	if err != nil {
		return nil, err
	}

	stats := &domain.GapStats{Candidates: len(authors), DryRun: opts.DryRun}
	if len(authors) == 0 {
		logger.Info("no gap candidates", "cutoff", opts.Cutoff)
		stats.Duration = time.Since(startTime)
		return stats, nil
	}

	if opts.Limit > 0 && opts.Limit < len(authors) {
		authors = authors[:opts.Limit]
	}

	for i, a := range authors {
		logger.Info(fmt.Sprintf("[%d/%d] @%s", i+1, len(authors), a.Username),
			"stored", a.TweetCount, "latest", a.CreatedAt)

		fetched, err := s.fetchForward(ctx, a)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			logger.Error("fetch failed", "username", a.Username, "error", err)
			stats.Errors++
			continue
		}
		stats.Authors++
		stats.Fetched += len(fetched)

		saved, err := s.saveNew(ctx, logger, a, fetched, opts.DryRun)
		if err != nil {
			logger.Error("save failed", "username", a.Username, "error", err)
			stats.Errors++
			continue
		}
		stats.Saved += saved
	}

	stats.Duration = time.Since(startTime)
	logger.Info("fill-gaps complete",
		"candidates", stats.Candidates,
		"processed", stats.Authors,
		"fetched", stats.Fetched,
		"saved", stats.Saved,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)
	return stats, nil
}

// Historical paginates backward from now for each candidate author until
// a page reaches past their oldest stored tweet, then appends only new
// posts.
func (s *GapScanner) Historical(ctx context.Context, opts GapRunOptions) (*domain.GapStats, error) {
	startTime := time.Now()
	logger := s.logger.With("job", "historical_backfill", "dry_run", opts.DryRun)

	authors, err := s.tweets.AuthorsByOldest(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan authors: %w", err)
	}
	logger.Info("authors with stored tweets", "count", len(authors))

	minGapDays := opts.MinGapDays
	if minGapDays == 0 {
		minGapDays = s.cfg.MinGapDays
	}
	var ageCutoff time.Time
	if minGapDays > 0 {
		ageCutoff = time.Now().UTC().AddDate(0, 0, -minGapDays)
	}

	authors, err = s.filterCandidates(ctx, authors, opts, func(a domain.AuthorExtent) bool {
		return ageCutoff.IsZero() || a.CreatedAt.After(ageCutoff)
	})
	if err != nil {
		return nil, err
	}

	stats := &domain.GapStats{Candidates: len(authors), DryRun: opts.DryRun}
	if len(authors) == 0 {
		logger.Info("no backfill candidates", "min_gap_days", minGapDays)
		stats.Duration = time.Since(startTime)
		return stats, nil
	}

	if opts.Limit > 0 && opts.Limit < len(authors) {
		authors = authors[:opts.Limit]
	}

	for i, a := range authors {
		logger.Info(fmt.Sprintf("[%d/%d] @%s", i+1, len(authors), a.Username),
			"stored", a.TweetCount, "oldest", a.CreatedAt)

		fetched, err := s.fetchBackward(ctx, a)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			logger.Error("fetch failed", "username", a.Username, "error", err)
			stats.Errors++
			continue
		}
		stats.Authors++
		stats.Fetched += len(fetched)

		saved, err := s.saveNew(ctx, logger, a, fetched, opts.DryRun)
		if err != nil {
			logger.Error("save failed", "username", a.Username, "error", err)
			stats.Errors++
			continue
		}
		stats.Saved += saved
	}

	stats.Duration = time.Since(startTime)
	logger.Info("historical backfill complete",
		"candidates", stats.Candidates,
		"processed", stats.Authors,
		"fetched", stats.Fetched,
		"saved", stats.Saved,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)
	return stats, nil
}

// filterCandidates applies the roster restriction, the per-author filter
// and the mode-specific candidate predicate.
func (s *GapScanner) filterCandidates(
	ctx context.Context,
	authors []domain.AuthorExtent,
	opts GapRunOptions,
	keep func(domain.AuthorExtent) bool,
) ([]domain.AuthorExtent, error) {
	if !opts.AllAuthors {
		roster, err := s.profiles.Roster(ctx)
		if err != nil {
			return nil, fmt.Errorf("load roster: %w", err)
		}
		tracked := make(map[int64]struct{}, len(roster))
		for _, r := range roster {
			tracked[r.ID] = struct{}{}
		}
		var kept []domain.AuthorExtent
		for _, a := range authors {
			if _, ok := tracked[a.AuthorID]; ok {
				kept = append(kept, a)
			}
		}
		authors = kept
	}

	var out []domain.AuthorExtent
	for _, a := range authors {
		if opts.Author != "" && !strings.EqualFold(a.Username, opts.Author) {
			continue
		}
		if keep(a) {
			out = append(out, a)
		}
	}
	if opts.Author != "" && len(out) == 0 {
		return nil, fmt.Errorf("author %q has no stored tweets", opts.Author)
	}
	return out, nil
}

// fetchForward pages forward from the author's newest stored id.
func (s *GapScanner) fetchForward(ctx context.Context, a domain.AuthorExtent) ([]domain.Tweet, error) {
	req := xapi.FetchRequest{
		AuthorID:   a.AuthorID,
		Username:   a.Username,
		MaxResults: s.pageSize,
		SinceID:    a.TweetID,
	}

	var all []domain.Tweet
	for page := 0; page < s.cfg.ForwardMaxPages; page++ {
		var pg *xapi.Page
		err := s.governor.Do(ctx, func() error {
			var err error
			pg, err = s.source.FetchUserTweets(ctx, req)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page+1, err)
		}
		all = append(all, pg.Tweets...)
		if pg.NextCursor == "" {
			break
		}
		req.Cursor = pg.NextCursor
	}
	return all, nil
}

// fetchBackward pages from now toward history, stopping after the first
// page that contains a tweet older than the author's stored minimum;
// pages beyond that point are entirely older and never requested.
func (s *GapScanner) fetchBackward(ctx context.Context, a domain.AuthorExtent) ([]domain.Tweet, error) {
	boundary := a.CreatedAt
	req := xapi.FetchRequest{
		AuthorID:   a.AuthorID,
		Username:   a.Username,
		MaxResults: s.pageSize,
	}

	var all []domain.Tweet
	for page := 0; page < s.cfg.BackwardMaxPages; page++ {
		var pg *xapi.Page
		err := s.governor.Do(ctx, func() error {
			var err error
			pg, err = s.source.FetchUserTweets(ctx, req)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page+1, err)
		}

		all = append(all, pg.Tweets...)

		reachedBoundary := false
		for _, t := range pg.Tweets {
			if !t.CreatedAt.IsZero() && t.CreatedAt.Before(boundary) {
				reachedBoundary = true
				break
			}
		}
		if reachedBoundary || pg.NextCursor == "" {
			break
		}
		req.Cursor = pg.NextCursor
	}
	return all, nil
}

// saveNew drops everything already stored — the watermark may have been
// stale — sanitizes the remainder, and commits it in one transaction. A
// dry run computes and logs the identical change set without writing.
func (s *GapScanner) saveNew(
	ctx context.Context,
	logger *slog.Logger,
	a domain.AuthorExtent,
	fetched []domain.Tweet,
	dryRun bool,
) (int, error) {
	if len(fetched) == 0 {
		logger.Info("no new tweets", "username", a.Username)
		return 0, nil
	}

	ids := make([]string, len(fetched))
	for i, t := range fetched {
		ids[i] = t.ID
	}
	existing, err := s.tweets.ExistingIDs(ctx, a.AuthorID, ids)
	if err != nil {
		return 0, fmt.Errorf("check existing: %w", err)
	}

	var fresh []domain.Tweet
	for _, t := range fetched {
		if _, ok := existing[t.ID]; !ok {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		logger.Info("all fetched tweets already stored",
			"username", a.Username, "fetched", len(fetched))
		return 0, nil
	}

	rows, rowErrs := sanitize.Rows(fresh)
	for _, re := range rowErrs {
		logger.Warn("dropped row", "username", a.Username, "error", re.Error())
	}

	oldest, newest := dateRange(fresh)

	if dryRun {
		logger.Info("would save tweets",
			"username", a.Username,
			"count", len(rows),
			"oldest", oldest,
			"newest", newest,
		)
		return len(rows), nil
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		_, err := s.tweets.Upsert(txCtx, rows)
		return err
	})
	if err != nil {
		return 0, err
	}

	logger.Info("saved tweets",
		"username", a.Username,
		"count", len(rows),
		"oldest", oldest,
		"newest", newest,
	)
	return len(rows), nil
}

func dateRange(tweets []domain.Tweet) (oldest, newest time.Time) {
	for _, t := range tweets {
		if t.CreatedAt.IsZero() {
			continue
		}
		if oldest.IsZero() || t.CreatedAt.Before(oldest) {
			oldest = t.CreatedAt
		}
		if newest.IsZero() || t.CreatedAt.After(newest) {
			newest = t.CreatedAt
		}
	}
	return oldest, newest
}
