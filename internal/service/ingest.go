package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"xminer/internal/config"
	"xminer/internal/domain"
	"xminer/internal/sanitize"
	"xminer/internal/source/xapi"
)

const ingestJob = "fetch_tweets"

// IngestService runs the routine forward poll: one author at a time,
// resolve the watermark, paginate, sanitize, upsert, move on. A single
// author's failure never halts the batch.
type IngestService struct {
	source    Source
	tweets    TweetStore
	profiles  ProfileStore
	syncState SyncStateStore
	txManager TransactionManager
	publisher Publisher
	governor  Governor
	resolver  *WatermarkResolver
	logger    *slog.Logger
	cfg       config.SyncConfig
	pageSize  int
}

// RunOptions are per-invocation overrides from the CLI.
type RunOptions struct {
	DryRun      bool
	Author      string
	Limit       int
	BufferHours int
}

func NewIngestService(
	source Source,
	tweets TweetStore,
	profiles ProfileStore,
	syncState SyncStateStore,
	txManager TransactionManager,
	publisher Publisher,
	governor Governor,
	logger *slog.Logger,
	cfg config.SyncConfig,
	pageSize int,
) *IngestService {
	fallback, _ := cfg.FallbackStart()
	return &IngestService{
		source:    source,
		tweets:    tweets,
		profiles:  profiles,
		syncState: syncState,
		txManager: txManager,
		publisher: publisher,
		governor:  governor,
		resolver:  NewWatermarkResolver(tweets, fallback),
		logger:    logger.With("job", ingestJob, "backend", source.Name()),
		cfg:       cfg,
		pageSize:  pageSize,
	}
}

// Sync runs one scheduled ingest pass with default options; it satisfies
// the scheduler's Syncer interface.
func (s *IngestService) Sync(ctx context.Context) (*domain.FetchStats, error) {
	return s.Run(ctx, RunOptions{})
}

// Run executes one ingest pass over the roster.
func (s *IngestService) Run(ctx context.Context, opts RunOptions) (*domain.FetchStats, error) {
	startTime := time.Now()

	self, err := s.source.FetchSelf(ctx)
	if err != nil {
		var authErr *xapi.AuthError
		if errors.As(err, &authErr) {
			return nil, fmt.Errorf("credential check: %w", err)
		}
		s.logger.Warn("credential check inconclusive", "error", err)
	} else {
		s.logger.Info("authenticated", "username", self.Username)
	}

	authors, err := s.profiles.Roster(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	total := len(authors)

	authors = s.selectAuthors(authors, opts)
	if opts.Author != "" && len(authors) == 0 {
		return nil, fmt.Errorf("author %q not in roster", opts.Author)
	}

	bufferHours := opts.BufferHours
	if bufferHours == 0 {
		bufferHours = s.cfg.BufferHours
	}
	var endTime time.Time
	if bufferHours > 0 {
		endTime = time.Now().UTC().Add(-time.Duration(bufferHours) * time.Hour)
	}

	s.logger.Info("starting tweet fetch",
		"authors", len(authors),
		"available", total,
		"max_pages", s.cfg.MaxPages,
		"end_time", endTime,
		"dry_run", opts.DryRun,
	)

	stats := &domain.FetchStats{Authors: len(authors)}
	var maxSeenID string

	for i, author := range authors {
		mark, err := s.resolver.Forward(ctx, author.ID)
		if err != nil {
			s.logger.Error("resolve watermark", "username", author.Username, "error", err)
			stats.Errors++
			continue
		}

		switch {
		case mark.SinceID != "":
			s.logger.Info(fmt.Sprintf("[%d/%d] @%s", i+1, len(authors), author.Username),
				"since_id", mark.SinceID)
		case !mark.StartTime.IsZero():
			s.logger.Info(fmt.Sprintf("[%d/%d] @%s", i+1, len(authors), author.Username),
				"start_time", mark.StartTime.Format("2006-01-02"))
		default:
			s.logger.Info(fmt.Sprintf("[%d/%d] @%s", i+1, len(authors), author.Username),
				"bound", "none")
		}

		fetched, err := s.fetchAuthor(ctx, author, mark, endTime, s.cfg.MaxPages)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			// Abandon this author for the run; the watermark was not
			// advanced, so the next run retries naturally.
			s.logger.Error("fetch failed", "username", author.Username, "error", err)
			stats.Errors++
			continue
		}
		stats.Fetched += len(fetched)

		if len(fetched) == 0 {
			s.logger.Info("no new tweets", "username", author.Username)
			continue
		}

		saved, err := s.saveBatch(ctx, author, fetched, opts.DryRun, stats)
		if err != nil {
			s.logger.Error("save failed", "username", author.Username, "error", err)
			stats.Errors++
			continue
		}
		stats.Saved += saved

		for _, t := range fetched {
			if maxSeenID == "" || len(t.ID) > len(maxSeenID) || (len(t.ID) == len(maxSeenID) && t.ID > maxSeenID) {
				maxSeenID = t.ID
			}
		}
	}

	if !opts.DryRun {
		if err := s.updateSyncState(ctx, stats, maxSeenID); err != nil {
			return stats, fmt.Errorf("update sync state: %w", err)
		}
	}

	stats.Duration = time.Since(startTime)
	s.logger.Info("fetch complete",
		"authors", stats.Authors,
		"fetched", stats.Fetched,
		"saved", stats.Saved,
		"dropped", stats.Dropped,
		"errors", stats.Errors,
		"duration", stats.Duration,
		"dry_run", opts.DryRun,
	)

	return stats, nil
}

// selectAuthors applies the author filter, the configured sample, and the
// CLI limit, in that order.
func (s *IngestService) selectAuthors(authors []domain.Author, opts RunOptions) []domain.Author {
	if opts.Author != "" {
		var filtered []domain.Author
		for _, a := range authors {
			if strings.EqualFold(a.Username, opts.Author) {
				filtered = append(filtered, a)
			}
		}
		return filtered
	}

	if n := s.cfg.SampleLimit; n >= 0 && n < len(authors) {
		shuffled := make([]domain.Author, len(authors))
		copy(shuffled, authors)
		var rng *rand.Rand
		if s.cfg.SampleSeed != nil {
			rng = rand.New(rand.NewSource(*s.cfg.SampleSeed))
		} else {
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		authors = shuffled[:n]
	}

	if opts.Limit > 0 && opts.Limit < len(authors) {
		authors = authors[:opts.Limit]
	}
	return authors
}

// fetchAuthor paginates one author's tweets from the resolved watermark.
// Throttling is absorbed by the governor with the request replayed as-is;
// any other error discards the partial fetch so the watermark cannot
// advance past unsaved tweets.
func (s *IngestService) fetchAuthor(
	ctx context.Context,
	author domain.Author,
	mark ForwardMark,
	endTime time.Time,
	maxPages int,
) ([]domain.Tweet, error) {
	req := xapi.FetchRequest{
		AuthorID:   author.ID,
		Username:   author.Username,
		MaxResults: s.pageSize,
		SinceID:    mark.SinceID,
		StartTime:  mark.StartTime,
		EndTime:    endTime,
	}

	var all []domain.Tweet
	for page := 0; page < maxPages; page++ {
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

// saveBatch sanitizes and commits one author's tweets in one transaction,
// then publishes events for the committed rows.
func (s *IngestService) saveBatch(
	ctx context.Context,
	author domain.Author,
	fetched []domain.Tweet,
	dryRun bool,
	stats *domain.FetchStats,
) (int, error) {
	rows, rowErrs := sanitize.Rows(fetched)
	for _, re := range rowErrs {
		s.logger.Warn("dropped row", "username", author.Username, "error", re.Error())
	}
	stats.Dropped += len(rowErrs)

	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.TweetID
	}
	existing, err := s.tweets.ExistingIDs(ctx, author.ID, ids)
	if err != nil {
		return 0, fmt.Errorf("check existing: %w", err)
	}

	if dryRun {
		s.logger.Info("would save tweets",
			"username", author.Username,
			"count", len(rows),
			"new", len(rows)-len(existing),
			"dry_run", true,
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

	s.logger.Info("saved tweets",
		"username", author.Username,
		"count", len(rows),
		"new", len(rows)-len(existing),
	)

	if s.publisher != nil {
		committed := make(map[string]struct{}, len(rows))
		for _, r := range rows {
			committed[r.TweetID] = struct{}{}
		}
		for i := range fetched {
			if _, ok := committed[fetched[i].ID]; !ok {
				continue
			}
			_, wasStored := existing[fetched[i].ID]
			if err := s.publisher.PublishTweet(ctx, &fetched[i], !wasStored); err != nil {
				s.logger.Warn("publish failed", "tweet_id", fetched[i].ID, "error", err)
			}
		}
	}

	return len(rows), nil
}

func (s *IngestService) updateSyncState(ctx context.Context, stats *domain.FetchStats, maxSeenID string) error {
	state, err := s.syncState.Get(ctx, ingestJob)
	if err != nil {
		return err
	}

	state.LastSyncedAt = time.Now().UTC()
	state.TotalSynced += int64(stats.Saved)
	if maxSeenID != "" {
		state.LastTweetID = maxSeenID
	}
	return s.syncState.Update(ctx, state)
}
