package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"xminer/internal/config"
	"xminer/internal/domain"
)

// ProfileService refreshes account snapshots for the tracked roster.
// Snapshots accumulate; nothing is updated in place.
type ProfileService struct {
	source    Source
	profiles  ProfileStore
	txManager TransactionManager
	governor  Governor
	logger    *slog.Logger
	cfg       config.ProfilesConfig
}

func NewProfileService(
	source Source,
	profiles ProfileStore,
	txManager TransactionManager,
	governor Governor,
	logger *slog.Logger,
	cfg config.ProfilesConfig,
) *ProfileService {
	return &ProfileService{
		source:    source,
		profiles:  profiles,
		txManager: txManager,
		governor:  governor,
		logger:    logger.With("job", "fetch_profiles", "backend", source.Name()),
		cfg:       cfg,
	}
}

// Run fetches a snapshot for every tracked username, in chunks of at most
// 100 (the official batch-lookup cap), and appends them. A chunk that
// fails is logged and skipped; the remaining chunks proceed.
func (s *ProfileService) Run(ctx context.Context, dryRun bool) (int64, error) {
	startTime := time.Now()

	usernames, err := s.profiles.TrackedUsernames(ctx)
	if err != nil {
		return 0, fmt.Errorf("load tracked usernames: %w", err)
	}
	if n := s.cfg.SampleLimit; n >= 0 && n < len(usernames) {
		usernames = usernames[:n]
	}

	chunkSize := s.cfg.ChunkSize
	if chunkSize > 100 {
		chunkSize = 100
	}

	s.logger.Info("fetching profiles",
		"usernames", len(usernames),
		"chunk_size", chunkSize,
		"dry_run", dryRun,
	)

	var snaps []domain.ProfileSnapshot
	for start := 0; start < len(usernames); start += chunkSize {
		end := start + chunkSize
		if end > len(usernames) {
			end = len(usernames)
		}
		chunk := usernames[start:end]

		var fetched []domain.ProfileSnapshot
		err := s.governor.Do(ctx, func() error {
			var err error
			fetched, err = s.source.FetchUsers(ctx, chunk)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			s.logger.Error("chunk failed", "from", chunk[0], "size", len(chunk), "error", err)
			continue
		}

		if missing := missingNames(chunk, fetched); len(missing) > 0 {
			s.logger.Warn("usernames not found or suspended", "usernames", missing)
		}

		snaps = append(snaps, fetched...)
		s.logger.Info("fetched chunk", "size", len(chunk), "total", len(snaps))
	}

	if dryRun {
		s.logger.Info("would store profile snapshots", "count", len(snaps), "dry_run", true)
		return int64(len(snaps)), nil
	}

	var written int64
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		written, err = s.profiles.InsertSnapshots(txCtx, snaps)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert snapshots: %w", err)
	}

	s.logger.Info("profiles stored",
		"fetched", len(snaps),
		"written", written,
		"duration", time.Since(startTime),
	)
	return written, nil
}

func missingNames(requested []string, found []domain.ProfileSnapshot) []string {
	have := make(map[string]struct{}, len(found))
	for _, p := range found {
		have[strings.ToLower(p.Username)] = struct{}{}
	}
	var missing []string
	for _, name := range requested {
		if _, ok := have[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
