package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"xminer/internal/domain"
)

type SyncStateStore struct {
	db *sqlx.DB
}

func NewSyncStateStore(db *sqlx.DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

// Get returns the bookkeeping row for a job, or an empty state for jobs
// that have never run.
func (s *SyncStateStore) Get(ctx context.Context, job string) (*domain.SyncState, error) {
	var state domain.SyncState
	query := `
		SELECT id, job, last_synced_at, last_tweet_id, total_synced
		FROM sync_state
		WHERE job = $1`

	err := s.db.GetContext(ctx, &state, query, job)
	if err == sql.ErrNoRows {
		return &domain.SyncState{Job: job}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *SyncStateStore) Update(ctx context.Context, state *domain.SyncState) error {
	query := `
		INSERT INTO sync_state (job, last_synced_at, last_tweet_id, total_synced)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			last_tweet_id = EXCLUDED.last_tweet_id,
			total_synced = EXCLUDED.total_synced`

	_, err := s.db.ExecContext(ctx, query,
		state.Job,
		state.LastSyncedAt,
		state.LastTweetID,
		state.TotalSynced,
	)
	return err
}
