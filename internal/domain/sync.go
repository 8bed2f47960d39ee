package domain

import "time"

// SyncState is per-job run bookkeeping. It is informational only: fetch
// watermarks are always recomputed from the tweets table, never read from
// here, so a stale row cannot lose tweets.
type SyncState struct {
	ID           int64     `db:"id"`
	Job          string    `db:"job"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	LastTweetID  string    `db:"last_tweet_id"`
	TotalSynced  int64     `db:"total_synced"`
}

// FetchStats holds statistics about one routine ingest run.
type FetchStats struct {
	Authors  int
	Fetched  int
	Saved    int
	Dropped  int
	Errors   int
	Duration time.Duration
}

// GapStats holds statistics about one gap-reconciliation run. With DryRun
// set, Saved counts rows that would have been written.
type GapStats struct {
	Candidates int
	Authors    int
	Fetched    int
	Saved      int
	Errors     int
	DryRun     bool
	Duration   time.Duration
}
