package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// ingestLockKey is the advisory-lock key guarding ingestion runs. The
// watermark read-then-write sequence for an author is not safe under two
// concurrent run instances, so a run that cannot take the lock must exit
// instead of proceeding.
const ingestLockKey = 0x784d494e // "xMIN"

// TryRunLock attempts to take the session-level ingest advisory lock.
// Returns false when another run holds it.
func TryRunLock(ctx context.Context, db *sqlx.DB) (bool, error) {
	var ok bool
	err := db.GetContext(ctx, &ok, "SELECT pg_try_advisory_lock($1)", ingestLockKey)
	return ok, err
}

// ReleaseRunLock releases the ingest advisory lock.
func ReleaseRunLock(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", ingestLockKey)
	return err
}
