package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"xminer/internal/domain"
)

type ProfileStore struct {
	db *sqlx.DB
}

func NewProfileStore(db *sqlx.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// InsertSnapshots appends profile snapshots. The table is append-only:
// one row per retrieval, conflicts on (author_id, retrieved_at) are
// silently skipped, nothing is ever updated in place.
func (s *ProfileStore) InsertSnapshots(ctx context.Context, snaps []domain.ProfileSnapshot) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO x_profiles (
			author_id, username, name, created_at, verified, protected,
			followers_count, following_count, tweet_count, listed_count,
			location, description, retrieved_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (author_id, retrieved_at) DO NOTHING`

	exec := GetExecutor(ctx, s.db)
	var total int64
	for _, p := range snaps {
		res, err := exec.ExecContext(ctx, query,
			p.AuthorID, p.Username, p.Name, p.CreatedAt, p.Verified, p.Protected,
			p.FollowersCount, p.FollowingCount, p.TweetCount, p.ListedCount,
			p.Location, p.Description, p.RetrievedAt,
		)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Roster returns the tracked authors to fetch tweets for: each tracked
// username resolved through its most recent profile snapshot.
func (s *ProfileStore) Roster(ctx context.Context) ([]domain.Author, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (xp.author_id) xp.author_id, xp.username
		FROM x_profiles xp
		JOIN tracked_authors ta ON ta.username = xp.username
		ORDER BY xp.author_id, xp.retrieved_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Author
	for rows.Next() {
		var a domain.Author
		if err := rows.Scan(&a.ID, &a.Username); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TrackedUsernames returns the raw roster usernames, for profile refresh
// runs that have no snapshot yet.
func (s *ProfileStore) TrackedUsernames(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.SelectContext(ctx, &out, `
		SELECT username FROM tracked_authors
		WHERE username IS NOT NULL AND username <> ''
		ORDER BY username`)
	if err != nil {
		return nil, err
	}
	return out, nil
}
