package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"xminer/internal/domain"
)

// TweetRow is the storage-safe shape of one tweet, produced by the row
// sanitizer. Identifier columns are decimal strings or int64; JSON columns
// carry pre-encoded text; nil pointers bind as SQL NULL.
type TweetRow struct {
	TweetID           string    `db:"tweet_id"`
	AuthorID          int64     `db:"author_id"`
	Username          *string   `db:"username"`
	CreatedAt         time.Time `db:"created_at"`
	Text              *string   `db:"text"`
	Lang              *string   `db:"lang"`
	ConversationID    *string   `db:"conversation_id"`
	InReplyToUserID   *int64    `db:"in_reply_to_user_id"`
	PossiblySensitive *bool     `db:"possibly_sensitive"`
	LikeCount         *int64    `db:"like_count"`
	ReplyCount        *int64    `db:"reply_count"`
	RetweetCount      *int64    `db:"retweet_count"`
	QuoteCount        *int64    `db:"quote_count"`
	BookmarkCount     *int64    `db:"bookmark_count"`
	ImpressionCount   *int64    `db:"impression_count"`
	Source            *string   `db:"source"`
	Entities          *string   `db:"entities"`
	ReferencedTweets  *string   `db:"referenced_tweets"`
	RetrievedAt       time.Time `db:"retrieved_at"`
}

// upsertTweetQuery is the single write path for tweets. Content columns
// are append-once: on conflict only the engagement counters, source, the
// JSON metadata and retrieved_at are refreshed.
const upsertTweetQuery = `
	INSERT INTO tweets (
		tweet_id, author_id, username, created_at, text, lang,
		conversation_id, in_reply_to_user_id, possibly_sensitive,
		like_count, reply_count, retweet_count, quote_count,
		bookmark_count, impression_count,
		source, entities, referenced_tweets, retrieved_at
	) VALUES (
		:tweet_id, :author_id, :username, :created_at, :text, :lang,
		:conversation_id, :in_reply_to_user_id, :possibly_sensitive,
		:like_count, :reply_count, :retweet_count, :quote_count,
		:bookmark_count, :impression_count,
		:source, :entities, :referenced_tweets, :retrieved_at
	)
	ON CONFLICT (tweet_id) DO UPDATE SET
		like_count        = EXCLUDED.like_count,
		reply_count       = EXCLUDED.reply_count,
		retweet_count     = EXCLUDED.retweet_count,
		quote_count       = EXCLUDED.quote_count,
		bookmark_count    = EXCLUDED.bookmark_count,
		impression_count  = EXCLUDED.impression_count,
		source            = EXCLUDED.source,
		entities          = EXCLUDED.entities,
		referenced_tweets = EXCLUDED.referenced_tweets,
		retrieved_at      = EXCLUDED.retrieved_at`

type TweetStore struct {
	db *sqlx.DB
}

func NewTweetStore(db *sqlx.DB) *TweetStore {
	return &TweetStore{db: db}
}

// Upsert writes a batch of rows inside one transaction and returns the
// number of rows affected. An empty batch is a no-op.
func (s *TweetStore) Upsert(ctx context.Context, rows []TweetRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	exec := GetExecutor(ctx, s.db)
	var total int64
	run := func(e sqlx.ExtContext) error {
		for i := range rows {
			res, err := sqlx.NamedExecContext(ctx, e, upsertTweetQuery, &rows[i])
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	}

	// Outside a caller-provided transaction, open one so a mid-batch
	// failure cannot leave a partial write.
	if _, inTx := exec.(*sqlx.Tx); inTx {
		if err := run(exec); err != nil {
			return 0, err
		}
		return total, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	if err := run(tx); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// LatestTweetID returns the maximum stored tweet id for an author, the
// forward watermark. Decimal id strings carry no leading zeros, so
// ordering by length then lexicographically is numeric order without a
// cast. Empty string means the author has no stored tweets.
func (s *TweetStore) LatestTweetID(ctx context.Context, authorID int64) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `
		SELECT tweet_id FROM tweets
		WHERE author_id = $1
		ORDER BY length(tweet_id) DESC, tweet_id DESC
		LIMIT 1`, authorID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// OldestCreatedAt returns the minimum stored creation time for an author,
// the backward backfill boundary. ok is false when the author has no
// stored tweets.
func (s *TweetStore) OldestCreatedAt(ctx context.Context, authorID int64) (time.Time, bool, error) {
	var ts time.Time
	err := s.db.GetContext(ctx, &ts, `
		SELECT min(created_at) FROM tweets WHERE author_id = $1
		HAVING min(created_at) IS NOT NULL`, authorID)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// ExistingIDs returns which of the given tweet ids are already stored for
// an author.
func (s *TweetStore) ExistingIDs(ctx context.Context, authorID int64, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tweet_id FROM tweets
		WHERE author_id = $1 AND tweet_id = ANY($2)`,
		authorID, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// AuthorsByLatest lists every author together with their newest stored
// tweet, busiest authors first. Feeds the fill-gaps candidate scan.
func (s *TweetStore) AuthorsByLatest(ctx context.Context) ([]domain.AuthorExtent, error) {
	var out []domain.AuthorExtent
	err := s.db.SelectContext(ctx, &out, `
		SELECT DISTINCT ON (t.author_id)
		       t.author_id, t.username, t.tweet_id, t.created_at, c.tweet_count
		FROM tweets t
		JOIN (
			SELECT author_id, count(*) AS tweet_count
			FROM tweets GROUP BY author_id
		) c ON c.author_id = t.author_id
		ORDER BY t.author_id, t.created_at DESC, length(t.tweet_id) DESC, t.tweet_id DESC`)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AuthorsByOldest lists every author together with their oldest stored
// tweet. Feeds the historical-backfill candidate scan.
func (s *TweetStore) AuthorsByOldest(ctx context.Context) ([]domain.AuthorExtent, error) {
	var out []domain.AuthorExtent
	err := s.db.SelectContext(ctx, &out, `
		SELECT DISTINCT ON (t.author_id)
		       t.author_id, t.username, t.tweet_id, t.created_at, c.tweet_count
		FROM tweets t
		JOIN (
			SELECT author_id, count(*) AS tweet_count
			FROM tweets GROUP BY author_id
		) c ON c.author_id = t.author_id
		ORDER BY t.author_id, t.created_at ASC, length(t.tweet_id) ASC, t.tweet_id ASC`)
	if err != nil {
		return nil, err
	}
	return out, nil
}
