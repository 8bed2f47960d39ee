package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"xminer/internal/domain"
)

type TrendStore struct {
	db *sqlx.DB
}

func NewTrendStore(db *sqlx.DB) *TrendStore {
	return &TrendStore{db: db}
}

// UpsertSnapshots writes one poll's trend rows in a single multi-row
// statement. The (woeid, retrieved_at, trend_name) key makes repeated
// polls accumulate a time series; re-running the same poll only refreshes
// the volume estimate.
func (s *TrendStore) UpsertSnapshots(ctx context.Context, snaps []domain.TrendSnapshot) (int64, error) {
	if len(snaps) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO x_trends
		(woeid, place_name, trend_name, tweet_count, rank, retrieved_at, source_version) VALUES `)
	args := make([]interface{}, 0, len(snaps)*7)

	for i, t := range snaps {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < 7; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(i*7 + j + 1))
		}
		sb.WriteString(")")
		args = append(args, t.WOEID, t.PlaceName, t.Name, t.TweetCount, t.Rank, t.RetrievedAt, t.SourceVersion)
	}
	sb.WriteString(` ON CONFLICT (woeid, retrieved_at, trend_name) DO UPDATE SET
		tweet_count = EXCLUDED.tweet_count,
		source_version = EXCLUDED.source_version`)

	exec := GetExecutor(ctx, s.db)
	res, err := exec.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
