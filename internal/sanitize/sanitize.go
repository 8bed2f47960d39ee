// Package sanitize is the last-mile guard before any tweet write: it
// coerces normalized tweets into storage-safe rows so a type mismatch can
// never reach the SQL layer. Identifiers stay decimal strings end-to-end
// (an 18-digit id through a float is a correctness bug, and has happened),
// counters are null-preserving, and every timestamp leaves here tz-aware.
package sanitize

import (
	"encoding/json"
	"fmt"
	"time"

	"xminer/internal/domain"
	"xminer/internal/storage/postgres"
)

// RowError describes one rejected row. A bad row is an error signal for
// that row only; the rest of the batch proceeds.
type RowError struct {
	Index   int
	TweetID string
	Reason  string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (tweet_id %q): %s", e.Index, e.TweetID, e.Reason)
}

// Rows converts a batch of normalized tweets into rows acceptable to the
// upsert writer, plus per-row errors for anything dropped.
func Rows(tweets []domain.Tweet) ([]postgres.TweetRow, []RowError) {
	now := time.Now().UTC()

	rows := make([]postgres.TweetRow, 0, len(tweets))
	var errs []RowError
	for i, t := range tweets {
		row, err := Row(t, now)
		if err != nil {
			errs = append(errs, RowError{Index: i, TweetID: t.ID, Reason: err.Error()})
			continue
		}
		rows = append(rows, row)
	}
	return rows, errs
}

// Row sanitizes a single tweet. fallback is the explicit substitute for
// missing timestamps; it is never applied implicitly by the SQL layer.
func Row(t domain.Tweet, fallback time.Time) (postgres.TweetRow, error) {
	if !validID(t.ID) {
		return postgres.TweetRow{}, fmt.Errorf("post id is not a decimal string")
	}
	if t.AuthorID <= 0 {
		return postgres.TweetRow{}, fmt.Errorf("author id %d out of range", t.AuthorID)
	}

	row := postgres.TweetRow{
		TweetID:           t.ID,
		AuthorID:          t.AuthorID,
		Username:          optText(t.Username),
		CreatedAt:         awareOr(t.CreatedAt, fallback),
		Text:              optText(t.Text),
		Lang:              optText(t.Lang),
		PossiblySensitive: t.PossiblySensitive,
		LikeCount:         counter(t.LikeCount),
		ReplyCount:        counter(t.ReplyCount),
		RetweetCount:      counter(t.RetweetCount),
		QuoteCount:        counter(t.QuoteCount),
		BookmarkCount:     counter(t.BookmarkCount),
		ImpressionCount:   counter(t.ImpressionCount),
		Source:            optText(t.Source),
		InReplyToUserID:   t.InReplyToUserID,
		RetrievedAt:       awareOr(t.RetrievedAt, fallback),
	}

	if validID(t.ConversationID) {
		row.ConversationID = optText(t.ConversationID)
	}
	row.Entities = jsonText(t.Entities)
	row.ReferencedTweets = refsText(t.ReferencedTweets)

	return row, nil
}

// validID accepts non-empty all-digit strings, the only shape a post or
// conversation id may take.
func validID(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// counter is the parse-or-null coercion: absent stays null, and a value
// outside the counter domain becomes null rather than a raised error or a
// silent zero.
func counter(v *int64) *int64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}

func optText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// awareOr forces a timestamp to UTC, substituting fallback for the zero
// time.
func awareOr(t time.Time, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback.UTC()
	}
	return t.UTC()
}

// jsonText passes through valid JSON as text and nulls anything else; a
// malformed entities blob must not abort the row.
func jsonText(raw json.RawMessage) *string {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	s := string(raw)
	if s == "null" || s == `""` {
		return nil
	}
	return &s
}

func refsText(refs []domain.TweetRef) *string {
	if len(refs) == 0 {
		return nil
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}
