package xapi

import (
	"strconv"
	"time"

	"xminer/internal/domain"
)

// normalizeOfficial maps an official-API tweet onto the canonical record.
// retrievedAt is the only field not copied from the response.
func normalizeOfficial(t officialTweet, authorID int64, username string, retrievedAt time.Time) domain.Tweet {
	out := domain.Tweet{
		ID:                t.ID,
		AuthorID:          authorID,
		Username:          username,
		CreatedAt:         t.CreatedAt,
		Text:              t.Text,
		Lang:              t.Lang,
		ConversationID:    t.ConversationID,
		PossiblySensitive: t.PossiblySensitive,
		Source:            t.Source,
		Entities:          t.Entities,
		RetrievedAt:       retrievedAt,
	}

	if t.InReplyToUserID != "" {
		if v, err := strconv.ParseInt(t.InReplyToUserID, 10, 64); err == nil {
			out.InReplyToUserID = &v
		}
	}

	if m := t.PublicMetrics; m != nil {
		out.LikeCount = m.LikeCount
		out.ReplyCount = m.ReplyCount
		out.RetweetCount = m.RetweetCount
		out.QuoteCount = m.QuoteCount
		out.BookmarkCount = m.BookmarkCount
		out.ImpressionCount = m.ImpressionCount
	}

	for _, r := range t.ReferencedTweets {
		if r.ID == "" {
			continue
		}
		out.ReferencedTweets = append(out.ReferencedTweets, domain.TweetRef{
			ID:   r.ID,
			Kind: domain.RefKind(r.Type),
		})
	}

	return out
}

// normalizeProxy maps a twitterapi.io tweet onto the canonical record. The
// proxy expresses references as retweeted/quoted/reply marker fields
// instead of a typed list, and nests no public_metrics object.
func normalizeProxy(t proxyTweet, authorID int64, username string, retrievedAt time.Time) domain.Tweet {
	out := domain.Tweet{
		ID:                t.ID,
		AuthorID:          authorID,
		Username:          username,
		Text:              t.Text,
		Lang:              t.Lang,
		ConversationID:    t.ConversationID,
		PossiblySensitive: t.PossiblySensitive,
		Source:            t.Source,
		Entities:          t.Entities,
		LikeCount:         t.LikeCount,
		ReplyCount:        t.ReplyCount,
		RetweetCount:      t.RetweetCount,
		QuoteCount:        t.QuoteCount,
		BookmarkCount:     t.BookmarkCount,
		ImpressionCount:   t.ViewCount,
		RetrievedAt:       retrievedAt,
	}

	if ts, ok := parseProxyCreatedAt(t.CreatedAt); ok {
		out.CreatedAt = ts
	}

	if s := t.InReplyToUserID.String(); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			out.InReplyToUserID = &v
		}
	}

	if t.RetweetedTweet != nil && t.RetweetedTweet.ID != "" {
		out.ReferencedTweets = append(out.ReferencedTweets, domain.TweetRef{
			ID: t.RetweetedTweet.ID, Kind: domain.RefRetweeted,
		})
	}
	if t.QuotedTweet != nil && t.QuotedTweet.ID != "" {
		out.ReferencedTweets = append(out.ReferencedTweets, domain.TweetRef{
			ID: t.QuotedTweet.ID, Kind: domain.RefQuoted,
		})
	}
	if t.IsReply && t.InReplyToID != "" {
		out.ReferencedTweets = append(out.ReferencedTweets, domain.TweetRef{
			ID: t.InReplyToID, Kind: domain.RefRepliedTo,
		})
	}

	return out
}
