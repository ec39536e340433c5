package db

import (
	"context"

	"github.com/lib/pq"
)

// DatabaseStats is the storage-wide rollup behind the status endpoint and
// the metrics refresh loop.
type DatabaseStats struct {
	PostCount            int64
	CommentCount         int64
	ScraperCount         int64
	SubredditCount       int64
	UnresolvedErrorCount int64
}

// GetDatabaseStats gathers table counts in one round trip.
func (q *Queries) GetDatabaseStats(ctx context.Context) (DatabaseStats, error) {
	var s DatabaseStats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM posts),
			(SELECT COUNT(*) FROM comments),
			(SELECT COUNT(*) FROM scrapers),
			(SELECT COUNT(DISTINCT subreddit) FROM posts),
			(SELECT COUNT(*) FROM scrape_errors WHERE resolved = FALSE)`,
	).Scan(&s.PostCount, &s.CommentCount, &s.ScraperCount, &s.SubredditCount, &s.UnresolvedErrorCount)
	return s, err
}

// SubredditWorkStats is one subreddit's share of a scraper's output.
type SubredditWorkStats struct {
	Subreddit       string
	PostCount       int64
	CommentCount    int64
	PendingComments int64
}

// GetSubredditWorkStats reports stored volume and outstanding comment work
// for each of the given subreddits. Subreddits with no posts yet still get a
// zero row.
func (q *Queries) GetSubredditWorkStats(ctx context.Context, subreddits []string) ([]SubredditWorkStats, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT s.name,
			COALESCE(p.post_count, 0),
			COALESCE(c.comment_count, 0),
			COALESCE(p.pending_comments, 0)
		FROM unnest($1::text[]) AS s(name)
		LEFT JOIN (
			SELECT subreddit,
				COUNT(*) AS post_count,
				COUNT(*) FILTER (WHERE initial_comments_scraped = FALSE) AS pending_comments
			FROM posts GROUP BY subreddit
		) p ON p.subreddit = s.name
		LEFT JOIN (
			SELECT subreddit, COUNT(*) AS comment_count
			FROM comments GROUP BY subreddit
		) c ON c.subreddit = s.name
		ORDER BY s.name`,
		pq.Array(subreddits),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubredditWorkStats
	for rows.Next() {
		var r SubredditWorkStats
		if err := rows.Scan(&r.Subreddit, &r.PostCount, &r.CommentCount, &r.PendingComments); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
