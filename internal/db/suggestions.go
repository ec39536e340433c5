package db

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

const suggestionColumns = `id, subreddits, source, created_at, synced_at, synced_to_scraper`

func scanSuggestion(row interface{ Scan(...interface{}) error }) (SubredditSuggestion, error) {
	var s SubredditSuggestion
	err := row.Scan(&s.ID, &s.Subreddits, &s.Source, &s.CreatedAt, &s.SyncedAt, &s.SyncedToScraper)
	return s, err
}

// InsertSubredditSuggestion records an externally suggested batch for later
// sync into a running posts scraper.
func (q *Queries) InsertSubredditSuggestion(ctx context.Context, subreddits []string, source sql.NullString) (SubredditSuggestion, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO subreddit_suggestions (subreddits, source)
		VALUES ($1, $2)
		RETURNING `+suggestionColumns,
		pq.Array(subreddits), source)
	return scanSuggestion(row)
}

// ListUnsyncedSuggestions returns batches not yet merged, oldest first.
func (q *Queries) ListUnsyncedSuggestions(ctx context.Context) ([]SubredditSuggestion, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+suggestionColumns+` FROM subreddit_suggestions
		WHERE synced_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubredditSuggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkSuggestionSynced stamps a batch with its merge target.
func (q *Queries) MarkSuggestionSynced(ctx context.Context, id int64, scraperID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE subreddit_suggestions SET synced_at = now(), synced_to_scraper = $2 WHERE id = $1`,
		id, scraperID)
	return err
}
