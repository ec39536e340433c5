package db

import (
	"context"
	"database/sql"
	"time"
)

const scrapeErrorColumns = `id, subreddit, post_id, error_type, error_message,
	retry_count, resolved, created_at`

func scanScrapeError(row interface{ Scan(...interface{}) error }) (ScrapeError, error) {
	var e ScrapeError
	err := row.Scan(
		&e.ID, &e.Subreddit, &e.PostID, &e.ErrorType, &e.ErrorMessage,
		&e.RetryCount, &e.Resolved, &e.CreatedAt,
	)
	return e, err
}

// InsertScrapeErrorParams is one ledger entry.
type InsertScrapeErrorParams struct {
	Subreddit    string
	PostID       sql.NullString
	ErrorType    string
	ErrorMessage string
	RetryCount   int32
}

// InsertScrapeError appends to the error ledger. Entries are never updated,
// only resolved.
func (q *Queries) InsertScrapeError(ctx context.Context, p InsertScrapeErrorParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO scrape_errors (subreddit, post_id, error_type, error_message, retry_count)
		VALUES ($1, $2, $3, $4, $5)`,
		p.Subreddit, p.PostID, p.ErrorType, p.ErrorMessage, p.RetryCount,
	)
	return err
}

// ListScrapeErrorsParams filters the ledger read.
type ListScrapeErrorsParams struct {
	ErrorType      string
	UnresolvedOnly bool
	Limit          int32
	Offset         int32
}

// ListScrapeErrors reads the ledger newest first.
func (q *Queries) ListScrapeErrors(ctx context.Context, p ListScrapeErrorsParams) ([]ScrapeError, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+scrapeErrorColumns+` FROM scrape_errors
		WHERE ($1 = '' OR error_type = $1)
		  AND (NOT $2 OR resolved = FALSE)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		p.ErrorType, p.UnresolvedOnly, p.Limit, p.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScrapeError
	for rows.Next() {
		e, err := scanScrapeError(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ErrorTypeCount is one group in the unresolved error rollup.
type ErrorTypeCount struct {
	ErrorType string
	Count     int64
}

// CountUnresolvedErrorsByType groups open ledger entries by type.
func (q *Queries) CountUnresolvedErrorsByType(ctx context.Context) ([]ErrorTypeCount, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT error_type, COUNT(*) FROM scrape_errors
		WHERE resolved = FALSE GROUP BY error_type ORDER BY error_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ErrorTypeCount
	for rows.Next() {
		var r ErrorTypeCount
		if err := rows.Scan(&r.ErrorType, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolveErrorsForPost closes open entries for a post once a later pass
// succeeds.
func (q *Queries) ResolveErrorsForPost(ctx context.Context, postID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE scrape_errors SET resolved = TRUE
		WHERE post_id = $1 AND resolved = FALSE`, postID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResolveScrapeError closes one entry by id.
func (q *Queries) ResolveScrapeError(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE scrape_errors SET resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PruneResolvedErrors deletes resolved entries older than the cutoff.
func (q *Queries) PruneResolvedErrors(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM scrape_errors WHERE resolved = TRUE AND created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
