package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sqlc-dev/pqtype"
)

const metadataColumns = `subreddit_name, title, description, subscribers, over18,
	attributes, embedding_status, created_at, last_updated`

func scanMetadata(row interface{ Scan(...interface{}) error }) (SubredditMetadata, error) {
	var m SubredditMetadata
	err := row.Scan(
		&m.SubredditName, &m.Title, &m.Description, &m.Subscribers, &m.Over18,
		&m.Attributes, &m.EmbeddingStatus, &m.CreatedAt, &m.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

// UpsertSubredditMetadataParams carries a refreshed about-page snapshot.
type UpsertSubredditMetadataParams struct {
	SubredditName string
	Title         sql.NullString
	Description   sql.NullString
	Subscribers   int32
	Over18        bool
	Attributes    pqtype.NullRawMessage
}

// UpsertSubredditMetadata writes an about-page snapshot. embedding_status is
// owned by downstream consumers and is never touched on conflict.
func (q *Queries) UpsertSubredditMetadata(ctx context.Context, p UpsertSubredditMetadataParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO subreddit_metadata (subreddit_name, title, description, subscribers, over18, attributes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subreddit_name) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			subscribers = EXCLUDED.subscribers,
			over18 = EXCLUDED.over18,
			attributes = EXCLUDED.attributes,
			last_updated = now()`,
		p.SubredditName, p.Title, p.Description, p.Subscribers, p.Over18, p.Attributes,
	)
	return err
}

// GetSubredditMetadata fetches one subreddit's stored about snapshot. Workers
// compare LastUpdated against the refresh window before re-fetching.
func (q *Queries) GetSubredditMetadata(ctx context.Context, subredditName string) (SubredditMetadata, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+metadataColumns+` FROM subreddit_metadata WHERE subreddit_name = $1`, subredditName)
	return scanMetadata(row)
}

// ListSubredditMetadata returns all stored snapshots for the read API.
func (q *Queries) ListSubredditMetadata(ctx context.Context) ([]SubredditMetadata, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+metadataColumns+` FROM subreddit_metadata ORDER BY subreddit_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubredditMetadata
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
