package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const commentColumns = `comment_id, post_id, parent_id, parent_type, subreddit, author, body,
	score, depth, is_submitter, distinguished, stickied, edited, controversiality, gilded,
	created_utc, scraped_at`

func scanComment(row interface{ Scan(...interface{}) error }) (Comment, error) {
	var c Comment
	err := row.Scan(
		&c.CommentID, &c.PostID, &c.ParentID, &c.ParentType, &c.Subreddit, &c.Author,
		&c.Body, &c.Score, &c.Depth, &c.IsSubmitter, &c.Distinguished, &c.Stickied,
		&c.Edited, &c.Controversiality, &c.Gilded, &c.CreatedUTC, &c.ScrapedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

// InsertCommentParams is one comment in a batch write.
type InsertCommentParams struct {
	CommentID        string
	PostID           string
	ParentID         sql.NullString
	ParentType       string
	Subreddit        string
	Author           string
	Body             string
	Score            int32
	Depth            int32
	IsSubmitter      bool
	Distinguished    sql.NullString
	Stickied         bool
	Edited           bool
	Controversiality int32
	Gilded           int32
	CreatedUTC       time.Time
}

// InsertComments writes a batch of comments in one statement. Stored comments
// are immutable, so conflicts are skipped rather than updated. Returns the
// number of rows actually inserted.
func (q *Queries) InsertComments(ctx context.Context, comments []InsertCommentParams) (int64, error) {
	if len(comments) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO comments (comment_id, post_id, parent_id, parent_type, subreddit,
		author, body, score, depth, is_submitter, distinguished, stickied, edited,
		controversiality, gilded, created_utc) VALUES `)
	args := make([]interface{}, 0, len(comments)*16)
	for i, c := range comments {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 16
		sb.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
			base+9, base+10, base+11, base+12, base+13, base+14, base+15, base+16))
		args = append(args,
			c.CommentID, c.PostID, c.ParentID, c.ParentType, c.Subreddit,
			c.Author, c.Body, c.Score, c.Depth, c.IsSubmitter, c.Distinguished,
			c.Stickied, c.Edited, c.Controversiality, c.Gilded, c.CreatedUTC,
		)
	}
	sb.WriteString(` ON CONFLICT (comment_id) DO NOTHING`)

	res, err := q.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExistingCommentIDs filters the given IDs down to those already stored.
func (q *Queries) ExistingCommentIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if len(ids) == 0 {
		return map[string]struct{}{}, nil
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT comment_id FROM comments WHERE comment_id = ANY($1::text[])`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// VerifyCommentsPresent counts stored comments for a post with a direct read.
// Callers use this to confirm a write landed before marking the post done, so
// the count must come from the database itself, never from a cache.
func (q *Queries) VerifyCommentsPresent(ctx context.Context, postID string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments WHERE post_id = $1`, postID).Scan(&n)
	return n, err
}

// ListCommentsForPost returns a post's stored comments in thread order.
func (q *Queries) ListCommentsForPost(ctx context.Context, postID string, limit, offset int32) ([]Comment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments WHERE post_id = $1
		ORDER BY created_utc ASC LIMIT $2 OFFSET $3`,
		postID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
