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

const postColumns = `post_id, subreddit, title, author, url, selftext, score, num_comments,
	permalink, flair, is_self, created_utc, scraped_at, updated_at,
	comments_scraped, initial_comments_scraped, last_comment_fetch_time, comments_scraped_at`

func scanPost(row interface{ Scan(...interface{}) error }) (Post, error) {
	var p Post
	err := row.Scan(
		&p.PostID, &p.Subreddit, &p.Title, &p.Author, &p.URL, &p.Selftext,
		&p.Score, &p.NumComments, &p.Permalink, &p.Flair, &p.IsSelf,
		&p.CreatedUTC, &p.ScrapedAt, &p.UpdatedAt,
		&p.CommentsScraped, &p.InitialCommentsScraped, &p.LastCommentFetchTime, &p.CommentsScrapedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

// UpsertPostParams is one post in a batch write.
type UpsertPostParams struct {
	PostID      string
	Subreddit   string
	Title       string
	Author      string
	URL         sql.NullString
	Selftext    sql.NullString
	Score       int32
	NumComments int32
	Permalink   sql.NullString
	Flair       sql.NullString
	IsSelf      bool
	CreatedUTC  time.Time
}

// UpsertResult reports how a batch write landed.
type UpsertResult struct {
	Inserted int64
	Updated  int64
}

// UpsertPosts writes a batch of posts in one statement. Conflicts update
// content columns only; comments_scraped, initial_comments_scraped and the
// comment fetch timestamps survive every re-scrape, and scraped_at keeps the
// first-seen time.
func (q *Queries) UpsertPosts(ctx context.Context, posts []UpsertPostParams) (UpsertResult, error) {
	if len(posts) == 0 {
		return UpsertResult{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO posts (post_id, subreddit, title, author, url, selftext,
		score, num_comments, permalink, flair, is_self, created_utc) VALUES `)
	args := make([]interface{}, 0, len(posts)*12)
	for i, p := range posts {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 12
		sb.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11, base+12))
		args = append(args,
			p.PostID, p.Subreddit, p.Title, p.Author, p.URL, p.Selftext,
			p.Score, p.NumComments, p.Permalink, p.Flair, p.IsSelf, p.CreatedUTC,
		)
	}
	sb.WriteString(`
		ON CONFLICT (post_id) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			url = EXCLUDED.url,
			selftext = EXCLUDED.selftext,
			score = EXCLUDED.score,
			num_comments = EXCLUDED.num_comments,
			permalink = EXCLUDED.permalink,
			flair = EXCLUDED.flair,
			is_self = EXCLUDED.is_self,
			updated_at = now()
		RETURNING (xmax = 0) AS inserted`)

	rows, err := q.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return UpsertResult{}, err
	}
	defer rows.Close()

	var res UpsertResult
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return res, err
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	return res, rows.Err()
}

// GetPost fetches one post.
func (q *Queries) GetPost(ctx context.Context, postID string) (Post, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE post_id = $1`, postID)
	return scanPost(row)
}

// PostsCount counts stored posts for one subreddit. A zero count marks the
// subreddit as a first run, which widens the top listing's time filter.
func (q *Queries) PostsCount(ctx context.Context, subreddit string) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE subreddit = $1`, subreddit).Scan(&n)
	return n, err
}

// SelectPostsForCommentScrape picks the next comment batch for a subreddit.
// Posts that never had comments fetched go first, then recheck tiers by
// activity: over 100 comments after 2 hours, 20 to 100 after 6 hours, under
// 20 after 24 hours. Within the eligible set, busier and newer posts win.
func (q *Queries) SelectPostsForCommentScrape(ctx context.Context, subreddit string, limit int32) ([]Post, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE subreddit = $1 AND (
			initial_comments_scraped = FALSE
			OR (num_comments > 100 AND (last_comment_fetch_time IS NULL OR last_comment_fetch_time < now() - interval '2 hours'))
			OR (num_comments BETWEEN 20 AND 100 AND (last_comment_fetch_time IS NULL OR last_comment_fetch_time < now() - interval '6 hours'))
			OR (num_comments < 20 AND (last_comment_fetch_time IS NULL OR last_comment_fetch_time < now() - interval '24 hours'))
		)
		ORDER BY initial_comments_scraped ASC, num_comments DESC, created_utc DESC
		LIMIT $2`,
		subreddit, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPostCommentsScraped records a completed comment pass. Both scraped
// flags latch true and the fetch timestamps advance.
func (q *Queries) MarkPostCommentsScraped(ctx context.Context, postID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE posts SET
			comments_scraped = TRUE,
			initial_comments_scraped = TRUE,
			comments_scraped_at = now(),
			last_comment_fetch_time = now(),
			updated_at = now()
		WHERE post_id = $1`, postID)
	return err
}

// ResetPostCommentFlags clears the comment tracking fields for the given
// posts so the next comment pass picks them up again. Only integrity tooling
// un-marks posts; the scrape path never does. Returns the number of posts
// reset.
func (q *Queries) ResetPostCommentFlags(ctx context.Context, postIDs []string) (int64, error) {
	if len(postIDs) == 0 {
		return 0, nil
	}
	res, err := q.db.ExecContext(ctx, `
		UPDATE posts SET
			comments_scraped = FALSE,
			initial_comments_scraped = FALSE,
			comments_scraped_at = NULL,
			last_comment_fetch_time = NULL,
			updated_at = now()
		WHERE post_id = ANY($1::text[])`, pq.Array(postIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListRecentPosts returns the newest stored posts, optionally filtered by
// subreddit, for the read API.
func (q *Queries) ListRecentPosts(ctx context.Context, subreddit string, limit, offset int32) ([]Post, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if subreddit != "" {
		rows, err = q.db.QueryContext(ctx, `
			SELECT `+postColumns+` FROM posts WHERE subreddit = $1
			ORDER BY created_utc DESC LIMIT $2 OFFSET $3`,
			subreddit, limit, offset)
	} else {
		rows, err = q.db.QueryContext(ctx, `
			SELECT `+postColumns+` FROM posts
			ORDER BY created_utc DESC LIMIT $1 OFFSET $2`,
			limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SubredditsWithPosts lists the distinct subreddits present in storage.
func (q *Queries) SubredditsWithPosts(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT DISTINCT subreddit FROM posts ORDER BY subreddit`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
