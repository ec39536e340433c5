package scraper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
	"github.com/onnwee/reddit-scraper-fleet/internal/redditapi"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

const (
	// moreChildrenMax is Reddit's cap on ids per morechildren call.
	moreChildrenMax = 100
	// maxRateWaitsPerPost bounds how often a single post may loop on quota
	// pushback before we give up on it for this cycle.
	maxRateWaitsPerPost = 5
)

// retryDelay backs off 2s, 4s, 8s for comment fetch attempts.
func retryDelay(attempt int) time.Duration {
	return 2 * time.Second << (attempt - 1)
}

// scrapeSubredditComments processes one batch of posts due for comment
// scraping, hottest tier first. Failures on one post never block the rest
// of the batch. Returns how many new comments were stored.
func (w *Worker) scrapeSubredditComments(ctx context.Context, sub string, ec effectiveConfig) (int64, error) {
	posts, err := w.q.SelectPostsForCommentScrape(ctx, sub, int32(ec.commentBatch))
	if err != nil {
		return 0, fmt.Errorf("select posts for r/%s: %w", sub, err)
	}
	if len(posts) == 0 {
		w.log.DebugContext(ctx, "no posts due for comments", "subreddit", sub)
		return 0, nil
	}
	w.log.InfoContext(ctx, "💬 scraping comments", "subreddit", sub, "posts", len(posts))

	var total int64
	for _, post := range posts {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := w.scrapePostComments(ctx, post, ec)
		total += n
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			w.log.Error("❌ comment scrape failed", "post_id", post.PostID, "error", err)
		}
		if err := sleepCtx(ctx, w.cfg.PostPause); err != nil {
			return total, err
		}
	}

	w.maybeRefreshMetadata(ctx, sub)
	return total, nil
}

// scrapePostComments fetches and stores one post's comments with retries.
// Quota pushback waits for the window to reset without consuming an
// attempt; permanent upstream errors abandon the post until the tier query
// offers it again.
func (w *Worker) scrapePostComments(ctx context.Context, post db.Post, ec effectiveConfig) (int64, error) {
	attempt := 0
	rateWaits := 0
	for {
		n, err := w.fetchAndStoreComments(ctx, post, ec)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return n, err
		}

		var apiErr *redditapi.APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.Type == redditapi.ErrorRateLimited && rateWaits < maxRateWaitsPerPost:
				rateWaits++
				w.log.Warn("⚠️ rate limited mid-post, waiting for reset",
					"post_id", post.PostID, "waits", rateWaits)
				// The oracle blocks the next attempt until the window
				// resets. Without observed headers there is nothing to
				// wait on, so pad with the guard instead.
				if !w.oracle.Snapshot().Observed {
					if serr := sleepCtx(ctx, w.cfg.RateLimitGuard); serr != nil {
						return n, serr
					}
				}
				continue
			case redditapi.IsGone(apiErr):
				// The post or its subreddit is gone. There are no comments
				// to fetch, so completion is vacuous.
				if merr := w.q.MarkPostCommentsScraped(ctx, post.PostID); merr != nil {
					return n, fmt.Errorf("mark gone post: %w", merr)
				}
				w.log.Info("post gone, marked scraped",
					"post_id", post.PostID, "status", apiErr.StatusCode)
				return n, nil
			case redditapi.IsPermanent(apiErr):
				w.recordCommentError(ctx, post, err, attempt)
				return n, err
			}
		}

		attempt++
		if attempt >= ec.maxRetries {
			w.recordCommentError(ctx, post, err, attempt)
			return n, err
		}
		delay := retryDelay(attempt)
		w.log.Warn("⚠️ comment fetch failed, retrying",
			"post_id", post.PostID, "attempt", attempt, "delay", delay, "error", err)
		if serr := sleepCtx(ctx, delay); serr != nil {
			return n, serr
		}
	}
}

// fetchAndStoreComments is one attempt: fetch the tree, flatten it to the
// depth cap, insert what's new, then verify against the store before
// marking the post scraped.
func (w *Worker) fetchAndStoreComments(ctx context.Context, post db.Post, ec effectiveConfig) (int64, error) {
	children, err := w.fetchCommentThread(ctx, post.PostID, listingPageMax, ec.maxCommentDepth+1)
	if err != nil {
		return 0, err
	}
	comments, mores := parseCommentTree(children, 0, ec.maxCommentDepth)
	if ec.moreCommentsLimit > 0 && len(mores) > 0 {
		comments = append(comments, w.expandMoreComments(ctx, post.PostID, comments, mores, ec)...)
	}

	if len(comments) == 0 {
		// An empty tree is a complete tree.
		if err := w.q.MarkPostCommentsScraped(ctx, post.PostID); err != nil {
			return 0, fmt.Errorf("mark empty post: %w", err)
		}
		w.log.DebugContext(ctx, "no comments on post", "post_id", post.PostID)
		return 0, nil
	}

	ids := make([]string, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
	}
	existing, err := w.q.ExistingCommentIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("existing comment ids: %w", err)
	}

	rows := make([]db.InsertCommentParams, 0, len(comments))
	for _, c := range comments {
		if _, ok := existing[c.ID]; ok {
			continue
		}
		rows = append(rows, commentParams(c, post))
	}

	var inserted int64
	if len(rows) > 0 {
		inserted, err = w.q.InsertComments(ctx, rows)
		if err != nil {
			return 0, fmt.Errorf("insert comments: %w", err)
		}
		metrics.CommentsInserted.Add(float64(inserted))
	}

	if ec.verifyBeforeMarking {
		count, err := w.q.VerifyCommentsPresent(ctx, post.PostID)
		if err != nil {
			return inserted, fmt.Errorf("verify comments: %w", err)
		}
		if count == 0 {
			// Fetched comments that the store cannot see. Leave the flags
			// alone so the next tier pass tries again.
			metrics.VerificationFailures.Inc()
			w.recordVerificationFailure(ctx, post, len(comments))
			return inserted, nil
		}
	}

	if err := w.q.MarkPostCommentsScraped(ctx, post.PostID); err != nil {
		return inserted, fmt.Errorf("mark post scraped: %w", err)
	}
	if _, err := w.q.ResolveErrorsForPost(ctx, post.PostID); err != nil {
		w.log.Warn("resolve post errors failed", "post_id", post.PostID, "error", err)
	}
	w.log.InfoContext(ctx, "💬 comments stored",
		"post_id", post.PostID, "new", inserted, "seen", len(comments))
	return inserted, nil
}

// expandMoreComments resolves up to the configured number of "more"
// placeholders through /api/morechildren. The flat children come back in
// tree order, so parent depths resolve in one pass. Expansion failures
// degrade to skipping the placeholder.
func (w *Worker) expandMoreComments(ctx context.Context, postID string, tree []RemoteComment, mores []moreNode, ec effectiveConfig) []RemoteComment {
	depthOf := make(map[string]int, len(tree))
	for _, c := range tree {
		depthOf[c.ID] = c.Depth
	}

	var out []RemoteComment
	budget := ec.moreCommentsLimit
	for _, m := range mores {
		if budget == 0 {
			break
		}
		if m.Depth > ec.maxCommentDepth || len(m.Children) == 0 {
			continue
		}
		budget--

		ids := m.Children
		if len(ids) > moreChildrenMax {
			ids = ids[:moreChildrenMax]
		}
		things, err := w.fetchMoreChildren(ctx, postID, ids)
		if err != nil {
			w.log.Warn("expand more comments failed", "post_id", postID, "error", err)
			continue
		}
		nested, _ := parseCommentTree(things, m.Depth, ec.maxCommentDepth)
		for _, c := range nested {
			if strings.HasPrefix(c.ParentID, "t1_") {
				if d, ok := depthOf[utils.StripPrefix(c.ParentID)]; ok {
					c.Depth = d + 1
				}
			}
			if c.Depth > ec.maxCommentDepth {
				continue
			}
			depthOf[c.ID] = c.Depth
			out = append(out, c)
		}
	}
	return out
}

// commentParams maps a flattened comment onto an insert row. Parent ids
// keep their kind prefix on the wire; the store holds the bare id plus a
// parent_type discriminator.
func commentParams(c RemoteComment, post db.Post) db.InsertCommentParams {
	p := db.InsertCommentParams{
		CommentID:        c.ID,
		PostID:           post.PostID,
		ParentType:       "post",
		Subreddit:        post.Subreddit,
		Author:           c.Author,
		Body:             c.Body,
		Score:            int32(c.Score),
		Depth:            int32(c.Depth),
		IsSubmitter:      c.IsSubmitter,
		Stickied:         c.Stickied,
		Edited:           c.Edited,
		Controversiality: int32(c.Controversiality),
		Gilded:           int32(c.Gilded),
		CreatedUTC:       c.CreatedAt,
	}
	if strings.HasPrefix(c.ParentID, "t1_") {
		p.ParentType = "comment"
	}
	if c.ParentID != "" {
		p.ParentID = sql.NullString{String: utils.StripPrefix(c.ParentID), Valid: true}
	}
	if c.Distinguished != "" {
		p.Distinguished = sql.NullString{String: c.Distinguished, Valid: true}
	}
	return p
}

func (w *Worker) recordCommentError(ctx context.Context, post db.Post, err error, retries int) {
	if dbErr := w.q.InsertScrapeError(ctx, db.InsertScrapeErrorParams{
		Subreddit:    post.Subreddit,
		PostID:       sql.NullString{String: post.PostID, Valid: true},
		ErrorType:    db.ErrorTypeCommentScrape,
		ErrorMessage: utils.TruncateString(err.Error(), 2000),
		RetryCount:   int32(retries),
	}); dbErr != nil {
		w.log.Warn("record comment error failed", "error", dbErr)
	}
}

func (w *Worker) recordVerificationFailure(ctx context.Context, post db.Post, fetched int) {
	msg := fmt.Sprintf("fetched %d comments but store count is zero", fetched)
	if dbErr := w.q.InsertScrapeError(ctx, db.InsertScrapeErrorParams{
		Subreddit:    post.Subreddit,
		PostID:       sql.NullString{String: post.PostID, Valid: true},
		ErrorType:    db.ErrorTypeVerification,
		ErrorMessage: msg,
	}); dbErr != nil {
		w.log.Warn("record verification failure failed", "error", dbErr)
	}
	w.log.Error("⚠️ comment verification failed", "post_id", post.PostID, "fetched", fetched)
}
