package scraper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sqlc-dev/pqtype"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
)

// listingPageMax is the most posts one listing page can return.
const listingPageMax = 100

// scrapeSubredditPosts collects listings for every configured sort, unions
// them by post ID, and upserts the batch in one statement. The returned
// count is how many posts were written.
func (w *Worker) scrapeSubredditPosts(ctx context.Context, sub string, ec effectiveConfig) (int64, error) {
	timeFilter := ec.topTimeFilter
	if w.isFirstRun(ctx, sub) {
		timeFilter = ec.initialTopTimeFilter
		w.log.InfoContext(ctx, "🧮 first run, using wider top window", "subreddit", sub, "t", timeFilter)
	}

	seen := make(map[string]struct{})
	var batch []db.UpsertPostParams

	for _, sort := range ec.sortingMethods {
		target := ec.sortLimit(sort)
		after := ""
		fetched := 0
		for fetched < target {
			pageLimit := target - fetched
			if pageLimit > listingPageMax {
				pageLimit = listingPageMax
			}
			page, err := w.fetchListing(ctx, w.listingURL(sub, sort, pageLimit, after, timeFilter))
			if err != nil {
				return 0, fmt.Errorf("fetch r/%s %s: %w", sub, sort, err)
			}
			if len(page.Data.Children) == 0 {
				break
			}
			for _, child := range page.Data.Children {
				if child.Kind != "t3" || child.Data.ID == "" {
					continue
				}
				if _, dup := seen[child.Data.ID]; dup {
					continue
				}
				seen[child.Data.ID] = struct{}{}
				batch = append(batch, postParams(child.Data, sub))
			}
			fetched += len(page.Data.Children)
			if page.Data.After == "" {
				break
			}
			after = page.Data.After
		}
		w.log.DebugContext(ctx, "📥 fetched listing", "subreddit", sub, "sort", sort, "posts", fetched)
	}

	if len(batch) == 0 {
		w.log.InfoContext(ctx, "no posts returned", "subreddit", sub)
		w.maybeRefreshMetadata(ctx, sub)
		return 0, nil
	}

	res, err := w.q.UpsertPosts(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("upsert posts for r/%s: %w", sub, err)
	}
	metrics.PostsUpserted.Add(float64(res.Inserted + res.Updated))
	w.markPostsSeen(sub)
	w.log.InfoContext(ctx, "📥 posts stored",
		"subreddit", sub, "new", res.Inserted, "updated", res.Updated)

	w.maybeRefreshMetadata(ctx, sub)
	return res.Inserted + res.Updated, nil
}

// postParams maps a remote submission onto an upsert row. The subreddit
// comes from the rotation, not the payload, so crossposts can't smuggle a
// foreign name into the store.
func postParams(p RemotePost, sub string) db.UpsertPostParams {
	params := db.UpsertPostParams{
		PostID:      p.ID,
		Subreddit:   sub,
		Title:       p.Title,
		Author:      p.Author,
		Score:       int32(p.Score),
		NumComments: int32(p.NumComments),
		IsSelf:      p.IsSelf,
		CreatedUTC:  p.CreatedAt(),
	}
	if p.URL != "" {
		params.URL = sql.NullString{String: p.URL, Valid: true}
	}
	if p.Selftext != "" {
		params.Selftext = sql.NullString{String: p.Selftext, Valid: true}
	}
	if p.Permalink != "" {
		params.Permalink = sql.NullString{String: p.Permalink, Valid: true}
	}
	if p.LinkFlairText != "" {
		params.Flair = sql.NullString{String: p.LinkFlairText, Valid: true}
	}
	return params
}

// isFirstRun reports whether the store has no posts for the subreddit yet.
// Once posts exist the answer is cached and the transition is one-way, so
// a later deletion can't flip a subreddit back to the wide window.
func (w *Worker) isFirstRun(ctx context.Context, sub string) bool {
	key := "posts_seen:" + sub
	if _, ok := w.seen.Get(key); ok {
		return false
	}
	n, err := w.q.PostsCount(ctx, sub)
	if err != nil {
		w.log.Warn("posts count failed, assuming regular window", "subreddit", sub, "error", err)
		return false
	}
	if n > 0 {
		w.markPostsSeen(sub)
		return false
	}
	return true
}

func (w *Worker) markPostsSeen(sub string) {
	w.seen.Set("posts_seen:"+sub, []byte("1"), 0)
}

// maybeRefreshMetadata re-fetches the subreddit's about document when the
// stored copy is older than the configured max age. Failures are logged
// and swallowed; metadata never blocks a scrape.
func (w *Worker) maybeRefreshMetadata(ctx context.Context, sub string) {
	key := "meta_fresh:" + sub
	if _, ok := w.seen.Get(key); ok {
		return
	}
	m, err := w.q.GetSubredditMetadata(ctx, sub)
	if err == nil {
		if age := time.Since(m.LastUpdated); age < w.cfg.MetadataMaxAge {
			w.seen.Set(key, []byte("1"), w.cfg.MetadataMaxAge-age)
			return
		}
	} else if !errors.Is(err, db.ErrNotFound) {
		w.log.Warn("read subreddit metadata failed", "subreddit", sub, "error", err)
		return
	}

	a, err := w.fetchAbout(ctx, sub)
	if err != nil {
		w.log.Warn("fetch about failed", "subreddit", sub, "error", err)
		return
	}
	p := db.UpsertSubredditMetadataParams{
		SubredditName: sub,
		Subscribers:   int32(a.Data.Subscribers),
		Over18:        a.Data.Over18,
	}
	if a.Data.Title != "" {
		p.Title = sql.NullString{String: a.Data.Title, Valid: true}
	}
	if a.Data.Description != "" {
		p.Description = sql.NullString{String: a.Data.Description, Valid: true}
	}
	if len(a.raw) > 0 {
		p.Attributes = pqtype.NullRawMessage{RawMessage: a.raw, Valid: true}
	}
	if err := w.q.UpsertSubredditMetadata(ctx, p); err != nil {
		w.log.Warn("store subreddit metadata failed", "subreddit", sub, "error", err)
		return
	}
	w.seen.Set(key, []byte("1"), w.cfg.MetadataMaxAge)
	w.log.InfoContext(ctx, "✓ refreshed subreddit metadata",
		"subreddit", sub, "subscribers", a.Data.Subscribers)
}
