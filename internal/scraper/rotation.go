package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
	"github.com/onnwee/reddit-scraper-fleet/internal/redditapi"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

// rotationItem pairs a subreddit with whether it sat on the pending list
// when the cycle began.
type rotationItem struct {
	subreddit string
	pending   bool
}

// rotationOrder returns the cycle's visit order: pending subreddits first in
// their stored order, then the rest of the queue.
func rotationOrder(s *db.Scraper) []rotationItem {
	pending := make(map[string]bool, len(s.PendingScrape))
	items := make([]rotationItem, 0, len(s.Subreddits))
	for _, sub := range s.PendingScrape {
		pending[sub] = true
		items = append(items, rotationItem{subreddit: sub, pending: true})
	}
	for _, sub := range s.Subreddits {
		if !pending[sub] {
			items = append(items, rotationItem{subreddit: sub})
		}
	}
	return items
}

// Run drives the worker until ctx is cancelled or the scraper is stopped
// through the control plane. It reloads the scraper record each cycle so
// queue and config changes take effect without a restart.
func (w *Worker) Run(ctx context.Context) error {
	w.log.InfoContext(ctx, "🚀 scraper starting", "type", w.scraperType)

	// Readiness is the first successful authenticated call. A credential
	// set that can't get a token fails the scraper immediately instead of
	// burning a rotation on it.
	if _, err := w.tokens.Token(); err != nil {
		if serr := w.q.SetScraperStatus(ctx, w.scraperID, db.ScraperStatusFailed,
			"authentication failed: "+err.Error()); serr != nil {
			w.log.Error("mark scraper failed", "error", serr)
		}
		return fmt.Errorf("initial token: %w", err)
	}
	if err := w.q.SetScraperStatus(ctx, w.scraperID, db.ScraperStatusRunning, ""); err != nil {
		return fmt.Errorf("mark scraper running: %w", err)
	}
	go w.recorder.Run(ctx)
	defer func() {
		// The run context is usually already done here, so the final usage
		// flush gets its own short deadline.
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		w.recorder.Flush(flushCtx)
		w.Stop()
	}()

	reloadFailures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s, err := w.q.GetScraper(ctx, w.scraperID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				w.log.Warn("scraper record deleted, shutting down")
				return nil
			}
			reloadFailures++
			if reloadFailures >= 3 {
				// Store unreachable. Exit and let the supervisor's monitor
				// mark the container dead.
				return fmt.Errorf("reload scraper record: %w", err)
			}
			w.log.Error("reload scraper record failed", "error", err)
			if err := sleepCtx(ctx, 5*time.Second); err != nil {
				return err
			}
			continue
		}
		reloadFailures = 0
		if s.Status == db.ScraperStatusStopped {
			w.log.Info("scraper stopped, exiting")
			return nil
		}

		ec := w.resolveConfig(&s)
		if len(s.Subreddits) == 0 {
			w.log.Info("🟡 empty queue, waiting for subreddits")
			if err := sleepCtx(ctx, w.cfg.EmptyQueueSleep); err != nil {
				return err
			}
			continue
		}

		start := time.Now()
		out, err := w.runCycle(ctx, &s, ec)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		elapsed := time.Since(start)

		status := "success"
		if out.failures > 0 {
			status = "failed"
		}
		metrics.ScrapeCyclesTotal.WithLabelValues(w.scraperType, status).Inc()
		metrics.ScrapeCycleDuration.WithLabelValues(w.scraperType).Observe(elapsed.Seconds())

		w.foldCycleMetrics(ctx, out, elapsed)
		if err := w.q.TouchScraper(ctx, w.scraperID); err != nil {
			w.log.Warn("touch scraper failed", "error", err)
		}

		w.log.InfoContext(ctx, "✅ cycle complete",
			"posts", out.posts,
			"comments", out.comments,
			"failures", out.failures,
			"duration", elapsed.Round(time.Millisecond))

		if sleep := ec.interval - elapsed; sleep > 0 {
			if err := sleepCtx(ctx, sleep); err != nil {
				return err
			}
		}
	}
}

// cycleOutcome totals one pass over the rotation order.
type cycleOutcome struct {
	posts    int64
	comments int64
	failures int
}

func (w *Worker) runCycle(ctx context.Context, s *db.Scraper, ec effectiveConfig) (cycleOutcome, error) {
	var out cycleOutcome
	order := rotationOrder(s)
	w.log.InfoContext(ctx, "🔄 starting rotation",
		"subreddits", len(order), "pending", len(s.PendingScrape))

	for _, item := range order {
		if ctx.Err() != nil {
			return out, nil
		}
		// Queue membership can change mid-cycle through the control plane.
		cur, err := w.q.GetScraper(ctx, w.scraperID)
		if err == nil {
			if cur.Status == db.ScraperStatusStopped {
				return out, nil
			}
			if !utils.ContainsString(cur.Subreddits, item.subreddit) {
				w.log.Info("subreddit removed mid-cycle, skipping", "subreddit", item.subreddit)
				continue
			}
		}

		before := w.transport.TotalRequests()
		subStart := time.Now()
		n, err := w.runOne(ctx, item.subreddit, ec)
		requests := w.transport.TotalRequests() - before
		w.recorder.Record(item.subreddit, requests, time.Since(subStart))

		if err != nil {
			if ctx.Err() != nil {
				return out, nil
			}
			out.failures++
			w.log.Error("❌ subreddit scrape failed", "subreddit", item.subreddit, "error", err)
			errType := w.ledgerErrorType(err)
			w.recordScrapeError(ctx, item.subreddit, errType, err)
			if errType == db.ErrorTypeAuth {
				// Dead credentials poison every remaining subreddit too.
				// Fail the scraper and let the supervisor decide.
				if serr := w.q.SetScraperStatus(ctx, w.scraperID, db.ScraperStatusFailed,
					"authentication failed: "+err.Error()); serr != nil {
					w.log.Error("mark scraper failed", "error", serr)
				}
				return out, fmt.Errorf("authentication failed on r/%s: %w", item.subreddit, err)
			}
		} else {
			if w.scraperType == db.ScraperTypeComments {
				out.comments += n
			} else {
				out.posts += n
			}
			if item.pending {
				if err := w.q.MarkSubredditScraped(ctx, w.scraperID, item.subreddit); err != nil {
					w.log.Warn("mark subreddit scraped failed", "subreddit", item.subreddit, "error", err)
				}
			}
		}

		if err := sleepCtx(ctx, ec.rotationDelay); err != nil {
			return out, nil
		}
	}
	return out, nil
}

// runOne scrapes a single subreddit according to the worker's type.
func (w *Worker) runOne(ctx context.Context, sub string, ec effectiveConfig) (int64, error) {
	if w.scraperType == db.ScraperTypeComments {
		return w.scrapeSubredditComments(ctx, sub, ec)
	}
	return w.scrapeSubredditPosts(ctx, sub, ec)
}

func (w *Worker) recordScrapeError(ctx context.Context, sub, errType string, err error) {
	if dbErr := w.q.InsertScrapeError(ctx, db.InsertScrapeErrorParams{
		Subreddit:    sub,
		ErrorType:    errType,
		ErrorMessage: utils.TruncateString(err.Error(), 2000),
	}); dbErr != nil {
		w.log.Warn("record scrape error failed", "error", dbErr)
	}
}

func (w *Worker) ledgerErrorType(err error) string {
	var apiErr *redditapi.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Type == redditapi.ErrorUnauthorized {
			return db.ErrorTypeAuth
		}
		if w.scraperType == db.ScraperTypeComments {
			return db.ErrorTypeCommentScrape
		}
		return db.ErrorTypePostScrape
	}
	// Network failures and an open breaker both land here.
	return db.ErrorTypeTransport
}
