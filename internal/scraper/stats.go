package scraper

import (
	"context"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
)

// foldCycleMetrics merges one cycle's outcome into the scraper record's
// metrics document. The worker is the document's only writer, so a plain
// read, fold, replace round trip is safe.
func (w *Worker) foldCycleMetrics(ctx context.Context, out cycleOutcome, elapsed time.Duration) {
	s, err := w.q.GetScraper(ctx, w.scraperID)
	if err != nil {
		w.log.Warn("load metrics document failed", "error", err)
		return
	}
	m, err := s.ParsedMetrics()
	if err != nil {
		w.log.Warn("resetting malformed metrics document", "error", err)
		m = db.ScraperMetrics{}
	}

	stats := w.transport.ResetCycle()
	m = foldCycle(m, out, stats.Requests, elapsed, time.Now().UTC())

	if err := w.q.UpdateScraperMetrics(ctx, w.scraperID, m); err != nil {
		w.log.Warn("update metrics document failed", "error", err)
	}
}

// foldCycle applies one cycle to a metrics document. The average cycle
// time updates incrementally; hourly rates count from the first cycle,
// with the cycle's own duration as the floor so the first few rates don't
// blow up on a near-zero denominator.
func foldCycle(m db.ScraperMetrics, out cycleOutcome, requests int64, elapsed time.Duration, now time.Time) db.ScraperMetrics {
	m.TotalCycles++
	m.TotalPosts += out.posts
	m.TotalComments += out.comments
	m.TotalRequests += requests

	m.LastCyclePosts = out.posts
	m.LastCycleComments = out.comments
	m.LastCycleSeconds = elapsed.Seconds()
	m.AvgCycleSeconds += (m.LastCycleSeconds - m.AvgCycleSeconds) / float64(m.TotalCycles)

	if m.FirstCycleAt == nil {
		first := now
		m.FirstCycleAt = &first
	}
	last := now
	m.LastCycleAt = &last

	hours := now.Sub(*m.FirstCycleAt).Hours()
	if floor := elapsed.Hours(); hours < floor {
		hours = floor
	}
	if hours > 0 {
		m.PostsPerHour = float64(m.TotalPosts) / hours
		m.CommentsPerHour = float64(m.TotalComments) / hours
	}
	return m
}
