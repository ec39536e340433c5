package scraper

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/sqlc-dev/pqtype"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/logger"
	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
)

// UsageRecorder accumulates per-subreddit request counts and flushes them
// to the usage ledger on an interval. The worker attributes counted
// transport deltas to whichever subreddit it was visiting, so the ledger
// adds up to exactly what the transport saw.
type UsageRecorder struct {
	q           *db.Queries
	scraperType string
	containerID string
	costPer1000 float64
	snapshot    func() RateSnapshot
	interval    time.Duration

	mu      sync.Mutex
	pending map[string]*usageBucket
}

type usageBucket struct {
	requests int64
	seconds  float64
}

func NewUsageRecorder(q *db.Queries, scraperType, containerID string, costPer1000 float64, snapshot func() RateSnapshot, interval time.Duration) *UsageRecorder {
	if interval <= 0 {
		interval = time.Minute
	}
	return &UsageRecorder{
		q:           q,
		scraperType: scraperType,
		containerID: containerID,
		costPer1000: costPer1000,
		snapshot:    snapshot,
		interval:    interval,
		pending:     make(map[string]*usageBucket),
	}
}

// Record attributes requests spent on one subreddit visit.
func (r *UsageRecorder) Record(sub string, requests int64, elapsed time.Duration) {
	if requests <= 0 && elapsed <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.pending[sub]
	if b == nil {
		b = &usageBucket{}
		r.pending[sub] = b
	}
	b.requests += requests
	b.seconds += elapsed.Seconds()
}

// Run flushes on the configured interval until ctx is done. The caller
// issues a final Flush with its own context after Run returns.
func (r *UsageRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				logger.Warn("usage flush failed", "error", err)
			}
		}
	}
}

// Flush drains the pending buckets into the ledger, one row per
// subreddit. The current rate snapshot rides along as a JSON document for
// after-the-fact debugging. Rows that fail to insert are put back for the
// next flush.
func (r *UsageRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	drained := r.pending
	r.pending = make(map[string]*usageBucket)
	r.mu.Unlock()

	if len(drained) == 0 {
		return nil
	}

	var rateDoc pqtype.NullRawMessage
	if r.snapshot != nil {
		if raw, err := json.Marshal(r.snapshot()); err == nil {
			rateDoc = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
		}
	}

	now := time.Now().UTC()
	var firstErr error
	for sub, b := range drained {
		p := db.InsertUsageParams{
			Subreddit:            sub,
			ScraperType:          r.scraperType,
			RecordedAt:           now,
			HTTPRequests:         int32(b.requests),
			EstimatedCostUSD:     float64(b.requests) * r.costPer1000 / 1000,
			CycleDurationSeconds: b.seconds,
			RateLimit:            rateDoc,
		}
		if r.containerID != "" {
			p.ContainerID = sql.NullString{String: r.containerID, Valid: true}
		}
		if err := r.q.InsertUsage(ctx, p); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			r.Record(sub, b.requests, time.Duration(b.seconds*float64(time.Second)))
		}
	}
	if firstErr != nil {
		metrics.UsageFlushes.WithLabelValues("failed").Inc()
		return firstErr
	}
	metrics.UsageFlushes.WithLabelValues("success").Inc()
	return nil
}
