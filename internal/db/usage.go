package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// Bucket layouts for api_usage rollups. Buckets are computed in Go so every
// writer and reader agrees on the clock.
const (
	HourBucketLayout = "2006-01-02T15:00"
	DayBucketLayout  = "2006-01-02"
)

// HourBucket formats t into the hourly rollup key.
func HourBucket(t time.Time) string { return t.UTC().Format(HourBucketLayout) }

// DayBucket formats t into the daily rollup key.
func DayBucket(t time.Time) string { return t.UTC().Format(DayBucketLayout) }

// InsertUsageParams is one flushed usage sample.
type InsertUsageParams struct {
	Subreddit            string
	ScraperType          string
	ContainerID          sql.NullString
	RecordedAt           time.Time
	HTTPRequests         int32
	EstimatedCostUSD     float64
	CycleDurationSeconds float64
	RateLimit            pqtype.NullRawMessage
}

// InsertUsage appends a usage sample with its rollup buckets.
func (q *Queries) InsertUsage(ctx context.Context, p InsertUsageParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO api_usage (subreddit, scraper_type, container_id, recorded_at,
			hour_bucket, day_bucket, http_requests, estimated_cost_usd,
			cycle_duration_seconds, rate_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.Subreddit, p.ScraperType, p.ContainerID, p.RecordedAt,
		HourBucket(p.RecordedAt), DayBucket(p.RecordedAt),
		p.HTTPRequests, p.EstimatedCostUSD, p.CycleDurationSeconds, p.RateLimit,
	)
	return err
}

// UsageTotals is an aggregated slice of the usage ledger.
type UsageTotals struct {
	HTTPRequests     int64
	EstimatedCostUSD float64
	Samples          int64
}

func (q *Queries) usageTotalsWhere(ctx context.Context, where string, args ...interface{}) (UsageTotals, error) {
	var t UsageTotals
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(http_requests), 0), COALESCE(SUM(estimated_cost_usd), 0), COUNT(*)
		FROM api_usage WHERE `+where, args...,
	).Scan(&t.HTTPRequests, &t.EstimatedCostUSD, &t.Samples)
	return t, err
}

// GetUsageToday sums today's samples.
func (q *Queries) GetUsageToday(ctx context.Context) (UsageTotals, error) {
	return q.usageTotalsWhere(ctx, `day_bucket = $1`, DayBucket(time.Now()))
}

// GetUsageLastHour sums the trailing hour.
func (q *Queries) GetUsageLastHour(ctx context.Context) (UsageTotals, error) {
	return q.usageTotalsWhere(ctx, `recorded_at >= now() - interval '1 hour'`)
}

// GetUsageDailyAverage averages whole-day totals over the trailing window,
// excluding today's partial day.
func (q *Queries) GetUsageDailyAverage(ctx context.Context, days int) (UsageTotals, error) {
	var t UsageTotals
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(AVG(requests), 0)::bigint, COALESCE(AVG(cost), 0), COUNT(*)
		FROM (
			SELECT SUM(http_requests) AS requests, SUM(estimated_cost_usd) AS cost
			FROM api_usage
			WHERE day_bucket < $1 AND recorded_at >= now() - ($2 || ' days')::interval
			GROUP BY day_bucket
		) daily`,
		DayBucket(time.Now()), days,
	).Scan(&t.HTTPRequests, &t.EstimatedCostUSD, &t.Samples)
	return t, err
}

// SubredditUsageRow is one subreddit's share of today's traffic.
type SubredditUsageRow struct {
	Subreddit        string
	HTTPRequests     int64
	EstimatedCostUSD float64
}

// TopSubredditsByUsageToday ranks subreddits by today's request volume.
func (q *Queries) TopSubredditsByUsageToday(ctx context.Context, limit int32) ([]SubredditUsageRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT subreddit, SUM(http_requests), SUM(estimated_cost_usd)
		FROM api_usage
		WHERE day_bucket = $1 AND subreddit <> ''
		GROUP BY subreddit
		ORDER BY SUM(http_requests) DESC
		LIMIT $2`,
		DayBucket(time.Now()), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubredditUsageRow
	for rows.Next() {
		var r SubredditUsageRow
		if err := rows.Scan(&r.Subreddit, &r.HTTPRequests, &r.EstimatedCostUSD); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UsageTrendRow is one hour in the trend series.
type UsageTrendRow struct {
	HourBucket       string
	HTTPRequests     int64
	EstimatedCostUSD float64
	Samples          int64
}

// GetUsageTrends returns hourly totals over the trailing window, oldest
// first. Hours with no samples are absent.
func (q *Queries) GetUsageTrends(ctx context.Context, hours int) ([]UsageTrendRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT hour_bucket, SUM(http_requests), SUM(estimated_cost_usd), COUNT(*)
		FROM api_usage
		WHERE recorded_at >= now() - ($1 || ' hours')::interval
		GROUP BY hour_bucket
		ORDER BY hour_bucket ASC`,
		hours,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageTrendRow
	for rows.Next() {
		var r UsageTrendRow
		if err := rows.Scan(&r.HourBucket, &r.HTTPRequests, &r.EstimatedCostUSD, &r.Samples); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneUsageBefore deletes samples older than the cutoff.
func (q *Queries) PruneUsageBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM api_usage WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
