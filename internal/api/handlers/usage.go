package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/apierr"
	"github.com/onnwee/reddit-scraper-fleet/internal/cache"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
)

const (
	usageCacheTTL  = 60 * time.Second
	topSubredditsN = 10

	trendsDefaultHours = 24
	trendsMaxHours     = 168
)

// UsageReader is the query subset the spend endpoints aggregate from.
// *db.Queries satisfies it; tests substitute fakes.
type UsageReader interface {
	GetUsageToday(ctx context.Context) (db.UsageTotals, error)
	GetUsageLastHour(ctx context.Context) (db.UsageTotals, error)
	GetUsageDailyAverage(ctx context.Context, days int) (db.UsageTotals, error)
	TopSubredditsByUsageToday(ctx context.Context, limit int32) ([]db.SubredditUsageRow, error)
	GetUsageTrends(ctx context.Context, hours int) ([]db.UsageTrendRow, error)
}

// serveCached answers from the response cache when a fresh copy exists,
// stamping X-Cache so dashboards can see what they are getting.
func serveCached(w http.ResponseWriter, c cache.Cache, endpoint, key string) bool {
	if c == nil {
		return false
	}
	body, ok := c.Get(key)
	if !ok {
		metrics.APICacheMisses.WithLabelValues(endpoint).Inc()
		return false
	}
	metrics.APICacheHits.WithLabelValues(endpoint).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	return true
}

func writeAndCache(w http.ResponseWriter, c cache.Cache, key string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeJSON(w, http.StatusOK, v)
		return
	}
	if c != nil {
		c.Set(key, body, usageCacheTTL)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type usageTotalsView struct {
	HTTPRequests     int64   `json:"http_requests"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Samples          int64   `json:"samples"`
}

func totalsView(t db.UsageTotals) usageTotalsView {
	return usageTotalsView{
		HTTPRequests:     t.HTTPRequests,
		EstimatedCostUSD: t.EstimatedCostUSD,
		Samples:          t.Samples,
	}
}

type subredditUsageView struct {
	Subreddit        string  `json:"subreddit"`
	HTTPRequests     int64   `json:"http_requests"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// GetUsageCost reports spend: today, trailing hour, trailing 7-day daily
// average, a 30-day projection off that average, and today's top
// subreddits. Aggregations hit every usage row, so responses are cached
// for a minute.
func GetUsageCost(q UsageReader, c cache.Cache) http.HandlerFunc {
	const cacheKey = "usage:cost"
	return func(w http.ResponseWriter, r *http.Request) {
		if serveCached(w, c, "usage_cost", cacheKey) {
			return
		}

		today, err := q.GetUsageToday(r.Context())
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		lastHour, err := q.GetUsageLastHour(r.Context())
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		dailyAvg, err := q.GetUsageDailyAverage(r.Context(), 7)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		top, err := q.TopSubredditsByUsageToday(r.Context(), topSubredditsN)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}

		topViews := make([]subredditUsageView, 0, len(top))
		for _, row := range top {
			topViews = append(topViews, subredditUsageView{
				Subreddit:        row.Subreddit,
				HTTPRequests:     row.HTTPRequests,
				EstimatedCostUSD: row.EstimatedCostUSD,
			})
		}

		writeAndCache(w, c, cacheKey, map[string]any{
			"today":                  totalsView(today),
			"last_hour":              totalsView(lastHour),
			"daily_average_7d":       totalsView(dailyAvg),
			"monthly_projection_usd": dailyAvg.EstimatedCostUSD * 30,
			"top_subreddits_today":   topViews,
			"generated_at":           time.Now().UTC(),
		})
	}
}

type usageTrendView struct {
	HourBucket       string  `json:"hour_bucket"`
	HTTPRequests     int64   `json:"http_requests"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	Samples          int64   `json:"samples"`
}

// GetUsageTrends returns hourly totals over a trailing window, oldest
// first. Hours with no samples are absent from the series.
func GetUsageTrends(q UsageReader, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours := trendsDefaultHours
		if raw := r.URL.Query().Get("hours"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("hours",
					"hours must be a positive integer"))
				return
			}
			if n > trendsMaxHours {
				n = trendsMaxHours
			}
			hours = n
		}

		cacheKey := "usage:trends:" + strconv.Itoa(hours)
		if serveCached(w, c, "usage_trends", cacheKey) {
			return
		}

		rows, err := q.GetUsageTrends(r.Context(), hours)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		views := make([]usageTrendView, 0, len(rows))
		for _, row := range rows {
			views = append(views, usageTrendView{
				HourBucket:       row.HourBucket,
				HTTPRequests:     row.HTTPRequests,
				EstimatedCostUSD: row.EstimatedCostUSD,
				Samples:          row.Samples,
			})
		}

		writeAndCache(w, c, cacheKey, map[string]any{
			"hours":        hours,
			"trends":       views,
			"generated_at": time.Now().UTC(),
		})
	}
}
