package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/reddit-scraper-fleet/internal/cache"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
)

// fakeUsageReader serves canned aggregates and counts how often the
// handlers reach past the cache.
type fakeUsageReader struct {
	today    db.UsageTotals
	lastHour db.UsageTotals
	dailyAvg db.UsageTotals
	top      []db.SubredditUsageRow
	trends   []db.UsageTrendRow

	costCalls   int
	trendsHours int
	trendsCalls int
}

func (f *fakeUsageReader) GetUsageToday(ctx context.Context) (db.UsageTotals, error) {
	f.costCalls++
	return f.today, nil
}

func (f *fakeUsageReader) GetUsageLastHour(ctx context.Context) (db.UsageTotals, error) {
	return f.lastHour, nil
}

func (f *fakeUsageReader) GetUsageDailyAverage(ctx context.Context, days int) (db.UsageTotals, error) {
	return f.dailyAvg, nil
}

func (f *fakeUsageReader) TopSubredditsByUsageToday(ctx context.Context, limit int32) ([]db.SubredditUsageRow, error) {
	return f.top, nil
}

func (f *fakeUsageReader) GetUsageTrends(ctx context.Context, hours int) ([]db.UsageTrendRow, error) {
	f.trendsCalls++
	f.trendsHours = hours
	return f.trends, nil
}

func TestGetUsageCost(t *testing.T) {
	reader := &fakeUsageReader{
		today:    db.UsageTotals{HTTPRequests: 5000, EstimatedCostUSD: 1.2, Samples: 12},
		lastHour: db.UsageTotals{HTTPRequests: 250, EstimatedCostUSD: 0.06, Samples: 1},
		dailyAvg: db.UsageTotals{HTTPRequests: 6250, EstimatedCostUSD: 1.5, Samples: 84},
		top: []db.SubredditUsageRow{
			{Subreddit: "golang", HTTPRequests: 3000, EstimatedCostUSD: 0.72},
		},
	}
	rr := httptest.NewRecorder()
	GetUsageCost(reader, nil)(rr, httptest.NewRequest(http.MethodGet, "/api/usage/cost", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("expected X-Cache MISS, got %q", got)
	}

	var out struct {
		Today struct {
			HTTPRequests int64 `json:"http_requests"`
		} `json:"today"`
		MonthlyProjection float64 `json:"monthly_projection_usd"`
		Top               []struct {
			Subreddit string `json:"subreddit"`
		} `json:"top_subreddits_today"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Today.HTTPRequests != 5000 {
		t.Errorf("expected today 5000 requests, got %d", out.Today.HTTPRequests)
	}
	if out.MonthlyProjection != 45 {
		t.Errorf("expected projection 45 (1.5 x 30), got %f", out.MonthlyProjection)
	}
	if len(out.Top) != 1 || out.Top[0].Subreddit != "golang" {
		t.Errorf("unexpected top subreddits: %+v", out.Top)
	}
}

func TestGetUsageCostCaches(t *testing.T) {
	reader := &fakeUsageReader{dailyAvg: db.UsageTotals{EstimatedCostUSD: 2}}
	c := cache.NewMockCache()

	first := httptest.NewRecorder()
	GetUsageCost(reader, c)(first, httptest.NewRequest(http.MethodGet, "/api/usage/cost", nil))
	if got := first.Header().Get("X-Cache"); got != "MISS" {
		t.Fatalf("first call should miss, got %q", got)
	}
	if reader.costCalls != 1 {
		t.Fatalf("expected one aggregation pass, got %d", reader.costCalls)
	}

	second := httptest.NewRecorder()
	GetUsageCost(reader, c)(second, httptest.NewRequest(http.MethodGet, "/api/usage/cost", nil))
	if got := second.Header().Get("X-Cache"); got != "HIT" {
		t.Fatalf("second call should hit, got %q", got)
	}
	if reader.costCalls != 1 {
		t.Errorf("cache hit should not re-aggregate, got %d calls", reader.costCalls)
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("cached body differs from original")
	}
}

func TestGetUsageTrends(t *testing.T) {
	reader := &fakeUsageReader{trends: []db.UsageTrendRow{
		{HourBucket: "2025-06-01T11:00:00Z", HTTPRequests: 100, EstimatedCostUSD: 0.024, Samples: 2},
		{HourBucket: "2025-06-01T12:00:00Z", HTTPRequests: 200, EstimatedCostUSD: 0.048, Samples: 2},
	}}
	rr := httptest.NewRecorder()
	GetUsageTrends(reader, nil)(rr, httptest.NewRequest(http.MethodGet, "/api/usage/trends", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if reader.trendsHours != 24 {
		t.Errorf("expected default window of 24 hours, got %d", reader.trendsHours)
	}
	var out struct {
		Hours  int `json:"hours"`
		Trends []struct {
			HourBucket string `json:"hour_bucket"`
		} `json:"trends"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Hours != 24 || len(out.Trends) != 2 {
		t.Errorf("unexpected response: %s", rr.Body.String())
	}
	if out.Trends[0].HourBucket != "2025-06-01T11:00:00Z" {
		t.Errorf("expected oldest bucket first, got %q", out.Trends[0].HourBucket)
	}
}

func TestGetUsageTrendsWindow(t *testing.T) {
	t.Run("rejects garbage", func(t *testing.T) {
		reader := &fakeUsageReader{}
		rr := httptest.NewRecorder()
		GetUsageTrends(reader, nil)(rr, httptest.NewRequest(http.MethodGet, "/api/usage/trends?hours=-3", nil))

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		if got := errCode(t, rr); got != "VALIDATION_INVALID_VALUE" {
			t.Errorf("expected VALIDATION_INVALID_VALUE, got %s", got)
		}
		if reader.trendsCalls != 0 {
			t.Errorf("store should not be queried on bad input")
		}
	})

	t.Run("caps at a week", func(t *testing.T) {
		reader := &fakeUsageReader{}
		rr := httptest.NewRecorder()
		GetUsageTrends(reader, nil)(rr, httptest.NewRequest(http.MethodGet, "/api/usage/trends?hours=9999", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if reader.trendsHours != 168 {
			t.Errorf("expected window capped at 168, got %d", reader.trendsHours)
		}
	})

	t.Run("separate cache keys per window", func(t *testing.T) {
		reader := &fakeUsageReader{}
		c := cache.NewMockCache()
		GetUsageTrends(reader, c)(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/usage/trends?hours=6", nil))
		GetUsageTrends(reader, c)(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/usage/trends?hours=12", nil))

		if reader.trendsCalls != 2 {
			t.Errorf("different windows must not share a cache entry, got %d calls", reader.trendsCalls)
		}
	})
}
