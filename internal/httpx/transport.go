package httpx

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
)

// RateObserver receives rate-limit header samples parsed off upstream responses.
type RateObserver interface {
	Observe(used, remaining float64, resetIn time.Duration)
}

// CycleStats is a point-in-time view of the transport's per-cycle counters.
type CycleStats struct {
	Requests     int64
	Errors       int64
	TotalLatency time.Duration
}

// CountingTransport is an http.RoundTripper that counts every request sent
// through it, including retries and token refreshes. It is the source of
// truth for usage accounting: anything that bills must pass through here.
type CountingTransport struct {
	base        http.RoundTripper
	scraperType string
	costPer1000 float64
	rate        RateObserver

	mu            sync.Mutex
	cycleRequests int64
	cycleErrors   int64
	cycleLatency  time.Duration
	totalRequests int64
}

// NewCountingTransport wraps base (nil means http.DefaultTransport) with
// request counting for the given scraper type. rate may be nil.
func NewCountingTransport(base http.RoundTripper, scraperType string, costPer1000 float64, rate RateObserver) *CountingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &CountingTransport{
		base:        base,
		scraperType: scraperType,
		costPer1000: costPer1000,
		rate:        rate,
	}
}

func (t *CountingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	// Count the attempt before it leaves: failed requests were still sent.
	t.mu.Lock()
	t.cycleRequests++
	t.totalRequests++
	t.mu.Unlock()
	metrics.RequestCostUSD.WithLabelValues(t.scraperType).Add(t.costPer1000 / 1000)

	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start)

	t.mu.Lock()
	t.cycleLatency += elapsed
	if err != nil {
		t.cycleErrors++
	}
	t.mu.Unlock()

	if err != nil {
		metrics.RedditHTTPRequests.WithLabelValues(t.scraperType, "error").Inc()
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		metrics.RedditHTTPRequests.WithLabelValues(t.scraperType, "retry").Inc()
	default:
		metrics.RedditHTTPRequests.WithLabelValues(t.scraperType, "success").Inc()
	}

	t.observeRateHeaders(resp)
	return resp, nil
}

// observeRateHeaders parses X-Ratelimit-{Used,Remaining,Reset} when present
// and forwards them to the rate observer.
func (t *CountingTransport) observeRateHeaders(resp *http.Response) {
	remainingStr := resp.Header.Get("X-Ratelimit-Remaining")
	if remainingStr == "" {
		return
	}
	remaining, err := strconv.ParseFloat(remainingStr, 64)
	if err != nil {
		return
	}
	used, _ := strconv.ParseFloat(resp.Header.Get("X-Ratelimit-Used"), 64)
	resetSecs, _ := strconv.Atoi(resp.Header.Get("X-Ratelimit-Reset"))

	metrics.RateLimitRemaining.Set(remaining)
	if t.rate != nil {
		t.rate.Observe(used, remaining, time.Duration(resetSecs)*time.Second)
	}
}

// CycleStats returns the counters accumulated since the last ResetCycle.
func (t *CountingTransport) CycleStats() CycleStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return CycleStats{
		Requests:     t.cycleRequests,
		Errors:       t.cycleErrors,
		TotalLatency: t.cycleLatency,
	}
}

// ResetCycle zeroes the per-cycle counters and returns their final values.
func (t *CountingTransport) ResetCycle() CycleStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := CycleStats{
		Requests:     t.cycleRequests,
		Errors:       t.cycleErrors,
		TotalLatency: t.cycleLatency,
	}
	t.cycleRequests = 0
	t.cycleErrors = 0
	t.cycleLatency = 0
	return out
}

// TotalRequests returns the lifetime request count for this transport.
func (t *CountingTransport) TotalRequests() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalRequests
}

// EstimatedCost converts a request count into dollars at this transport's rate.
func (t *CountingTransport) EstimatedCost(requests int64) float64 {
	return float64(requests) * t.costPer1000 / 1000
}
