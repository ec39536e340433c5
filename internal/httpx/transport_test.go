package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordingRateObserver struct {
	used      float64
	remaining float64
	resetIn   time.Duration
	calls     int
}

func (r *recordingRateObserver) Observe(used, remaining float64, resetIn time.Duration) {
	r.used = used
	r.remaining = remaining
	r.resetIn = resetIn
	r.calls++
}

func TestCountingTransportCountsRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	tr := NewCountingTransport(nil, "posts", 0.24, nil)
	client := &http.Client{Transport: tr}

	for i := 0; i < 3; i++ {
		resp, err := client.Get(ts.URL)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
	}

	stats := tr.CycleStats()
	if stats.Requests != 3 {
		t.Fatalf("expected 3 cycle requests, got %d", stats.Requests)
	}
	if tr.TotalRequests() != 3 {
		t.Fatalf("expected 3 total requests, got %d", tr.TotalRequests())
	}
	if stats.TotalLatency <= 0 {
		t.Fatal("expected positive accumulated latency")
	}
}

func TestCountingTransportParsesRateHeaders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Used", "412")
		w.Header().Set("X-Ratelimit-Remaining", "588.0")
		w.Header().Set("X-Ratelimit-Reset", "372")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	obs := &recordingRateObserver{}
	tr := NewCountingTransport(nil, "comments", 0.24, obs)
	client := &http.Client{Transport: tr}

	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if obs.calls != 1 {
		t.Fatalf("expected 1 rate observation, got %d", obs.calls)
	}
	if obs.used != 412 || obs.remaining != 588 {
		t.Fatalf("unexpected sample: used=%v remaining=%v", obs.used, obs.remaining)
	}
	if obs.resetIn != 372*time.Second {
		t.Fatalf("unexpected reset: %v", obs.resetIn)
	}
}

func TestCountingTransportSkipsMissingHeaders(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	obs := &recordingRateObserver{}
	tr := NewCountingTransport(nil, "posts", 0.24, obs)
	client := &http.Client{Transport: tr}

	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if obs.calls != 0 {
		t.Fatalf("expected no rate observations, got %d", obs.calls)
	}
}

func TestCountingTransportResetCycle(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	tr := NewCountingTransport(nil, "posts", 0.24, nil)
	client := &http.Client{Transport: tr}

	resp, _ := client.Get(ts.URL)
	if resp != nil {
		resp.Body.Close()
	}

	final := tr.ResetCycle()
	if final.Requests != 1 {
		t.Fatalf("expected 1 request in final cycle, got %d", final.Requests)
	}
	if after := tr.CycleStats(); after.Requests != 0 {
		t.Fatalf("expected cycle reset to zero, got %d", after.Requests)
	}
	// lifetime counter survives the reset
	if tr.TotalRequests() != 1 {
		t.Fatalf("expected 1 total request, got %d", tr.TotalRequests())
	}
}

func TestCountingTransportCountsFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	ts.Close() // connection refused from here on

	tr := NewCountingTransport(nil, "posts", 0.24, nil)
	client := &http.Client{Transport: tr}

	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected transport error")
	}

	stats := tr.CycleStats()
	if stats.Requests != 1 {
		t.Fatalf("failed request should still count, got %d", stats.Requests)
	}
	if stats.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", stats.Errors)
	}
}

func TestEstimatedCost(t *testing.T) {
	tr := NewCountingTransport(nil, "posts", 0.24, nil)
	if got := tr.EstimatedCost(1000); got != 0.24 {
		t.Fatalf("expected 0.24 for 1000 requests, got %v", got)
	}
	if got := tr.EstimatedCost(0); got != 0 {
		t.Fatalf("expected 0 for 0 requests, got %v", got)
	}
}
