package scraper

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/reddit-scraper-fleet/internal/logger"
	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
)

// Oracle decides when the worker may send its next request. It combines two
// signals: steady token-bucket pacing, and the quota headers Reddit attaches
// to every response. When the reported remaining quota drops to the
// threshold, the oracle holds all traffic until the reported window reset
// plus a guard, so the worker never runs the quota to zero.
type Oracle struct {
	limiter   *rate.Limiter
	threshold float64
	guard     time.Duration

	mu        sync.Mutex
	used      float64
	remaining float64
	resetAt   time.Time
	observed  bool
}

// NewOracle creates an oracle pacing at rps with the given burst. threshold
// is the remaining-quota floor; guard is added past the reported reset.
func NewOracle(rps float64, burst int, threshold float64, guard time.Duration) *Oracle {
	if burst < 1 {
		burst = 1
	}
	return &Oracle{
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		threshold: threshold,
		guard:     guard,
	}
}

// Observe records the quota headers from one response. The transport calls
// this on every reply that carries them.
func (o *Oracle) Observe(used, remaining float64, resetIn time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.used = used
	o.remaining = remaining
	o.resetAt = time.Now().Add(resetIn)
	o.observed = true
}

// AwaitCapacity blocks until the next request may be sent. It is wired as
// the pre-attempt hook so retries are paced the same as first attempts.
func (o *Oracle) AwaitCapacity(ctx context.Context) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	var wait time.Duration
	remaining := o.remaining
	if o.observed && o.remaining <= o.threshold {
		until := o.resetAt.Add(o.guard)
		if d := time.Until(until); d > 0 {
			wait = d
		} else {
			// The window already rolled over; headers are stale.
			o.observed = false
		}
	}
	o.mu.Unlock()

	if wait > 0 {
		metrics.RateLimitWaits.Inc()
		logger.Warn("Rate limit threshold reached, pausing",
			"remaining", remaining, "wait", wait.Round(time.Millisecond).String())
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		o.mu.Lock()
		o.observed = false
		o.mu.Unlock()
	}
	return nil
}

// RateSnapshot is a point-in-time view of the observed quota, stored with
// usage samples.
type RateSnapshot struct {
	Used      float64   `json:"used"`
	Remaining float64   `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Observed  bool      `json:"observed"`
}

// Snapshot returns the last observed quota state.
func (o *Oracle) Snapshot() RateSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return RateSnapshot{
		Used:      o.used,
		Remaining: o.remaining,
		ResetAt:   o.resetAt,
		Observed:  o.observed,
	}
}

// sleepCtx sleeps for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
