package metrics

import (
	"context"
	"log"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
)

// Collector periodically collects and updates Prometheus metrics
type Collector struct {
	queries  *db.Queries
	interval time.Duration
	stop     chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(queries *db.Queries, interval time.Duration) *Collector {
	return &Collector{
		queries:  queries,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Collect initial metrics
	c.collectMetrics(ctx)

	for {
		select {
		case <-ticker.C:
			c.collectMetrics(ctx)
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	close(c.stop)
}

// collectMetrics collects all metrics from the database
func (c *Collector) collectMetrics(ctx context.Context) {
	c.collectFleetMetrics(ctx)
	c.collectStoreStats(ctx)
	c.collectErrorStats(ctx)
	c.collectUsageToday(ctx)
}

// collectFleetMetrics refreshes per-scraper and per-type status gauges
func (c *Collector) collectFleetMetrics(ctx context.Context) {
	scrapers, err := c.queries.ListScrapers(ctx)
	if err != nil {
		log.Printf("Error listing scrapers for metrics: %v", err)
		MetricsCollectionErrors.WithLabelValues("fleet").Inc()
		return
	}

	activeByType := map[string]int{}
	for _, s := range scrapers {
		var up float64
		switch s.Status {
		case db.ScraperStatusRunning, db.ScraperStatusStarting:
			up = 1
			activeByType[s.ScraperType]++
		case db.ScraperStatusFailed:
			up = -1
		default:
			up = 0
		}
		ScraperUp.WithLabelValues(s.ID).Set(up)
	}
	for _, st := range []string{db.ScraperTypePosts, db.ScraperTypeComments} {
		ScrapersActive.WithLabelValues(st).Set(float64(activeByType[st]))
	}
}

// collectStoreStats refreshes stored entity counts
func (c *Collector) collectStoreStats(ctx context.Context) {
	stats, err := c.queries.GetDatabaseStats(ctx)
	if err != nil {
		log.Printf("Error getting database stats: %v", err)
		MetricsCollectionErrors.WithLabelValues("store").Inc()
		// Signal stale data
		StoredPostsTotal.Set(-1)
		StoredCommentsTotal.Set(-1)
		return
	}
	StoredPostsTotal.Set(float64(stats.PostCount))
	StoredCommentsTotal.Set(float64(stats.CommentCount))
}

// collectErrorStats refreshes the unresolved error ledger gauges
func (c *Collector) collectErrorStats(ctx context.Context) {
	counts, err := c.queries.CountUnresolvedErrorsByType(ctx)
	if err != nil {
		log.Printf("Error counting unresolved scrape errors: %v", err)
		MetricsCollectionErrors.WithLabelValues("errors").Inc()
		return
	}
	for _, row := range counts {
		ErrorsUnresolved.WithLabelValues(row.ErrorType).Set(float64(row.Count))
	}
}

// collectUsageToday refreshes the accrued-cost gauge
func (c *Collector) collectUsageToday(ctx context.Context) {
	today, err := c.queries.GetUsageToday(ctx)
	if err != nil {
		log.Printf("Error getting today's usage: %v", err)
		MetricsCollectionErrors.WithLabelValues("usage").Inc()
		EstimatedCostToday.Set(-1)
		return
	}
	EstimatedCostToday.Set(today.EstimatedCostUSD)
}
