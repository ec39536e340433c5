package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream request metrics
	RedditHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reddit_http_requests_total",
			Help: "Total number of HTTP requests made to the Reddit API",
		},
		[]string{"scraper_type", "status"}, // status: success, retry, failure
	)

	RedditHTTPRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reddit_http_retries_total",
			Help: "Total number of HTTP request retries against the Reddit API",
		},
	)

	RequestCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reddit_request_cost_usd_total",
			Help: "Estimated cumulative cost of Reddit API requests in USD",
		},
		[]string{"scraper_type"},
	)

	RateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reddit_rate_limit_waits_total",
			Help: "Total number of times a worker slept waiting for quota reset",
		},
	)

	RateLimitRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reddit_rate_limit_remaining",
			Help: "Most recently observed X-Ratelimit-Remaining value",
		},
	)

	RetryAfterWaits = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reddit_retry_after_wait_seconds",
			Help:    "Duration of Retry-After waits in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// Scrape cycle metrics
	ScrapeCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scrape_cycles_total",
			Help: "Total number of scrape cycles completed",
		},
		[]string{"scraper_type", "status"}, // status: success, failed
	)

	ScrapeCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scrape_cycle_duration_seconds",
			Help:    "Duration of scrape cycles in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"scraper_type"},
	)

	PostsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "posts_upserted_total",
			Help: "Total number of posts written to the store",
		},
	)

	CommentsInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comments_inserted_total",
			Help: "Total number of new comments written to the store",
		},
	)

	VerificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "comment_verification_failures_total",
			Help: "Times a post's comments were fetched but could not be verified in the store",
		},
	)

	UsageFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_flushes_total",
			Help: "Total number of usage record flushes",
		},
		[]string{"status"}, // status: success, failed
	)

	// Fleet gauges (refreshed by the collector)
	ScrapersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scrapers_active",
			Help: "Number of scrapers currently running, by type",
		},
		[]string{"scraper_type"},
	)

	ScraperUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scraper_up",
			Help: "Per-scraper status (1=running, 0=stopped, -1=failed)",
		},
		[]string{"scraper_id"},
	)

	WorkerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_restarts_total",
			Help: "Total number of worker container restarts by the supervisor",
		},
		[]string{"reason"}, // reason: dead, failed, manual
	)

	StoredPostsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stored_posts_total",
			Help: "Total number of posts in the store",
		},
	)

	StoredCommentsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stored_comments_total",
			Help: "Total number of comments in the store",
		},
	)

	ErrorsUnresolved = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scrape_errors_unresolved",
			Help: "Number of unresolved rows in the scrape error ledger, by type",
		},
		[]string{"error_type"},
	)

	EstimatedCostToday = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estimated_cost_today_usd",
			Help: "Estimated Reddit API cost accrued today in USD",
		},
	)

	// Database operation metrics
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Duration of database operations",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	DBOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"component"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"component"},
	)

	// API cache metrics
	APICacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_cache_hits_total",
			Help: "Total number of API cache hits",
		},
		[]string{"endpoint"},
	)

	APICacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_cache_misses_total",
			Help: "Total number of API cache misses",
		},
		[]string{"endpoint"},
	)

	// API request metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"endpoint", "method", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	// Metrics collection error tracking
	MetricsCollectionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metrics_collection_errors_total",
			Help: "Total number of errors during metrics collection",
		},
		[]string{"collector"}, // collector: fleet, store, errors, usage
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent to clients",
		},
	)
)
