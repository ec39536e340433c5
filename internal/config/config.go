package config

import (
	"os"
	"strings"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	UserAgent      string
	HTTPMaxRetries int
	HTTPRetryBase  time.Duration
	HTTPTimeout    time.Duration
	LogHTTPRetries bool
	// Reddit OAuth (script app) credentials for a standalone worker.
	// Fleet workers read their credentials from the sealed scraper record;
	// these env values are the fallback when the record carries none.
	RedditClientID     string
	RedditClientSecret string
	RedditUsername     string
	RedditPassword     string
	// Rate-limit oracle settings
	RateLimitThreshold float64       // pause when remaining drops below this
	RateLimitGuard     time.Duration // extra sleep past the reported reset
	ScraperRPS         float64       // request pacing toward the Reddit API
	ScraperBurstSize   int           // burst size for request pacing
	// Usage accounting
	CostPer1000Requests float64
	UsageFlushInterval  time.Duration
	UsageRetentionDays  int
	// Scraper cycle defaults (overridable per scraper via its config document)
	PostsLimit           int
	SortingMethods       []string
	IntervalSeconds      int
	RotationDelay        time.Duration
	CommentBatch         int
	MaxCommentDepth      int
	MoreCommentsLimit    int
	ScrapeMaxRetries     int
	TopTimeFilter        string
	InitialTopTimeFilter string
	EmptyQueueSleep      time.Duration
	PostPause            time.Duration
	MetadataMaxAge       time.Duration
	// Supervisor settings
	WorkerImage     string
	ContainerPrefix string
	DockerBinary    string
	MonitorInterval time.Duration
	RestartCooldown time.Duration
	RestartDelay    time.Duration
	MaxRestartsHour int
	// Control-plane security settings
	RateLimitGlobal      float64  // requests per second globally
	RateLimitGlobalBurst int      // burst size for global rate limit
	RateLimitPerIP       float64  // requests per second per IP
	RateLimitPerIPBurst  int      // burst size for per-IP rate limit
	CORSAllowedOrigins   []string // allowed CORS origins
	EnableRateLimit      bool     // enable rate limiting middleware
	DBStatementTimeout   time.Duration
	// Observability settings
	LogLevel          string  // log level: debug, info, warn, error
	OTELEnabled       bool    // enable OpenTelemetry tracing
	OTELEndpoint      string  // OpenTelemetry collector endpoint
	OTELSampleRate    float64 // trace sampling rate (0.0 to 1.0)
	SentryDSN         string  // Sentry DSN for error reporting
	SentryEnvironment string  // Sentry environment (dev, staging, production)
	SentryRelease     string  // Sentry release version
	SentrySampleRate  float64 // Sentry error sampling rate (0.0 to 1.0)
}

var cached *Config

// Load reads env vars once and caches them.
func Load() *Config {
	if cached != nil {
		return cached
	}
	ua := os.Getenv("REDDIT_USER_AGENT")
	if strings.TrimSpace(ua) == "" {
		ua = "reddit-scraper-fleet/0.1"
	}
	cached = &Config{
		UserAgent:          ua,
		HTTPMaxRetries:     utils.GetEnvAsInt("HTTP_MAX_RETRIES", 3),
		HTTPRetryBase:      time.Duration(utils.GetEnvAsInt("HTTP_RETRY_BASE_MS", 300)) * time.Millisecond,
		HTTPTimeout:        time.Duration(utils.GetEnvAsInt("HTTP_TIMEOUT_MS", 30000)) * time.Millisecond,
		LogHTTPRetries:     utils.GetEnvAsBool("LOG_HTTP_RETRIES", false),
		RedditClientID:     strings.TrimSpace(os.Getenv("REDDIT_CLIENT_ID")),
		RedditClientSecret: strings.TrimSpace(os.Getenv("REDDIT_CLIENT_SECRET")),
		RedditUsername:     strings.TrimSpace(os.Getenv("REDDIT_USERNAME")),
		RedditPassword:     os.Getenv("REDDIT_PASSWORD"),
		// Rate limiting: pause below 50 remaining, wake 5s past the reset.
		RateLimitThreshold: utils.GetEnvAsFloat("RATE_LIMIT_THRESHOLD", 50),
		RateLimitGuard:     time.Duration(utils.GetEnvAsInt("RATE_LIMIT_GUARD_SECONDS", 5)) * time.Second,
		// Pacing: default to ~1.66 rps (100 requests per minute)
		ScraperRPS:       utils.GetEnvAsFloat("SCRAPER_RPS", 1.66),
		ScraperBurstSize: utils.GetEnvAsInt("SCRAPER_BURST_SIZE", 1),
		// Usage accounting at $0.24 per 1000 requests
		CostPer1000Requests: utils.GetEnvAsFloat("COST_PER_1000_REQUESTS", 0.24),
		UsageFlushInterval:  time.Duration(utils.GetEnvAsInt("USAGE_FLUSH_INTERVAL_SECONDS", 60)) * time.Second,
		UsageRetentionDays:  utils.GetEnvAsInt("USAGE_RETENTION_DAYS", 30),
		// Cycle defaults
		PostsLimit:           utils.GetEnvAsInt("POSTS_LIMIT", 1000),
		SortingMethods:       utils.GetEnvAsSlice("SORTING_METHODS", []string{"new", "top", "rising"}, ","),
		IntervalSeconds:      utils.GetEnvAsInt("INTERVAL_SECONDS", 300),
		RotationDelay:        time.Duration(utils.GetEnvAsInt("ROTATION_DELAY_SECONDS", 2)) * time.Second,
		CommentBatch:         utils.GetEnvAsInt("COMMENT_BATCH", 20),
		MaxCommentDepth:      utils.GetEnvAsInt("MAX_COMMENT_DEPTH", 3),
		MoreCommentsLimit:    utils.GetEnvAsInt("MORE_COMMENTS_LIMIT", 0),
		ScrapeMaxRetries:     utils.GetEnvAsInt("SCRAPE_MAX_RETRIES", 3),
		TopTimeFilter:        strings.ToLower(strings.TrimSpace(os.Getenv("TOP_TIME_FILTER"))),
		InitialTopTimeFilter: strings.ToLower(strings.TrimSpace(os.Getenv("INITIAL_TOP_TIME_FILTER"))),
		EmptyQueueSleep:      time.Duration(utils.GetEnvAsInt("EMPTY_QUEUE_SLEEP_SECONDS", 60)) * time.Second,
		PostPause:            time.Duration(utils.GetEnvAsInt("POST_PAUSE_SECONDS", 2)) * time.Second,
		MetadataMaxAge:       time.Duration(utils.GetEnvAsInt("METADATA_MAX_AGE_HOURS", 24)) * time.Hour,
		// Supervisor
		WorkerImage:     utils.GetEnv("WORKER_IMAGE", "reddit-scraper-worker:latest"),
		ContainerPrefix: utils.GetEnv("CONTAINER_PREFIX", "reddit-scraper-"),
		DockerBinary:    utils.GetEnv("DOCKER_BINARY", "docker"),
		MonitorInterval: time.Duration(utils.GetEnvAsInt("MONITOR_INTERVAL_SECONDS", 30)) * time.Second,
		RestartCooldown: time.Duration(utils.GetEnvAsInt("RESTART_COOLDOWN_SECONDS", 30)) * time.Second,
		RestartDelay:    time.Duration(utils.GetEnvAsInt("RESTART_DELAY_SECONDS", 5)) * time.Second,
		MaxRestartsHour: utils.GetEnvAsInt("MAX_RESTARTS_PER_HOUR", 10),
		// Security settings with sensible defaults
		RateLimitGlobal:      utils.GetEnvAsFloat("RATE_LIMIT_GLOBAL", 100.0),
		RateLimitGlobalBurst: utils.GetEnvAsInt("RATE_LIMIT_GLOBAL_BURST", 200),
		RateLimitPerIP:       utils.GetEnvAsFloat("RATE_LIMIT_PER_IP", 10.0),
		RateLimitPerIPBurst:  utils.GetEnvAsInt("RATE_LIMIT_PER_IP_BURST", 20),
		EnableRateLimit:      utils.GetEnvAsBool("ENABLE_RATE_LIMIT", true),
		DBStatementTimeout:   time.Duration(utils.GetEnvAsInt("DB_STATEMENT_TIMEOUT_MS", 25000)) * time.Millisecond,
		// Observability settings
		LogLevel:          strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))),
		OTELEnabled:       utils.GetEnvAsBool("OTEL_ENABLED", false),
		OTELEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRate:    utils.GetEnvAsFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
		SentryDSN:         strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryEnvironment: strings.TrimSpace(os.Getenv("SENTRY_ENVIRONMENT")),
		SentryRelease:     strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),
		SentrySampleRate:  utils.GetEnvAsFloat("SENTRY_SAMPLE_RATE", 1.0),
	}
	if cached.TopTimeFilter == "" {
		cached.TopTimeFilter = "day"
	}
	if cached.InitialTopTimeFilter == "" {
		cached.InitialTopTimeFilter = "month"
	}
	if cached.LogLevel == "" {
		cached.LogLevel = "info"
	}
	if cached.SentryEnvironment == "" {
		if env := os.Getenv("ENV"); env != "" {
			cached.SentryEnvironment = env
		} else {
			cached.SentryEnvironment = "development"
		}
	}

	// Parse CORS allowed origins
	corsOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if corsOrigins == "" {
		// Default to common development origins
		cached.CORSAllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	} else {
		cached.CORSAllowedOrigins = strings.Split(corsOrigins, ",")
		for i := range cached.CORSAllowedOrigins {
			cached.CORSAllowedOrigins[i] = strings.TrimSpace(cached.CORSAllowedOrigins[i])
		}
	}

	return cached
}

// ResetForTest clears cached config; for use in tests only.
func ResetForTest() { cached = nil }

// GetEnvBool reads a boolean environment variable with a default.
// Use this when you need to check a flag not present in the cached config.
func (c *Config) GetEnvBool(key string, def bool) bool {
	return utils.GetEnvAsBool(key, def)
}
