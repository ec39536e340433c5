package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/reddit-scraper-fleet/internal/accounts"
	"github.com/onnwee/reddit-scraper-fleet/internal/api/handlers"
	"github.com/onnwee/reddit-scraper-fleet/internal/cache"
	"github.com/onnwee/reddit-scraper-fleet/internal/config"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/integrity"
	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
	"github.com/onnwee/reddit-scraper-fleet/internal/middleware"
)

// Deps carries everything the router serves from. Cache may be nil (cached
// endpoints then hit the database every time) and Hub may be nil (the
// websocket route stays unregistered).
type Deps struct {
	Queries  *db.Queries
	Fleet    handlers.Fleet
	Accounts *accounts.Store
	Cache    cache.Cache
	Hub      *handlers.FleetHub
	Config   *config.Config
}

// NewRouter builds the API router with the full middleware chain.
func NewRouter(deps Deps) *mux.Router {
	r := mux.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	if deps.Config != nil {
		corsCfg = middleware.CORSFromOrigins(deps.Config.CORSAllowedOrigins)
	}

	cors := middleware.CORS(corsCfg)

	r.Use(middleware.RequestID)
	r.Use(middleware.Recover)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors)
	if deps.Config != nil && deps.Config.EnableRateLimit {
		rl := middleware.NewRateLimiter(
			deps.Config.RateLimitGlobal,
			deps.Config.RateLimitGlobalBurst,
			deps.Config.RateLimitPerIP,
			deps.Config.RateLimitPerIPBurst,
		)
		r.Use(rl.Limit)
	}
	r.Use(middleware.BodyLimit)
	r.Use(middleware.Compress)
	r.Use(instrument)

	// mux skips Use middleware on method mismatches, which is exactly
	// what a preflight OPTIONS is. Wrapping the 405 handler in the CORS
	// layer lets it answer preflights for every registered route.
	r.MethodNotAllowedHandler = cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "405 method not allowed", http.StatusMethodNotAllowed)
	}))

	q := deps.Queries
	fleet := deps.Fleet

	// Scraper lifecycle
	r.HandleFunc("/api/scrapers/start", handlers.StartScraper(fleet)).Methods("POST")
	r.HandleFunc("/api/scrapers/restart-all-failed", handlers.RestartAllFailed(fleet)).Methods("POST")
	r.HandleFunc("/api/scrapers/status-summary", handlers.GetStatusSummary(q)).Methods("GET")
	r.HandleFunc("/api/scrapers", handlers.ListScrapers(q, fleet)).Methods("GET")
	r.HandleFunc("/api/scrapers/{id}/stop", handlers.StopScraper(fleet)).Methods("POST")
	r.HandleFunc("/api/scrapers/{id}/restart", handlers.RestartScraper(fleet)).Methods("POST")
	r.HandleFunc("/api/scrapers/{id}/auto-restart", handlers.SetAutoRestart(fleet)).Methods("PUT")
	r.HandleFunc("/api/scrapers/{id}/credentials", handlers.RotateCredentials(fleet)).Methods("PUT")
	r.HandleFunc("/api/scrapers/{id}/status", handlers.GetScraperStatus(q, fleet)).Methods("GET")
	r.HandleFunc("/api/scrapers/{id}/stats", handlers.GetScraperStats(q)).Methods("GET")
	r.HandleFunc("/api/scrapers/{id}/logs", handlers.GetScraperLogs(fleet)).Methods("GET")
	r.HandleFunc("/api/scrapers/{id}", handlers.DeleteScraper(fleet)).Methods("DELETE")

	// Subreddit queue mutations
	r.HandleFunc("/api/scrapers/{id}/subreddits/add", handlers.AddSubreddits(q)).Methods("POST")
	r.HandleFunc("/api/scrapers/{id}/subreddits/remove", handlers.RemoveSubreddits(q)).Methods("POST")
	r.HandleFunc("/api/scrapers/{id}/subreddits", handlers.ReplaceSubreddits(q)).Methods("PATCH")

	// Usage accounting
	r.Handle("/api/usage/cost", middleware.ETag(handlers.GetUsageCost(q, deps.Cache))).Methods("GET")
	r.Handle("/api/usage/trends", middleware.ETag(handlers.GetUsageTrends(q, deps.Cache))).Methods("GET")

	// Accounts
	store := deps.Accounts
	r.HandleFunc("/api/accounts", handlers.ListAccounts(store)).Methods("GET")
	r.HandleFunc("/api/accounts", handlers.SaveAccount(store)).Methods("POST")
	r.HandleFunc("/api/accounts/{name}", handlers.GetAccount(store)).Methods("GET")
	r.HandleFunc("/api/accounts/{name}", handlers.DeleteAccount(store)).Methods("DELETE")

	// Error ledger
	r.HandleFunc("/api/errors", handlers.ListErrors(q)).Methods("GET")
	r.HandleFunc("/api/errors/{id}/resolve", handlers.ResolveError(q)).Methods("POST")

	// Integrity audit
	r.Handle("/api/integrity", middleware.ETag(handlers.GetIntegrity(integrity.NewService(q)))).Methods("GET")

	// Subreddit suggestions
	r.HandleFunc("/api/suggestions", handlers.SubmitSuggestion(q)).Methods("POST")

	// Stored data reads
	r.HandleFunc("/api/posts", handlers.ListPosts(q)).Methods("GET")
	r.HandleFunc("/api/posts/{id}/comments", handlers.ListPostComments(q)).Methods("GET")
	r.HandleFunc("/api/posts/{id}", handlers.GetPostByID(q)).Methods("GET")
	r.Handle("/api/subreddits", middleware.ETag(handlers.ListSubreddits(q))).Methods("GET")

	// Cache administration
	r.HandleFunc("/api/admin/cache/stats", handlers.GetCacheStats(deps.Cache)).Methods("GET")
	r.HandleFunc("/api/admin/cache/invalidate", handlers.ClearCache(deps.Cache)).Methods("POST")

	// Live fleet status stream
	if deps.Hub != nil {
		r.HandleFunc("/api/fleet/ws", handlers.FleetWS(deps.Hub)).Methods("GET")
	}

	// Operational surfaces
	r.HandleFunc("/health", handlers.Health(q, fleet)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// instrument records per-route request counts and latencies. Upgrade
// requests pass through untouched so the connection can be hijacked.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		status := strconv.Itoa(rec.status)
		metrics.APIRequestsTotal.WithLabelValues(endpoint, r.Method, status).Inc()
		metrics.APIRequestDuration.WithLabelValues(endpoint, r.Method, status).Observe(time.Since(start).Seconds())
	})
}
