package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/cache"
	"github.com/onnwee/reddit-scraper-fleet/internal/circuitbreaker"
	"github.com/onnwee/reddit-scraper-fleet/internal/config"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/httpx"
	"github.com/onnwee/reddit-scraper-fleet/internal/logger"
)

// Worker runs one scraper: it owns the authenticated Reddit client, the
// rate limit oracle, and the rotation loop over the scraper's subreddit
// queue. One worker runs per container and is the sole writer of its row's
// metrics document.
type Worker struct {
	q   *db.Queries
	cfg *config.Config
	log *slog.Logger

	scraperID   string
	scraperType string
	userAgent   string
	baseURL     string
	containerID string

	httpClient *http.Client
	transport  *httpx.CountingTransport
	oracle     *Oracle
	tokens     *TokenManager
	breaker    *circuitbreaker.CircuitBreaker
	recorder   *UsageRecorder
	seen       cache.Cache

	// fetch performs one authenticated GET. Tests replace it to serve
	// canned listings without touching the network.
	fetch func(ctx context.Context, rawURL string) (*http.Response, error)
}

// NewWorker wires a worker for the given scraper row. Credentials are the
// already-unsealed Reddit app credentials for this scraper's account.
func NewWorker(q *db.Queries, s db.Scraper, creds Credentials) (*Worker, error) {
	cfg := config.Load()
	log := logger.WithScraper(s.ID, s.ScraperType)

	oracle := NewOracle(cfg.ScraperRPS, cfg.ScraperBurstSize, cfg.RateLimitThreshold, cfg.RateLimitGuard)
	transport := httpx.NewCountingTransport(nil, s.ScraperType, cfg.CostPer1000Requests, oracle)
	client := &http.Client{Transport: transport, Timeout: cfg.HTTPTimeout}

	// Token requests ride the same counted, paced client as everything else
	// so auth traffic shows up in the usage ledger.
	tokens, err := NewTokenManager(creds, client, func(ctx context.Context, attempt int) error { return oracle.AwaitCapacity(ctx) })
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()

	w := &Worker{
		q:           q,
		cfg:         cfg,
		log:         log,
		scraperID:   s.ID,
		scraperType: s.ScraperType,
		userAgent:   creds.UserAgent,
		baseURL:     defaultBaseURL,
		containerID: hostname,
		httpClient:  client,
		transport:   transport,
		oracle:      oracle,
		tokens:      tokens,
		breaker:     circuitbreaker.New(circuitbreaker.Config{Name: s.ScraperType}),
	}
	w.fetch = w.authenticatedGet
	w.recorder = NewUsageRecorder(q, s.ScraperType, hostname, cfg.CostPer1000Requests, oracle.Snapshot, cfg.UsageFlushInterval)

	lru, err := cache.NewLRU(4, 2048, 0)
	if err != nil {
		log.Warn("falling back to unbounded cache", "error", err)
		w.seen = cache.NewMockCache()
	} else {
		w.seen = lru
	}
	return w, nil
}

// Stop releases background resources. Safe to call once Run has returned.
func (w *Worker) Stop() {
	w.tokens.Stop()
}

// effectiveConfig is the per-cycle view of the scraper's tuning: fleet
// defaults overlaid with the scraper row's config document. Pointer fields
// in the document let an operator pin an explicit zero.
type effectiveConfig struct {
	postsLimit           int
	sortLimits           map[string]int
	sortingMethods       []string
	interval             time.Duration
	rotationDelay        time.Duration
	commentBatch         int
	maxCommentDepth      int
	moreCommentsLimit    int
	maxRetries           int
	topTimeFilter        string
	initialTopTimeFilter string
	verifyBeforeMarking  bool
}

func (w *Worker) resolveConfig(s *db.Scraper) effectiveConfig {
	ec := effectiveConfig{
		postsLimit:           w.cfg.PostsLimit,
		sortingMethods:       w.cfg.SortingMethods,
		interval:             time.Duration(w.cfg.IntervalSeconds) * time.Second,
		rotationDelay:        w.cfg.RotationDelay,
		commentBatch:         w.cfg.CommentBatch,
		maxCommentDepth:      w.cfg.MaxCommentDepth,
		moreCommentsLimit:    w.cfg.MoreCommentsLimit,
		maxRetries:           w.cfg.ScrapeMaxRetries,
		topTimeFilter:        w.cfg.TopTimeFilter,
		initialTopTimeFilter: w.cfg.InitialTopTimeFilter,
		verifyBeforeMarking:  true,
	}
	doc, err := s.ParsedConfig()
	if err != nil {
		w.log.Warn("ignoring malformed scraper config document", "error", err)
		return ec
	}
	if doc.PostsLimit > 0 {
		ec.postsLimit = doc.PostsLimit
	}
	if len(doc.SortLimits) > 0 {
		ec.sortLimits = doc.SortLimits
	}
	if len(doc.SortingMethods) > 0 {
		ec.sortingMethods = doc.SortingMethods
	}
	if doc.IntervalSeconds > 0 {
		ec.interval = time.Duration(doc.IntervalSeconds) * time.Second
	}
	if doc.RotationDelaySeconds > 0 {
		ec.rotationDelay = time.Duration(doc.RotationDelaySeconds) * time.Second
	}
	if doc.CommentBatch > 0 {
		ec.commentBatch = doc.CommentBatch
	}
	if doc.MaxCommentDepth != nil {
		ec.maxCommentDepth = *doc.MaxCommentDepth
	}
	if doc.MoreCommentsLimit != nil {
		ec.moreCommentsLimit = *doc.MoreCommentsLimit
	}
	if doc.MaxRetries > 0 {
		ec.maxRetries = doc.MaxRetries
	}
	if doc.TopTimeFilter != "" {
		ec.topTimeFilter = doc.TopTimeFilter
	}
	if doc.InitialTopTimeFilter != "" {
		ec.initialTopTimeFilter = doc.InitialTopTimeFilter
	}
	if doc.VerifyBeforeMarking != nil {
		ec.verifyBeforeMarking = *doc.VerifyBeforeMarking
	}
	return ec
}

// sortLimit returns how many posts to collect for one sorting method.
func (ec effectiveConfig) sortLimit(sort string) int {
	if n, ok := ec.sortLimits[sort]; ok && n > 0 {
		return n
	}
	return ec.postsLimit
}
