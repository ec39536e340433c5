package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/accounts"
	"github.com/onnwee/reddit-scraper-fleet/internal/api"
	"github.com/onnwee/reddit-scraper-fleet/internal/api/handlers"
	"github.com/onnwee/reddit-scraper-fleet/internal/cache"
	"github.com/onnwee/reddit-scraper-fleet/internal/config"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/logger"
	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
	"github.com/onnwee/reddit-scraper-fleet/internal/scheduler"
	"github.com/onnwee/reddit-scraper-fleet/internal/secrets"
	"github.com/onnwee/reddit-scraper-fleet/internal/supervisor"
)

// collectInterval is how often the metrics collector refreshes fleet gauges.
const collectInterval = 30 * time.Second

// shutdownGrace bounds how long in-flight requests get to finish once the
// server begins draining.
const shutdownGrace = 15 * time.Second

// Server is the control plane: the HTTP API plus the background jobs that
// keep the fleet honest. Everything shares one store handle.
type Server struct {
	Queries *db.Queries
	Fleet   *supervisor.Supervisor

	hub       *handlers.FleetHub
	scheduler *scheduler.Service
	collector *metrics.Collector
	httpSrv   *http.Server
}

// InitStore opens the fleet store and brings the schema up to date.
func InitStore(ctx context.Context, connStr string) (*db.Queries, error) {
	q, err := db.Init(connStr)
	if err != nil {
		return nil, err
	}
	if err := q.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return q, nil
}

// New assembles the control plane around an initialized store. The sealer
// key comes from CREDENTIAL_KEY; without it the server refuses to start
// rather than persist credentials in the clear.
func New(q *db.Queries, addr string) (*Server, error) {
	cfg := config.Load()

	sealer, err := secrets.SealerFromEnv()
	if err != nil {
		return nil, fmt.Errorf("credential sealer: %w", err)
	}

	fleet := supervisor.New(q, supervisor.NewDockerRuntime(cfg.DockerBinary), sealer)
	hub := handlers.NewFleetHub(q)

	// Response cache for the aggregate endpoints. Losing it costs latency,
	// not correctness, so a construction failure only logs.
	var respCache cache.Cache
	if lru, err := cache.NewLRU(8, 4096, 30*time.Second); err != nil {
		logger.Warn("response cache disabled", "error", err)
	} else {
		respCache = lru
	}

	router := api.NewRouter(api.Deps{
		Queries:  q,
		Fleet:    fleet,
		Accounts: accounts.New(q, sealer),
		Cache:    respCache,
		Hub:      hub,
		Config:   cfg,
	})

	return &Server{
		Queries:   q,
		Fleet:     fleet,
		hub:       hub,
		scheduler: scheduler.NewService(q, fleet),
		collector: metrics.NewCollector(q, collectInterval),
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start launches the background jobs and serves the API until ctx is
// cancelled, then drains in-flight requests before returning.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		if err := s.Fleet.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("fleet monitor exited", "error", err)
		}
	}()
	go s.hub.Run(ctx)
	go s.scheduler.Start(ctx)
	go s.collector.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 control plane listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("draining control plane")
	s.scheduler.Stop()
	s.collector.Stop()
	s.hub.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
