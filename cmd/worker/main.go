package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/config"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/errorreporting"
	"github.com/onnwee/reddit-scraper-fleet/internal/logger"
	"github.com/onnwee/reddit-scraper-fleet/internal/scraper"
	"github.com/onnwee/reddit-scraper-fleet/internal/secrets"
	"github.com/onnwee/reddit-scraper-fleet/internal/supervisor"
	"github.com/onnwee/reddit-scraper-fleet/internal/tracing"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	scraperID := os.Getenv("SCRAPER_ID")
	if scraperID == "" {
		logger.Error("SCRAPER_ID not set")
		log.Fatal("SCRAPER_ID not set")
	}
	logger.Info("Initializing worker", "scraper_id", scraperID, "log_level", cfg.LogLevel)

	if err := errorreporting.Init(cfg.SentryEnvironment); err != nil {
		logger.Warn("Failed to initialize error reporting", "error", err)
	} else if errorreporting.IsSentryEnabled() {
		logger.Info("Error reporting initialized", "environment", cfg.SentryEnvironment)
		defer func() {
			errorreporting.Flush(2 * time.Second)
		}()
	}

	shutdownTracing, err := tracing.Init("reddit-scraper-fleet-worker")
	if err != nil {
		logger.Warn("Failed to initialize tracing", "error", err)
	} else if cfg.OTELEnabled {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		logger.Error("DATABASE_URL not set")
		log.Fatal("DATABASE_URL not set")
	}

	// Schema migration is the control plane's job; the worker only
	// connects. Freshly launched containers can beat the database coming
	// up, so the first connect gets a few tries.
	var queries *db.Queries
	if err := utils.Retry(5, 3*time.Second, func() error {
		var dbErr error
		queries, dbErr = db.Init(connStr)
		return dbErr
	}); err != nil {
		logger.Error("Failed to connect to store", "error", err)
		log.Fatalf("Failed to connect to store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec, err := queries.GetScraper(ctx, scraperID)
	if err != nil {
		logger.Error("Failed to load scraper record", "scraper_id", scraperID, "error", err)
		log.Fatalf("Failed to load scraper record %s: %v", scraperID, err)
	}

	creds, err := workerCredentials(cfg, rec.Credentials)
	if err != nil {
		logger.Error("Failed to resolve credentials", "scraper_id", scraperID, "error", err)
		log.Fatalf("Failed to resolve credentials for %s: %v", scraperID, err)
	}

	w, err := scraper.NewWorker(queries, rec, creds)
	if err != nil {
		logger.Error("Failed to build worker", "scraper_id", scraperID, "error", err)
		log.Fatalf("Failed to build worker for %s: %v", scraperID, err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker exited", "scraper_id", scraperID, "error", err)
		log.Fatalf("Worker exited: %v", err)
	}
	logger.Info("Worker stopped", "scraper_id", scraperID)
}

// workerCredentials unseals the record's credentials. A record without any
// falls back to the env credentials so a standalone worker can still run
// outside the fleet.
func workerCredentials(cfg *config.Config, sealed []byte) (scraper.Credentials, error) {
	var creds scraper.Credentials
	if len(sealed) > 0 {
		sealer, err := secrets.SealerFromEnv()
		if err != nil {
			return scraper.Credentials{}, err
		}
		creds, err = supervisor.OpenCredentials(sealer, sealed)
		if err != nil {
			return scraper.Credentials{}, err
		}
	} else {
		creds = scraper.Credentials{
			ClientID:     cfg.RedditClientID,
			ClientSecret: cfg.RedditClientSecret,
			Username:     cfg.RedditUsername,
			Password:     cfg.RedditPassword,
		}
	}
	if creds.UserAgent == "" {
		creds.UserAgent = cfg.UserAgent
	}
	if err := creds.Validate(); err != nil {
		return scraper.Credentials{}, err
	}
	return creds, nil
}
