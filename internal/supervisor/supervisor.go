package supervisor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/accounts"
	"github.com/onnwee/reddit-scraper-fleet/internal/config"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/logger"
	"github.com/onnwee/reddit-scraper-fleet/internal/scraper"
	"github.com/onnwee/reddit-scraper-fleet/internal/secrets"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

// SettingAutoRestart is the service_settings key for the fleet-wide restart
// switch. When off, the monitor observes but never relaunches.
const SettingAutoRestart = "auto_restart_enabled"

// stopGrace is how long a worker gets to finish its current post after
// SIGTERM before the engine escalates to SIGKILL.
const stopGrace = 10 * time.Second

var (
	// ErrAlreadyRunning is returned by Start when the scraper already has a
	// live container.
	ErrAlreadyRunning = errors.New("scraper already running")
	// ErrNoContainer is returned when an operation needs a container and the
	// record has none.
	ErrNoContainer = errors.New("scraper has no container")
)

// store is the slice of the query layer the supervisor drives.
type store interface {
	GetScraper(ctx context.Context, id string) (db.Scraper, error)
	CreateScraper(ctx context.Context, p db.CreateScraperParams) (db.Scraper, error)
	ListScrapers(ctx context.Context) ([]db.Scraper, error)
	ListScrapersByStatus(ctx context.Context, status string) ([]db.Scraper, error)
	DeleteScraper(ctx context.Context, id string) error
	SetScraperStatus(ctx context.Context, id, status, lastErr string) error
	SetScraperContainer(ctx context.Context, id, containerID, containerName string) error
	ClearScraperContainer(ctx context.Context, id string) error
	SetScraperAutoRestart(ctx context.Context, id string, enabled bool) error
	IncrementScraperRestartCount(ctx context.Context, id string) error
	UpdateScraperCredentials(ctx context.Context, id string, credentials []byte, accountName sql.NullString) error
	UpdateScraperConfig(ctx context.Context, id string, cfg db.ScraperConfig) error
	AddScraperSubreddits(ctx context.Context, id string, subs []string) (db.Scraper, error)
	GetBoolSetting(ctx context.Context, key string, def bool) (bool, error)
}

// credentialStore resolves and saves named credential sets.
type credentialStore interface {
	Resolve(ctx context.Context, name string) (scraper.Credentials, error)
	Save(ctx context.Context, name string, c scraper.Credentials) (db.Account, error)
}

// Supervisor owns the worker fleet: it launches containers for scraper
// records, tears them down, and reconciles records against the engine. It is
// the only code that writes the container columns.
type Supervisor struct {
	store    store
	accounts credentialStore
	rt       ContainerRuntime
	sealer   secrets.Sealer
	cfg      *config.Config
	log      *slog.Logger

	mu       sync.Mutex
	restarts map[string][]time.Time
}

func New(q *db.Queries, rt ContainerRuntime, sealer secrets.Sealer) *Supervisor {
	return &Supervisor{
		store:    q,
		accounts: accounts.New(q, sealer),
		rt:       rt,
		sealer:   sealer,
		cfg:      config.Load(),
		log:      logger.WithComponent("supervisor"),
		restarts: make(map[string][]time.Time),
	}
}

// StartRequest describes a scraper to create or relaunch. Credentials come
// from a saved account or inline; inline credentials can be saved under a
// name for reuse.
type StartRequest struct {
	ID               string
	ScraperType      string
	PrimarySubreddit string
	Subreddits       []string
	AccountName      string
	Credentials      *scraper.Credentials
	SaveAccountAs    string
	Config           *db.ScraperConfig
	AutoRestart      *bool
}

// Start resolves credentials, persists the scraper record and launches its
// worker container. An existing record is reused: its credentials and config
// are refreshed and any new subreddits are merged into the queue.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (db.Scraper, error) {
	if req.ScraperType != db.ScraperTypePosts && req.ScraperType != db.ScraperTypeComments {
		return db.Scraper{}, fmt.Errorf("scraper_type must be %q or %q", db.ScraperTypePosts, db.ScraperTypeComments)
	}
	primary := utils.NormalizeSubreddit(req.PrimarySubreddit)
	if primary == "" {
		return db.Scraper{}, fmt.Errorf("primary_subreddit is required")
	}
	id := req.ID
	if id == "" {
		id = primary
		if req.ScraperType == db.ScraperTypeComments {
			id = primary + "-comments"
		}
	}
	subs := utils.NormalizeSubreddits(append([]string{primary}, req.Subreddits...))
	if len(subs) > db.MaxSubreddits {
		return db.Scraper{}, fmt.Errorf("%w of %d", db.ErrSubredditLimit, db.MaxSubreddits)
	}

	creds, accountName, err := s.resolveCredentials(ctx, req)
	if err != nil {
		return db.Scraper{}, err
	}
	sealed, err := s.sealCredentials(creds)
	if err != nil {
		return db.Scraper{}, err
	}

	rec, err := s.store.GetScraper(ctx, id)
	switch {
	case err == nil:
		if (rec.Status == db.ScraperStatusRunning || rec.Status == db.ScraperStatusStarting) && s.containerAlive(ctx, rec) {
			return rec, ErrAlreadyRunning
		}
		if err := s.store.UpdateScraperCredentials(ctx, id, sealed, accountName); err != nil {
			return rec, fmt.Errorf("refresh credentials: %w", err)
		}
		if req.Config != nil {
			if err := s.store.UpdateScraperConfig(ctx, id, *req.Config); err != nil {
				return rec, fmt.Errorf("refresh config: %w", err)
			}
		}
		if req.AutoRestart != nil {
			if err := s.store.SetScraperAutoRestart(ctx, id, *req.AutoRestart); err != nil {
				return rec, err
			}
		}
		if rec, err = s.store.AddScraperSubreddits(ctx, id, subs); err != nil {
			return rec, fmt.Errorf("merge subreddits: %w", err)
		}
	case errors.Is(err, db.ErrNotFound):
		auto := true
		if req.AutoRestart != nil {
			auto = *req.AutoRestart
		}
		var cfg db.ScraperConfig
		if req.Config != nil {
			cfg = *req.Config
		}
		rec, err = s.store.CreateScraper(ctx, db.CreateScraperParams{
			ID:               id,
			ScraperType:      req.ScraperType,
			PrimarySubreddit: primary,
			Subreddits:       subs,
			Config:           cfg,
			Credentials:      sealed,
			AccountName:      accountName,
			AutoRestart:      auto,
		})
		if err != nil {
			return db.Scraper{}, fmt.Errorf("create scraper: %w", err)
		}
	default:
		return db.Scraper{}, err
	}

	return s.launch(ctx, rec)
}

func (s *Supervisor) resolveCredentials(ctx context.Context, req StartRequest) (scraper.Credentials, sql.NullString, error) {
	switch {
	case req.AccountName != "":
		creds, err := s.accounts.Resolve(ctx, req.AccountName)
		if err != nil {
			return scraper.Credentials{}, sql.NullString{}, fmt.Errorf("resolve account %s: %w", req.AccountName, err)
		}
		return creds, sql.NullString{String: req.AccountName, Valid: true}, nil
	case req.Credentials != nil:
		creds := *req.Credentials
		if err := creds.Validate(); err != nil {
			return scraper.Credentials{}, sql.NullString{}, err
		}
		if req.SaveAccountAs != "" {
			if _, err := s.accounts.Save(ctx, req.SaveAccountAs, creds); err != nil {
				return scraper.Credentials{}, sql.NullString{}, fmt.Errorf("save account %s: %w", req.SaveAccountAs, err)
			}
			return creds, sql.NullString{String: req.SaveAccountAs, Valid: true}, nil
		}
		return creds, sql.NullString{}, nil
	default:
		return scraper.Credentials{}, sql.NullString{}, fmt.Errorf("account_name or credentials required")
	}
}

func (s *Supervisor) sealCredentials(c scraper.Credentials) ([]byte, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal(doc)
	if err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}
	return sealed, nil
}

// OpenCredentials is the inverse of the sealing Start performs; the worker
// process uses it to read its own record.
func OpenCredentials(sealer secrets.Sealer, sealed []byte) (scraper.Credentials, error) {
	doc, err := sealer.Open(sealed)
	if err != nil {
		return scraper.Credentials{}, fmt.Errorf("open credentials: %w", err)
	}
	var c scraper.Credentials
	if err := json.Unmarshal(doc, &c); err != nil {
		return scraper.Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	return c, nil
}

func (s *Supervisor) containerName(id string) string {
	return s.cfg.ContainerPrefix + id
}

// forwardedEnv lists fleet-level settings copied into every worker
// container. Per-scraper tuning rides the record's config document instead.
var forwardedEnv = []string{
	"DATABASE_URL",
	"CREDENTIAL_KEY",
	"LOG_LEVEL",
	"REDDIT_USER_AGENT",
	"SCRAPER_RPS",
	"SCRAPER_BURST_SIZE",
	"RATE_LIMIT_THRESHOLD",
	"RATE_LIMIT_GUARD_SECONDS",
	"COST_PER_1000_REQUESTS",
	"USAGE_FLUSH_INTERVAL_SECONDS",
	"OTEL_ENABLED",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"SENTRY_DSN",
	"SENTRY_ENVIRONMENT",
}

func (s *Supervisor) workerEnv(rec db.Scraper) map[string]string {
	env := map[string]string{"SCRAPER_ID": rec.ID}
	for _, k := range forwardedEnv {
		if v := os.Getenv(k); v != "" {
			env[k] = v
		}
	}
	return env
}

// launch flips the record to starting and runs a fresh container for it.
// The worker itself reports running once its first authenticated call
// succeeds.
func (s *Supervisor) launch(ctx context.Context, rec db.Scraper) (db.Scraper, error) {
	if err := s.store.SetScraperStatus(ctx, rec.ID, db.ScraperStatusStarting, ""); err != nil {
		return rec, err
	}
	s.cleanupContainer(ctx, rec)

	name := s.containerName(rec.ID)
	cid, err := s.rt.Launch(ctx, LaunchSpec{Name: name, Image: s.cfg.WorkerImage, Env: s.workerEnv(rec)})
	if err != nil {
		_ = s.store.SetScraperStatus(ctx, rec.ID, db.ScraperStatusFailed, "launch: "+err.Error())
		return rec, fmt.Errorf("launch %s: %w", rec.ID, err)
	}
	if err := s.store.SetScraperContainer(ctx, rec.ID, cid, name); err != nil {
		return rec, fmt.Errorf("record container: %w", err)
	}
	s.log.InfoContext(ctx, "🚀 worker launched",
		"scraper_id", rec.ID, "container", name, "container_id", utils.TruncateString(cid, 12))

	rec.Status = db.ScraperStatusStarting
	rec.ContainerID = sql.NullString{String: cid, Valid: true}
	rec.ContainerName = sql.NullString{String: name, Valid: true}
	return rec, nil
}

// cleanupContainer removes whatever is left of a scraper's previous
// container, by recorded id and by deterministic name, so a relaunch never
// trips over a name conflict.
func (s *Supervisor) cleanupContainer(ctx context.Context, rec db.Scraper) {
	if rec.ContainerID.Valid && rec.ContainerID.String != "" {
		if err := s.rt.Remove(ctx, rec.ContainerID.String); err != nil && !errors.Is(err, ErrContainerNotFound) {
			s.log.WarnContext(ctx, "⚠️ stale container remove failed", "scraper_id", rec.ID, "error", err)
		}
	}
	if err := s.rt.Remove(ctx, s.containerName(rec.ID)); err != nil && !errors.Is(err, ErrContainerNotFound) {
		s.log.DebugContext(ctx, "stale name remove failed", "scraper_id", rec.ID, "error", err)
	}
}

func (s *Supervisor) containerAlive(ctx context.Context, rec db.Scraper) bool {
	if !rec.ContainerID.Valid || rec.ContainerID.String == "" {
		return false
	}
	info, err := s.rt.Inspect(ctx, rec.ContainerID.String)
	return err == nil && info.Running
}

// Alive reports whether the record's container is currently running. Used
// by the API to reconcile stored status against the engine without writing.
func (s *Supervisor) Alive(ctx context.Context, rec db.Scraper) bool {
	return s.containerAlive(ctx, rec)
}

// RotateCredentials swaps a scraper's stored credentials and relaunches a
// live worker so the new identity takes effect immediately. Stopped
// scrapers just get the new seal and pick it up on their next start.
// Returns whether a relaunch happened.
func (s *Supervisor) RotateCredentials(ctx context.Context, id string, req StartRequest) (bool, error) {
	rec, err := s.store.GetScraper(ctx, id)
	if err != nil {
		return false, err
	}
	req.ID = id
	creds, accountName, err := s.resolveCredentials(ctx, req)
	if err != nil {
		return false, err
	}
	sealed, err := s.sealCredentials(creds)
	if err != nil {
		return false, err
	}
	if err := s.store.UpdateScraperCredentials(ctx, id, sealed, accountName); err != nil {
		return false, fmt.Errorf("update credentials: %w", err)
	}
	s.log.InfoContext(ctx, "🔑 credentials rotated", "scraper_id", id, "account", accountName.String)

	if rec.Status != db.ScraperStatusRunning && rec.Status != db.ScraperStatusStarting {
		return false, nil
	}
	if err := s.Restart(ctx, id); err != nil {
		return false, fmt.Errorf("relaunch after rotation: %w", err)
	}
	return true, nil
}

// Stop shuts one worker down. The status flips first so the rotation loop
// can also exit on its own before the signal lands.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	rec, err := s.store.GetScraper(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SetScraperStatus(ctx, id, db.ScraperStatusStopped, ""); err != nil {
		return err
	}
	s.stopContainer(ctx, rec)
	if err := s.store.ClearScraperContainer(ctx, id); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "✅ worker stopped", "scraper_id", id)
	return nil
}

// stopContainer terminates the record's container, escalating from SIGTERM
// to SIGKILL. A container that is already gone is not an error.
func (s *Supervisor) stopContainer(ctx context.Context, rec db.Scraper) {
	if !rec.ContainerID.Valid || rec.ContainerID.String == "" {
		return
	}
	cid := rec.ContainerID.String
	if err := s.rt.Stop(ctx, cid, stopGrace); err != nil && !errors.Is(err, ErrContainerNotFound) {
		s.log.WarnContext(ctx, "⚠️ graceful stop failed, killing", "scraper_id", rec.ID, "error", err)
		if err := s.rt.Kill(ctx, cid); err != nil && !errors.Is(err, ErrContainerNotFound) {
			s.log.ErrorContext(ctx, "❌ kill failed", "scraper_id", rec.ID, "error", err)
		}
	}
}

// Restart tears down whatever is running and launches a fresh container
// from the stored record.
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	rec, err := s.store.GetScraper(ctx, id)
	if err != nil {
		return err
	}
	s.stopContainer(ctx, rec)
	_, err = s.launch(ctx, rec)
	return err
}

// RestartAllFailed relaunches every failed scraper regardless of its
// auto_restart flag. Operator-driven, so the hourly ceiling does not apply.
func (s *Supervisor) RestartAllFailed(ctx context.Context) ([]string, error) {
	recs, err := s.store.ListScrapersByStatus(ctx, db.ScraperStatusFailed)
	if err != nil {
		return nil, err
	}
	var restarted []string
	for _, rec := range recs {
		if err := s.Restart(ctx, rec.ID); err != nil {
			s.log.ErrorContext(ctx, "❌ restart failed", "scraper_id", rec.ID, "error", err)
			continue
		}
		restarted = append(restarted, rec.ID)
	}
	return restarted, nil
}

// Delete stops the worker and removes the scraper record. Harvested posts
// and comments stay in the store.
func (s *Supervisor) Delete(ctx context.Context, id string) error {
	rec, err := s.store.GetScraper(ctx, id)
	if err != nil {
		return err
	}
	s.stopContainer(ctx, rec)
	s.cleanupContainer(ctx, rec)
	if err := s.store.DeleteScraper(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.restarts, id)
	s.mu.Unlock()
	s.log.InfoContext(ctx, "🗑️ scraper deleted", "scraper_id", id)
	return nil
}

// Logs returns the last lines of a worker's container output.
func (s *Supervisor) Logs(ctx context.Context, id string, lines int) (string, error) {
	rec, err := s.store.GetScraper(ctx, id)
	if err != nil {
		return "", err
	}
	if !rec.ContainerID.Valid || rec.ContainerID.String == "" {
		return "", ErrNoContainer
	}
	if lines <= 0 {
		lines = 100
	}
	return s.rt.Logs(ctx, rec.ContainerID.String, lines)
}

// SetAutoRestart toggles supervisor-driven restarts for one scraper.
func (s *Supervisor) SetAutoRestart(ctx context.Context, id string, enabled bool) error {
	return s.store.SetScraperAutoRestart(ctx, id, enabled)
}

// Ping reports whether the container engine is reachable.
func (s *Supervisor) Ping(ctx context.Context) error {
	return s.rt.Ping(ctx)
}

// CalculateRetryDelay returns the backoff before restart attempt
// retryCount: exponential from one minute, capped at a day, with 20% jitter
// so a rack of failed workers does not relaunch in lockstep.
func CalculateRetryDelay(retryCount int32) time.Duration {
	baseDelay := 1 * time.Minute
	maxDelay := 24 * time.Hour

	delay := baseDelay * time.Duration(1<<uint(retryCount))
	if delay > maxDelay {
		delay = maxDelay
	}

	jitter := time.Duration(float64(delay) * 0.2 * rand.Float64())
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
