package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/config"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/logger"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

// Task names as stored in the scheduled_tasks table. Operators toggle tasks
// through the table's enabled column; run history lives there too.
const (
	TaskSuggestionsSync = "suggestions_sync"
	TaskUsagePrune      = "usage_prune"
	TaskErrorsPrune     = "errors_prune"
	TaskFailedSweep     = "failed_sweep"
)

// errorRetention is how long resolved ledger rows are kept before the daily
// prune drops them.
const errorRetention = 7 * 24 * time.Hour

// sweeper is the slice of the supervisor the failed-sweep task needs.
type sweeper interface {
	Reconcile(ctx context.Context) error
}

// Service runs the control plane's maintenance tasks on their stored
// schedules: merging subreddit suggestions into the active posts scraper,
// pruning usage and error history, and a reconcile sweep behind the
// supervisor's own monitor loop.
type Service struct {
	q     *db.Queries
	sup   sweeper
	cfg   *config.Config
	log   *slog.Logger
	tasks map[string]func(context.Context) error
	stop  chan struct{}
}

func NewService(q *db.Queries, sup sweeper) *Service {
	s := &Service{
		q:    q,
		sup:  sup,
		cfg:  config.Load(),
		log:  logger.WithComponent("scheduler"),
		stop: make(chan struct{}),
	}
	s.tasks = map[string]func(context.Context) error{
		TaskSuggestionsSync: s.syncSuggestions,
		TaskUsagePrune:      s.pruneUsage,
		TaskErrorsPrune:     s.pruneErrors,
		TaskFailedSweep:     s.sweepFailed,
	}
	return s
}

// defaultSchedules seeds the task table on startup. Upserting only refreshes
// the cron expression, so operator enable toggles survive restarts.
var defaultSchedules = []struct {
	name string
	cron string
}{
	{TaskSuggestionsSync, "@every 60s"},
	{TaskUsagePrune, "@daily"},
	{TaskErrorsPrune, "@daily"},
	{TaskFailedSweep, "@every 5m"},
}

// Start registers the default schedules and polls for due tasks until the
// context is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.log.InfoContext(ctx, "🕐 maintenance scheduler started")
	for _, d := range defaultSchedules {
		if err := s.q.UpsertScheduledTask(ctx, d.name, d.cron); err != nil {
			s.log.ErrorContext(ctx, "❌ task registration failed", "task", d.name, "error", err)
		}
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	s.runDueTasks(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "scheduler stopped by context")
			return
		case <-s.stop:
			s.log.InfoContext(ctx, "scheduler stopped")
			return
		case <-ticker.C:
			s.runDueTasks(ctx)
		}
	}
}

// Stop shuts the scheduler down.
func (s *Service) Stop() {
	close(s.stop)
}

func (s *Service) runDueTasks(ctx context.Context) {
	due, err := s.q.ListDueScheduledTasks(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "❌ listing due tasks failed", "error", err)
		return
	}
	for _, task := range due {
		if err := s.executeTask(ctx, task); err != nil {
			s.log.ErrorContext(ctx, "❌ task failed", "task", task.Name, "error", err)
		}
	}
}

// executeTask runs one due task and stamps its next run time. An
// unparseable cron expression leaves the row untouched so the problem
// surfaces in the log instead of a tight rerun loop.
func (s *Service) executeTask(ctx context.Context, task db.ScheduledTask) error {
	fn, ok := s.tasks[task.Name]
	if !ok {
		return fmt.Errorf("unknown task %q", task.Name)
	}

	start := time.Now()
	runErr := fn(ctx)
	if runErr != nil {
		s.log.WarnContext(ctx, "⚠️ task run errored", "task", task.Name, "error", runErr)
	} else {
		s.log.DebugContext(ctx, "task run complete", "task", task.Name, "took", time.Since(start))
	}

	nextRun, err := ParseCronExpression(task.CronExpression, time.Now())
	if err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", task.CronExpression, task.Name, err)
	}
	if err := s.q.UpdateScheduledTaskRun(ctx, task.ID, nextRun); err != nil {
		return fmt.Errorf("stamp run for %s: %w", task.Name, err)
	}
	return runErr
}

// syncSuggestions merges unseen suggestion rows into the active posts
// scraper's rotation and pending sets, then stamps the rows synced. With no
// active posts scraper the rows simply wait.
func (s *Service) syncSuggestions(ctx context.Context) error {
	suggestions, err := s.q.ListUnsyncedSuggestions(ctx)
	if err != nil {
		return err
	}
	if len(suggestions) == 0 {
		return nil
	}

	target, err := s.q.GetActiveScraperByType(ctx, db.ScraperTypePosts)
	if errors.Is(err, db.ErrNotFound) {
		s.log.DebugContext(ctx, "no active posts scraper, suggestions wait", "pending", len(suggestions))
		return nil
	}
	if err != nil {
		return err
	}

	for _, sug := range suggestions {
		subs := utils.NormalizeSubreddits(sug.Subreddits)
		if room := db.MaxSubreddits - len(target.Subreddits); len(subs) > room {
			if room <= 0 {
				s.log.WarnContext(ctx, "⚠️ rotation full, dropping suggestion overflow",
					"scraper_id", target.ID, "suggestion_id", sug.ID)
				subs = nil
			} else {
				s.log.WarnContext(ctx, "⚠️ rotation near cap, trimming suggestion",
					"scraper_id", target.ID, "suggestion_id", sug.ID, "kept", room)
				subs = subs[:room]
			}
		}
		if len(subs) > 0 {
			if target, err = s.q.AddScraperSubreddits(ctx, target.ID, subs); err != nil {
				return fmt.Errorf("merge suggestion %d: %w", sug.ID, err)
			}
			s.log.InfoContext(ctx, "✅ suggestion synced",
				"suggestion_id", sug.ID, "scraper_id", target.ID,
				"subreddits", len(subs), "source", sug.Source.String)
		}
		if err := s.q.MarkSuggestionSynced(ctx, sug.ID, target.ID); err != nil {
			return fmt.Errorf("stamp suggestion %d: %w", sug.ID, err)
		}
	}
	return nil
}

// pruneUsage drops usage ledger rows past the retention window.
func (s *Service) pruneUsage(ctx context.Context) error {
	days := s.cfg.UsageRetentionDays
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	n, err := s.q.PruneUsageBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.InfoContext(ctx, "🧹 usage rows pruned", "rows", n, "older_than_days", days)
	}
	return nil
}

// pruneErrors drops resolved ledger rows once they have aged out.
func (s *Service) pruneErrors(ctx context.Context) error {
	n, err := s.q.PruneResolvedErrors(ctx, time.Now().Add(-errorRetention))
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.InfoContext(ctx, "🧹 resolved errors pruned", "rows", n)
	}
	return nil
}

// sweepFailed runs one supervisor reconcile pass. The monitor already does
// this every 30 seconds; the sweep is the safety net if that loop stalls.
func (s *Service) sweepFailed(ctx context.Context) error {
	return s.sup.Reconcile(ctx)
}
