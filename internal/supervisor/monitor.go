package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
)

// Run drives the reconcile loop until the context is cancelled. Each pass
// checks live containers against their records and relaunches eligible
// failed workers.
func (s *Supervisor) Run(ctx context.Context) error {
	interval := s.cfg.MonitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.log.InfoContext(ctx, "🔄 supervisor monitor started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				s.log.WarnContext(ctx, "⚠️ reconcile pass failed", "error", err)
			}
		}
	}
}

// Reconcile walks every scraper record once. Records that claim a live
// container are verified against the engine; failed records are considered
// for restart. Stopped records are operator intent and are left alone. The
// maintenance scheduler also calls this as a sweep behind the monitor loop.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	recs, err := s.store.ListScrapers(ctx)
	if err != nil {
		return err
	}
	fleetOn, err := s.store.GetBoolSetting(ctx, SettingAutoRestart, true)
	if err != nil {
		s.log.WarnContext(ctx, "⚠️ fleet switch read failed, assuming on", "error", err)
	}

	now := time.Now()
	for _, rec := range recs {
		switch rec.Status {
		case db.ScraperStatusRunning, db.ScraperStatusStarting:
			s.checkLiveness(ctx, rec)
		case db.ScraperStatusFailed:
			if fleetOn {
				s.maybeRestart(ctx, rec, now)
			}
		}
	}
	return nil
}

func (s *Supervisor) checkLiveness(ctx context.Context, rec db.Scraper) {
	if !rec.ContainerID.Valid || rec.ContainerID.String == "" {
		// A Start may be in flight; give the record one interval to pick up
		// its container before declaring it lost.
		if time.Since(rec.LastUpdated) < s.cfg.MonitorInterval {
			return
		}
		s.markDead(ctx, rec, "no container recorded")
		return
	}

	info, err := s.rt.Inspect(ctx, rec.ContainerID.String)
	if errors.Is(err, ErrContainerNotFound) {
		s.markDead(ctx, rec, "container disappeared")
		return
	}
	if err != nil {
		// Engine hiccup; the next pass will see it again.
		s.log.WarnContext(ctx, "⚠️ inspect failed", "scraper_id", rec.ID, "error", err)
		return
	}
	if !info.Running {
		reason := fmt.Sprintf("container exited with code %d", info.ExitCode)
		if info.Error != "" {
			reason += ": " + info.Error
		}
		s.markDead(ctx, rec, reason)
	}
}

func (s *Supervisor) markDead(ctx context.Context, rec db.Scraper, reason string) {
	s.log.WarnContext(ctx, "❌ worker died", "scraper_id", rec.ID, "reason", reason)
	if err := s.store.SetScraperStatus(ctx, rec.ID, db.ScraperStatusFailed, reason); err != nil {
		s.log.ErrorContext(ctx, "❌ mark failed errored", "scraper_id", rec.ID, "error", err)
		return
	}
	if err := s.store.ClearScraperContainer(ctx, rec.ID); err != nil {
		s.log.ErrorContext(ctx, "❌ clear container errored", "scraper_id", rec.ID, "error", err)
	}
}

// maybeRestart relaunches a failed worker once it has sat out its cooldown
// and backoff and the hourly ceiling has room. The first restart in an hour
// waits only the cooldown; repeated ones back off exponentially.
func (s *Supervisor) maybeRestart(ctx context.Context, rec db.Scraper, now time.Time) {
	if !rec.AutoRestart {
		return
	}
	recent := s.recentRestarts(rec.ID, now)
	if recent >= s.cfg.MaxRestartsHour {
		s.log.WarnContext(ctx, "⚠️ restart ceiling reached, leaving failed",
			"scraper_id", rec.ID, "restarts_last_hour", recent)
		return
	}

	var need, since time.Duration
	if recent == 0 {
		need = s.cfg.RestartCooldown
		since = now.Sub(rec.LastUpdated)
	} else {
		need = CalculateRetryDelay(int32(recent - 1))
		since = now.Sub(rec.LastUpdated)
		if rec.LastRestartAt.Valid {
			since = now.Sub(rec.LastRestartAt.Time)
		}
	}
	if since < need {
		s.log.DebugContext(ctx, "restart backoff in effect",
			"scraper_id", rec.ID, "waited", since, "need", need)
		return
	}

	if err := sleepCtx(ctx, s.cfg.RestartDelay); err != nil {
		return
	}
	s.log.InfoContext(ctx, "🔄 auto-restarting failed worker",
		"scraper_id", rec.ID, "restarts_last_hour", recent, "last_error", rec.LastError.String)
	if err := s.Restart(ctx, rec.ID); err != nil {
		s.log.ErrorContext(ctx, "❌ auto-restart failed", "scraper_id", rec.ID, "error", err)
		return
	}
	s.noteRestart(rec.ID, time.Now())
	if err := s.store.IncrementScraperRestartCount(ctx, rec.ID); err != nil {
		s.log.WarnContext(ctx, "⚠️ restart count update failed", "scraper_id", rec.ID, "error", err)
	}
	metrics.WorkerRestarts.WithLabelValues("dead").Inc()
}

// recentRestarts prunes and counts this scraper's restarts in the past hour.
func (s *Supervisor) recentRestarts(id string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.restarts[id][:0]
	for _, t := range s.restarts[id] {
		if now.Sub(t) < time.Hour {
			kept = append(kept, t)
		}
	}
	s.restarts[id] = kept
	return len(kept)
}

func (s *Supervisor) noteRestart(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts[id] = append(s.restarts[id], at)
}
