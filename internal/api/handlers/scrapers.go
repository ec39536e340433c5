package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/onnwee/reddit-scraper-fleet/internal/accounts"
	"github.com/onnwee/reddit-scraper-fleet/internal/apierr"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/metrics"
	"github.com/onnwee/reddit-scraper-fleet/internal/middleware"
	"github.com/onnwee/reddit-scraper-fleet/internal/scraper"
	"github.com/onnwee/reddit-scraper-fleet/internal/supervisor"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

type credentialsBody struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	UserAgent    string `json:"user_agent"`
}

func (c *credentialsBody) toCredentials() *scraper.Credentials {
	if c == nil {
		return nil
	}
	return &scraper.Credentials{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Username:     c.Username,
		Password:     c.Password,
		UserAgent:    c.UserAgent,
	}
}

type startScraperRequest struct {
	ID               string            `json:"id"`
	ScraperType      string            `json:"scraper_type"`
	PrimarySubreddit string            `json:"primary_subreddit"`
	Subreddits       []string          `json:"subreddits"`
	AccountName      string            `json:"account_name"`
	Credentials      *credentialsBody  `json:"credentials"`
	SaveAccountAs    string            `json:"save_account_as"`
	Config           *db.ScraperConfig `json:"config"`
	AutoRestart      *bool             `json:"auto_restart"`
}

// StartScraper creates or relaunches a scraper. Credentials come from a
// saved account or inline; a 409 means the worker is already up.
func StartScraper(fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startScraperRequest
		if apiErr := middleware.DecodeJSON(r, &req); apiErr != nil {
			apierr.WriteErrorWithContext(w, r, apiErr)
			return
		}

		if req.ScraperType != db.ScraperTypePosts && req.ScraperType != db.ScraperTypeComments {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("scraper_type",
				"scraper_type must be \"posts\" or \"comments\""))
			return
		}
		primary := utils.NormalizeSubreddit(req.PrimarySubreddit)
		if primary == "" {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("primary_subreddit"))
			return
		}
		if err := middleware.ValidateSubredditName(primary); err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.QueueInvalidSubreddit(err.Error()))
			return
		}
		for _, sub := range req.Subreddits {
			if err := middleware.ValidateSubredditName(utils.NormalizeSubreddit(sub)); err != nil {
				apierr.WriteErrorWithContext(w, r, apierr.QueueInvalidSubreddit(err.Error()))
				return
			}
		}
		if req.AccountName == "" && req.Credentials == nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("account_name or credentials"))
			return
		}

		rec, err := fleet.Start(r.Context(), supervisor.StartRequest{
			ID:               req.ID,
			ScraperType:      req.ScraperType,
			PrimarySubreddit: primary,
			Subreddits:       req.Subreddits,
			AccountName:      req.AccountName,
			Credentials:      req.Credentials.toCredentials(),
			SaveAccountAs:    req.SaveAccountAs,
			Config:           req.Config,
			AutoRestart:      req.AutoRestart,
		})
		switch {
		case errors.Is(err, supervisor.ErrAlreadyRunning):
			apierr.WriteErrorWithContext(w, r, apierr.ScraperAlreadyRunning(rec.ID))
			return
		case errors.Is(err, accounts.ErrNotFound):
			apierr.WriteErrorWithContext(w, r, apierr.AccountNotFound(req.AccountName))
			return
		case errors.Is(err, db.ErrSubredditLimit):
			apierr.WriteErrorWithContext(w, r, apierr.QueueLimitExceeded(db.MaxSubreddits))
			return
		case err != nil:
			apierr.WriteErrorWithContext(w, r, apierr.ScraperLaunchFailed(err.Error()))
			return
		}

		writeJSON(w, http.StatusOK, scraperView(rec, nil))
	}
}

// StopScraper shuts one worker down gracefully.
func StopScraper(fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := fleet.Stop(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.ScraperNotFound(id))
				return
			}
			apierr.WriteErrorWithContext(w, r, apierr.ScraperStopFailed(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"scraper_id": id, "status": db.ScraperStatusStopped})
	}
}

// RestartScraper relaunches one worker from its stored record.
func RestartScraper(fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := fleet.Restart(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.ScraperNotFound(id))
				return
			}
			apierr.WriteErrorWithContext(w, r, apierr.ScraperLaunchFailed(err.Error()))
			return
		}
		metrics.WorkerRestarts.WithLabelValues("manual").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"scraper_id": id, "status": db.ScraperStatusStarting})
	}
}

// RestartAllFailed relaunches every failed scraper and reports which ones
// came back.
func RestartAllFailed(fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		restarted, err := fleet.RestartAllFailed(r.Context())
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.ScraperLaunchFailed(err.Error()))
			return
		}
		for range restarted {
			metrics.WorkerRestarts.WithLabelValues("manual").Inc()
		}
		if restarted == nil {
			restarted = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"restarted": restarted, "count": len(restarted)})
	}
}

// DeleteScraper removes the record and its container. Harvested posts and
// comments stay in the store.
func DeleteScraper(fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := fleet.Delete(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.ScraperNotFound(id))
				return
			}
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"scraper_id": id, "status": "deleted"})
	}
}

// SetAutoRestart toggles supervisor-driven restarts for one scraper.
func SetAutoRestart(fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req struct {
			Enabled *bool `json:"enabled"`
		}
		if apiErr := middleware.DecodeJSON(r, &req); apiErr != nil {
			apierr.WriteErrorWithContext(w, r, apiErr)
			return
		}
		if req.Enabled == nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("enabled"))
			return
		}
		if err := fleet.SetAutoRestart(r.Context(), id, *req.Enabled); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.ScraperNotFound(id))
				return
			}
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scraper_id": id, "auto_restart": *req.Enabled})
	}
}

type rotateCredentialsRequest struct {
	AccountName   string           `json:"account_name"`
	Credentials   *credentialsBody `json:"credentials"`
	SaveAccountAs string           `json:"save_account_as"`
}

// RotateCredentials swaps the credentials a scraper runs under. A live
// worker is relaunched so the new identity takes effect immediately.
func RotateCredentials(fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req rotateCredentialsRequest
		if apiErr := middleware.DecodeJSON(r, &req); apiErr != nil {
			apierr.WriteErrorWithContext(w, r, apiErr)
			return
		}
		if req.AccountName == "" && req.Credentials == nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("account_name or credentials"))
			return
		}

		restarted, err := fleet.RotateCredentials(r.Context(), id, supervisor.StartRequest{
			AccountName:   req.AccountName,
			Credentials:   req.Credentials.toCredentials(),
			SaveAccountAs: req.SaveAccountAs,
		})
		switch {
		case errors.Is(err, db.ErrNotFound):
			apierr.WriteErrorWithContext(w, r, apierr.ScraperNotFound(id))
			return
		case errors.Is(err, accounts.ErrNotFound):
			apierr.WriteErrorWithContext(w, r, apierr.AccountNotFound(req.AccountName))
			return
		case err != nil:
			apierr.WriteErrorWithContext(w, r, apierr.AccountSealFailed(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scraper_id": id, "rotated": true, "restarted": restarted})
	}
}

// ScraperReader is the query subset the read-side scraper handlers use.
// *db.Queries satisfies it; tests substitute fakes.
type ScraperReader interface {
	ListScrapers(ctx context.Context) ([]db.Scraper, error)
	GetScraper(ctx context.Context, id string) (db.Scraper, error)
	GetStatusSummary(ctx context.Context) ([]db.StatusSummaryRow, error)
	GetSubredditWorkStats(ctx context.Context, subreddits []string) ([]db.SubredditWorkStats, error)
}

// ListScrapers returns every record with its container's live state, probed
// against the engine without touching the stored status.
func ListScrapers(q ScraperReader, fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := q.ListScrapers(r.Context())
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		views := make([]ScraperView, 0, len(recs))
		for _, rec := range recs {
			var running *bool
			if rec.ContainerID.Valid && rec.ContainerID.String != "" {
				alive := fleet.Alive(r.Context(), rec)
				running = &alive
			}
			views = append(views, scraperView(rec, running))
		}
		writeJSON(w, http.StatusOK, map[string]any{"scrapers": views, "count": len(views)})
	}
}

// GetScraperStatus returns one record with live container state.
func GetScraperStatus(q ScraperReader, fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		rec, err := q.GetScraper(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.ScraperNotFound(id))
				return
			}
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		var running *bool
		if rec.ContainerID.Valid && rec.ContainerID.String != "" {
			alive := fleet.Alive(r.Context(), rec)
			running = &alive
		}
		writeJSON(w, http.StatusOK, scraperView(rec, running))
	}
}

// GetStatusSummary groups the fleet by lifecycle state.
func GetStatusSummary(q ScraperReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := q.GetStatusSummary(r.Context())
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		summary := make(map[string]map[string]any, len(rows))
		var total int64
		for _, row := range rows {
			summary[row.Status] = map[string]any{
				"count":    row.Count,
				"scrapers": []string(row.Scrapers),
			}
			total += row.Count
		}
		writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "total": total})
	}
}

type subredditStatsView struct {
	Subreddit       string  `json:"subreddit"`
	PostCount       int64   `json:"post_count"`
	CommentCount    int64   `json:"comment_count"`
	PendingComments int64   `json:"pending_comments"`
	CompletionRate  float64 `json:"completion_rate"`
}

// GetScraperStats reports stored volume per subreddit plus the worker's
// cycle metrics. Completion rate is the share of posts whose initial
// comment pass finished.
func GetScraperStats(q ScraperReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		rec, err := q.GetScraper(r.Context(), id)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.ScraperNotFound(id))
				return
			}
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}

		work, err := q.GetSubredditWorkStats(r.Context(), rec.Subreddits)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}

		subs := make([]subredditStatsView, 0, len(work))
		var totalPosts, totalComments, totalPending int64
		for _, ws := range work {
			subs = append(subs, subredditStatsView{
				Subreddit:       ws.Subreddit,
				PostCount:       ws.PostCount,
				CommentCount:    ws.CommentCount,
				PendingComments: ws.PendingComments,
				CompletionRate:  completionRate(ws.PostCount, ws.PendingComments),
			})
			totalPosts += ws.PostCount
			totalComments += ws.CommentCount
			totalPending += ws.PendingComments
		}

		resp := map[string]any{
			"scraper_id":   rec.ID,
			"scraper_type": rec.ScraperType,
			"subreddits":   subs,
			"totals": map[string]any{
				"posts":            totalPosts,
				"comments":         totalComments,
				"pending_comments": totalPending,
				"completion_rate":  completionRate(totalPosts, totalPending),
			},
		}
		if m, err := rec.ParsedMetrics(); err == nil && rec.Metrics.Valid {
			resp["metrics"] = m
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func completionRate(posts, pending int64) float64 {
	if posts <= 0 {
		return 0
	}
	return float64(posts-pending) / float64(posts)
}

// GetScraperLogs tails the worker's container output.
func GetScraperLogs(fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		lines := 100
		if raw := r.URL.Query().Get("lines"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("lines",
					"lines must be a positive integer"))
				return
			}
			if n > 10000 {
				n = 10000
			}
			lines = n
		}

		logs, err := fleet.Logs(r.Context(), id, lines)
		switch {
		case errors.Is(err, db.ErrNotFound):
			apierr.WriteErrorWithContext(w, r, apierr.ScraperNotFound(id))
			return
		case errors.Is(err, supervisor.ErrNoContainer):
			apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("Container"))
			return
		case err != nil:
			apierr.WriteErrorWithContext(w, r, apierr.ScraperLogsFailed(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scraper_id": id, "lines": lines, "logs": logs})
	}
}
