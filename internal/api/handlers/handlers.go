package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/supervisor"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

// Fleet is the supervisor surface the handlers drive. *supervisor.Supervisor
// satisfies it; tests plug in fakes.
type Fleet interface {
	Start(ctx context.Context, req supervisor.StartRequest) (db.Scraper, error)
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	RestartAllFailed(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
	Logs(ctx context.Context, id string, lines int) (string, error)
	SetAutoRestart(ctx context.Context, id string, enabled bool) error
	RotateCredentials(ctx context.Context, id string, req supervisor.StartRequest) (bool, error)
	Alive(ctx context.Context, rec db.Scraper) bool
	Ping(ctx context.Context) error
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ContainerView is the engine-side slice of a scraper view. Nil when the
// record has no container.
type ContainerView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// ScraperView is the API shape of a scraper record. Credential bytes never
// leave the store; the view carries only the account pointer and a flag.
type ScraperView struct {
	ID               string             `json:"id"`
	ScraperType      string             `json:"scraper_type"`
	PrimarySubreddit string             `json:"primary_subreddit"`
	Subreddits       []string           `json:"subreddits"`
	PendingScrape    []string           `json:"pending_scrape"`
	Status           string             `json:"status"`
	AutoRestart      bool               `json:"auto_restart"`
	RestartCount     int32              `json:"restart_count"`
	LastRestartAt    *time.Time         `json:"last_restart_at,omitempty"`
	AccountName      string             `json:"account_name,omitempty"`
	CredentialsSet   bool               `json:"credentials_set"`
	LastError        string             `json:"last_error,omitempty"`
	Container        *ContainerView     `json:"container,omitempty"`
	Config           *db.ScraperConfig  `json:"config,omitempty"`
	Metrics          *db.ScraperMetrics `json:"metrics,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	LastUpdated      time.Time          `json:"last_updated"`
}

// scraperView builds the API shape. containerRunning comes from a live
// engine probe when the caller did one; pass nil to omit the liveness bit.
func scraperView(rec db.Scraper, containerRunning *bool) ScraperView {
	v := ScraperView{
		ID:               rec.ID,
		ScraperType:      rec.ScraperType,
		PrimarySubreddit: rec.PrimarySubreddit,
		Subreddits:       append([]string(nil), rec.Subreddits...),
		PendingScrape:    append([]string(nil), rec.PendingScrape...),
		Status:           rec.Status,
		AutoRestart:      rec.AutoRestart,
		RestartCount:     rec.RestartCount,
		AccountName:      rec.AccountName.String,
		CredentialsSet:   len(rec.Credentials) > 0,
		LastError:        rec.LastError.String,
		CreatedAt:        rec.CreatedAt,
		LastUpdated:      rec.LastUpdated,
	}
	if v.Subreddits == nil {
		v.Subreddits = []string{}
	}
	if v.PendingScrape == nil {
		v.PendingScrape = []string{}
	}
	if rec.LastRestartAt.Valid {
		t := rec.LastRestartAt.Time
		v.LastRestartAt = &t
	}
	if rec.ContainerID.Valid && rec.ContainerID.String != "" {
		c := &ContainerView{
			ID:   utils.TruncateString(rec.ContainerID.String, 12),
			Name: rec.ContainerName.String,
		}
		if containerRunning != nil {
			c.Running = *containerRunning
		}
		v.Container = c
	}
	if cfg, err := rec.ParsedConfig(); err == nil && rec.Config.Valid {
		v.Config = &cfg
	}
	if m, err := rec.ParsedMetrics(); err == nil && rec.Metrics.Valid {
		v.Metrics = &m
	}
	return v
}
