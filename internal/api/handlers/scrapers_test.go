package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/onnwee/reddit-scraper-fleet/internal/accounts"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/supervisor"
)

// fakeScraperReader serves canned records to the read-side handlers.
type fakeScraperReader struct {
	scrapers []db.Scraper
	rec      db.Scraper
	recErr   error
	summary  []db.StatusSummaryRow
	work     []db.SubredditWorkStats
	listErr  error
}

func (f *fakeScraperReader) ListScrapers(ctx context.Context) ([]db.Scraper, error) {
	return f.scrapers, f.listErr
}

func (f *fakeScraperReader) GetScraper(ctx context.Context, id string) (db.Scraper, error) {
	return f.rec, f.recErr
}

func (f *fakeScraperReader) GetStatusSummary(ctx context.Context) ([]db.StatusSummaryRow, error) {
	return f.summary, nil
}

func (f *fakeScraperReader) GetSubredditWorkStats(ctx context.Context, subreddits []string) ([]db.SubredditWorkStats, error) {
	return f.work, nil
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestStartScraperValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{
			name:     "unknown scraper type",
			body:     `{"scraper_type":"firehose","primary_subreddit":"golang","account_name":"main"}`,
			wantCode: "VALIDATION_INVALID_VALUE",
		},
		{
			name:     "missing primary",
			body:     `{"scraper_type":"posts","account_name":"main"}`,
			wantCode: "VALIDATION_MISSING_FIELD",
		},
		{
			name:     "invalid primary name",
			body:     `{"scraper_type":"posts","primary_subreddit":"bad name!","account_name":"main"}`,
			wantCode: "QUEUE_INVALID_SUBREDDIT",
		},
		{
			name:     "invalid extra subreddit",
			body:     `{"scraper_type":"posts","primary_subreddit":"golang","subreddits":["ok","not ok"],"account_name":"main"}`,
			wantCode: "QUEUE_INVALID_SUBREDDIT",
		},
		{
			name:     "no credentials source",
			body:     `{"scraper_type":"posts","primary_subreddit":"golang"}`,
			wantCode: "VALIDATION_MISSING_FIELD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fleet := &fakeFleet{}
			rr := httptest.NewRecorder()
			StartScraper(fleet)(rr, postJSON("/api/scrapers/start", tt.body))

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if got := errCode(t, rr); got != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, got)
			}
			if len(fleet.startReqs) != 0 {
				t.Errorf("supervisor should not be called on validation failure")
			}
		})
	}
}

func TestStartScraperLaunches(t *testing.T) {
	fleet := &fakeFleet{startRec: testScraper("posts-golang")}
	rr := httptest.NewRecorder()
	body := `{
		"scraper_type": "posts",
		"primary_subreddit": "GoLang",
		"subreddits": ["programming"],
		"credentials": {
			"client_id": "cid-12345",
			"client_secret": "very-secret-value",
			"username": "bot",
			"password": "hunter2",
			"user_agent": "fleet/1.0"
		},
		"save_account_as": "main"
	}`
	StartScraper(fleet)(rr, postJSON("/api/scrapers/start", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(fleet.startReqs) != 1 {
		t.Fatalf("expected 1 start call, got %d", len(fleet.startReqs))
	}
	req := fleet.startReqs[0]
	if req.PrimarySubreddit != "golang" {
		t.Errorf("primary should be normalized, got %q", req.PrimarySubreddit)
	}
	if req.Credentials == nil || req.Credentials.ClientID != "cid-12345" {
		t.Errorf("inline credentials not forwarded: %+v", req.Credentials)
	}
	if req.SaveAccountAs != "main" {
		t.Errorf("save_account_as not forwarded, got %q", req.SaveAccountAs)
	}

	var view ScraperView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != "posts-golang" || !view.CredentialsSet {
		t.Errorf("unexpected view: %+v", view)
	}
	for _, secret := range []string{"very-secret-value", "hunter2", "sealed"} {
		if strings.Contains(rr.Body.String(), secret) {
			t.Errorf("response leaks secret %q", secret)
		}
	}
}

func TestStartScraperAlreadyRunning(t *testing.T) {
	fleet := &fakeFleet{
		startRec: testScraper("posts-golang"),
		startErr: supervisor.ErrAlreadyRunning,
	}
	rr := httptest.NewRecorder()
	body := `{"scraper_type":"posts","primary_subreddit":"golang","account_name":"main"}`
	StartScraper(fleet)(rr, postJSON("/api/scrapers/start", body))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if got := errCode(t, rr); got != "SCRAPER_ALREADY_RUNNING" {
		t.Errorf("expected SCRAPER_ALREADY_RUNNING, got %s", got)
	}
}

func TestStartScraperErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown account", accounts.ErrNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
		{"list over cap", fmt.Errorf("%w of %d", db.ErrSubredditLimit, db.MaxSubreddits), http.StatusBadRequest, "QUEUE_LIMIT_EXCEEDED"},
		{"engine failure", fmt.Errorf("docker run: exit 125"), http.StatusInternalServerError, "SCRAPER_LAUNCH_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fleet := &fakeFleet{startErr: tt.err}
			rr := httptest.NewRecorder()
			body := `{"scraper_type":"posts","primary_subreddit":"golang","account_name":"main"}`
			StartScraper(fleet)(rr, postJSON("/api/scrapers/start", body))

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
			if got := errCode(t, rr); got != tt.wantCode {
				t.Errorf("expected %s, got %s", tt.wantCode, got)
			}
		})
	}
}

func TestStopScraperNotFound(t *testing.T) {
	fleet := &fakeFleet{stopErr: db.ErrNotFound}
	rr := httptest.NewRecorder()
	req := mux.SetURLVars(postJSON("/api/scrapers/ghost/stop", ""), map[string]string{"id": "ghost"})
	StopScraper(fleet)(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if got := errCode(t, rr); got != "SCRAPER_NOT_FOUND" {
		t.Errorf("expected SCRAPER_NOT_FOUND, got %s", got)
	}
}

func TestRestartAllFailedEmpty(t *testing.T) {
	fleet := &fakeFleet{}
	rr := httptest.NewRecorder()
	RestartAllFailed(fleet)(rr, postJSON("/api/scrapers/restart-all-failed", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out struct {
		Restarted []string `json:"restarted"`
		Count     int      `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Restarted == nil || out.Count != 0 {
		t.Errorf("expected empty list, got %s", rr.Body.String())
	}
}

func TestSetAutoRestart(t *testing.T) {
	t.Run("missing enabled", func(t *testing.T) {
		fleet := &fakeFleet{}
		rr := httptest.NewRecorder()
		req := mux.SetURLVars(postJSON("/api/scrapers/x/auto-restart", `{}`), map[string]string{"id": "x"})
		SetAutoRestart(fleet)(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
		if got := errCode(t, rr); got != "VALIDATION_MISSING_FIELD" {
			t.Errorf("expected VALIDATION_MISSING_FIELD, got %s", got)
		}
	})

	t.Run("disables", func(t *testing.T) {
		fleet := &fakeFleet{}
		rr := httptest.NewRecorder()
		req := mux.SetURLVars(postJSON("/api/scrapers/x/auto-restart", `{"enabled":false}`), map[string]string{"id": "x"})
		SetAutoRestart(fleet)(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if enabled, ok := fleet.autoCalls["x"]; !ok || enabled {
			t.Errorf("expected auto restart disabled for x, got %v", fleet.autoCalls)
		}
	})
}

func TestRotateCredentials(t *testing.T) {
	t.Run("requires a source", func(t *testing.T) {
		fleet := &fakeFleet{}
		rr := httptest.NewRecorder()
		req := mux.SetURLVars(postJSON("/api/scrapers/x/credentials", `{}`), map[string]string{"id": "x"})
		RotateCredentials(fleet)(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		fleet := &fakeFleet{rotateErr: accounts.ErrNotFound}
		rr := httptest.NewRecorder()
		req := mux.SetURLVars(postJSON("/api/scrapers/x/credentials", `{"account_name":"ghost"}`), map[string]string{"id": "x"})
		RotateCredentials(fleet)(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
		if got := errCode(t, rr); got != "ACCOUNT_NOT_FOUND" {
			t.Errorf("expected ACCOUNT_NOT_FOUND, got %s", got)
		}
	})

	t.Run("rotates and restarts", func(t *testing.T) {
		fleet := &fakeFleet{rotateRestarted: true}
		rr := httptest.NewRecorder()
		req := mux.SetURLVars(postJSON("/api/scrapers/x/credentials", `{"account_name":"backup"}`), map[string]string{"id": "x"})
		RotateCredentials(fleet)(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var out struct {
			Rotated   bool `json:"rotated"`
			Restarted bool `json:"restarted"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !out.Rotated || !out.Restarted {
			t.Errorf("unexpected response: %s", rr.Body.String())
		}
		if len(fleet.rotateReqs) != 1 || fleet.rotateReqs[0].AccountName != "backup" {
			t.Errorf("rotation request not forwarded: %+v", fleet.rotateReqs)
		}
	})
}

func TestListScrapersProbesContainers(t *testing.T) {
	withContainer := testScraper("posts-golang")
	bare := testScraper("comments-golang")
	bare.ContainerID.Valid = false
	bare.ContainerID.String = ""

	reader := &fakeScraperReader{scrapers: []db.Scraper{withContainer, bare}}
	fleet := &fakeFleet{alive: true}
	rr := httptest.NewRecorder()
	ListScrapers(reader, fleet)(rr, httptest.NewRequest(http.MethodGet, "/api/scrapers", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out struct {
		Scrapers []ScraperView `json:"scrapers"`
		Count    int           `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 {
		t.Fatalf("expected 2 scrapers, got %d", out.Count)
	}
	if out.Scrapers[0].Container == nil || !out.Scrapers[0].Container.Running {
		t.Errorf("expected live container on first view: %+v", out.Scrapers[0].Container)
	}
	if out.Scrapers[0].Container.ID != "abcdef012345" {
		t.Errorf("container id should be truncated, got %q", out.Scrapers[0].Container.ID)
	}
	if out.Scrapers[1].Container != nil {
		t.Errorf("expected no container on second view")
	}
	if strings.Contains(rr.Body.String(), "sealed") {
		t.Errorf("response leaks credential bytes")
	}
}

func TestGetStatusSummary(t *testing.T) {
	reader := &fakeScraperReader{summary: []db.StatusSummaryRow{
		{Status: db.ScraperStatusRunning, Count: 2, Scrapers: pq.StringArray{"a", "b"}},
		{Status: db.ScraperStatusFailed, Count: 1, Scrapers: pq.StringArray{"c"}},
	}}
	rr := httptest.NewRecorder()
	GetStatusSummary(reader)(rr, httptest.NewRequest(http.MethodGet, "/api/scrapers/status-summary", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out struct {
		Summary map[string]struct {
			Count    int64    `json:"count"`
			Scrapers []string `json:"scrapers"`
		} `json:"summary"`
		Total int64 `json:"total"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 3 {
		t.Errorf("expected total 3, got %d", out.Total)
	}
	if running := out.Summary["running"]; running.Count != 2 || len(running.Scrapers) != 2 {
		t.Errorf("unexpected running summary: %+v", running)
	}
}

func TestGetScraperStats(t *testing.T) {
	reader := &fakeScraperReader{
		rec: testScraper("posts-golang"),
		work: []db.SubredditWorkStats{
			{Subreddit: "golang", PostCount: 10, CommentCount: 40, PendingComments: 2},
			{Subreddit: "programming", PostCount: 0, CommentCount: 0, PendingComments: 0},
		},
	}
	rr := httptest.NewRecorder()
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/scrapers/posts-golang/stats", nil),
		map[string]string{"id": "posts-golang"})
	GetScraperStats(reader)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out struct {
		Subreddits []subredditStatsView `json:"subreddits"`
		Totals     struct {
			Posts          int64   `json:"posts"`
			CompletionRate float64 `json:"completion_rate"`
		} `json:"totals"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Subreddits) != 2 {
		t.Fatalf("expected 2 subreddit rows, got %d", len(out.Subreddits))
	}
	if out.Subreddits[0].CompletionRate != 0.8 {
		t.Errorf("expected completion rate 0.8, got %f", out.Subreddits[0].CompletionRate)
	}
	if out.Subreddits[1].CompletionRate != 0 {
		t.Errorf("zero posts should yield rate 0, got %f", out.Subreddits[1].CompletionRate)
	}
	if out.Totals.Posts != 10 || out.Totals.CompletionRate != 0.8 {
		t.Errorf("unexpected totals: %+v", out.Totals)
	}
}

func TestCompletionRate(t *testing.T) {
	tests := []struct {
		posts, pending int64
		want           float64
	}{
		{0, 0, 0},
		{10, 0, 1},
		{10, 5, 0.5},
		{10, 10, 0},
	}
	for _, tt := range tests {
		if got := completionRate(tt.posts, tt.pending); got != tt.want {
			t.Errorf("completionRate(%d, %d) = %f, want %f", tt.posts, tt.pending, got, tt.want)
		}
	}
}

func TestGetScraperLogs(t *testing.T) {
	t.Run("rejects bad line count", func(t *testing.T) {
		fleet := &fakeFleet{}
		rr := httptest.NewRecorder()
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/scrapers/x/logs?lines=nope", nil),
			map[string]string{"id": "x"})
		GetScraperLogs(fleet)(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("no container", func(t *testing.T) {
		fleet := &fakeFleet{logsErr: supervisor.ErrNoContainer}
		rr := httptest.NewRecorder()
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/scrapers/x/logs", nil),
			map[string]string{"id": "x"})
		GetScraperLogs(fleet)(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
		if got := errCode(t, rr); got != "RESOURCE_NOT_FOUND" {
			t.Errorf("expected RESOURCE_NOT_FOUND, got %s", got)
		}
	})

	t.Run("tails requested lines", func(t *testing.T) {
		fleet := &fakeFleet{logs: "line1\nline2\n"}
		rr := httptest.NewRecorder()
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/scrapers/x/logs?lines=5", nil),
			map[string]string{"id": "x"})
		GetScraperLogs(fleet)(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if fleet.logsLines != 5 {
			t.Errorf("expected 5 lines requested, got %d", fleet.logsLines)
		}
		var out struct {
			Logs string `json:"logs"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Logs != "line1\nline2\n" {
			t.Errorf("unexpected logs: %q", out.Logs)
		}
	})
}
