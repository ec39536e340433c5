package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/supervisor"
)

// fakeFleet is a canned supervisor. Tests set the return fields and read
// back the recorded calls.
type fakeFleet struct {
	startRec  db.Scraper
	startErr  error
	startReqs []supervisor.StartRequest

	stopErr error
	stopped []string

	restartErr error
	restarted  []string

	failedIDs []string
	failedErr error

	deleteErr error
	deleted   []string

	logs      string
	logsErr   error
	logsLines int

	autoErr   error
	autoCalls map[string]bool

	rotateRestarted bool
	rotateErr       error
	rotateReqs      []supervisor.StartRequest

	alive   bool
	pingErr error
}

func (f *fakeFleet) Start(ctx context.Context, req supervisor.StartRequest) (db.Scraper, error) {
	f.startReqs = append(f.startReqs, req)
	return f.startRec, f.startErr
}

func (f *fakeFleet) Stop(ctx context.Context, id string) error {
	f.stopped = append(f.stopped, id)
	return f.stopErr
}

func (f *fakeFleet) Restart(ctx context.Context, id string) error {
	f.restarted = append(f.restarted, id)
	return f.restartErr
}

func (f *fakeFleet) RestartAllFailed(ctx context.Context) ([]string, error) {
	return f.failedIDs, f.failedErr
}

func (f *fakeFleet) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeFleet) Logs(ctx context.Context, id string, lines int) (string, error) {
	f.logsLines = lines
	return f.logs, f.logsErr
}

func (f *fakeFleet) SetAutoRestart(ctx context.Context, id string, enabled bool) error {
	if f.autoCalls == nil {
		f.autoCalls = map[string]bool{}
	}
	f.autoCalls[id] = enabled
	return f.autoErr
}

func (f *fakeFleet) RotateCredentials(ctx context.Context, id string, req supervisor.StartRequest) (bool, error) {
	f.rotateReqs = append(f.rotateReqs, req)
	return f.rotateRestarted, f.rotateErr
}

func (f *fakeFleet) Alive(ctx context.Context, rec db.Scraper) bool {
	return f.alive
}

func (f *fakeFleet) Ping(ctx context.Context) error {
	return f.pingErr
}

// testScraper builds a record with sensible defaults for view assertions.
func testScraper(id string) db.Scraper {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return db.Scraper{
		ID:               id,
		ScraperType:      db.ScraperTypePosts,
		PrimarySubreddit: "golang",
		Subreddits:       pq.StringArray{"golang", "programming"},
		PendingScrape:    pq.StringArray{"programming"},
		Credentials:      []byte("sealed"),
		AccountName:      sql.NullString{String: "main", Valid: true},
		Status:           db.ScraperStatusRunning,
		AutoRestart:      true,
		ContainerID:      sql.NullString{String: "abcdef0123456789", Valid: true},
		ContainerName:    sql.NullString{String: "scraper-posts-golang", Valid: true},
		CreatedAt:        now,
		LastUpdated:      now,
	}
}

// errCode decodes the error envelope and returns its code.
func errCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error envelope: %v (body: %s)", err, rr.Body.String())
	}
	return resp.Error.Code
}
