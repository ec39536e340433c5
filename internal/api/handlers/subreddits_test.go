package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
)

// fakeQueueStore records mutations and answers them with a canned record.
type fakeQueueStore struct {
	rec      db.Scraper
	recErr   error
	updated  db.Scraper
	mutErr   error
	added    []string
	removed  []string
	replaced []string
}

func (f *fakeQueueStore) GetScraper(ctx context.Context, id string) (db.Scraper, error) {
	return f.rec, f.recErr
}

func (f *fakeQueueStore) AddScraperSubreddits(ctx context.Context, id string, subs []string) (db.Scraper, error) {
	f.added = subs
	return f.updated, f.mutErr
}

func (f *fakeQueueStore) RemoveScraperSubreddits(ctx context.Context, id string, subs []string) (db.Scraper, error) {
	f.removed = subs
	return f.updated, f.mutErr
}

func (f *fakeQueueStore) ReplaceScraperSubreddits(ctx context.Context, id string, subs []string) (db.Scraper, error) {
	f.replaced = subs
	return f.updated, f.mutErr
}

func queueRequest(method, path, body, id string) *http.Request {
	req := postJSON(path, body)
	req.Method = method
	return mux.SetURLVars(req, map[string]string{"id": id})
}

func TestAddSubredditsNormalizes(t *testing.T) {
	store := &fakeQueueStore{
		rec:     testScraper("posts-golang"),
		updated: testScraper("posts-golang"),
	}
	rr := httptest.NewRecorder()
	body := `{"subreddits":["r/Rust","/r/rust","  Kubernetes  "]}`
	AddSubreddits(store)(rr, queueRequest(http.MethodPost, "/api/scrapers/posts-golang/subreddits/add", body, "posts-golang"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(store.added) != 2 || store.added[0] != "rust" || store.added[1] != "kubernetes" {
		t.Errorf("expected normalized deduped names, got %v", store.added)
	}
}

func TestAddSubredditsValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"empty list", `{"subreddits":[]}`, "VALIDATION_MISSING_FIELD"},
		{"whitespace only", `{"subreddits":["   "]}`, "VALIDATION_MISSING_FIELD"},
		{"bad name", `{"subreddits":["no spaces allowed"]}`, "QUEUE_INVALID_SUBREDDIT"},
		{"too long", `{"subreddits":["thisnameiswaytoolongforreddit"]}`, "QUEUE_INVALID_SUBREDDIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeQueueStore{rec: testScraper("x")}
			rr := httptest.NewRecorder()
			AddSubreddits(store)(rr, queueRequest(http.MethodPost, "/api/scrapers/x/subreddits/add", tt.body, "x"))

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if got := errCode(t, rr); got != tt.wantCode {
				t.Errorf("expected %s, got %s", tt.wantCode, got)
			}
			if store.added != nil {
				t.Errorf("store should not be written on validation failure")
			}
		})
	}
}

func TestAddSubredditsEnforcesCap(t *testing.T) {
	rec := testScraper("posts-golang")
	rec.Subreddits = make(pq.StringArray, db.MaxSubreddits)
	for i := range rec.Subreddits {
		rec.Subreddits[i] = "sub" + string(rune('a'+i%26)) + string(rune('a'+i/26))
	}
	store := &fakeQueueStore{rec: rec}
	rr := httptest.NewRecorder()
	AddSubreddits(store)(rr, queueRequest(http.MethodPost, "/api/scrapers/posts-golang/subreddits/add",
		`{"subreddits":["onemore"]}`, "posts-golang"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := errCode(t, rr); got != "QUEUE_LIMIT_EXCEEDED" {
		t.Errorf("expected QUEUE_LIMIT_EXCEEDED, got %s", got)
	}
	if store.added != nil {
		t.Errorf("store should not be written past the cap")
	}
}

func TestAddSubredditsCountsOnlyNewNames(t *testing.T) {
	rec := testScraper("posts-golang")
	rec.Subreddits = make(pq.StringArray, db.MaxSubreddits)
	for i := range rec.Subreddits {
		rec.Subreddits[i] = "sub" + string(rune('a'+i%26)) + string(rune('a'+i/26))
	}
	rec.Subreddits[0] = "golang"
	store := &fakeQueueStore{rec: rec, updated: rec}
	rr := httptest.NewRecorder()
	AddSubreddits(store)(rr, queueRequest(http.MethodPost, "/api/scrapers/posts-golang/subreddits/add",
		`{"subreddits":["golang"]}`, "posts-golang"))

	if rr.Code != http.StatusOK {
		t.Fatalf("re-adding an existing name should not trip the cap, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRemoveSubredditsProtectsPrimary(t *testing.T) {
	store := &fakeQueueStore{rec: testScraper("posts-golang")}
	rr := httptest.NewRecorder()
	RemoveSubreddits(store)(rr, queueRequest(http.MethodPost, "/api/scrapers/posts-golang/subreddits/remove",
		`{"subreddits":["golang"]}`, "posts-golang"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := errCode(t, rr); got != "QUEUE_PRIMARY_PROTECTED" {
		t.Errorf("expected QUEUE_PRIMARY_PROTECTED, got %s", got)
	}
	if store.removed != nil {
		t.Errorf("store should not be written when the primary is targeted")
	}
}

func TestRemoveSubreddits(t *testing.T) {
	updated := testScraper("posts-golang")
	updated.Subreddits = pq.StringArray{"golang"}
	updated.PendingScrape = pq.StringArray{}
	store := &fakeQueueStore{rec: testScraper("posts-golang"), updated: updated}
	rr := httptest.NewRecorder()
	RemoveSubreddits(store)(rr, queueRequest(http.MethodPost, "/api/scrapers/posts-golang/subreddits/remove",
		`{"subreddits":["Programming"]}`, "posts-golang"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(store.removed) != 1 || store.removed[0] != "programming" {
		t.Errorf("expected normalized removal, got %v", store.removed)
	}
	var view ScraperView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Subreddits) != 1 || view.Subreddits[0] != "golang" {
		t.Errorf("expected updated rotation list in response, got %v", view.Subreddits)
	}
}

func TestReplaceSubredditsRequiresPrimary(t *testing.T) {
	store := &fakeQueueStore{rec: testScraper("posts-golang")}
	rr := httptest.NewRecorder()
	ReplaceSubreddits(store)(rr, queueRequest(http.MethodPatch, "/api/scrapers/posts-golang/subreddits",
		`{"subreddits":["rust","python"]}`, "posts-golang"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if got := errCode(t, rr); got != "QUEUE_PRIMARY_PROTECTED" {
		t.Errorf("expected QUEUE_PRIMARY_PROTECTED, got %s", got)
	}
}

func TestReplaceSubreddits(t *testing.T) {
	updated := testScraper("posts-golang")
	updated.Subreddits = pq.StringArray{"golang", "rust"}
	store := &fakeQueueStore{rec: testScraper("posts-golang"), updated: updated}
	rr := httptest.NewRecorder()
	ReplaceSubreddits(store)(rr, queueRequest(http.MethodPatch, "/api/scrapers/posts-golang/subreddits",
		`{"subreddits":["golang","rust"]}`, "posts-golang"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(store.replaced) != 2 {
		t.Errorf("expected 2 names forwarded, got %v", store.replaced)
	}
}

func TestQueueMutationsUnknownScraper(t *testing.T) {
	store := &fakeQueueStore{recErr: db.ErrNotFound}
	rr := httptest.NewRecorder()
	AddSubreddits(store)(rr, queueRequest(http.MethodPost, "/api/scrapers/ghost/subreddits/add",
		`{"subreddits":["rust"]}`, "ghost"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if got := errCode(t, rr); got != "SCRAPER_NOT_FOUND" {
		t.Errorf("expected SCRAPER_NOT_FOUND, got %s", got)
	}
}
