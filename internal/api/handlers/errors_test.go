package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
)

// fakeErrorLedger records the list params it was queried with.
type fakeErrorLedger struct {
	rows       []db.ScrapeError
	counts     []db.ErrorTypeCount
	params     db.ListScrapeErrorsParams
	resolveErr error
	resolved   []int64
}

func (f *fakeErrorLedger) ListScrapeErrors(ctx context.Context, p db.ListScrapeErrorsParams) ([]db.ScrapeError, error) {
	f.params = p
	return f.rows, nil
}

func (f *fakeErrorLedger) CountUnresolvedErrorsByType(ctx context.Context) ([]db.ErrorTypeCount, error) {
	return f.counts, nil
}

func (f *fakeErrorLedger) ResolveScrapeError(ctx context.Context, id int64) error {
	f.resolved = append(f.resolved, id)
	return f.resolveErr
}

func TestListErrors(t *testing.T) {
	ledger := &fakeErrorLedger{
		rows: []db.ScrapeError{
			{
				ID:           7,
				Subreddit:    "golang",
				PostID:       sql.NullString{String: "abc123", Valid: true},
				ErrorType:    "comment_scrape",
				ErrorMessage: "status 429 after 3 attempts",
				RetryCount:   3,
				CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			},
		},
		counts: []db.ErrorTypeCount{
			{ErrorType: "comment_scrape", Count: 4},
			{ErrorType: "post_scrape", Count: 1},
		},
	}
	rr := httptest.NewRecorder()
	ListErrors(ledger)(rr, httptest.NewRequest(http.MethodGet, "/api/errors?resolved=false&type=comment_scrape", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !ledger.params.UnresolvedOnly {
		t.Errorf("resolved=false should narrow to open entries")
	}
	if ledger.params.ErrorType != "comment_scrape" {
		t.Errorf("type filter not forwarded, got %q", ledger.params.ErrorType)
	}
	if ledger.params.Limit != 50 {
		t.Errorf("expected default limit 50, got %d", ledger.params.Limit)
	}

	var out struct {
		Errors []struct {
			ID     int64  `json:"id"`
			PostID string `json:"post_id"`
		} `json:"errors"`
		Count      int              `json:"count"`
		Unresolved map[string]int64 `json:"unresolved_by_type"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 || out.Errors[0].ID != 7 || out.Errors[0].PostID != "abc123" {
		t.Errorf("unexpected rows: %s", rr.Body.String())
	}
	if out.Unresolved["comment_scrape"] != 4 || out.Unresolved["post_scrape"] != 1 {
		t.Errorf("unexpected per-type counts: %v", out.Unresolved)
	}
}

func TestListErrorsValidation(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"bad resolved", "?resolved=maybe"},
		{"bad limit", "?limit=0"},
		{"bad offset", "?offset=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			ListErrors(&fakeErrorLedger{})(rr, httptest.NewRequest(http.MethodGet, "/api/errors"+tt.query, nil))

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if got := errCode(t, rr); got != "VALIDATION_INVALID_VALUE" {
				t.Errorf("expected VALIDATION_INVALID_VALUE, got %s", got)
			}
		})
	}
}

func TestListErrorsCapsLimit(t *testing.T) {
	ledger := &fakeErrorLedger{}
	rr := httptest.NewRecorder()
	ListErrors(ledger)(rr, httptest.NewRequest(http.MethodGet, "/api/errors?limit=99999", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ledger.params.Limit != 500 {
		t.Errorf("expected limit capped at 500, got %d", ledger.params.Limit)
	}
}

func TestResolveError(t *testing.T) {
	t.Run("closes the entry", func(t *testing.T) {
		ledger := &fakeErrorLedger{}
		rr := httptest.NewRecorder()
		req := mux.SetURLVars(postJSON("/api/errors/42/resolve", ""), map[string]string{"id": "42"})
		ResolveError(ledger)(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if len(ledger.resolved) != 1 || ledger.resolved[0] != 42 {
			t.Errorf("expected resolve(42), got %v", ledger.resolved)
		}
	})

	t.Run("rejects non-numeric id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := mux.SetURLVars(postJSON("/api/errors/abc/resolve", ""), map[string]string{"id": "abc"})
		ResolveError(&fakeErrorLedger{})(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("unknown entry", func(t *testing.T) {
		ledger := &fakeErrorLedger{resolveErr: db.ErrNotFound}
		rr := httptest.NewRecorder()
		req := mux.SetURLVars(postJSON("/api/errors/42/resolve", ""), map[string]string{"id": "42"})
		ResolveError(ledger)(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
		if got := errCode(t, rr); got != "RESOURCE_NOT_FOUND" {
			t.Errorf("expected RESOURCE_NOT_FOUND, got %s", got)
		}
	})
}
