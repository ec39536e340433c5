package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lib/pq"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
)

type fakeHealthReader struct {
	pingErr error
	summary []db.StatusSummaryRow
}

func (f *fakeHealthReader) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeHealthReader) GetStatusSummary(ctx context.Context) ([]db.StatusSummaryRow, error) {
	return f.summary, nil
}

func decodeHealth(t *testing.T, rr *httptest.ResponseRecorder) (status, database, engine string, fleet map[string]int64) {
	t.Helper()
	var out struct {
		Status          string           `json:"status"`
		Database        string           `json:"database"`
		ContainerEngine string           `json:"container_engine"`
		Fleet           map[string]int64 `json:"fleet"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out.Status, out.Database, out.ContainerEngine, out.Fleet
}

func TestHealthHealthy(t *testing.T) {
	reader := &fakeHealthReader{summary: []db.StatusSummaryRow{
		{Status: db.ScraperStatusRunning, Count: 3, Scrapers: pq.StringArray{"a", "b", "c"}},
	}}
	rr := httptest.NewRecorder()
	Health(reader, &fakeFleet{})(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	status, database, engine, fleet := decodeHealth(t, rr)
	if status != "healthy" || database != "ok" || engine != "ok" {
		t.Errorf("unexpected health: %s %s %s", status, database, engine)
	}
	if fleet["running"] != 3 {
		t.Errorf("expected running count 3, got %v", fleet)
	}
}

func TestHealthDatabaseDown(t *testing.T) {
	reader := &fakeHealthReader{pingErr: errors.New("connection refused")}
	rr := httptest.NewRecorder()
	Health(reader, &fakeFleet{})(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	status, database, _, fleet := decodeHealth(t, rr)
	if status != "unhealthy" {
		t.Errorf("expected unhealthy, got %s", status)
	}
	if database != "connection refused" {
		t.Errorf("expected ping error surfaced, got %q", database)
	}
	if len(fleet) != 0 {
		t.Errorf("fleet counts should be skipped without a store, got %v", fleet)
	}
}

func TestHealthEngineDown(t *testing.T) {
	reader := &fakeHealthReader{}
	fleet := &fakeFleet{pingErr: errors.New("cannot connect to the docker daemon")}
	rr := httptest.NewRecorder()
	Health(reader, fleet)(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("a dead engine should not take the API out, got %d", rr.Code)
	}
	status, _, engine, _ := decodeHealth(t, rr)
	if status != "degraded" {
		t.Errorf("expected degraded, got %s", status)
	}
	if engine != "cannot connect to the docker daemon" {
		t.Errorf("expected engine error surfaced, got %q", engine)
	}
}
