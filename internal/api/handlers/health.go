package handlers

import (
	"context"
	"net/http"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
)

// HealthReader is the store surface the health check probes. *db.Queries
// satisfies it; tests substitute fakes.
type HealthReader interface {
	Ping(ctx context.Context) error
	GetStatusSummary(ctx context.Context) ([]db.StatusSummaryRow, error)
}

// Health reports control-plane readiness: the store, the container engine
// and the fleet's lifecycle counts. A dead store answers 503 so load
// balancers stop routing here; a dead engine only degrades, because read
// endpoints still work without it.
func Health(q HealthReader, fleet Fleet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		httpStatus := http.StatusOK

		database := "ok"
		if err := q.Ping(r.Context()); err != nil {
			database = err.Error()
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}

		engine := "ok"
		if err := fleet.Ping(r.Context()); err != nil {
			engine = err.Error()
			if status == "healthy" {
				status = "degraded"
			}
		}

		fleetCounts := map[string]int64{}
		if status != "unhealthy" {
			if rows, err := q.GetStatusSummary(r.Context()); err == nil {
				for _, row := range rows {
					fleetCounts[row.Status] = row.Count
				}
			}
		}

		writeJSON(w, httpStatus, map[string]any{
			"status":           status,
			"database":         database,
			"container_engine": engine,
			"fleet":            fleetCounts,
		})
	}
}
