package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/onnwee/reddit-scraper-fleet/internal/apierr"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
)

const (
	errorsDefaultLimit = 50
	errorsMaxLimit     = 500
)

// ErrorLedger is the query subset the error endpoints use. *db.Queries
// satisfies it; tests substitute fakes.
type ErrorLedger interface {
	ListScrapeErrors(ctx context.Context, p db.ListScrapeErrorsParams) ([]db.ScrapeError, error)
	CountUnresolvedErrorsByType(ctx context.Context) ([]db.ErrorTypeCount, error)
	ResolveScrapeError(ctx context.Context, id int64) error
}

type scrapeErrorView struct {
	ID           int64     `json:"id"`
	Subreddit    string    `json:"subreddit"`
	PostID       string    `json:"post_id,omitempty"`
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	RetryCount   int32     `json:"retry_count"`
	Resolved     bool      `json:"resolved"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListErrors reads the scrape error ledger, newest first. ?resolved=false
// narrows to open entries, ?type= filters by error type, and the per-type
// open counts ride along so dashboards get both in one call.
func ListErrors(q ErrorLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := db.ListScrapeErrorsParams{
			ErrorType: r.URL.Query().Get("type"),
			Limit:     errorsDefaultLimit,
		}
		if raw := r.URL.Query().Get("resolved"); raw != "" {
			resolved, err := strconv.ParseBool(raw)
			if err != nil {
				apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("resolved",
					"resolved must be true or false"))
				return
			}
			params.UnresolvedOnly = !resolved
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("limit",
					"limit must be a positive integer"))
				return
			}
			if n > errorsMaxLimit {
				n = errorsMaxLimit
			}
			params.Limit = int32(n)
		}
		if raw := r.URL.Query().Get("offset"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("offset",
					"offset must be a non-negative integer"))
				return
			}
			params.Offset = int32(n)
		}

		rows, err := q.ListScrapeErrors(r.Context(), params)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		counts, err := q.CountUnresolvedErrorsByType(r.Context())
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}

		views := make([]scrapeErrorView, 0, len(rows))
		for _, e := range rows {
			views = append(views, scrapeErrorView{
				ID:           e.ID,
				Subreddit:    e.Subreddit,
				PostID:       e.PostID.String,
				ErrorType:    e.ErrorType,
				ErrorMessage: e.ErrorMessage,
				RetryCount:   e.RetryCount,
				Resolved:     e.Resolved,
				CreatedAt:    e.CreatedAt,
			})
		}
		unresolved := make(map[string]int64, len(counts))
		for _, c := range counts {
			unresolved[c.ErrorType] = c.Count
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"errors":             views,
			"count":              len(views),
			"unresolved_by_type": unresolved,
		})
	}
}

// ResolveError closes one ledger entry by id after an operator has dealt
// with it.
func ResolveError(q ErrorLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := mux.Vars(r)["id"]
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("id",
				"error id must be a positive integer"))
			return
		}
		if err := q.ResolveScrapeError(r.Context(), id); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("Error entry"))
				return
			}
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
	}
}
