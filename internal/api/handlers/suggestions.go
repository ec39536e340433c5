package handlers

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/onnwee/reddit-scraper-fleet/internal/apierr"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/middleware"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

// SuggestionWriter accepts suggestion batches. *db.Queries satisfies it.
type SuggestionWriter interface {
	InsertSubredditSuggestion(ctx context.Context, subreddits []string, source sql.NullString) (db.SubredditSuggestion, error)
}

type suggestionRequest struct {
	Subreddits []string `json:"subreddits"`
	Source     string   `json:"source"`
}

// SubmitSuggestion queues subreddits for the sync loop, which merges
// unseen names into the running posts scraper on its next pass. External
// recommenders post here instead of editing a scraper directly.
func SubmitSuggestion(q SuggestionWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req suggestionRequest
		if apiErr := middleware.DecodeJSON(r, &req); apiErr != nil {
			apierr.WriteErrorWithContext(w, r, apiErr)
			return
		}
		subs := utils.NormalizeSubreddits(req.Subreddits)
		if len(subs) == 0 {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("subreddits"))
			return
		}
		for _, sub := range subs {
			if err := middleware.ValidateSubredditName(sub); err != nil {
				apierr.WriteErrorWithContext(w, r, apierr.QueueInvalidSubreddit(err.Error()))
				return
			}
		}

		source := sql.NullString{String: req.Source, Valid: req.Source != ""}
		rec, err := q.InsertSubredditSuggestion(r.Context(), subs, source)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"id":         rec.ID,
			"subreddits": []string(rec.Subreddits),
			"source":     rec.Source.String,
			"created_at": rec.CreatedAt,
		})
	}
}
