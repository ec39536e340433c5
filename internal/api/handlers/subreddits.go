package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/onnwee/reddit-scraper-fleet/internal/apierr"
	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/middleware"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

// QueueStore is the query subset the rotation list mutations use.
// *db.Queries satisfies it; tests substitute fakes.
type QueueStore interface {
	GetScraper(ctx context.Context, id string) (db.Scraper, error)
	AddScraperSubreddits(ctx context.Context, id string, subs []string) (db.Scraper, error)
	RemoveScraperSubreddits(ctx context.Context, id string, subs []string) (db.Scraper, error)
	ReplaceScraperSubreddits(ctx context.Context, id string, subs []string) (db.Scraper, error)
}

type subredditsRequest struct {
	Subreddits []string `json:"subreddits"`
}

// decodeSubreddits reads and normalizes the mutation payload. Names are
// lowercased, deduped and checked against Reddit's rules before any write.
func decodeSubreddits(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var req subredditsRequest
	if apiErr := middleware.DecodeJSON(r, &req); apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return nil, false
	}
	subs := utils.NormalizeSubreddits(req.Subreddits)
	if len(subs) == 0 {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("subreddits"))
		return nil, false
	}
	for _, sub := range subs {
		if err := middleware.ValidateSubredditName(sub); err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.QueueInvalidSubreddit(err.Error()))
			return nil, false
		}
	}
	return subs, true
}

func loadScraper(w http.ResponseWriter, r *http.Request, q QueueStore, id string) (db.Scraper, bool) {
	rec, err := q.GetScraper(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			apierr.WriteErrorWithContext(w, r, apierr.ScraperNotFound(id))
		} else {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
		}
		return db.Scraper{}, false
	}
	return rec, true
}

// AddSubreddits unions new names into the rotation list and the pending
// set. Workers pick the change up at their next rotation boundary; no
// restart happens.
func AddSubreddits(q QueueStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		subs, ok := decodeSubreddits(w, r)
		if !ok {
			return
		}
		rec, ok := loadScraper(w, r, q, id)
		if !ok {
			return
		}

		merged := len(rec.Subreddits)
		for _, sub := range subs {
			if !utils.ContainsString(rec.Subreddits, sub) {
				merged++
			}
		}
		if merged > db.MaxSubreddits {
			apierr.WriteErrorWithContext(w, r, apierr.QueueLimitExceeded(db.MaxSubreddits))
			return
		}

		updated, err := q.AddScraperSubreddits(r.Context(), id, subs)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, scraperView(updated, nil))
	}
}

// RemoveSubreddits drops names from both lists. The primary subreddit is
// the scraper's identity and cannot be removed.
func RemoveSubreddits(q QueueStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		subs, ok := decodeSubreddits(w, r)
		if !ok {
			return
		}
		rec, ok := loadScraper(w, r, q, id)
		if !ok {
			return
		}
		if utils.ContainsString(subs, rec.PrimarySubreddit) {
			apierr.WriteErrorWithContext(w, r, apierr.QueuePrimaryProtected(rec.PrimarySubreddit))
			return
		}

		updated, err := q.RemoveScraperSubreddits(r.Context(), id, subs)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, scraperView(updated, nil))
	}
}

// ReplaceSubreddits swaps the rotation list wholesale. Additions join the
// pending set, removals are purged from it, and the primary subreddit must
// survive the swap.
func ReplaceSubreddits(q QueueStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		subs, ok := decodeSubreddits(w, r)
		if !ok {
			return
		}
		rec, ok := loadScraper(w, r, q, id)
		if !ok {
			return
		}
		if !utils.ContainsString(subs, rec.PrimarySubreddit) {
			apierr.WriteErrorWithContext(w, r, apierr.QueuePrimaryProtected(rec.PrimarySubreddit))
			return
		}
		if len(subs) > db.MaxSubreddits {
			apierr.WriteErrorWithContext(w, r, apierr.QueueLimitExceeded(db.MaxSubreddits))
			return
		}

		updated, err := q.ReplaceScraperSubreddits(r.Context(), id, subs)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, scraperView(updated, nil))
	}
}
