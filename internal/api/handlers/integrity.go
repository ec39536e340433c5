package handlers

import (
	"net/http"

	"github.com/onnwee/reddit-scraper-fleet/internal/apierr"
	"github.com/onnwee/reddit-scraper-fleet/internal/integrity"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

// GetIntegrity runs the read-only audit, optionally scoped with
// ?subreddit=. Repairs stay in the CLI; this endpoint only reports.
func GetIntegrity(svc *integrity.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subreddit := utils.NormalizeSubreddit(r.URL.Query().Get("subreddit"))

		report, err := svc.Audit(r.Context(), subreddit)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.SystemDatabase(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"report": report,
			"clean":  report.Clean(),
		})
	}
}
