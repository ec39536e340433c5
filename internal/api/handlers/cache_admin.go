package handlers

import (
	"net/http"

	"github.com/onnwee/reddit-scraper-fleet/internal/cache"
)

// GetCacheStats exposes the response cache's hit accounting so an
// operator can judge whether the usage endpoints are actually being
// served from memory.
func GetCacheStats(c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := c.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"hits":       stats.Hits,
			"misses":     stats.Misses,
			"keys_added": stats.KeysAdded,
			"evictions":  stats.Evictions,
			"size_bytes": stats.Size,
			"items":      stats.Items,
		})
	}
}

// ClearCache drops every cached response. Useful after manual data
// surgery when a stale usage report would mislead.
func ClearCache(c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.Clear()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}
