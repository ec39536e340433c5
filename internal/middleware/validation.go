package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/onnwee/reddit-scraper-fleet/internal/apierr"
)

// MaxRequestBodySize caps mutation payloads. Queue edits and credential
// updates are a few hundred bytes, so 1MB is already generous.
const MaxRequestBodySize = 1 << 20

// BodyLimit bounds request bodies on mutating methods. Reads have no
// body worth limiting and the websocket upgrade must not be wrapped.
func BodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// ValidateSubredditName checks a name against Reddit's rules before it
// reaches a scraper config: 21 characters max, letters, digits and
// underscore only. Callers normalize case and strip "r/" prefixes
// before validating.
func ValidateSubredditName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("subreddit name cannot be empty")
	}
	if len(name) > 21 {
		return fmt.Errorf("subreddit name too long (max 21 characters)")
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return fmt.Errorf("subreddit name contains invalid characters: %q", name)
		}
	}
	return nil
}

// DecodeJSON reads a request body into dst and maps decode failures to
// API errors, so every handler rejects malformed payloads the same way.
func DecodeJSON(r *http.Request, dst any) *apierr.Error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return apierr.ValidationInvalidFormat("Content-Type must be application/json")
	}

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierr.ValidationInvalidFormat("Request body too large")
		}
		return apierr.ValidationInvalidJSON()
	}
	if dec.More() {
		return apierr.ValidationInvalidJSON()
	}
	return nil
}
