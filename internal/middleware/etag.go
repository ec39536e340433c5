package middleware

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/http"
)

const (
	// Usage and integrity reports only move on scraper cadence, so a
	// short client cache plus revalidation covers dashboard polling.
	etagMaxAgeSeconds = 60
	etagStaleSeconds  = 300
)

type bufferedResponse struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *bufferedResponse) WriteHeader(status int) {
	w.status = status
}

func (w *bufferedResponse) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

// ETag buffers successful GET responses, derives a content hash, and
// answers If-None-Match revalidations with 304. Attach it per route
// rather than globally: buffering the whole body is only worth it on
// report-style endpoints.
func ETag(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		buf := &bufferedResponse{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(buf, r)

		if buf.status != http.StatusOK {
			w.WriteHeader(buf.status)
			w.Write(buf.body.Bytes())
			return
		}

		sum := sha256.Sum256(buf.body.Bytes())
		tag := fmt.Sprintf(`"%x"`, sum[:16])

		w.Header().Set("ETag", tag)
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, stale-while-revalidate=%d",
			etagMaxAgeSeconds, etagStaleSeconds))

		if r.Header.Get("If-None-Match") == tag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.WriteHeader(buf.status)
		w.Write(buf.body.Bytes())
	})
}
