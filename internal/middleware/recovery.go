package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	"github.com/onnwee/reddit-scraper-fleet/internal/apierr"
	"github.com/onnwee/reddit-scraper-fleet/internal/errorreporting"
	"github.com/onnwee/reddit-scraper-fleet/internal/logger"
)

// Recover turns handler panics into structured 500 responses. The panic
// and its stack are logged with the request ID and forwarded to Sentry
// when a DSN is configured, so a crashing handler never takes the
// control plane down with it.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				stack := debug.Stack()
				logger.ErrorContext(r.Context(), "❌ Panic in handler",
					"panic", v,
					"method", r.Method,
					"path", r.URL.Path,
					"stack", string(stack),
				)

				if errorreporting.IsSentryEnabled() {
					hub := sentry.CurrentHub().Clone()
					hub.Scope().SetRequest(r)
					hub.Scope().SetLevel(sentry.LevelError)
					hub.Scope().SetTag("method", r.Method)
					hub.Scope().SetTag("path", r.URL.Path)
					if err, ok := v.(error); ok {
						hub.CaptureException(err)
					} else {
						hub.CaptureMessage(errorreporting.ScrubPII(fmt.Sprintf("panic: %v", v)))
					}
				}

				apierr.WriteErrorWithContext(w, r, apierr.SystemInternal(""))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
