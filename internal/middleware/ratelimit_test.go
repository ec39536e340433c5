package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func limitedHandler(rl *RateLimiter) http.Handler {
	return rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func doRequest(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/scrapers", nil)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiterGlobalBucket(t *testing.T) {
	rl := NewRateLimiter(1.0, 2, 100.0, 100)
	defer rl.Stop()
	handler := limitedHandler(rl)

	// Two bursts from distinct IPs pass, the third hits the global cap.
	for i := 0; i < 2; i++ {
		if rr := doRequest(handler, fmt.Sprintf("10.0.0.%d:1000", i+1)); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rr.Code)
		}
	}
	rr := doRequest(handler, "10.0.0.3:1000")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "RATE_LIMIT_GLOBAL") {
		t.Errorf("body %q missing RATE_LIMIT_GLOBAL code", rr.Body.String())
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
}

func TestRateLimiterPerIPBucket(t *testing.T) {
	rl := NewRateLimiter(1000.0, 1000, 1.0, 2)
	defer rl.Stop()
	handler := limitedHandler(rl)

	for i := 0; i < 2; i++ {
		if rr := doRequest(handler, "192.0.2.10:4000"); rr.Code != http.StatusOK {
			t.Fatalf("request %d from same IP: status = %d, want 200", i+1, rr.Code)
		}
	}

	rr := doRequest(handler, "192.0.2.10:4001")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted IP: status = %d, want 429", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "RATE_LIMIT_IP") {
		t.Errorf("body %q missing RATE_LIMIT_IP code", rr.Body.String())
	}

	// A different IP gets a fresh bucket.
	if rr := doRequest(handler, "192.0.2.11:4000"); rr.Code != http.StatusOK {
		t.Errorf("other IP: status = %d, want 200", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{"forwarded list", "203.0.113.1, 198.51.100.7", "", "10.0.0.1:80", "203.0.113.1"},
		{"forwarded single", "203.0.113.9", "", "10.0.0.1:80", "203.0.113.9"},
		{"real ip", "", "203.0.113.2", "10.0.0.1:80", "203.0.113.2"},
		{"socket addr", "", "", "198.51.100.3:5123", "198.51.100.3"},
		{"socket no port", "", "", "198.51.100.4", "198.51.100.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
