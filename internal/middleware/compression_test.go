package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
)

var statusPayload = strings.Repeat(`{"scraper_id":"politics-abc123","status":"running"}`, 50)

func payloadHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(statusPayload))
	})
}

func TestCompressPrefersBrotli(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/scrapers", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	rr := httptest.NewRecorder()
	Compress(payloadHandler()).ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Encoding"); got != "br" {
		t.Fatalf("Content-Encoding = %q, want br", got)
	}
	decoded, err := io.ReadAll(brotli.NewReader(rr.Body))
	if err != nil {
		t.Fatalf("brotli decode: %v", err)
	}
	if string(decoded) != statusPayload {
		t.Error("decoded body does not match original payload")
	}
}

func TestCompressFallsBackToGzip(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/scrapers", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rr := httptest.NewRecorder()
	Compress(payloadHandler()).ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", got)
	}
	zr, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	decoded, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gzip decode: %v", err)
	}
	if string(decoded) != statusPayload {
		t.Error("decoded body does not match original payload")
	}
}

func TestCompressIdentityWhenNotAccepted(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/scrapers", nil)
	rr := httptest.NewRecorder()
	Compress(payloadHandler()).ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, want identity", got)
	}
	if rr.Body.String() != statusPayload {
		t.Error("identity body should be untouched")
	}
	if got := rr.Header().Get("Vary"); got != "Accept-Encoding" {
		t.Errorf("Vary = %q, want Accept-Encoding even on identity responses", got)
	}
}

func TestCompressSkipsUpgradeRequests(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/fleet/ws", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	rr := httptest.NewRecorder()
	Compress(payloadHandler()).ServeHTTP(rr, req)

	if got := rr.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q, upgrade requests must not be wrapped", got)
	}
}

func TestCompressLeavesNoContentEmpty(t *testing.T) {
	handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("DELETE", "/api/scrapers/politics-abc123", nil)
	req.Header.Set("Accept-Encoding", "br")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("204 body has %d bytes, want none", rr.Body.Len())
	}
	if got := rr.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("Content-Encoding = %q on bodyless response", got)
	}
}

func TestAcceptedEncoding(t *testing.T) {
	tests := []struct {
		accept string
		want   string
	}{
		{"", ""},
		{"gzip", "gzip"},
		{"br", "br"},
		{"gzip, deflate, br", "br"},
		{"br;q=1.0, gzip;q=0.8", "br"},
		{"GZIP", "gzip"},
		{"deflate", ""},
		{"identity", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.accept != "" {
			req.Header.Set("Accept-Encoding", tt.accept)
		}
		if got := acceptedEncoding(req); got != tt.want {
			t.Errorf("acceptedEncoding(%q) = %q, want %q", tt.accept, got, tt.want)
		}
	}
}
