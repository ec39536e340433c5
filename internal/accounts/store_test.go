package accounts

import (
	"context"
	"strings"
	"testing"

	"github.com/onnwee/reddit-scraper-fleet/internal/scraper"
	"github.com/onnwee/reddit-scraper-fleet/internal/secrets"
)

func testSealer(t *testing.T) secrets.Sealer {
	t.Helper()
	s, err := secrets.NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestSaveRejectsMissingName(t *testing.T) {
	s := New(nil, testSealer(t))
	_, err := s.Save(context.Background(), "", scraper.Credentials{
		ClientID: "id", ClientSecret: "sec", Username: "u", Password: "p", UserAgent: "ua",
	})
	if err == nil || !strings.Contains(err.Error(), "name") {
		t.Fatalf("expected name error, got %v", err)
	}
}

func TestSaveRejectsInvalidCredentials(t *testing.T) {
	s := New(nil, testSealer(t))
	_, err := s.Save(context.Background(), "main", scraper.Credentials{ClientID: "id"})
	if err == nil {
		t.Fatal("expected validation error for incomplete credentials")
	}
}
