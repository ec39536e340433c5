package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// ensure defaults kick in with empty env
	os.Unsetenv("REDDIT_USER_AGENT")
	os.Unsetenv("HTTP_MAX_RETRIES")
	os.Unsetenv("RATE_LIMIT_THRESHOLD")
	os.Unsetenv("COST_PER_1000_REQUESTS")
	os.Unsetenv("COMMENT_BATCH")
	os.Unsetenv("TOP_TIME_FILTER")
	os.Unsetenv("INITIAL_TOP_TIME_FILTER")
	ResetForTest()

	cfg := Load()
	if cfg.UserAgent == "" {
		t.Fatalf("expected default UA, got empty")
	}
	if cfg.HTTPMaxRetries != 3 {
		t.Fatalf("expected default retries=3, got %d", cfg.HTTPMaxRetries)
	}
	if cfg.RateLimitThreshold != 50 {
		t.Fatalf("expected default threshold=50, got %v", cfg.RateLimitThreshold)
	}
	if cfg.RateLimitGuard != 5*time.Second {
		t.Fatalf("expected default guard=5s, got %v", cfg.RateLimitGuard)
	}
	if cfg.CostPer1000Requests != 0.24 {
		t.Fatalf("expected default cost=0.24, got %v", cfg.CostPer1000Requests)
	}
	if cfg.CommentBatch != 20 || cfg.MaxCommentDepth != 3 {
		t.Fatalf("unexpected defaults: batch=%d depth=%d", cfg.CommentBatch, cfg.MaxCommentDepth)
	}
	if cfg.TopTimeFilter != "day" || cfg.InitialTopTimeFilter != "month" {
		t.Fatalf("unexpected time filters: %q %q", cfg.TopTimeFilter, cfg.InitialTopTimeFilter)
	}
	if len(cfg.SortingMethods) != 3 {
		t.Fatalf("expected 3 default sorts, got %v", cfg.SortingMethods)
	}
}

func TestLoadCaches(t *testing.T) {
	ResetForTest()
	os.Setenv("COMMENT_BATCH", "7")
	defer os.Unsetenv("COMMENT_BATCH")

	first := Load()
	if first.CommentBatch != 7 {
		t.Fatalf("expected batch=7, got %d", first.CommentBatch)
	}
	os.Setenv("COMMENT_BATCH", "99")
	if second := Load(); second.CommentBatch != 7 {
		t.Fatalf("expected cached batch=7, got %d", second.CommentBatch)
	}
}
