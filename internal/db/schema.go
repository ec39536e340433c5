package db

import (
	"context"
	"fmt"
)

// schemaStatements creates every fleet table and index. Statements are
// idempotent so EnsureSchema can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS scrapers (
		id TEXT PRIMARY KEY,
		scraper_type TEXT NOT NULL,
		primary_subreddit TEXT NOT NULL,
		subreddits TEXT[] NOT NULL DEFAULT '{}',
		pending_scrape TEXT[] NOT NULL DEFAULT '{}',
		config JSONB,
		credentials BYTEA,
		account_name TEXT,
		status TEXT NOT NULL DEFAULT 'stopped',
		auto_restart BOOLEAN NOT NULL DEFAULT TRUE,
		restart_count INTEGER NOT NULL DEFAULT 0,
		last_restart_at TIMESTAMPTZ,
		container_id TEXT,
		container_name TEXT,
		last_error TEXT,
		metrics JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scrapers_status ON scrapers (status)`,

	`CREATE TABLE IF NOT EXISTS posts (
		post_id TEXT PRIMARY KEY,
		subreddit TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '[deleted]',
		url TEXT,
		selftext TEXT,
		score INTEGER NOT NULL DEFAULT 0,
		num_comments INTEGER NOT NULL DEFAULT 0,
		permalink TEXT,
		flair TEXT,
		is_self BOOLEAN NOT NULL DEFAULT FALSE,
		created_utc TIMESTAMPTZ NOT NULL,
		scraped_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		comments_scraped BOOLEAN NOT NULL DEFAULT FALSE,
		initial_comments_scraped BOOLEAN NOT NULL DEFAULT FALSE,
		last_comment_fetch_time TIMESTAMPTZ,
		comments_scraped_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_subreddit ON posts (subreddit)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_comment_selection
		ON posts (subreddit, initial_comments_scraped, num_comments DESC, created_utc DESC)`,

	`CREATE TABLE IF NOT EXISTS comments (
		comment_id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL,
		parent_id TEXT,
		parent_type TEXT NOT NULL DEFAULT 'post',
		subreddit TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '[deleted]',
		body TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		depth INTEGER NOT NULL DEFAULT 0,
		is_submitter BOOLEAN NOT NULL DEFAULT FALSE,
		distinguished TEXT,
		stickied BOOLEAN NOT NULL DEFAULT FALSE,
		edited BOOLEAN NOT NULL DEFAULT FALSE,
		controversiality INTEGER NOT NULL DEFAULT 0,
		gilded INTEGER NOT NULL DEFAULT 0,
		created_utc TIMESTAMPTZ NOT NULL,
		scraped_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments (post_id)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_parent_id ON comments (parent_id)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_subreddit ON comments (subreddit)`,

	`CREATE TABLE IF NOT EXISTS subreddit_metadata (
		subreddit_name TEXT PRIMARY KEY,
		title TEXT,
		description TEXT,
		subscribers INTEGER NOT NULL DEFAULT 0,
		over18 BOOLEAN NOT NULL DEFAULT FALSE,
		attributes JSONB,
		embedding_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS accounts (
		account_name TEXT PRIMARY KEY,
		client_id BYTEA,
		client_secret BYTEA,
		password BYTEA,
		username TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS scrape_errors (
		id BIGSERIAL PRIMARY KEY,
		subreddit TEXT NOT NULL DEFAULT '',
		post_id TEXT,
		error_type TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		resolved BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_errors_unresolved ON scrape_errors (resolved, error_type)`,
	`CREATE INDEX IF NOT EXISTS idx_scrape_errors_post_id ON scrape_errors (post_id)`,

	`CREATE TABLE IF NOT EXISTS api_usage (
		id BIGSERIAL PRIMARY KEY,
		subreddit TEXT NOT NULL DEFAULT '',
		scraper_type TEXT NOT NULL,
		container_id TEXT,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		hour_bucket TEXT NOT NULL,
		day_bucket TEXT NOT NULL,
		http_requests INTEGER NOT NULL DEFAULT 0,
		estimated_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		cycle_duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		rate_limit JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_usage_recorded_at ON api_usage (recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_api_usage_day_bucket ON api_usage (day_bucket)`,
	`CREATE INDEX IF NOT EXISTS idx_api_usage_hour_bucket ON api_usage (hour_bucket)`,

	`CREATE TABLE IF NOT EXISTS subreddit_suggestions (
		id BIGSERIAL PRIMARY KEY,
		subreddits TEXT[] NOT NULL DEFAULT '{}',
		source TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		synced_at TIMESTAMPTZ,
		synced_to_scraper TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_suggestions_unsynced ON subreddit_suggestions (synced_at) WHERE synced_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS service_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		cron_expression TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		last_run_at TIMESTAMPTZ,
		next_run_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates any missing tables and indexes.
func (q *Queries) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
