package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Scraper lifecycle states.
const (
	ScraperStatusStarting = "starting"
	ScraperStatusRunning  = "running"
	ScraperStatusStopped  = "stopped"
	ScraperStatusFailed   = "failed"
)

// Scraper variants.
const (
	ScraperTypePosts    = "posts"
	ScraperTypeComments = "comments"
)

// Error ledger types.
const (
	ErrorTypePostScrape    = "post_scrape_failed"
	ErrorTypeCommentScrape = "comment_scrape_failed"
	ErrorTypeVerification  = "verification_failed"
	ErrorTypeAuth          = "auth_failed"
	ErrorTypeTransport     = "transport_error"
)

// MaxSubreddits caps a scraper's subreddit list. Throughput is governed by
// rate limiting, not list length; the cap only keeps records bounded.
const MaxSubreddits = 100

// Scraper is one tenant's durable record: identity, queue, config and
// container bookkeeping.
type Scraper struct {
	ID               string
	ScraperType      string
	PrimarySubreddit string
	Subreddits       pq.StringArray
	PendingScrape    pq.StringArray
	Config           pqtype.NullRawMessage
	Credentials      []byte
	AccountName      sql.NullString
	Status           string
	AutoRestart      bool
	RestartCount     int32
	LastRestartAt    sql.NullTime
	ContainerID      sql.NullString
	ContainerName    sql.NullString
	LastError        sql.NullString
	Metrics          pqtype.NullRawMessage
	CreatedAt        time.Time
	LastUpdated      time.Time
}

// ScraperConfig is the per-scraper tuning document stored in the config
// JSONB column. Zero values mean "use the fleet default".
type ScraperConfig struct {
	PostsLimit           int            `json:"posts_limit,omitempty"`
	SortLimits           map[string]int `json:"sort_limits,omitempty"`
	SortingMethods       []string       `json:"sorting_methods,omitempty"`
	IntervalSeconds      int            `json:"interval_seconds,omitempty"`
	RotationDelaySeconds int            `json:"rotation_delay_seconds,omitempty"`
	CommentBatch         int            `json:"comment_batch,omitempty"`
	MaxCommentDepth      *int           `json:"max_comment_depth,omitempty"`
	MoreCommentsLimit    *int           `json:"more_comments_limit,omitempty"`
	MaxRetries           int            `json:"max_retries,omitempty"`
	TopTimeFilter        string         `json:"top_time_filter,omitempty"`
	InitialTopTimeFilter string         `json:"initial_top_time_filter,omitempty"`
	VerifyBeforeMarking  *bool          `json:"verify_before_marking,omitempty"`
}

// ParsedConfig decodes the config document; a missing document decodes to
// the zero config.
func (s *Scraper) ParsedConfig() (ScraperConfig, error) {
	var cfg ScraperConfig
	if !s.Config.Valid || len(s.Config.RawMessage) == 0 {
		return cfg, nil
	}
	err := json.Unmarshal(s.Config.RawMessage, &cfg)
	return cfg, err
}

// ScraperMetrics is the rolled-up cycle accounting stored in the metrics
// JSONB column. The owning worker is its only writer.
type ScraperMetrics struct {
	TotalCycles       int64      `json:"total_cycles"`
	TotalPosts        int64      `json:"total_posts"`
	TotalComments     int64      `json:"total_comments"`
	TotalRequests     int64      `json:"total_requests"`
	LastCyclePosts    int64      `json:"last_cycle_posts"`
	LastCycleComments int64      `json:"last_cycle_comments"`
	LastCycleSeconds  float64    `json:"last_cycle_seconds"`
	AvgCycleSeconds   float64    `json:"avg_cycle_seconds"`
	PostsPerHour      float64    `json:"posts_per_hour"`
	CommentsPerHour   float64    `json:"comments_per_hour"`
	FirstCycleAt      *time.Time `json:"first_cycle_at,omitempty"`
	LastCycleAt       *time.Time `json:"last_cycle_at,omitempty"`
}

// ParsedMetrics decodes the metrics document; a missing document decodes to
// the zero value.
func (s *Scraper) ParsedMetrics() (ScraperMetrics, error) {
	var m ScraperMetrics
	if !s.Metrics.Valid || len(s.Metrics.RawMessage) == 0 {
		return m, nil
	}
	err := json.Unmarshal(s.Metrics.RawMessage, &m)
	return m, err
}

// Post is one stored submission plus its comment-scrape tracking fields.
// Tracking fields are owned by the comments worker and survive post upserts.
type Post struct {
	PostID                 string
	Subreddit              string
	Title                  string
	Author                 string
	URL                    sql.NullString
	Selftext               sql.NullString
	Score                  int32
	NumComments            int32
	Permalink              sql.NullString
	Flair                  sql.NullString
	IsSelf                 bool
	CreatedUTC             time.Time
	ScrapedAt              time.Time
	UpdatedAt              time.Time
	CommentsScraped        bool
	InitialCommentsScraped bool
	LastCommentFetchTime   sql.NullTime
	CommentsScrapedAt      sql.NullTime
}

// Comment is one stored comment. Comments are insert-only.
type Comment struct {
	CommentID        string
	PostID           string
	ParentID         sql.NullString
	ParentType       string
	Subreddit        string
	Author           string
	Body             string
	Score            int32
	Depth            int32
	IsSubmitter      bool
	Distinguished    sql.NullString
	Stickied         bool
	Edited           bool
	Controversiality int32
	Gilded           int32
	CreatedUTC       time.Time
	ScrapedAt        time.Time
}

// Account is a reusable named credential set. Secrets are sealed before
// they reach this struct's byte fields.
type Account struct {
	AccountName  string
	ClientID     []byte
	ClientSecret []byte
	Password     []byte
	Username     string
	UserAgent    string
	CreatedAt    time.Time
	LastUpdated  time.Time
}

// ScrapeError is one append-only error ledger row.
type ScrapeError struct {
	ID           int64
	Subreddit    string
	PostID       sql.NullString
	ErrorType    string
	ErrorMessage string
	RetryCount   int32
	Resolved     bool
	CreatedAt    time.Time
}

// APIUsage is one flushed usage sample.
type APIUsage struct {
	ID                   int64
	Subreddit            string
	ScraperType          string
	ContainerID          sql.NullString
	RecordedAt           time.Time
	HourBucket           string
	DayBucket            string
	HTTPRequests         int32
	EstimatedCostUSD     float64
	CycleDurationSeconds float64
	RateLimit            pqtype.NullRawMessage
}

// SubredditMetadata mirrors /r/{sub}/about. The embedding_status column is
// consumed by downstream enrichment systems; this repo only seeds it.
type SubredditMetadata struct {
	SubredditName   string
	Title           sql.NullString
	Description     sql.NullString
	Subscribers     int32
	Over18          bool
	Attributes      pqtype.NullRawMessage
	EmbeddingStatus string
	CreatedAt       time.Time
	LastUpdated     time.Time
}

// SubredditSuggestion is one batch of externally suggested subreddits
// awaiting sync into a running posts scraper.
type SubredditSuggestion struct {
	ID              int64
	Subreddits      pq.StringArray
	Source          sql.NullString
	CreatedAt       time.Time
	SyncedAt        sql.NullTime
	SyncedToScraper sql.NullString
}

// ScheduledTask is one maintenance task schedule row.
type ScheduledTask struct {
	ID             int32
	Name           string
	CronExpression string
	Enabled        bool
	LastRunAt      sql.NullTime
	NextRunAt      time.Time
}
