package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrSubredditLimit is returned when a mutation would push a scraper's
// subreddit list past MaxSubreddits.
var ErrSubredditLimit = errors.New("subreddit list exceeds the cap")

const scraperColumns = `id, scraper_type, primary_subreddit, subreddits, pending_scrape,
	config, credentials, account_name, status, auto_restart, restart_count, last_restart_at,
	container_id, container_name, last_error, metrics, created_at, last_updated`

func scanScraper(row interface{ Scan(...interface{}) error }) (Scraper, error) {
	var s Scraper
	err := row.Scan(
		&s.ID, &s.ScraperType, &s.PrimarySubreddit, &s.Subreddits, &s.PendingScrape,
		&s.Config, &s.Credentials, &s.AccountName, &s.Status, &s.AutoRestart,
		&s.RestartCount, &s.LastRestartAt, &s.ContainerID, &s.ContainerName,
		&s.LastError, &s.Metrics, &s.CreatedAt, &s.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// CreateScraperParams carries everything needed to persist a new scraper record.
type CreateScraperParams struct {
	ID               string
	ScraperType      string
	PrimarySubreddit string
	Subreddits       []string
	Config           ScraperConfig
	Credentials      []byte
	AccountName      sql.NullString
	AutoRestart      bool
}

// CreateScraper inserts a new scraper record in the starting state. The
// primary subreddit is always part of the subreddit list, and every listed
// subreddit starts out pending.
func (q *Queries) CreateScraper(ctx context.Context, p CreateScraperParams) (Scraper, error) {
	cfgJSON, err := json.Marshal(p.Config)
	if err != nil {
		return Scraper{}, fmt.Errorf("marshal scraper config: %w", err)
	}
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO scrapers (id, scraper_type, primary_subreddit, subreddits, pending_scrape,
			config, credentials, account_name, status, auto_restart)
		VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8, $9)
		RETURNING `+scraperColumns,
		p.ID, p.ScraperType, p.PrimarySubreddit, pq.Array(p.Subreddits),
		pqtype.NullRawMessage{RawMessage: cfgJSON, Valid: true},
		p.Credentials, p.AccountName, ScraperStatusStarting, p.AutoRestart,
	)
	return scanScraper(row)
}

// GetScraper fetches one scraper record.
func (q *Queries) GetScraper(ctx context.Context, id string) (Scraper, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+scraperColumns+` FROM scrapers WHERE id = $1`, id)
	return scanScraper(row)
}

// ListScrapers returns all scraper records, newest first.
func (q *Queries) ListScrapers(ctx context.Context) ([]Scraper, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+scraperColumns+` FROM scrapers ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Scraper
	for rows.Next() {
		s, err := scanScraper(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListScrapersByStatus returns scrapers currently in the given status.
func (q *Queries) ListScrapersByStatus(ctx context.Context, status string) ([]Scraper, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+scraperColumns+` FROM scrapers WHERE status = $1 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Scraper
	for rows.Next() {
		s, err := scanScraper(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetActiveScraperByType finds a running (or starting) scraper of the given
// type. Used by the suggestions sync to pick its merge target.
func (q *Queries) GetActiveScraperByType(ctx context.Context, scraperType string) (Scraper, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+scraperColumns+` FROM scrapers
		WHERE scraper_type = $1 AND status IN ($2, $3)
		ORDER BY created_at ASC
		LIMIT 1`,
		scraperType, ScraperStatusRunning, ScraperStatusStarting,
	)
	return scanScraper(row)
}

// DeleteScraper removes a scraper record.
func (q *Queries) DeleteScraper(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM scrapers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetScraperStatus transitions a scraper's lifecycle state. lastErr is only
// written when non-empty so a clean stop does not erase failure context.
func (q *Queries) SetScraperStatus(ctx context.Context, id, status, lastErr string) error {
	var err error
	if lastErr != "" {
		_, err = q.db.ExecContext(ctx, `
			UPDATE scrapers SET status = $2, last_error = $3, last_updated = now() WHERE id = $1`,
			id, status, lastErr)
	} else {
		_, err = q.db.ExecContext(ctx, `
			UPDATE scrapers SET status = $2, last_updated = now() WHERE id = $1`,
			id, status)
	}
	return err
}

// SetScraperContainer records the launched container. The supervisor is the
// only caller.
func (q *Queries) SetScraperContainer(ctx context.Context, id, containerID, containerName string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE scrapers SET container_id = $2, container_name = $3, last_updated = now() WHERE id = $1`,
		id, containerID, containerName)
	return err
}

// ClearScraperContainer drops container bookkeeping after teardown.
func (q *Queries) ClearScraperContainer(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE scrapers SET container_id = NULL, container_name = NULL, last_updated = now() WHERE id = $1`, id)
	return err
}

// SetScraperAutoRestart toggles supervisor-driven restarts for one scraper.
func (q *Queries) SetScraperAutoRestart(ctx context.Context, id string, enabled bool) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE scrapers SET auto_restart = $2, last_updated = now() WHERE id = $1`, id, enabled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementScraperRestartCount bumps restart bookkeeping.
func (q *Queries) IncrementScraperRestartCount(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE scrapers SET restart_count = restart_count + 1, last_restart_at = now(), last_updated = now()
		WHERE id = $1`, id)
	return err
}

// UpdateScraperCredentials swaps the sealed credential blob.
func (q *Queries) UpdateScraperCredentials(ctx context.Context, id string, credentials []byte, accountName sql.NullString) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE scrapers SET credentials = $2, account_name = $3, last_updated = now() WHERE id = $1`,
		id, credentials, accountName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateScraperConfig replaces the config document.
func (q *Queries) UpdateScraperConfig(ctx context.Context, id string, cfg ScraperConfig) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal scraper config: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE scrapers SET config = $2, last_updated = now() WHERE id = $1`,
		id, pqtype.NullRawMessage{RawMessage: cfgJSON, Valid: true})
	return err
}

// UpdateScraperMetrics replaces the metrics document. The owning worker is
// the sole writer, so replace semantics are race-free.
func (q *Queries) UpdateScraperMetrics(ctx context.Context, id string, m ScraperMetrics) error {
	mJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal scraper metrics: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		UPDATE scrapers SET metrics = $2, last_updated = now() WHERE id = $1`,
		id, pqtype.NullRawMessage{RawMessage: mJSON, Valid: true})
	return err
}

// AddScraperSubreddits appends genuinely new subreddits to both the rotation
// list and the pending set in one statement. Already-listed names are
// ignored, so the operation is idempotent and commutes with worker-side
// pending removals.
func (q *Queries) AddScraperSubreddits(ctx context.Context, id string, subs []string) (Scraper, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE scrapers SET
			subreddits = subreddits || COALESCE(
				(SELECT array_agg(s ORDER BY ord)
				 FROM unnest($2::text[]) WITH ORDINALITY AS t(s, ord)
				 WHERE s <> ALL(subreddits)), '{}'),
			pending_scrape = pending_scrape || COALESCE(
				(SELECT array_agg(s ORDER BY ord)
				 FROM unnest($2::text[]) WITH ORDINALITY AS t(s, ord)
				 WHERE s <> ALL(subreddits) AND s <> ALL(pending_scrape)), '{}'),
			last_updated = now()
		WHERE id = $1
		RETURNING `+scraperColumns,
		id, pq.Array(subs),
	)
	return scanScraper(row)
}

// RemoveScraperSubreddits drops subreddits from both lists in one statement.
// Callers are responsible for primary-subreddit protection.
func (q *Queries) RemoveScraperSubreddits(ctx context.Context, id string, subs []string) (Scraper, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE scrapers SET
			subreddits = COALESCE(
				(SELECT array_agg(x ORDER BY ord)
				 FROM unnest(subreddits) WITH ORDINALITY AS t(x, ord)
				 WHERE x <> ALL($2::text[])), '{}'),
			pending_scrape = COALESCE(
				(SELECT array_agg(x ORDER BY ord)
				 FROM unnest(pending_scrape) WITH ORDINALITY AS t(x, ord)
				 WHERE x <> ALL($2::text[])), '{}'),
			last_updated = now()
		WHERE id = $1
		RETURNING `+scraperColumns,
		id, pq.Array(subs),
	)
	return scanScraper(row)
}

// ReplaceScraperSubreddits swaps the rotation list wholesale. Pending keeps
// its surviving entries and gains the additions; removals leave both lists.
func (q *Queries) ReplaceScraperSubreddits(ctx context.Context, id string, subs []string) (Scraper, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE scrapers SET
			subreddits = $2::text[],
			pending_scrape = COALESCE(
				(SELECT array_agg(x ORDER BY ord)
				 FROM unnest(pending_scrape) WITH ORDINALITY AS t(x, ord)
				 WHERE x = ANY($2::text[])), '{}')
			|| COALESCE(
				(SELECT array_agg(s ORDER BY ord)
				 FROM unnest($2::text[]) WITH ORDINALITY AS t(s, ord)
				 WHERE s <> ALL(subreddits) AND s <> ALL(pending_scrape)), '{}'),
			last_updated = now()
		WHERE id = $1
		RETURNING `+scraperColumns,
		id, pq.Array(subs),
	)
	return scanScraper(row)
}

// MarkSubredditScraped removes one subreddit from the pending set after the
// worker finishes its priority pass. Workers are the only callers.
func (q *Queries) MarkSubredditScraped(ctx context.Context, id, subreddit string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE scrapers SET pending_scrape = array_remove(pending_scrape, $2), last_updated = now()
		WHERE id = $1`, id, subreddit)
	return err
}

// TouchScraper refreshes last_updated as a worker liveness signal.
func (q *Queries) TouchScraper(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE scrapers SET last_updated = now() WHERE id = $1`, id)
	return err
}

// StatusSummaryRow is one group in the fleet status rollup.
type StatusSummaryRow struct {
	Status   string
	Count    int64
	Scrapers pq.StringArray
}

// GetStatusSummary groups scrapers by lifecycle state.
func (q *Queries) GetStatusSummary(ctx context.Context) ([]StatusSummaryRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT status, COUNT(*), array_agg(id ORDER BY created_at)
		FROM scrapers GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusSummaryRow
	for rows.Next() {
		var r StatusSummaryRow
		if err := rows.Scan(&r.Status, &r.Count, &r.Scrapers); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
