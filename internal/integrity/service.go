package integrity

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/logger"
)

// incompleteThreshold is the stored/claimed ratio below which a scraped post
// counts as incomplete. Reddit's num_comments includes deleted and removed
// comments, so a perfect scrape still stores fewer rows than claimed.
const incompleteThreshold = 0.9

// sampleLimit caps the example rows carried in a report.
const sampleLimit = 10

// Service runs read-only audits over the post and comment tables. It never
// writes; repairs go through the store's reset operation.
type Service struct {
	q   *db.Queries
	log *slog.Logger
}

func NewService(q *db.Queries) *Service {
	return &Service{q: q, log: logger.WithComponent("integrity")}
}

// GhostPost is a post marked comments_scraped that claims comments but has
// none stored.
type GhostPost struct {
	PostID      string `json:"post_id"`
	Subreddit   string `json:"subreddit"`
	Title       string `json:"title"`
	NumComments int32  `json:"num_comments"`
}

// IncompletePost is a scraped post whose stored comment count falls short of
// the claimed count by more than the threshold.
type IncompletePost struct {
	PostID     string  `json:"post_id"`
	Subreddit  string  `json:"subreddit"`
	Title      string  `json:"title"`
	Claimed    int32   `json:"claimed"`
	Stored     int64   `json:"stored"`
	MissingPct float64 `json:"missing_pct"`
}

// Report is one full audit pass.
type Report struct {
	Subreddit        string           `json:"subreddit,omitempty"`
	TotalPosts       int64            `json:"total_posts"`
	ScrapedPosts     int64            `json:"scraped_posts"`
	TotalComments    int64            `json:"total_comments"`
	GhostCount       int64            `json:"ghost_posts"`
	GhostSample      []GhostPost      `json:"ghost_sample,omitempty"`
	IncompleteCount  int64            `json:"incomplete_posts"`
	IncompleteSample []IncompletePost `json:"incomplete_sample,omitempty"`
	OrphanComments   int64            `json:"orphan_comments"`
	DepthViolations  int64            `json:"depth_violations"`
	Tables           []TableStats     `json:"tables,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// Clean reports whether the audit found no issues.
func (r Report) Clean() bool {
	return r.GhostCount == 0 && r.IncompleteCount == 0 &&
		r.OrphanComments == 0 && r.DepthViolations == 0
}

// missingPct is the share of claimed comments not stored, as a percentage.
func missingPct(claimed int32, stored int64) float64 {
	if claimed <= 0 {
		return 0
	}
	pct := (float64(claimed) - float64(stored)) / float64(claimed) * 100
	if pct < 0 {
		return 0
	}
	return pct
}

// Audit runs every check, optionally restricted to one subreddit. Table
// statistics are database-wide and only included in unfiltered reports.
func (s *Service) Audit(ctx context.Context, subreddit string) (Report, error) {
	r := Report{Subreddit: subreddit, GeneratedAt: time.Now().UTC()}

	if err := s.q.DB().QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM posts WHERE $1 = '' OR subreddit = $1),
			(SELECT COUNT(*) FROM posts WHERE comments_scraped = TRUE AND ($1 = '' OR subreddit = $1)),
			(SELECT COUNT(*) FROM comments WHERE $1 = '' OR subreddit = $1)`,
		subreddit,
	).Scan(&r.TotalPosts, &r.ScrapedPosts, &r.TotalComments); err != nil {
		return r, fmt.Errorf("count totals: %w", err)
	}

	var err error
	if r.GhostCount, r.GhostSample, err = s.ghostPosts(ctx, subreddit); err != nil {
		return r, fmt.Errorf("ghost posts: %w", err)
	}
	if r.IncompleteCount, r.IncompleteSample, err = s.incompletePosts(ctx, subreddit); err != nil {
		return r, fmt.Errorf("incomplete posts: %w", err)
	}
	if r.OrphanComments, err = s.orphanComments(ctx, subreddit); err != nil {
		return r, fmt.Errorf("orphan comments: %w", err)
	}
	if r.DepthViolations, err = s.depthViolations(ctx, subreddit); err != nil {
		return r, fmt.Errorf("depth violations: %w", err)
	}
	if subreddit == "" {
		if r.Tables, err = s.TableStatistics(ctx); err != nil {
			return r, fmt.Errorf("table statistics: %w", err)
		}
	}

	if !r.Clean() {
		s.log.WarnContext(ctx, "⚠️ integrity issues found",
			"subreddit", subreddit,
			"ghosts", r.GhostCount,
			"incomplete", r.IncompleteCount,
			"orphan_comments", r.OrphanComments,
			"depth_violations", r.DepthViolations)
	}
	return r, nil
}

// ghostFilter matches posts marked scraped that claim comments but have no
// stored rows. Posts claiming zero comments are excluded; an empty tree is a
// legitimately scraped state.
const ghostFilter = `
	p.comments_scraped = TRUE
	AND p.num_comments > 0
	AND ($1 = '' OR p.subreddit = $1)
	AND NOT EXISTS (SELECT 1 FROM comments c WHERE c.post_id = p.post_id)`

func (s *Service) ghostPosts(ctx context.Context, subreddit string) (int64, []GhostPost, error) {
	var count int64
	if err := s.q.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts p WHERE`+ghostFilter, subreddit,
	).Scan(&count); err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	rows, err := s.q.DB().QueryContext(ctx, `
		SELECT p.post_id, p.subreddit, p.title, p.num_comments
		FROM posts p WHERE`+ghostFilter+`
		ORDER BY p.num_comments DESC LIMIT `+fmt.Sprint(sampleLimit), subreddit)
	if err != nil {
		return count, nil, err
	}
	defer rows.Close()

	var sample []GhostPost
	for rows.Next() {
		var g GhostPost
		if err := rows.Scan(&g.PostID, &g.Subreddit, &g.Title, &g.NumComments); err != nil {
			return count, nil, err
		}
		sample = append(sample, g)
	}
	return count, sample, rows.Err()
}

// incompleteFilter aggregates stored comments per scraped post and keeps the
// ones below the threshold. Ghost posts qualify here too; the two categories
// overlap so each count stands on its own.
var incompleteFilter = `
	FROM posts p
	LEFT JOIN comments c ON c.post_id = p.post_id
	WHERE p.comments_scraped = TRUE
		AND p.num_comments > 0
		AND ($1 = '' OR p.subreddit = $1)
	GROUP BY p.post_id
	HAVING COUNT(c.comment_id) < p.num_comments * ` + fmt.Sprint(incompleteThreshold)

func (s *Service) incompletePosts(ctx context.Context, subreddit string) (int64, []IncompletePost, error) {
	var count int64
	if err := s.q.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (SELECT p.post_id`+incompleteFilter+`) incomplete`, subreddit,
	).Scan(&count); err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	rows, err := s.q.DB().QueryContext(ctx, `
		SELECT p.post_id, p.subreddit, p.title, p.num_comments, COUNT(c.comment_id)`+
		incompleteFilter+`
		ORDER BY p.num_comments - COUNT(c.comment_id) DESC LIMIT `+fmt.Sprint(sampleLimit), subreddit)
	if err != nil {
		return count, nil, err
	}
	defer rows.Close()

	var sample []IncompletePost
	for rows.Next() {
		var p IncompletePost
		if err := rows.Scan(&p.PostID, &p.Subreddit, &p.Title, &p.Claimed, &p.Stored); err != nil {
			return count, nil, err
		}
		p.MissingPct = missingPct(p.Claimed, p.Stored)
		sample = append(sample, p)
	}
	return count, sample, rows.Err()
}

// orphanComments counts comments whose post is not stored.
func (s *Service) orphanComments(ctx context.Context, subreddit string) (int64, error) {
	var count int64
	err := s.q.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM comments c
		WHERE ($1 = '' OR c.subreddit = $1)
			AND NOT EXISTS (SELECT 1 FROM posts p WHERE p.post_id = c.post_id)`,
		subreddit,
	).Scan(&count)
	return count, err
}

// depthViolations counts comments whose depth disagrees with their parent:
// top-level comments at nonzero depth, and nested comments whose parent is
// missing or not exactly one level up.
func (s *Service) depthViolations(ctx context.Context, subreddit string) (int64, error) {
	var count int64
	err := s.q.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM comments c
		LEFT JOIN comments parent ON parent.comment_id = c.parent_id
		WHERE ($1 = '' OR c.subreddit = $1)
			AND (
				(c.parent_type = 'post' AND c.depth <> 0)
				OR (c.parent_type = 'comment'
					AND (parent.comment_id IS NULL OR c.depth <> parent.depth + 1))
			)`,
		subreddit,
	).Scan(&count)
	return count, err
}

// GhostPostIDs returns every ghost post ID, unsampled, for repair tooling.
func (s *Service) GhostPostIDs(ctx context.Context, subreddit string) ([]string, error) {
	rows, err := s.q.DB().QueryContext(ctx,
		`SELECT p.post_id FROM posts p WHERE`+ghostFilter, subreddit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

// IncompletePostIDs returns every incomplete post ID, unsampled, for repair
// tooling.
func (s *Service) IncompletePostIDs(ctx context.Context, subreddit string) ([]string, error) {
	rows, err := s.q.DB().QueryContext(ctx,
		`SELECT p.post_id`+incompleteFilter, subreddit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TableStats is one table's storage footprint from pg_stat_user_tables.
type TableStats struct {
	TableName       string     `json:"table_name"`
	Size            string     `json:"size"`
	RowCount        int64      `json:"row_count"`
	DeadRows        int64      `json:"dead_rows"`
	LastVacuum      *time.Time `json:"last_vacuum,omitempty"`
	LastAutoVacuum  *time.Time `json:"last_autovacuum,omitempty"`
	LastAnalyze     *time.Time `json:"last_analyze,omitempty"`
	LastAutoAnalyze *time.Time `json:"last_autoanalyze,omitempty"`
}

// TableStatistics reports per-table size, row counts and vacuum history,
// largest tables first.
func (s *Service) TableStatistics(ctx context.Context) ([]TableStats, error) {
	rows, err := s.q.DB().QueryContext(ctx, `
		SELECT
			tablename,
			pg_size_pretty(pg_total_relation_size(schemaname||'.'||tablename)),
			n_live_tup,
			n_dead_tup,
			last_vacuum,
			last_autovacuum,
			last_analyze,
			last_autoanalyze
		FROM pg_stat_user_tables
		WHERE schemaname = 'public'
		ORDER BY pg_total_relation_size(schemaname||'.'||tablename) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []TableStats
	for rows.Next() {
		var t TableStats
		var vacuum, autoVacuum, analyze, autoAnalyze sql.NullTime
		if err := rows.Scan(&t.TableName, &t.Size, &t.RowCount, &t.DeadRows,
			&vacuum, &autoVacuum, &analyze, &autoAnalyze); err != nil {
			return nil, err
		}
		if vacuum.Valid {
			t.LastVacuum = &vacuum.Time
		}
		if autoVacuum.Valid {
			t.LastAutoVacuum = &autoVacuum.Time
		}
		if analyze.Valid {
			t.LastAnalyze = &analyze.Time
		}
		if autoAnalyze.Valid {
			t.LastAutoAnalyze = &autoAnalyze.Time
		}
		stats = append(stats, t)
	}
	return stats, rows.Err()
}

// BloatAnalysis lists tables by dead tuple count so operators can spot
// vacuum candidates.
func (s *Service) BloatAnalysis(ctx context.Context) ([]TableStats, error) {
	rows, err := s.q.DB().QueryContext(ctx, `
		SELECT
			tablename,
			pg_size_pretty(pg_total_relation_size(schemaname||'.'||tablename)),
			n_live_tup,
			n_dead_tup
		FROM pg_stat_user_tables
		WHERE schemaname = 'public' AND (n_live_tup + n_dead_tup) > 0
		ORDER BY n_dead_tup DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []TableStats
	for rows.Next() {
		var t TableStats
		if err := rows.Scan(&t.TableName, &t.Size, &t.RowCount, &t.DeadRows); err != nil {
			return nil, err
		}
		stats = append(stats, t)
	}
	return stats, rows.Err()
}
