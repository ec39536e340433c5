package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/onnwee/reddit-scraper-fleet/internal/db"
	"github.com/onnwee/reddit-scraper-fleet/internal/integrity"
	"github.com/onnwee/reddit-scraper-fleet/internal/utils"
)

func main() {
	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
	checkSub := checkCmd.String("subreddit", "", "Only audit one subreddit")

	repairCmd := flag.NewFlagSet("repair", flag.ExitOnError)
	repairSub := repairCmd.String("subreddit", "", "Only repair one subreddit")
	repairDry := repairCmd.Bool("dry-run", false, "Show what would be reset without writing")
	repairIncomplete := repairCmd.Bool("include-incomplete", false,
		"Also reset posts missing more than 10% of claimed comments")

	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)
	bloatCmd := flag.NewFlagSet("bloat", flag.ExitOnError)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}
	q, err := db.Init(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	svc := integrity.NewService(q)
	ctx := context.Background()

	switch os.Args[1] {
	case "check":
		checkCmd.Parse(os.Args[2:])
		runCheck(ctx, svc, *checkSub)
	case "repair":
		repairCmd.Parse(os.Args[2:])
		runRepair(ctx, svc, q, *repairSub, *repairIncomplete, *repairDry)
	case "stats":
		statsCmd.Parse(os.Args[2:])
		runStats(ctx, svc)
	case "bloat":
		bloatCmd.Parse(os.Args[2:])
		runBloat(ctx, svc)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Reddit Scraper Fleet - Data Integrity Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  integrity check [-subreddit NAME]   - Audit stored posts and comments")
	fmt.Println("  integrity repair [options]          - Reset flags on broken posts for re-scrape")
	fmt.Println("  integrity stats                     - Show per-table database statistics")
	fmt.Println("  integrity bloat                     - Analyze table bloat")
	fmt.Println()
	fmt.Println("Repair options:")
	fmt.Println("  -subreddit NAME        Only repair posts from one subreddit")
	fmt.Println("  -include-incomplete    Also reset posts missing >10% of claimed comments")
	fmt.Println("  -dry-run               Show what would be reset without writing")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  integrity check")
	fmt.Println("  integrity check -subreddit golang")
	fmt.Println("  integrity repair -dry-run")
	fmt.Println("  integrity repair -include-incomplete")
}

func runCheck(ctx context.Context, svc *integrity.Service, subreddit string) {
	log.Println("Running integrity audit...")

	report, err := svc.Audit(ctx, subreddit)
	if err != nil {
		log.Fatalf("Audit failed: %v", err)
	}

	fmt.Println()
	fmt.Println("=== Data Integrity Report ===")
	if subreddit != "" {
		fmt.Printf("Subreddit: r/%s\n", subreddit)
	}
	fmt.Println()
	fmt.Printf("Total posts:          %d\n", report.TotalPosts)
	fmt.Printf("Posts marked scraped: %d\n", report.ScrapedPosts)
	fmt.Printf("Total comments:       %d\n", report.TotalComments)
	fmt.Println()

	fmt.Printf("👻 Ghost posts (marked scraped, zero stored comments): %d\n", report.GhostCount)
	for i, g := range report.GhostSample {
		fmt.Printf("  %d. %s  r/%s  %d comments claimed  %q\n",
			i+1, g.PostID, g.Subreddit, g.NumComments, utils.TruncateString(g.Title, 60))
	}
	fmt.Println()

	fmt.Printf("⚠️  Incomplete posts (missing >10%% of comments): %d\n", report.IncompleteCount)
	for i, p := range report.IncompleteSample {
		fmt.Printf("  %d. %s  r/%s  claimed %d, stored %d (%.1f%% missing)  %q\n",
			i+1, p.PostID, p.Subreddit, p.Claimed, p.Stored, p.MissingPct, utils.TruncateString(p.Title, 50))
	}
	fmt.Println()

	fmt.Printf("Orphan comments:  %d\n", report.OrphanComments)
	fmt.Printf("Depth violations: %d\n", report.DepthViolations)
	fmt.Println()

	if report.Clean() {
		fmt.Println("✅ All integrity checks passed!")
		return
	}
	fmt.Println("Run 'integrity repair' to reset broken posts for re-scrape")
	os.Exit(1)
}

func runRepair(ctx context.Context, svc *integrity.Service, q *db.Queries, subreddit string, includeIncomplete, dryRun bool) {
	ids, err := svc.GhostPostIDs(ctx, subreddit)
	if err != nil {
		log.Fatalf("Finding ghost posts failed: %v", err)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	ghostCount := len(ids)

	if includeIncomplete {
		more, err := svc.IncompletePostIDs(ctx, subreddit)
		if err != nil {
			log.Fatalf("Finding incomplete posts failed: %v", err)
		}
		for _, id := range more {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}

	if len(ids) == 0 {
		fmt.Println("✅ Nothing to repair")
		return
	}

	fmt.Printf("Found %d posts to reset (%d ghosts, %d incomplete-only)\n",
		len(ids), ghostCount, len(ids)-ghostCount)

	if dryRun {
		fmt.Println("[DRY RUN] No changes will be made")
		for i, id := range ids {
			if i == 20 {
				fmt.Printf("  ... and %d more\n", len(ids)-20)
				break
			}
			fmt.Printf("  would reset %s\n", id)
		}
		return
	}

	reset, err := q.ResetPostCommentFlags(ctx, ids)
	if err != nil {
		log.Fatalf("Reset failed: %v", err)
	}
	fmt.Printf("✅ Reset %d posts; they will be re-scraped on the next comment pass\n", reset)
}

func runStats(ctx context.Context, svc *integrity.Service) {
	log.Println("Retrieving database statistics...")

	stats, err := svc.TableStatistics(ctx)
	if err != nil {
		log.Fatalf("Failed to get database statistics: %v", err)
	}

	fmt.Println()
	fmt.Println("=== Database Statistics ===")
	fmt.Println()
	fmt.Printf("%-25s %12s %12s %12s %20s %20s\n",
		"Table", "Size", "Rows", "Dead Rows", "Last Vacuum", "Last Analyze")
	fmt.Println(strings.Repeat("-", 120))
	for _, stat := range stats {
		lastVacuum := "Never"
		if stat.LastVacuum != nil {
			lastVacuum = stat.LastVacuum.Format("2006-01-02 15:04")
		} else if stat.LastAutoVacuum != nil {
			lastVacuum = stat.LastAutoVacuum.Format("2006-01-02 15:04") + " (auto)"
		}

		lastAnalyze := "Never"
		if stat.LastAnalyze != nil {
			lastAnalyze = stat.LastAnalyze.Format("2006-01-02 15:04")
		} else if stat.LastAutoAnalyze != nil {
			lastAnalyze = stat.LastAutoAnalyze.Format("2006-01-02 15:04") + " (auto)"
		}

		fmt.Printf("%-25s %12s %12d %12d %20s %20s\n",
			stat.TableName, stat.Size, stat.RowCount, stat.DeadRows, lastVacuum, lastAnalyze)
	}
}

func runBloat(ctx context.Context, svc *integrity.Service) {
	log.Println("Analyzing table bloat...")

	stats, err := svc.BloatAnalysis(ctx)
	if err != nil {
		log.Fatalf("Failed to analyze bloat: %v", err)
	}

	fmt.Println()
	fmt.Println("=== Table Bloat Analysis ===")
	fmt.Println()
	fmt.Printf("%-25s %12s %12s %12s %10s\n",
		"Table", "Size", "Live Rows", "Dead Rows", "% Dead")
	fmt.Println(strings.Repeat("-", 80))

	for _, stat := range stats {
		percentDead := 0.0
		if stat.RowCount+stat.DeadRows > 0 {
			percentDead = float64(stat.DeadRows) / float64(stat.RowCount+stat.DeadRows) * 100
		}

		fmt.Printf("%-25s %12s %12d %12d %9.2f%%\n",
			stat.TableName, stat.Size, stat.RowCount, stat.DeadRows, percentDead)
	}

	fmt.Println()
	fmt.Println("Tables with >10% dead tuples should be vacuumed.")
	fmt.Println("Run: VACUUM ANALYZE <table_name>;")
}
