package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"nav-strike-engine/internal/config"
	"nav-strike-engine/internal/domain"
	"nav-strike-engine/internal/reporting"
	"nav-strike-engine/internal/storage"
	chstore "nav-strike-engine/internal/storage/clickhouse"
	pgstore "nav-strike-engine/internal/storage/postgres"
)

func main() {
	_ = config.LoadEnvFile(".env")

	// Parse flags (env vars as defaults)
	outputDir := flag.String("output-dir", "reports", "Output directory for generated files")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional, enables daily flows)")
	fundID := flag.String("fund-id", os.Getenv("NAVSTRIKE_FUND_ID"), "Fund to report on")
	window := flag.Duration("window", 7*24*time.Hour, "Report window ending now")
	strikeID := flag.String("strike", "latest", "Strike to export receipts and failures for (empty to skip)")
	flag.Parse()

	if *postgresDSN == "" || *fundID == "" {
		fmt.Fprintln(os.Stderr, "Error: --postgres-dsn and --fund-id are required")
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	reports := pgstore.NewStrikeReportStore(pool)
	var analytics storage.ReceiptAnalyticsStore
	if *clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to clickhouse: %v\n", err)
			os.Exit(1)
		}
		defer conn.Close()
		analytics = chstore.NewReceiptAnalyticsStore(conn)
	}

	gen := reporting.NewGenerator(
		reports,
		pgstore.NewFundStateStore(pool),
		pgstore.NewUnresolvedStore(pool),
		analytics,
	)

	written, err := writeReports(ctx, gen, reports, *fundID, *window, *strikeID, *outputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating reports: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Reports generated successfully:")
	for _, path := range written {
		fmt.Printf("  - %s\n", path)
	}
}

type reportFile struct {
	name string
	body string
}

// writeReports renders the fund report, its daily flows and, when strikeID is
// set, one strike's markdown, receipts and failures into dir. Returns the
// paths written.
func writeReports(
	ctx context.Context,
	gen *reporting.Generator,
	reports storage.StrikeReportStore,
	fundID string,
	window time.Duration,
	strikeID string,
	dir string,
) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	r, err := gen.Generate(ctx, fundID, window)
	if err != nil {
		return nil, err
	}

	files := []reportFile{
		{"FUND_REPORT.md", reporting.RenderMarkdown(r)},
		{"DAILY_FLOWS.csv", reporting.RenderFlowsCSV(r.DailyFlows)},
	}

	if strikeID != "" {
		sr, err := loadStrike(ctx, reports, strikeID)
		if err != nil {
			return nil, err
		}
		if sr != nil {
			prefix := "STRIKE_" + sr.StrikeID
			files = append(files,
				reportFile{prefix + ".md", reporting.RenderStrikeMarkdown(sr)},
				reportFile{prefix + "_RECEIPTS.csv", reporting.RenderReceiptsCSV(sr.Receipts)},
				reportFile{prefix + "_FAILURES.csv", reporting.RenderFailuresCSV(sr.StrikeID, sr.Failures)},
			)
		}
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, []byte(f.body), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// loadStrike resolves "latest" to the newest stored strike. Returns nil when
// no strike has run yet.
func loadStrike(ctx context.Context, reports storage.StrikeReportStore, strikeID string) (*domain.StrikeReport, error) {
	if strikeID != "latest" {
		r, err := reports.GetByID(ctx, strikeID)
		if err != nil {
			return nil, fmt.Errorf("load strike %s: %w", strikeID, err)
		}
		return r, nil
	}

	recent, err := reports.ListRecent(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("load latest strike: %w", err)
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return recent[0], nil
}
