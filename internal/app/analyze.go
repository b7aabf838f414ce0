package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/entrvpia/defillama-scraper/internal/analyzer"
)

// Analyze loads the full history and prints the analytics report.
func (a *App) Analyze(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot analyze")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListAll(ctx)
	if err != nil {
		return err
	}

	report := analyzer.Analyze(records)

	out := os.Stdout
	fmt.Fprintf(out, "Records: %d\n", report.TotalRecords)
	if report.TotalRecords == 0 {
		return nil
	}

	fmt.Fprintf(out, "Date range: %s .. %s\n",
		report.Earliest.UTC().Format(time.RFC3339),
		report.Latest.UTC().Format(time.RFC3339),
	)

	fmt.Fprintln(out, "\nRecords per entity:")
	keys := make([]string, 0, len(report.RecordsPerEntity))
	for key := range report.RecordsPerEntity {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(out, "  %s: %d\n", key, report.RecordsPerEntity[key])
	}

	fmt.Fprintln(out, "\nMissing values:")
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Field\tMissing\tPct")
	for _, coverage := range report.Coverage {
		fmt.Fprintf(writer, "%s\t%d\t%.1f%%\n", coverage.Field, coverage.Missing, coverage.MissingPct)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nSummary statistics:")
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Field\tCount\tMean\tMin\tQ1\tMedian\tQ3\tMax")
	for _, summary := range report.Summaries {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			summary.Field,
			summary.Count,
			summary.Mean.StringFixed(2),
			summary.Min.StringFixed(2),
			summary.Q1.StringFixed(2),
			summary.Median.StringFixed(2),
			summary.Q3.StringFixed(2),
			summary.Max.StringFixed(2),
		)
	}
	return writer.Flush()
}
