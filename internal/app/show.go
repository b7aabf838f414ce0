package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/entrvpia/defillama-scraper/internal/storage"
)

// Show prints the latest observation per entity key, or the most recent
// records when opts.Recent is set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show metrics")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var records []storage.MetricRecord
	if opts.Recent > 0 {
		records, err = store.ListRecent(ctx, opts.Recent)
	} else {
		records, err = latestRecords(ctx, store)
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no metrics found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tEntity\tMarket Cap\tAnnual Revenue\tP/E")

	for _, record := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			record.Timestamp.UTC().Format(time.RFC3339),
			record.EntityKey,
			formatNullable(record.MarketCap),
			formatNullable(record.AnnualizedRevenue),
			formatNullable(record.PERatio),
		)
	}

	return writer.Flush()
}

func latestRecords(ctx context.Context, store storage.MetricStore) ([]storage.MetricRecord, error) {
	latest, err := store.LatestPerKey(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]storage.MetricRecord, 0, len(latest))
	for _, record := range latest {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.After(records[j].Timestamp)
		}
		return records[i].ID > records[j].ID
	})
	return records, nil
}

func formatNullable(v *decimal.Decimal) string {
	if v == nil {
		return "N/A"
	}
	return v.String()
}
