package app

import (
	"context"
	"fmt"
	"os"

	"github.com/entrvpia/defillama-scraper/internal/service"
	"github.com/entrvpia/defillama-scraper/internal/storage"
)

// Scrape performs a one-shot fetch-normalize-append run for one protocol
// and prints the stored observation.
func (a *App) Scrape(ctx context.Context, protocol string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; the observation will not be persisted")
	}

	var metricStore storage.MetricStore
	if store != nil {
		metricStore = store
	}

	svc := service.New(a.Config, nil, a.newFetcher(), metricStore, a.newNotifier(), a.Logger)

	record, err := svc.ProcessProtocol(ctx, protocol)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Entity: %s\n", record.EntityKey)
	if record.ID != 0 {
		fmt.Fprintf(os.Stdout, "ID: %d\nTimestamp: %s\n", record.ID, record.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(os.Stdout, "Market Cap: %s\n", formatNullable(record.MarketCap))
	fmt.Fprintf(os.Stdout, "Annual Revenue: %s\n", formatNullable(record.AnnualizedRevenue))
	fmt.Fprintf(os.Stdout, "P/E Ratio: %s\n", formatNullable(record.PERatio))
	return nil
}
