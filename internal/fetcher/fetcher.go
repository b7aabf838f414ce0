package fetcher

import (
	"context"

	"github.com/entrvpia/defillama-scraper/internal/normalize"
)

// MetricsFetcher retrieves the raw published metrics for one protocol page.
// Missing values are reported with the "Not found" sentinel, never an error;
// errors are reserved for transport and page-level failures.
type MetricsFetcher interface {
	FetchProtocol(ctx context.Context, protocol string) (normalize.RawItem, error)
}
