// Package analyzer computes read-only analytics over a loaded metric
// history. It never touches the store: callers pass the records in.
package analyzer

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/entrvpia/defillama-scraper/internal/storage"
)

// Numeric field names as they appear in the persisted schema and exports.
const (
	FieldPrice             = "price"
	FieldMarketCap         = "market_cap"
	FieldAnnualizedRevenue = "annualized_revenue"
	FieldPERatio           = "pe_ratio"
)

// NumericFields lists the analysed fields in display order.
var NumericFields = []string{FieldPrice, FieldMarketCap, FieldAnnualizedRevenue, FieldPERatio}

// Coverage reports missing values for one field.
type Coverage struct {
	Field      string
	Missing    int
	Total      int
	MissingPct float64
}

// Summary aggregates statistics over the non-null values of one field.
type Summary struct {
	Field  string
	Count  int
	Mean   decimal.Decimal
	Min    decimal.Decimal
	Max    decimal.Decimal
	Q1     decimal.Decimal
	Median decimal.Decimal
	Q3     decimal.Decimal
}

// Report is the full analytics output for a history.
type Report struct {
	TotalRecords     int
	RecordsPerEntity map[string]int
	Earliest         time.Time
	Latest           time.Time
	Coverage         []Coverage
	Summaries        []Summary
}

// Analyze produces a Report over the given records. The input order does
// not matter; the records are not modified.
func Analyze(records []storage.MetricRecord) Report {
	report := Report{
		TotalRecords:     len(records),
		RecordsPerEntity: make(map[string]int),
	}

	for _, record := range records {
		report.RecordsPerEntity[record.EntityKey]++
		if report.Earliest.IsZero() || record.Timestamp.Before(report.Earliest) {
			report.Earliest = record.Timestamp
		}
		if record.Timestamp.After(report.Latest) {
			report.Latest = record.Timestamp
		}
	}

	for _, field := range NumericFields {
		values := collect(records, field)

		missing := len(records) - len(values)
		coverage := Coverage{Field: field, Missing: missing, Total: len(records)}
		if len(records) > 0 {
			coverage.MissingPct = float64(missing) / float64(len(records)) * 100
		}
		report.Coverage = append(report.Coverage, coverage)

		if summary, ok := summarize(field, values); ok {
			report.Summaries = append(report.Summaries, summary)
		}
	}

	return report
}

func collect(records []storage.MetricRecord, field string) []decimal.Decimal {
	values := make([]decimal.Decimal, 0, len(records))
	for _, record := range records {
		if v := fieldValue(record, field); v != nil {
			values = append(values, *v)
		}
	}
	return values
}

func fieldValue(record storage.MetricRecord, field string) *decimal.Decimal {
	switch field {
	case FieldPrice:
		return record.Price
	case FieldMarketCap:
		return record.MarketCap
	case FieldAnnualizedRevenue:
		return record.AnnualizedRevenue
	case FieldPERatio:
		return record.PERatio
	default:
		return nil
	}
}

func summarize(field string, values []decimal.Decimal) (Summary, bool) {
	if len(values) == 0 {
		return Summary{}, false
	}

	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	sum := decimal.Zero
	for _, v := range sorted {
		sum = sum.Add(v)
	}

	return Summary{
		Field:  field,
		Count:  len(sorted),
		Mean:   sum.Div(decimal.NewFromInt(int64(len(sorted)))),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Q1:     quantile(sorted, 0.25),
		Median: quantile(sorted, 0.5),
		Q3:     quantile(sorted, 0.75),
	}, true
}

// quantile computes the q-th quantile with linear interpolation between the
// two nearest ranks. The input must be sorted ascending and non-empty.
func quantile(sorted []decimal.Decimal, q float64) decimal.Decimal {
	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := q * float64(len(sorted)-1)
	lower := int(pos)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[lower]
	}

	frac := decimal.NewFromFloat(pos - float64(lower))
	return sorted[lower].Add(sorted[upper].Sub(sorted[lower]).Mul(frac))
}
