package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/entrvpia/defillama-scraper/internal/analyzer"
	"github.com/entrvpia/defillama-scraper/internal/storage"
)

// Export writes the metric history as CSV and/or renders one entity's
// series as a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.PNGPath != "" && opts.EntityKey == "" {
		return errors.New("--png requires --entity")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = a.Config.Export.MaxChartPoints
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no metrics found for export")
		return nil
	}

	a.Logger.Info().Int("records", len(records)).Msg("exporting metric history")

	if opts.CSVPath != "" {
		if opts.WithChanges {
			err = writeEnrichedCSV(opts.CSVPath, analyzer.Enrich(records))
		} else {
			err = writeMetricsCSV(opts.CSVPath, records)
		}
		if err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		series := entitySeries(records, opts.EntityKey)
		if len(series) == 0 {
			return fmt.Errorf("no history for entity %q", opts.EntityKey)
		}
		series = downsample(series, opts.MaxPoints)
		if err := writeMetricsPNG(opts.PNGPath, opts.EntityKey, series); err != nil {
			return err
		}
	}

	return nil
}

// entitySeries filters one entity's records and reverses them into time
// ascending order for charting.
func entitySeries(records []storage.MetricRecord, entityKey string) []storage.MetricRecord {
	series := make([]storage.MetricRecord, 0)
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].EntityKey == entityKey {
			series = append(series, records[i])
		}
	}
	return series
}

func downsample(records []storage.MetricRecord, max int) []storage.MetricRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.MetricRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

var metricsHeader = []string{"id", "timestamp", "entity_key", "price", "market_cap", "annualized_revenue", "pe_ratio"}

func writeMetricsCSV(path string, records []storage.MetricRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(metricsHeader); err != nil {
		return err
	}
	for _, record := range records {
		if err := writer.Write(metricsRow(record)); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeEnrichedCSV(path string, rows []analyzer.EnrichedRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := append(append([]string{}, metricsHeader...),
		"market_cap_change", "market_cap_pct_change",
		"annualized_revenue_change", "annualized_revenue_pct_change",
		"pe_ratio_change", "pe_ratio_pct_change",
	)
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := append(metricsRow(row.MetricRecord),
			csvNullable(row.MarketCapChange),
			csvNullable(row.MarketCapPctChange),
			csvNullable(row.AnnualizedRevenueChange),
			csvNullable(row.AnnualizedRevenuePctChange),
			csvNullable(row.PERatioChange),
			csvNullable(row.PERatioPctChange),
		)
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func metricsRow(record storage.MetricRecord) []string {
	return []string{
		strconv.FormatInt(record.ID, 10),
		record.Timestamp.UTC().Format(time.RFC3339),
		record.EntityKey,
		csvNullable(record.Price),
		csvNullable(record.MarketCap),
		csvNullable(record.AnnualizedRevenue),
		csvNullable(record.PERatio),
	}
}

func csvNullable(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func writeMetricsPNG(path, entityKey string, records []storage.MetricRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	series := make([]chart.Series, 0, 3)
	addSeries := func(name string, axis chart.YAxisType, value func(storage.MetricRecord) *decimal.Decimal) {
		x, y := seriesPoints(records, value)
		// a single point cannot form a line; NULL-only fields draw nothing
		if len(x) < 2 {
			return
		}
		series = append(series, chart.TimeSeries{
			Name:    name,
			XValues: x,
			YValues: y,
			YAxis:   axis,
		})
	}

	addSeries("Market Cap", chart.YAxisPrimary, func(r storage.MetricRecord) *decimal.Decimal { return r.MarketCap })
	addSeries("Annualized Revenue", chart.YAxisPrimary, func(r storage.MetricRecord) *decimal.Decimal { return r.AnnualizedRevenue })
	addSeries("P/E", chart.YAxisSecondary, func(r storage.MetricRecord) *decimal.Decimal { return r.PERatio })

	if len(series) == 0 {
		return fmt.Errorf("not enough numeric history for entity %q to chart", entityKey)
	}

	graph := chart.Chart{
		Title:  entityKey,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "USD",
		},
		YAxisSecondary: chart.YAxis{
			Name: "P/E",
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// seriesPoints extracts one field's non-NULL values as parallel chart
// coordinates. NULL observations are skipped, not plotted as zero.
func seriesPoints(records []storage.MetricRecord, value func(storage.MetricRecord) *decimal.Decimal) ([]time.Time, []float64) {
	x := make([]time.Time, 0, len(records))
	y := make([]float64, 0, len(records))
	for _, record := range records {
		v := value(record)
		if v == nil {
			continue
		}
		x = append(x, record.Timestamp)
		y = append(y, v.InexactFloat64())
	}
	return x, y
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
