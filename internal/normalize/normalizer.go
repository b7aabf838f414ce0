package normalize

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/entrvpia/defillama-scraper/internal/storage"
)

// RawItem is the fetch collaborator's output for one protocol page. The raw
// string fields carry the "Not found" sentinel when the page lacked the
// value.
type RawItem struct {
	EntityKey        string
	MarketCapRaw     string
	AnnualRevenueRaw string
}

// ErrEmptyEntityKey rejects raw items without an entity identifier.
var ErrEmptyEntityKey = errors.New("normalize: entity key must not be empty")

// Normalizer turns raw scraped items into typed metric records.
type Normalizer struct {
	logger zerolog.Logger
}

// New constructs a Normalizer.
func New(logger zerolog.Logger) *Normalizer {
	return &Normalizer{logger: logger.With().Str("component", "normalizer").Logger()}
}

// Normalize produces a MetricRecord ready for appending. The ratio is
// derived from the original raw strings before cleaning; the stored
// magnitudes come from parsing the cleaned strings independently. A field
// that fails to parse degrades to NULL and is logged; it never aborts the
// record.
func (n *Normalizer) Normalize(item RawItem) (storage.MetricRecord, error) {
	if item.EntityKey == "" {
		return storage.MetricRecord{}, ErrEmptyEntityKey
	}

	ratio := PERatio(item.MarketCapRaw, item.AnnualRevenueRaw)

	marketCap := ParseMagnitude(item.MarketCapRaw)
	revenue := ParseMagnitude(item.AnnualRevenueRaw)
	n.logParseFailure(item.EntityKey, "market_cap", marketCap)
	n.logParseFailure(item.EntityKey, "annualized_revenue", revenue)

	record := storage.MetricRecord{
		EntityKey:         item.EntityKey,
		MarketCap:         marketCap.Ptr(),
		AnnualizedRevenue: revenue.Ptr(),
	}

	if ratio != NotCalculableSentinel {
		value, err := decimal.NewFromString(ratio)
		if err != nil {
			n.logger.Warn().Str("entity_key", item.EntityKey).Str("ratio", ratio).Msg("ratio string not numeric; storing NULL")
		} else {
			record.PERatio = &value
		}
	}

	return record, nil
}

func (n *Normalizer) logParseFailure(entityKey, field string, f Field) {
	if _, ok := f.Value(); ok {
		return
	}
	if f.NotFound() {
		n.logger.Debug().Str("entity_key", entityKey).Str("field", field).Msg("value not found on source page")
		return
	}
	n.logger.Warn().Str("entity_key", entityKey).Str("field", field).Str("raw", f.Raw()).Msg("value unparseable; storing NULL")
}
