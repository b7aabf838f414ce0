package analyzer

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/entrvpia/defillama-scraper/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// EnrichedRecord augments a metric record with per-field delta and
// percentage-change columns relative to the entity's previous observation.
// Nil change pointers mean no previous value exists (first observation per
// entity, or a NULL on either side).
type EnrichedRecord struct {
	storage.MetricRecord

	MarketCapChange            *decimal.Decimal
	MarketCapPctChange         *decimal.Decimal
	AnnualizedRevenueChange    *decimal.Decimal
	AnnualizedRevenuePctChange *decimal.Decimal
	PERatioChange              *decimal.Decimal
	PERatioPctChange           *decimal.Decimal
}

// Enrich sorts the history by entity key and timestamp ascending and
// computes delta and percentage-change series per entity. The first record
// of each entity carries no changes.
func Enrich(records []storage.MetricRecord) []EnrichedRecord {
	ordered := make([]storage.MetricRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].EntityKey != ordered[j].EntityKey {
			return ordered[i].EntityKey < ordered[j].EntityKey
		}
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].ID < ordered[j].ID
	})

	enriched := make([]EnrichedRecord, 0, len(ordered))
	var prev *storage.MetricRecord
	for i := range ordered {
		record := ordered[i]
		row := EnrichedRecord{MetricRecord: record}

		if prev != nil && prev.EntityKey == record.EntityKey {
			row.MarketCapChange, row.MarketCapPctChange = change(prev.MarketCap, record.MarketCap)
			row.AnnualizedRevenueChange, row.AnnualizedRevenuePctChange = change(prev.AnnualizedRevenue, record.AnnualizedRevenue)
			row.PERatioChange, row.PERatioPctChange = change(prev.PERatio, record.PERatio)
		}

		enriched = append(enriched, row)
		prev = &ordered[i]
	}
	return enriched
}

func change(prev, cur *decimal.Decimal) (*decimal.Decimal, *decimal.Decimal) {
	if prev == nil || cur == nil {
		return nil, nil
	}

	delta := cur.Sub(*prev)
	if prev.IsZero() {
		return &delta, nil
	}
	pct := delta.Div(*prev).Mul(hundred)
	return &delta, &pct
}
