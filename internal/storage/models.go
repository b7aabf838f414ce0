package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// MetricRecord represents one persisted observation for a protocol.
// ID and Timestamp are assigned by the store at append time. Price is
// reserved; the current pipeline never populates it. Nil pointers map to
// NULL columns.
type MetricRecord struct {
	ID                int64
	Timestamp         time.Time
	EntityKey         string
	Price             *decimal.Decimal
	MarketCap         *decimal.Decimal
	AnnualizedRevenue *decimal.Decimal
	PERatio           *decimal.Decimal
}
