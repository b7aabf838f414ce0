package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNoHistory indicates an entity key with no appended records.
	ErrNoHistory = errors.New("storage: no history for entity key")
	// ErrEmptyEntityKey rejects appends without an entity identifier.
	ErrEmptyEntityKey = errors.New("storage: entity key must not be empty")
)

const (
	metricColumns = `id, observed_at, entity_key, price, market_cap, annualized_revenue, pe_ratio`

	insertMetricSQL = `INSERT INTO metrics (
        observed_at,
        entity_key,
        price,
        market_cap,
        annualized_revenue,
        pe_ratio
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, observed_at;`

	listAllMetricsSQL = `SELECT ` + metricColumns + `
    FROM metrics
    ORDER BY observed_at DESC, id DESC;`

	listRecentMetricsSQL = `SELECT ` + metricColumns + `
    FROM metrics
    ORDER BY observed_at DESC, id DESC
    LIMIT $1;`

	latestPerKeySQL = `SELECT ` + metricColumns + `
    FROM metrics
    WHERE id IN (
        SELECT MAX(id)
        FROM metrics
        GROUP BY entity_key
    )
    ORDER BY observed_at DESC, id DESC;`

	latestForKeySQL = `SELECT ` + metricColumns + `
    FROM metrics
    WHERE entity_key = $1
    ORDER BY id DESC
    LIMIT 1;`

	countMetricsSQL = `SELECT COUNT(*) FROM metrics;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// MetricStore defines operations on the append-only metric history. Append
// is the only mutator; reads never change the store.
type MetricStore interface {
	Append(ctx context.Context, record MetricRecord) (MetricRecord, error)
	ListAll(ctx context.Context) ([]MetricRecord, error)
	ListRecent(ctx context.Context, limit int) ([]MetricRecord, error)
	LatestPerKey(ctx context.Context) (map[string]MetricRecord, error)
	LatestForKey(ctx context.Context, entityKey string) (MetricRecord, error)
	Count(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store persists metric history in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key) // best effort
		conn.Release()
	}
	return unlock, true, nil
}

// Append assigns the record an id and timestamp and persists it. The insert
// is a single statement, so a record is either fully written or not written
// at all. Null metric fields are allowed; an empty entity key is not.
func (s *Store) Append(ctx context.Context, record MetricRecord) (MetricRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return MetricRecord{}, err
	}
	if record.EntityKey == "" {
		return MetricRecord{}, ErrEmptyEntityKey
	}

	observedAt := record.Timestamp
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	row := pool.QueryRow(ctx, insertMetricSQL,
		observedAt,
		record.EntityKey,
		decimalArg(record.Price),
		decimalArg(record.MarketCap),
		decimalArg(record.AnnualizedRevenue),
		decimalArg(record.PERatio),
	)

	stored := record
	if scanErr := row.Scan(&stored.ID, &stored.Timestamp); scanErr != nil {
		return MetricRecord{}, fmt.Errorf("append metric: %w", scanErr)
	}
	return stored, nil
}

// ListAll returns the full history ordered by timestamp descending.
func (s *Store) ListAll(ctx context.Context) ([]MetricRecord, error) {
	return s.queryMetrics(ctx, listAllMetricsSQL)
}

// ListRecent returns the most recent records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]MetricRecord, error) {
	return s.queryMetrics(ctx, listRecentMetricsSQL, limit)
}

// LatestPerKey returns the record with the highest id for each entity key.
func (s *Store) LatestPerKey(ctx context.Context) (map[string]MetricRecord, error) {
	records, err := s.queryMetrics(ctx, latestPerKeySQL)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]MetricRecord, len(records))
	for _, record := range records {
		latest[record.EntityKey] = record
	}
	return latest, nil
}

// LatestForKey returns the most recent record for one entity key, or
// ErrNoHistory when the key has never been appended.
func (s *Store) LatestForKey(ctx context.Context, entityKey string) (MetricRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return MetricRecord{}, err
	}

	rows, queryErr := pool.Query(ctx, latestForKeySQL, entityKey)
	if queryErr != nil {
		return MetricRecord{}, fmt.Errorf("latest for key: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return MetricRecord{}, rows.Err()
		}
		return MetricRecord{}, ErrNoHistory
	}

	record, scanErr := scanMetricRecord(rows)
	if scanErr != nil {
		return MetricRecord{}, scanErr
	}
	return record, rows.Err()
}

// Count counts stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countMetricsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count metrics: %w", scanErr)
	}
	return count, nil
}

func (s *Store) queryMetrics(ctx context.Context, query string, args ...any) ([]MetricRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query metrics: %w", queryErr)
	}
	defer rows.Close()

	records := make([]MetricRecord, 0)
	for rows.Next() {
		record, scanErr := scanMetricRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanMetricRecord(rows pgx.Rows) (MetricRecord, error) {
	var (
		record    MetricRecord
		price     sql.NullString
		marketCap sql.NullString
		revenue   sql.NullString
		peRatio   sql.NullString
	)

	if err := rows.Scan(
		&record.ID,
		&record.Timestamp,
		&record.EntityKey,
		&price,
		&marketCap,
		&revenue,
		&peRatio,
	); err != nil {
		return MetricRecord{}, err
	}

	var convErr error
	if record.Price, convErr = nullDecimal(price); convErr != nil {
		return MetricRecord{}, fmt.Errorf("parse price: %w", convErr)
	}
	if record.MarketCap, convErr = nullDecimal(marketCap); convErr != nil {
		return MetricRecord{}, fmt.Errorf("parse market cap: %w", convErr)
	}
	if record.AnnualizedRevenue, convErr = nullDecimal(revenue); convErr != nil {
		return MetricRecord{}, fmt.Errorf("parse annualized revenue: %w", convErr)
	}
	if record.PERatio, convErr = nullDecimal(peRatio); convErr != nil {
		return MetricRecord{}, fmt.Errorf("parse pe ratio: %w", convErr)
	}

	return record, nil
}

func nullDecimal(v sql.NullString) (*decimal.Decimal, error) {
	if !v.Valid {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func decimalArg(v *decimal.Decimal) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

var _ MetricStore = (*Store)(nil)
var _ AdvisoryLocker = (*Store)(nil)
