package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/entrvpia/defillama-scraper/internal/alerting"
	"github.com/entrvpia/defillama-scraper/internal/config"
	"github.com/entrvpia/defillama-scraper/internal/normalize"
	"github.com/entrvpia/defillama-scraper/internal/storage"
)

// memStore is an in-memory MetricStore with the same append-only contract
// as the PostgreSQL store: monotonically increasing ids, timestamp assigned
// at append, reads never mutate.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	records []storage.MetricRecord
	failing bool
}

func newMemStore() *memStore {
	return &memStore{nextID: 1}
}

func (m *memStore) Append(_ context.Context, record storage.MetricRecord) (storage.MetricRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return storage.MetricRecord{}, errors.New("store unavailable")
	}
	if record.EntityKey == "" {
		return storage.MetricRecord{}, storage.ErrEmptyEntityKey
	}

	stored := record
	stored.ID = m.nextID
	m.nextID++
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	m.records = append(m.records, stored)
	return stored, nil
}

func (m *memStore) ListAll(_ context.Context) ([]storage.MetricRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]storage.MetricRecord, len(m.records))
	copy(out, m.records)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *memStore) ListRecent(ctx context.Context, limit int) ([]storage.MetricRecord, error) {
	all, err := m.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *memStore) LatestPerKey(_ context.Context) (map[string]storage.MetricRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := make(map[string]storage.MetricRecord)
	for _, record := range m.records {
		if existing, ok := latest[record.EntityKey]; !ok || record.ID > existing.ID {
			latest[record.EntityKey] = record
		}
	}
	return latest, nil
}

func (m *memStore) LatestForKey(_ context.Context, entityKey string) (storage.MetricRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best storage.MetricRecord
	found := false
	for _, record := range m.records {
		if record.EntityKey == entityKey && (!found || record.ID > best.ID) {
			best = record
			found = true
		}
	}
	if !found {
		return storage.MetricRecord{}, storage.ErrNoHistory
	}
	return best, nil
}

func (m *memStore) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}

var _ storage.MetricStore = (*memStore)(nil)

type staticFetcher struct {
	items map[string]normalize.RawItem
	err   error
}

func (f *staticFetcher) FetchProtocol(_ context.Context, protocol string) (normalize.RawItem, error) {
	if f.err != nil {
		return normalize.RawItem{}, f.err
	}
	item, ok := f.items[protocol]
	if !ok {
		return normalize.RawItem{}, errors.New("unknown protocol")
	}
	return item, nil
}

type captureNotifier struct {
	notes []alerting.Notification
}

func (n *captureNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return nil
}

func testConfig(protocols ...string) *config.Config {
	return &config.Config{
		Scraper: config.ScraperConfig{Protocols: protocols},
	}
}

func TestProcessProtocolAppendsRecord(t *testing.T) {
	store := newMemStore()
	svc := New(testConfig("hyperliquid"), nil, &staticFetcher{items: map[string]normalize.RawItem{
		"hyperliquid": {EntityKey: "hyperliquid", MarketCapRaw: "$4B", AnnualRevenueRaw: "$1B"},
	}}, store, nil, zerolog.Nop())

	stored, err := svc.ProcessProtocol(context.Background(), "hyperliquid")
	if err != nil {
		t.Fatalf("ProcessProtocol: %v", err)
	}

	if stored.ID != 1 {
		t.Fatalf("id = %d", stored.ID)
	}
	if stored.Timestamp.IsZero() {
		t.Fatal("timestamp should be assigned at append")
	}
	if stored.PERatio == nil || !stored.PERatio.Equal(decimal.RequireFromString("4.00")) {
		t.Fatalf("pe ratio = %v", stored.PERatio)
	}
}

func TestProcessProtocolDegradedFieldsStillStored(t *testing.T) {
	store := newMemStore()
	svc := New(testConfig("alpha"), nil, &staticFetcher{items: map[string]normalize.RawItem{
		"alpha": {EntityKey: "alpha", MarketCapRaw: "Not found", AnnualRevenueRaw: "garbage"},
	}}, store, nil, zerolog.Nop())

	stored, err := svc.ProcessProtocol(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("degraded fields must not prevent storage: %v", err)
	}
	if stored.MarketCap != nil || stored.AnnualizedRevenue != nil || stored.PERatio != nil {
		t.Fatalf("expected NULL fields, got %+v", stored)
	}

	count, _ := store.Count(context.Background())
	if count != 1 {
		t.Fatalf("count = %d", count)
	}
}

func TestProcessProtocolStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failing = true
	svc := New(testConfig("alpha"), nil, &staticFetcher{items: map[string]normalize.RawItem{
		"alpha": {EntityKey: "alpha", MarketCapRaw: "$1B", AnnualRevenueRaw: "$1B"},
	}}, store, nil, zerolog.Nop())

	if _, err := svc.ProcessProtocol(context.Background(), "alpha"); err == nil {
		t.Fatal("store failure should surface to the caller")
	}
}

func TestProcessBucketContinuesAfterFailure(t *testing.T) {
	store := newMemStore()
	svc := New(testConfig("broken", "alpha"), nil, &staticFetcher{items: map[string]normalize.RawItem{
		"alpha": {EntityKey: "alpha", MarketCapRaw: "$2B", AnnualRevenueRaw: "$1B"},
	}}, store, nil, zerolog.Nop())

	err := svc.ProcessBucket(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("bucket with a failed protocol should report the failure")
	}

	count, _ := store.Count(context.Background())
	if count != 1 {
		t.Fatalf("healthy protocol should still be stored, count = %d", count)
	}
}

func TestEndToEndHistoryRoundTrip(t *testing.T) {
	store := newMemStore()
	fetch := &staticFetcher{items: map[string]normalize.RawItem{
		"alpha": {EntityKey: "alpha", MarketCapRaw: "$4B", AnnualRevenueRaw: "$1B"},
	}}
	svc := New(testConfig("alpha"), nil, fetch, store, nil, zerolog.Nop())

	ctx := context.Background()
	if _, err := svc.ProcessProtocol(ctx, "alpha"); err != nil {
		t.Fatalf("first observation: %v", err)
	}

	fetch.items["alpha"] = normalize.RawItem{EntityKey: "alpha", MarketCapRaw: "$6B", AnnualRevenueRaw: "$1B"}
	if _, err := svc.ProcessProtocol(ctx, "alpha"); err != nil {
		t.Fatalf("second observation: %v", err)
	}

	all, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("history length = %d", len(all))
	}
	if all[0].ID <= all[1].ID {
		t.Fatal("ListAll should return newest first")
	}

	latest, err := store.LatestForKey(ctx, "alpha")
	if err != nil {
		t.Fatalf("LatestForKey: %v", err)
	}
	if latest.ID != 2 {
		t.Fatalf("latest id = %d", latest.ID)
	}
	if latest.PERatio == nil || !latest.PERatio.Equal(decimal.RequireFromString("6.00")) {
		t.Fatalf("latest pe ratio = %v", latest.PERatio)
	}

	perKey, err := store.LatestPerKey(ctx)
	if err != nil {
		t.Fatalf("LatestPerKey: %v", err)
	}
	if len(perKey) != 1 || perKey["alpha"].ID != 2 {
		t.Fatalf("latest per key = %#v", perKey)
	}

	if _, err := store.LatestForKey(ctx, "ghost"); !errors.Is(err, storage.ErrNoHistory) {
		t.Fatalf("unknown key should report ErrNoHistory, got %v", err)
	}
}

func TestRatioMoveAlert(t *testing.T) {
	store := newMemStore()
	fetch := &staticFetcher{items: map[string]normalize.RawItem{
		"alpha": {EntityKey: "alpha", MarketCapRaw: "$4B", AnnualRevenueRaw: "$1B"},
	}}
	notifier := &captureNotifier{}

	cfg := testConfig("alpha")
	cfg.Alerting = config.AlertingConfig{Enabled: true, MovePct: 10, Channels: []string{"telegram"}}

	svc := New(cfg, nil, fetch, store, notifier, zerolog.Nop())

	ctx := context.Background()
	if _, err := svc.ProcessProtocol(ctx, "alpha"); err != nil {
		t.Fatalf("first observation: %v", err)
	}
	if len(notifier.notes) != 0 {
		t.Fatal("first observation has nothing to compare against")
	}

	fetch.items["alpha"] = normalize.RawItem{EntityKey: "alpha", MarketCapRaw: "$6B", AnnualRevenueRaw: "$1B"}
	if _, err := svc.ProcessProtocol(ctx, "alpha"); err != nil {
		t.Fatalf("second observation: %v", err)
	}

	if len(notifier.notes) != 1 {
		t.Fatalf("expected one alert, got %d", len(notifier.notes))
	}
	note := notifier.notes[0]
	if note.Direction != "up" {
		t.Fatalf("direction = %q", note.Direction)
	}
	if !note.MovePct.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("move pct = %s", note.MovePct)
	}
}

func TestRatioMoveBelowThresholdNoAlert(t *testing.T) {
	store := newMemStore()
	fetch := &staticFetcher{items: map[string]normalize.RawItem{
		"alpha": {EntityKey: "alpha", MarketCapRaw: "$4B", AnnualRevenueRaw: "$1B"},
	}}
	notifier := &captureNotifier{}

	cfg := testConfig("alpha")
	cfg.Alerting = config.AlertingConfig{Enabled: true, MovePct: 10, Channels: []string{"telegram"}}

	svc := New(cfg, nil, fetch, store, notifier, zerolog.Nop())

	ctx := context.Background()
	if _, err := svc.ProcessProtocol(ctx, "alpha"); err != nil {
		t.Fatalf("first observation: %v", err)
	}

	fetch.items["alpha"] = normalize.RawItem{EntityKey: "alpha", MarketCapRaw: "$4.1B", AnnualRevenueRaw: "$1B"}
	if _, err := svc.ProcessProtocol(ctx, "alpha"); err != nil {
		t.Fatalf("second observation: %v", err)
	}

	if len(notifier.notes) != 0 {
		t.Fatalf("move below threshold should not alert, got %d", len(notifier.notes))
	}
}
