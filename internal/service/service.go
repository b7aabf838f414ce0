package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/entrvpia/defillama-scraper/internal/alerting"
	"github.com/entrvpia/defillama-scraper/internal/config"
	"github.com/entrvpia/defillama-scraper/internal/fetcher"
	"github.com/entrvpia/defillama-scraper/internal/normalize"
	"github.com/entrvpia/defillama-scraper/internal/scheduler"
	"github.com/entrvpia/defillama-scraper/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Service orchestrates fetching, normalization, persistence, and alerting.
type Service struct {
	scheduler  *scheduler.Scheduler
	fetcher    fetcher.MetricsFetcher
	normalizer *normalize.Normalizer
	store      storage.MetricStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	protocols []string
	threshold decimal.Decimal
	channels  []string
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the scraping service.
func New(cfg *config.Config, sched *scheduler.Scheduler, metricsFetcher fetcher.MetricsFetcher, store storage.MetricStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.MovePct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.MovePct)
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		fetcher:    metricsFetcher,
		normalizer: normalize.New(logger),
		store:      store,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		protocols:  cfg.Scraper.Protocols,
		threshold:  threshold,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned scraping loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket runs one scheduled scrape pass over all configured
// protocols. Protocols are processed sequentially; a failure for one is
// logged and does not stop the others.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if len(s.protocols) == 0 {
		return errors.New("no protocols configured")
	}

	failed := 0
	for _, protocol := range s.protocols {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := s.ProcessProtocol(ctx, protocol); err != nil {
			failed++
			s.logger.Error().Err(err).Str("protocol", protocol).Time("bucket", bucket).Msg("scrape failed")
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d protocols failed", failed, len(s.protocols))
	}
	return nil
}

// ProcessProtocol fetches, normalizes, and appends one observation for one
// protocol. Parse failures degrade to NULL fields inside the normalizer;
// only fetch and store failures surface as errors.
func (s *Service) ProcessProtocol(ctx context.Context, protocol string) (storage.MetricRecord, error) {
	raw, err := s.fetcher.FetchProtocol(ctx, protocol)
	if err != nil {
		return storage.MetricRecord{}, fmt.Errorf("fetch protocol %s: %w", protocol, err)
	}

	record, err := s.normalizer.Normalize(raw)
	if err != nil {
		return storage.MetricRecord{}, fmt.Errorf("normalize %s: %w", protocol, err)
	}

	previous, havePrevious := s.previousRecord(ctx, protocol)

	if s.store == nil {
		s.logger.Warn().Str("entity_key", protocol).Msg("store not configured; observation discarded")
		return record, nil
	}

	stored, err := s.store.Append(ctx, record)
	if err != nil {
		return storage.MetricRecord{}, fmt.Errorf("append %s: %w", protocol, err)
	}

	s.logger.Info().
		Int64("id", stored.ID).
		Str("entity_key", stored.EntityKey).
		Str("market_cap", decimalField(stored.MarketCap)).
		Str("annualized_revenue", decimalField(stored.AnnualizedRevenue)).
		Str("pe_ratio", decimalField(stored.PERatio)).
		Msg("observation appended")

	if havePrevious {
		s.maybeAlert(ctx, previous, stored)
	}

	return stored, nil
}

func (s *Service) previousRecord(ctx context.Context, protocol string) (storage.MetricRecord, bool) {
	if !s.alertsOn || s.notifier == nil || s.threshold.IsZero() || s.store == nil {
		return storage.MetricRecord{}, false
	}

	previous, err := s.store.LatestForKey(ctx, protocol)
	if err != nil {
		if !errors.Is(err, storage.ErrNoHistory) {
			s.logger.Error().Err(err).Str("entity_key", protocol).Msg("failed to load previous record")
		}
		return storage.MetricRecord{}, false
	}
	return previous, true
}

func (s *Service) maybeAlert(ctx context.Context, previous, current storage.MetricRecord) {
	if previous.PERatio == nil || current.PERatio == nil || previous.PERatio.IsZero() {
		return
	}

	move := current.PERatio.Sub(*previous.PERatio).Div(*previous.PERatio).Mul(hundred)
	if move.Abs().LessThanOrEqual(s.threshold) {
		return
	}

	note := alerting.Notification{
		EntityKey:     current.EntityKey,
		ObservedAt:    current.Timestamp,
		PERatio:       *current.PERatio,
		PreviousRatio: *previous.PERatio,
		MovePct:       move,
		ThresholdPct:  s.threshold,
		Direction:     classifyMove(move),
		Channels:      s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("entity_key", current.EntityKey).Msg("failed to dispatch alert")
	}
}

func classifyMove(d decimal.Decimal) string {
	switch d.Sign() {
	case 1:
		return "up"
	case -1:
		return "down"
	default:
		return "flat"
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func decimalField(v *decimal.Decimal) string {
	if v == nil {
		return "null"
	}
	return v.String()
}
