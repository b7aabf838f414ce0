package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/entrvpia/defillama-scraper/internal/alerting"
	"github.com/entrvpia/defillama-scraper/internal/config"
	"github.com/entrvpia/defillama-scraper/internal/fetcher"
	"github.com/entrvpia/defillama-scraper/internal/logging"
	"github.com/entrvpia/defillama-scraper/internal/scheduler"
	"github.com/entrvpia/defillama-scraper/internal/service"
	"github.com/entrvpia/defillama-scraper/internal/storage"
	"github.com/entrvpia/defillama-scraper/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) newFetcher() fetcher.MetricsFetcher {
	return fetcher.NewLlama(fetcher.LlamaOptions{
		BaseURL:   a.Config.Scraper.BaseURL,
		Timeout:   a.Config.Scraper.RequestTimeout,
		UserAgent: a.Config.Scraper.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// openStore acquires the scoped store handle. The returned closer releases
// the pool and must run on all exit paths.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running scraping service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var metricStore storage.MetricStore
	if store != nil {
		metricStore = store
	}

	svc := service.New(a.Config, sched, a.newFetcher(), metricStore, a.newNotifier(), a.Logger)

	a.Logger.Info().
		Str("version", version.String()).
		Strs("protocols", a.Config.Scraper.Protocols).
		Msg("starting scraping service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("scraping service stopped")
	return nil
}

// ExportOptions hold parameters for exporting the metric history.
type ExportOptions struct {
	CSVPath     string
	PNGPath     string
	EntityKey   string
	WithChanges bool
	MaxPoints   int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Recent int
}
