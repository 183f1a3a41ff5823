package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-rate-alerts/internal/alerts"
	"gold-rate-alerts/internal/compose"
	"gold-rate-alerts/internal/config"
	"gold-rate-alerts/internal/dispatch"
	"gold-rate-alerts/internal/fetcher"
	"gold-rate-alerts/internal/ingest"
	"gold-rate-alerts/internal/rates"
	"gold-rate-alerts/internal/scheduler"
	"gold-rate-alerts/internal/service"
	"gold-rate-alerts/internal/status"
	"gold-rate-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newProviders builds the ranked source chain in configured order. Unknown
// source names are rejected so a config typo cannot silently drop a source.
func (a *App) newProviders() ([]fetcher.Provider, error) {
	order := a.Config.Sources.Order
	if len(order) == 0 {
		order = []string{"retail", "spot"}
	}

	providers := make([]fetcher.Provider, 0, len(order))
	for _, name := range order {
		switch name {
		case "retail":
			providers = append(providers, fetcher.NewRetail(fetcher.RetailOptions{
				BaseURL:   a.Config.Sources.Retail.BaseURL,
				Timeout:   a.Config.Sources.Timeout,
				UserAgent: a.Config.Sources.Retail.UserAgent,
			}, a.Logger))
		case "spot":
			providers = append(providers, fetcher.NewSpot(fetcher.SpotOptions{
				BaseURL:    a.Config.Sources.Spot.BaseURL,
				ForexURL:   a.Config.Sources.Spot.ForexURL,
				PremiumPct: decimal.NewFromFloat(a.Config.Sources.Spot.PremiumPct),
				Timeout:    a.Config.Sources.Timeout,
			}, a.Logger))
		default:
			return nil, fmt.Errorf("unknown source %q in sources.order", name)
		}
	}
	return providers, nil
}

// newGateway returns the delivery channel. Without Telegram credentials the
// log gateway keeps the dispatch path exercised for local runs.
func (a *App) newGateway() dispatch.Gateway {
	tg := a.Config.Dispatch.Telegram
	if tg.Enabled {
		return dispatch.NewTelegramGateway(tg.BotToken, tg.APIBase, tg.Timeout, a.Logger)
	}
	return newLogGateway(a.Logger)
}

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

// Run executes the long-running watcher: scheduler, status server, and the
// ingest/evaluate/brief jobs.
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

	cache := rates.NewCache()

	var repo alerts.Repository
	var history ingest.History
	var locker service.AdvisoryLocker
	if store != nil {
		repo = store
		history = store
		locker = store
	}

	alertStore := alerts.NewStore(repo, a.Logger)
	if repo != nil {
		if err := alertStore.Load(ctx); err != nil {
			return fmt.Errorf("load alerts: %w", err)
		}
	}
	evaluator := alerts.NewEvaluator(alertStore, a.Logger)
	evaluator.Subscribe(func(event alerts.TriggerEvent) {
		a.Logger.Info().Str("alert_id", event.Alert.ID.String()).
			Str("city", event.Alert.City).Str("direction", string(event.Direction)).
			Uint64("cycle", event.Cycle).Msg("trigger event observed")
	})

	providers, err := a.newProviders()
	if err != nil {
		return err
	}
	pipeline := ingest.New(providers, cache, history, ingest.Options{
		MaxJumpPct:    decimal.NewFromFloat(a.Config.Rates.MaxJumpPct),
		StaleAfter:    a.Config.Rates.StaleAfter,
		SourceTimeout: a.Config.Sources.Timeout,
	}, a.Logger)

	dispatcher := dispatch.New(a.newGateway(), dispatch.Options{
		MaxInFlight: a.Config.Dispatch.MaxInFlight,
		MaxAttempts: a.Config.Dispatch.MaxAttempts,
		RetryBase:   a.Config.Dispatch.RetryBase,
	}, a.Logger)

	svc := service.New(a.Config, cache, pipeline, alertStore, evaluator, dispatcher,
		staticRecipients(a.Config.Recipients), nil, locker, a.Logger)

	registry := scheduler.New(scheduler.Options{
		Location:       a.Config.Location(),
		DependencyWait: a.Config.Scheduler.DependencyWait,
	}, a.Logger)
	if err := svc.RegisterJobs(registry); err != nil {
		return err
	}

	var statusSrv *status.Server
	if a.Config.Status.Enabled {
		statusSrv = status.New(status.Options{
			Addr:     a.Config.Status.Addr,
			Cache:    cache,
			Alerts:   alertStore,
			Registry: registry,
		}, a.Logger)
		go func() {
			if err := statusSrv.Start(); err != nil {
				a.Logger.Error().Err(err).Msg("status server failed")
				cancel()
			}
		}()
	}

	a.Logger.Info().Msg("starting rate watcher")
	registry.Start(ctx)

	<-ctx.Done()

	registry.Stop()
	if statusSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := statusSrv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error().Err(err).Msg("status server shutdown failed")
		}
	}

	a.Logger.Info().Msg("rate watcher stopped")
	if err := context.Cause(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// staticRecipients adapts the configured recipient list.
type staticRecipients []config.RecipientConfig

func (s staticRecipients) List(ctx context.Context) ([]compose.Recipient, error) {
	out := make([]compose.Recipient, 0, len(s))
	for _, rc := range s {
		out = append(out, compose.Recipient{
			ID:            rc.ID,
			Name:          rc.Name,
			PreferredCity: rc.PreferredCity,
		})
	}
	return out, nil
}

var _ service.RecipientSource = (staticRecipients)(nil)

// logGateway writes rendered messages to the log instead of an external
// channel.
type logGateway struct {
	logger zerolog.Logger
}

func newLogGateway(logger zerolog.Logger) *logGateway {
	return &logGateway{logger: logger.With().Str("component", "log_gateway").Logger()}
}

func (g *logGateway) Send(ctx context.Context, recipient, content, idempotencyKey string) error {
	g.logger.Info().Str("recipient", recipient).Str("idempotency_key", idempotencyKey).
		Msg("message (delivery channel disabled):\n" + content)
	return nil
}

var _ dispatch.Gateway = (*logGateway)(nil)

// ExportOptions hold parameters for exporting historical rates.
type ExportOptions struct {
	City      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	City  string
	Limit int
}
