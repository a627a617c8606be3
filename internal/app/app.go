package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"shopwatch/internal/alerting"
	"shopwatch/internal/api"
	"shopwatch/internal/batch"
	"shopwatch/internal/collector"
	"shopwatch/internal/config"
	"shopwatch/internal/extraction"
	"shopwatch/internal/gateway"
	"shopwatch/internal/monitor"
	"shopwatch/internal/scheduler"
	"shopwatch/internal/service"
	"shopwatch/internal/storage"
	"shopwatch/internal/urlutil"
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

func (a *App) openStore(ctx context.Context) (*storage.Repository, func(), error) {
	store, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, nil, err
	}
	if strings.EqualFold(a.Config.Storage.Driver, "memory") {
		a.Logger.Warn().Msg("storage.driver is memory; nothing will survive a restart")
	}

	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close store")
		}
	}
	return storage.NewRepository(store), closer, nil
}

func (a *App) newGateway(ctx context.Context) (gateway.Gateway, func(), error) {
	cfg := a.Config.Browser
	if strings.EqualFold(cfg.Mode, "http") {
		gw := gateway.NewHTTP(gateway.HTTPOptions{
			Timeout:      cfg.RequestTimeout,
			UserAgent:    cfg.UserAgent,
			MaxBodyBytes: cfg.MaxBodyBytes,
		}, a.Logger)
		return gw, func() {}, nil
	}

	var blocked []string
	if cfg.ResourceBlocking {
		blocked = []string{"images", "fonts", "media"}
	}
	gw := gateway.NewRod(gateway.RodOptions{
		RemoteURL:        cfg.RemoteURL,
		Headless:         cfg.Headless,
		Stealth:          cfg.Stealth,
		ResourceBlocking: blocked,
		NavigateTimeout:  cfg.RequestTimeout,
	}, a.Logger)
	if err := gw.Start(ctx); err != nil {
		return nil, nil, err
	}
	return gw, func() {
		if err := gw.Shutdown(); err != nil {
			a.Logger.Warn().Err(err).Msg("shutdown browser")
		}
	}, nil
}

func (a *App) newNotifiers() ([]alerting.Notifier, error) {
	if !a.Config.Alerting.Enabled {
		return nil, nil
	}
	notifiers := []alerting.Notifier{alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		tg, err := alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, tg)
	}
	return notifiers, nil
}

// buildEngine wires the full engine. The returned cleanup releases the
// browser and the store.
func (a *App) buildEngine(ctx context.Context) (*service.Engine, func(), error) {
	repo, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	gw, closeGateway, err := a.newGateway(ctx)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	cleanup := func() {
		closeGateway()
		closeStore()
	}

	notifiers, err := a.newNotifiers()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	matcher, err := urlutil.NewMatcher(a.Config.Batch.TargetPatterns)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	coll := collector.Default()
	extractor := extraction.NewCollectorService(gw, a.Logger)
	dispatcher := alerting.NewDispatcher(notifiers, a.Config.Alerting.DispatchTimeout, a.Logger)

	orch := batch.New(gw, extractor, repo, coll, matcher, a.Logger)
	mon := monitor.New(gw, extractor, repo, dispatcher, scheduler.NewTimer(a.Logger), coll, monitor.Config{
		HistoryLimit: a.Config.Monitor.HistoryLimit,
		SettleDelay:  a.Config.Monitor.SettleDelay,
		LoadTimeout:  a.Config.Batch.LoadTimeout,
		CheckTimeout: a.Config.Monitor.CheckTimeout,
	}, a.Logger)

	return service.New(a.Config, orch, mon, repo, dispatcher, a.Logger), cleanup, nil
}

// Serve runs the monitoring engine and the HTTP API until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, cleanup, err := a.buildEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.Start(ctx); err != nil {
		return err
	}

	a.Logger.Info().Str("listen", a.Config.API.Listen).Msg("starting shopwatch service")
	server := api.New(ctx, engine, a.Logger)
	serveErr := server.ListenAndServe(ctx, a.Config.API.Listen, a.Config.API.ShutdownTimeout)

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), a.Config.API.ShutdownTimeout)
	defer stop()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("engine shutdown incomplete")
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		a.Logger.Error().Err(serveErr).Msg("service terminated with error")
		return fmt.Errorf("serve api: %w", serveErr)
	}
	a.Logger.Info().Msg("shopwatch service stopped")
	return nil
}

// BatchOptions configure the batch command.
type BatchOptions struct {
	Targets      []string
	File         string
	PerItemDelay time.Duration
	MaxRetries   int
	DryRun       bool
}

// ListOptions configure the list command.
type ListOptions struct {
	Monitored bool
	Limit     int
}

// HistoryOptions hold parameters for exporting a product's history.
type HistoryOptions struct {
	ProductID string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// SimulateOptions describe a synthetic check outcome.
type SimulateOptions struct {
	Name      string
	OldPrice  string
	NewPrice  string
	OldStock  string
	NewStock  string
	Threshold string
}
