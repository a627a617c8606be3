package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"shopwatch/internal/alerting"
	"shopwatch/internal/batch"
	"shopwatch/internal/config"
	"shopwatch/internal/domain"
	"shopwatch/internal/monitor"
	"shopwatch/internal/storage"
)

// ErrUnknownProduct is returned when a saved product cannot be found.
var ErrUnknownProduct = errors.New("service: no saved product with that id")

// Engine owns the batch orchestrator and the monitoring scheduler for one process.
type Engine struct {
	batch      *batch.Orchestrator
	monitor    *monitor.Scheduler
	repo       *storage.Repository
	dispatcher *alerting.Dispatcher
	logger     zerolog.Logger

	defaults batch.Options
	locker   storage.AdvisoryLocker
	lockKey  int64
}

// New constructs the engine. dispatcher may be nil.
func New(cfg *config.Config, orch *batch.Orchestrator, mon *monitor.Scheduler, repo *storage.Repository, dispatcher *alerting.Dispatcher, logger zerolog.Logger) *Engine {
	var locker storage.AdvisoryLocker
	if l, ok := repo.Store().(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Engine{
		batch:      orch,
		monitor:    mon,
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "engine").Logger(),
		defaults:   BatchOptions(cfg.Batch),
		locker:     locker,
		lockKey:    cfg.Storage.AdvisoryLockKey,
	}
}

// BatchOptions converts configuration into run options.
func BatchOptions(cfg config.BatchConfig) batch.Options {
	return batch.Options{
		PerItemDelay: cfg.PerItemDelay,
		MaxRetries:   cfg.MaxRetries,
		SettleDelay:  cfg.SettleDelay,
		LoadTimeout:  cfg.LoadTimeout,
		RetryBackoff: cfg.RetryBackoff,
	}
}

// Start restores persisted monitoring registrations.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.monitor.Start(ctx); err != nil {
		return err
	}
	e.logger.Info().Msg("engine started")
	return nil
}

// Shutdown stops any batch run, cancels monitoring timers and waits for
// queued alerts until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.batch.Stop()
	e.monitor.Shutdown()

	if e.dispatcher == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		e.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info().Msg("engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for pending alerts: %w", ctx.Err())
	}
}

// Monitor exposes the monitoring scheduler.
func (e *Engine) Monitor() *monitor.Scheduler { return e.monitor }

// Batch exposes the batch orchestrator.
func (e *Engine) Batch() *batch.Orchestrator { return e.batch }

// Repository exposes the product repository.
func (e *Engine) Repository() *storage.Repository { return e.repo }

// DefaultBatchOptions returns the configured run options.
func (e *Engine) DefaultBatchOptions() batch.Options { return e.defaults }

// RunBatch executes one batch run and persists its log.
func (e *Engine) RunBatch(ctx context.Context, targets []string, opts batch.Options, observer batch.ProgressFunc) (*domain.BatchRun, error) {
	unlock, proceed, err := e.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		return nil, fmt.Errorf("%w: advisory lock held by another process", batch.ErrRunActive)
	}
	if unlock != nil {
		defer unlock()
	}

	run, err := e.batch.Run(ctx, targets, opts, observer)
	if err != nil {
		return nil, err
	}
	if err := e.repo.SaveLastBatch(context.WithoutCancel(ctx), *run); err != nil {
		e.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist batch run log")
	}
	return run, nil
}

// StartBatch reserves a batch run and executes it in the background. The
// returned snapshot reflects the registered run; ErrRunActive is reported
// synchronously. The run log is persisted when the run finishes.
func (e *Engine) StartBatch(ctx context.Context, targets []string, opts batch.Options, observer batch.ProgressFunc) (domain.BatchRun, error) {
	unlock, proceed, err := e.acquireLock(ctx)
	if err != nil {
		return domain.BatchRun{}, err
	}
	if !proceed {
		return domain.BatchRun{}, fmt.Errorf("%w: advisory lock held by another process", batch.ErrRunActive)
	}

	snapshot, done, err := e.batch.Launch(ctx, targets, opts, observer)
	if err != nil {
		if unlock != nil {
			unlock()
		}
		return domain.BatchRun{}, err
	}

	go func() {
		run := <-done
		if unlock != nil {
			unlock()
		}
		if err := e.repo.SaveLastBatch(context.WithoutCancel(ctx), *run); err != nil {
			e.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist batch run log")
		}
	}()
	return snapshot, nil
}

// LastBatch returns the active or most recent run, falling back to the stored log.
func (e *Engine) LastBatch(ctx context.Context) (domain.BatchRun, bool, error) {
	if run, ok := e.batch.Current(); ok {
		return run, true, nil
	}
	return e.repo.LastBatch(ctx)
}

// StartMonitoringProduct registers a previously collected product for monitoring.
func (e *Engine) StartMonitoringProduct(ctx context.Context, productID string, opts monitor.Options) (domain.MonitoredProduct, error) {
	snap, err := e.repo.Product(ctx, productID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.MonitoredProduct{}, ErrUnknownProduct
	}
	if err != nil {
		return domain.MonitoredProduct{}, fmt.Errorf("load product: %w", err)
	}
	return e.monitor.StartMonitoring(ctx, snap, opts)
}

func (e *Engine) acquireLock(ctx context.Context) (func(), bool, error) {
	if e.lockKey == 0 || e.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := e.locker.TryAdvisoryLock(ctx, e.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
