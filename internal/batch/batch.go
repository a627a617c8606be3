// Package batch runs one-shot sequential collection over a list of product
// pages.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shopwatch/internal/attempt"
	"shopwatch/internal/domain"
	"shopwatch/internal/extraction"
	"shopwatch/internal/gateway"
	"shopwatch/internal/urlutil"
)

// ErrRunActive is returned when Run is called while another run is in progress.
var ErrRunActive = errors.New("batch: a run is already in progress")

// ProductSaver persists collected snapshots.
type ProductSaver interface {
	SaveProduct(ctx context.Context, snap domain.ProductSnapshot) error
}

// ProgressFunc observes progress after each processed item.
type ProgressFunc func(domain.Progress)

// Options tune a run.
type Options struct {
	PerItemDelay time.Duration
	MaxRetries   int
	SettleDelay  time.Duration
	LoadTimeout  time.Duration
	RetryBackoff time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		PerItemDelay: 3 * time.Second,
		MaxRetries:   3,
		SettleDelay:  2 * time.Second,
		LoadTimeout:  30 * time.Second,
		RetryBackoff: 2 * time.Second,
	}
}

func (o Options) normalized() Options {
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 30 * time.Second
	}
	return o
}

// Orchestrator drives batch runs. At most one run is active at a time.
type Orchestrator struct {
	gw        gateway.Gateway
	extractor extraction.Service
	saver     ProductSaver
	collector gateway.Collector
	matcher   *urlutil.Matcher
	logger    zerolog.Logger

	sleep attempt.SleepFunc
	now   func() time.Time
	newID func() string

	running atomic.Bool

	mu      sync.Mutex
	current *domain.BatchRun
	stop    chan struct{}
	stopped bool
}

// New constructs an Orchestrator. A nil matcher accepts every target.
func New(gw gateway.Gateway, extractor extraction.Service, saver ProductSaver, collector gateway.Collector, matcher *urlutil.Matcher, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		gw:        gw,
		extractor: extractor,
		saver:     saver,
		collector: collector,
		matcher:   matcher,
		logger:    logger.With().Str("component", "batch").Logger(),
		sleep:     attempt.Sleep,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Run processes targets strictly in order and returns the finished run log.
// Per-item failures are recorded in the log, never returned. Only one run may
// be active at a time; a concurrent call gets ErrRunActive.
func (o *Orchestrator) Run(ctx context.Context, targets []string, opts Options, observer ProgressFunc) (*domain.BatchRun, error) {
	active, err := o.begin(targets, opts)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, active, observer), nil
}

// Launch reserves the run slot synchronously and collects in the background.
// The returned snapshot is the run as registered; done yields the finished
// log exactly once. Stop takes effect as soon as Launch returns.
func (o *Orchestrator) Launch(ctx context.Context, targets []string, opts Options, observer ProgressFunc) (domain.BatchRun, <-chan *domain.BatchRun, error) {
	active, err := o.begin(targets, opts)
	if err != nil {
		return domain.BatchRun{}, nil, err
	}
	snapshot := o.snapshot()

	done := make(chan *domain.BatchRun, 1)
	go func() {
		done <- o.execute(ctx, active, observer)
	}()
	return snapshot, done, nil
}

type activeRun struct {
	run   *domain.BatchRun
	queue []domain.CollectionTarget
	stop  chan struct{}
	opts  Options
	total int
}

func (o *Orchestrator) begin(targets []string, opts Options) (*activeRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}

	queue := o.Prepare(targets)
	active := &activeRun{
		run: &domain.BatchRun{
			ID:        o.newID(),
			Total:     len(queue),
			Status:    domain.RunRunning,
			StartedAt: o.now().UTC(),
			Results:   make([]domain.ItemResult, 0, len(queue)),
		},
		queue: queue,
		stop:  make(chan struct{}),
		opts:  opts.normalized(),
		total: len(targets),
	}

	o.mu.Lock()
	o.current = active.run
	o.stop = active.stop
	o.stopped = false
	o.mu.Unlock()
	return active, nil
}

func (o *Orchestrator) execute(ctx context.Context, active *activeRun, observer ProgressFunc) *domain.BatchRun {
	defer o.running.Store(false)

	run, queue, stop, opts := active.run, active.queue, active.stop, active.opts
	logger := o.logger.With().Str("run_id", run.ID).Logger()
	logger.Info().Int("total", run.Total).Int("submitted", active.total).Msg("batch run started")

	status := domain.RunCompleted
	for i, target := range queue {
		if isStopped(stop) || ctx.Err() != nil {
			status = domain.RunStopped
			break
		}

		result := o.collectOne(ctx, logger, i, target, opts)
		progress := o.record(run, result)
		if observer != nil {
			observer(progress)
		}

		if i < len(queue)-1 && opts.PerItemDelay > 0 {
			if !o.pause(ctx, stop, opts.PerItemDelay) {
				status = domain.RunStopped
				break
			}
		}
	}

	o.mu.Lock()
	finished := o.now().UTC()
	run.Status = status
	run.FinishedAt = &finished
	out := run.Clone()
	o.mu.Unlock()

	logger.Info().
		Str("status", string(status)).
		Int("succeeded", out.Succeeded).
		Int("failed", out.Failed).
		Int("total", out.Total).
		Msg("batch run finished")
	return &out
}

func (o *Orchestrator) snapshot() domain.BatchRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current.Clone()
}

// Stop asks the active run to halt at the next item boundary.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stop == nil || o.stopped {
		return
	}
	o.stopped = true
	close(o.stop)
}

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Current returns a copy of the active or most recent run.
func (o *Orchestrator) Current() (domain.BatchRun, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return domain.BatchRun{}, false
	}
	return o.current.Clone(), true
}

// Prepare canonicalises targets, drops non-product pages and exact duplicates.
func (o *Orchestrator) Prepare(targets []string) []domain.CollectionTarget {
	seen := make(map[string]struct{}, len(targets))
	out := make([]domain.CollectionTarget, 0, len(targets))
	for _, raw := range targets {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		canonical, err := urlutil.Canonicalize(raw)
		if err != nil {
			o.logger.Warn().Err(err).Str("url", raw).Msg("skipping invalid target")
			continue
		}
		if o.matcher != nil && !o.matcher.Match(canonical) {
			o.logger.Debug().Str("url", canonical).Msg("skipping non-product page")
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, domain.CollectionTarget{URL: raw, Canonical: canonical})
	}
	return out
}

func (o *Orchestrator) collectOne(ctx context.Context, logger zerolog.Logger, index int, target domain.CollectionTarget, opts Options) domain.ItemResult {
	result := domain.ItemResult{Index: index, URL: target.Canonical}
	logger = logger.With().Int("index", index).Str("url", target.Canonical).Logger()

	page, err := o.gw.Open(ctx, target.Canonical)
	if err != nil {
		result.Reason = fmt.Sprintf("open page: %v", err)
		logger.Warn().Err(err).Msg("failed to open page")
		return result
	}
	defer func() {
		if err := o.gw.Close(context.WithoutCancel(ctx), page); err != nil {
			logger.Debug().Err(err).Msg("failed to close page")
		}
	}()

	if err := o.gw.Activate(ctx, page); err != nil {
		logger.Debug().Err(err).Msg("activate failed, continuing")
	}
	if err := o.gw.WaitForLoad(ctx, page, opts.LoadTimeout); err != nil {
		if errors.Is(err, gateway.ErrLoadTimeout) {
			logger.Info().Dur("timeout", opts.LoadTimeout).Msg("page load timed out, collecting partial content")
		} else {
			logger.Warn().Err(err).Msg("page load wait failed, continuing")
		}
	}
	if err := o.sleep(ctx, opts.SettleDelay); err != nil {
		result.Reason = fmt.Sprintf("interrupted: %v", err)
		return result
	}

	policy := attempt.Policy{
		MaxAttempts: opts.MaxRetries,
		Backoff:     opts.RetryBackoff,
		Remediable:  func(err error) bool { return errors.Is(err, gateway.ErrConnection) },
		Remediate: func(ctx context.Context) error {
			logger.Debug().Msg("collector not reachable, injecting")
			return o.gw.Inject(ctx, page, o.collector)
		},
		Sleep: o.sleep,
	}
	snap, res, err := attempt.Do(ctx, policy, func(ctx context.Context) (domain.ProductSnapshot, error) {
		return o.extractor.Collect(ctx, page)
	})
	result.Attempts = res.Attempts
	if err != nil {
		result.Reason = err.Error()
		logger.Warn().Err(err).Int("attempts", res.Attempts).Msg("collection failed")
		return result
	}

	if err := o.saver.SaveProduct(ctx, snap); err != nil {
		result.Reason = fmt.Sprintf("save product: %v", err)
		logger.Error().Err(err).Msg("failed to save product")
		return result
	}

	result.Success = true
	result.ProductID = snap.ID
	result.Name = snap.Name
	logger.Info().Str("product_id", snap.ID).Str("price", snap.Price.String()).Int("attempts", res.Attempts).Msg("product collected")
	return result
}

func (o *Orchestrator) record(run *domain.BatchRun, result domain.ItemResult) domain.Progress {
	o.mu.Lock()
	defer o.mu.Unlock()

	run.Results = append(run.Results, result)
	if result.Success {
		run.Succeeded++
	} else {
		run.Failed++
	}

	label := result.Name
	if label == "" {
		label = result.URL
	}
	processed := run.Processed()
	return domain.Progress{
		Current: processed,
		Total:   run.Total,
		Percent: float64(processed) / float64(run.Total) * 100,
		Label:   label,
	}
}

// pause waits d and reports false if the run was stopped or ctx ended meanwhile.
func (o *Orchestrator) pause(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-waitCtx.Done():
		}
	}()
	return o.sleep(waitCtx, d) == nil
}

func isStopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
