// Package monitor re-checks registered products on independent periods,
// records price and stock history and raises alerts on changes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"shopwatch/internal/alerting"
	"shopwatch/internal/attempt"
	"shopwatch/internal/domain"
	"shopwatch/internal/extraction"
	"shopwatch/internal/gateway"
	"shopwatch/internal/history"
	"shopwatch/internal/scheduler"
)

var (
	ErrInvalidOptions   = errors.New("monitor: invalid options")
	ErrNotFound         = errors.New("monitor: product is not monitored")
	ErrAlreadyMonitored = errors.New("monitor: product is already monitored")
	// ErrCheckInFlight is returned by CheckNow when a check for the same product is running.
	ErrCheckInFlight = errors.New("monitor: check already in flight")

	errSkipped = errors.New("monitor: firing skipped")
)

// Repository persists monitored products, one record per product.
type Repository interface {
	AddMonitored(ctx context.Context, p domain.MonitoredProduct) error
	SaveMonitored(ctx context.Context, p domain.MonitoredProduct) error
	DeleteMonitored(ctx context.Context, id string) error
	Monitored(ctx context.Context) ([]domain.MonitoredProduct, error)
}

// Options configure a new registration.
type Options struct {
	CheckIntervalMinutes int
	PriceAlertEnabled    bool
	StockAlertEnabled    bool
	PriceDeltaThreshold  decimal.Decimal
}

// OptionsUpdate carries the fields to change; nil fields are left alone.
type OptionsUpdate struct {
	CheckIntervalMinutes *int             `json:"check_interval_minutes,omitempty"`
	PriceAlertEnabled    *bool            `json:"price_alert_enabled,omitempty"`
	StockAlertEnabled    *bool            `json:"stock_alert_enabled,omitempty"`
	PriceDeltaThreshold  *decimal.Decimal `json:"price_delta_threshold,omitempty"`
	Enabled              *bool            `json:"enabled,omitempty"`
}

// Config tunes check execution.
type Config struct {
	HistoryLimit int
	SettleDelay  time.Duration
	LoadTimeout  time.Duration
	CheckTimeout time.Duration
}

type entry struct {
	// guarded by Scheduler.mu
	product    domain.MonitoredProduct
	registered bool
	generation uint64

	inFlight atomic.Bool
	saveMu   sync.Mutex
}

// Scheduler owns the monitored products and their recurring checks.
type Scheduler struct {
	gw        gateway.Gateway
	extractor extraction.Service
	repo      Repository
	sink      alerting.Sink
	clock     scheduler.Recurring
	collector gateway.Collector
	cfg       Config
	logger    zerolog.Logger

	now   func() time.Time
	sleep attempt.SleepFunc

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
}

// New constructs a monitoring Scheduler.
func New(gw gateway.Gateway, extractor extraction.Service, repo Repository, sink alerting.Sink, clock scheduler.Recurring, collector gateway.Collector, cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	return &Scheduler{
		gw:        gw,
		extractor: extractor,
		repo:      repo,
		sink:      sink,
		clock:     clock,
		collector: collector,
		cfg:       cfg,
		logger:    logger.With().Str("component", "monitor").Logger(),
		now:       time.Now,
		sleep:     attempt.Sleep,
		entries:   make(map[string]*entry),
	}
}

// Start loads persisted registrations and schedules them.
func (s *Scheduler) Start(ctx context.Context) error {
	products, err := s.repo.Monitored(ctx)
	if err != nil {
		return fmt.Errorf("load monitored products: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loaded := 0
	for _, p := range products {
		if _, exists := s.entries[p.ID]; exists || p.CheckIntervalMinutes <= 0 {
			continue
		}
		s.gen++
		e := &entry{product: p, registered: true, generation: s.gen}
		s.entries[p.ID] = e
		s.clock.Schedule(p.ID, p.Interval(), s.firing(p.ID, e.generation))
		loaded++
	}
	s.logger.Info().Int("count", loaded).Msg("monitored products restored")
	return nil
}

// Shutdown cancels every recurring check. Registrations stay persisted.
func (s *Scheduler) Shutdown() {
	s.clock.Stop()
}

// StartMonitoring registers snap for recurring checks seeded with its current values.
func (s *Scheduler) StartMonitoring(ctx context.Context, snap domain.ProductSnapshot, opts Options) (domain.MonitoredProduct, error) {
	if opts.CheckIntervalMinutes <= 0 {
		return domain.MonitoredProduct{}, fmt.Errorf("%w: interval must be positive", ErrInvalidOptions)
	}
	if opts.PriceDeltaThreshold.IsNegative() {
		return domain.MonitoredProduct{}, fmt.Errorf("%w: price threshold cannot be negative", ErrInvalidOptions)
	}
	if snap.URL == "" {
		return domain.MonitoredProduct{}, fmt.Errorf("%w: product has no source url", ErrInvalidOptions)
	}
	id := snap.ID
	if id == "" {
		id = extraction.ProductID(snap.URL)
	}

	now := s.now().UTC()
	p := domain.MonitoredProduct{
		ID:                   id,
		Name:                 snap.Name,
		SourceURL:            snap.URL,
		CheckIntervalMinutes: opts.CheckIntervalMinutes,
		PriceAlertEnabled:    opts.PriceAlertEnabled,
		StockAlertEnabled:    opts.StockAlertEnabled,
		PriceDeltaThreshold:  opts.PriceDeltaThreshold,
		LastKnownPrice:       snap.Price,
		LastKnownStock:       snap.Stock,
		Enabled:              true,
		CreatedAt:            now,
	}
	p.PriceHistory = history.AppendPrice(nil, snap.Price, now, s.cfg.HistoryLimit)
	if snap.Stock.Known() {
		p.StockHistory = history.AppendStock(nil, snap.Stock, now, s.cfg.HistoryLimit)
	}

	s.mu.Lock()
	if _, exists := s.entries[id]; exists {
		s.mu.Unlock()
		return domain.MonitoredProduct{}, ErrAlreadyMonitored
	}
	s.gen++
	e := &entry{product: p, registered: true, generation: s.gen}
	s.entries[id] = e
	s.mu.Unlock()

	e.saveMu.Lock()
	s.mu.Lock()
	live := e.registered
	s.mu.Unlock()
	var err error
	if live {
		err = s.repo.AddMonitored(ctx, p)
	}
	e.saveMu.Unlock()
	if err != nil {
		s.mu.Lock()
		e.registered = false
		delete(s.entries, id)
		s.mu.Unlock()
		return domain.MonitoredProduct{}, fmt.Errorf("persist monitored product: %w", err)
	}

	s.mu.Lock()
	if e.registered {
		s.clock.Schedule(id, p.Interval(), s.firing(id, e.generation))
	}
	s.mu.Unlock()

	s.logger.Info().Str("product_id", id).Int("interval_minutes", p.CheckIntervalMinutes).Msg("monitoring started")
	return p.Clone(), nil
}

// StopMonitoring cancels the recurring check and deletes the registration.
// A check already in flight finishes but never writes the product back.
func (s *Scheduler) StopMonitoring(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	e.registered = false
	delete(s.entries, id)
	s.clock.Cancel(id)
	s.mu.Unlock()

	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if err := s.repo.DeleteMonitored(ctx, id); err != nil {
		return fmt.Errorf("delete monitored product: %w", err)
	}
	s.logger.Info().Str("product_id", id).Msg("monitoring stopped")
	return nil
}

// UpdateOptions changes alert options. The recurring check is re-registered
// only when the interval changes.
func (s *Scheduler) UpdateOptions(ctx context.Context, id string, upd OptionsUpdate) (domain.MonitoredProduct, error) {
	if upd.CheckIntervalMinutes != nil && *upd.CheckIntervalMinutes <= 0 {
		return domain.MonitoredProduct{}, fmt.Errorf("%w: interval must be positive", ErrInvalidOptions)
	}
	if upd.PriceDeltaThreshold != nil && upd.PriceDeltaThreshold.IsNegative() {
		return domain.MonitoredProduct{}, fmt.Errorf("%w: price threshold cannot be negative", ErrInvalidOptions)
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return domain.MonitoredProduct{}, ErrNotFound
	}
	p := &e.product
	if upd.PriceAlertEnabled != nil {
		p.PriceAlertEnabled = *upd.PriceAlertEnabled
	}
	if upd.StockAlertEnabled != nil {
		p.StockAlertEnabled = *upd.StockAlertEnabled
	}
	if upd.PriceDeltaThreshold != nil {
		p.PriceDeltaThreshold = *upd.PriceDeltaThreshold
	}
	if upd.Enabled != nil {
		p.Enabled = *upd.Enabled
	}
	if upd.CheckIntervalMinutes != nil && *upd.CheckIntervalMinutes != p.CheckIntervalMinutes {
		p.CheckIntervalMinutes = *upd.CheckIntervalMinutes
		s.gen++
		e.generation = s.gen
		s.clock.Schedule(id, p.Interval(), s.firing(id, e.generation))
		s.logger.Info().Str("product_id", id).Int("interval_minutes", p.CheckIntervalMinutes).Msg("check interval changed")
	}
	updated := p.Clone()
	s.mu.Unlock()

	if err := s.persist(ctx, e); err != nil {
		return updated, fmt.Errorf("persist monitored product: %w", err)
	}
	return updated, nil
}

// GetAll returns deep copies of every monitored product ordered by creation.
func (s *Scheduler) GetAll() []domain.MonitoredProduct {
	s.mu.Lock()
	out := make([]domain.MonitoredProduct, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.product.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns a deep copy of one monitored product.
func (s *Scheduler) Get(id string) (domain.MonitoredProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.MonitoredProduct{}, ErrNotFound
	}
	return e.product.Clone(), nil
}

// CheckNow runs one check immediately, regardless of the Enabled flag.
func (s *Scheduler) CheckNow(ctx context.Context, id string) (domain.CheckOutcome, error) {
	return s.check(ctx, id, 0, true)
}

func (s *Scheduler) firing(id string, generation uint64) scheduler.Task {
	return func(ctx context.Context) {
		_, err := s.check(ctx, id, generation, false)
		switch {
		case err == nil, errors.Is(err, errSkipped), errors.Is(err, ErrNotFound):
		case errors.Is(err, ErrCheckInFlight):
			s.logger.Debug().Str("product_id", id).Msg("previous check still running, firing dropped")
		default:
			s.logger.Warn().Err(err).Str("product_id", id).Msg("check failed, will retry at next interval")
		}
	}
}

func (s *Scheduler) check(ctx context.Context, id string, generation uint64, manual bool) (domain.CheckOutcome, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || !e.registered {
		s.mu.Unlock()
		return domain.CheckOutcome{}, ErrNotFound
	}
	if !manual && (e.generation != generation || !e.product.Enabled) {
		s.mu.Unlock()
		return domain.CheckOutcome{}, errSkipped
	}
	product := e.product.Clone()
	s.mu.Unlock()

	if !e.inFlight.CompareAndSwap(false, true) {
		return domain.CheckOutcome{}, ErrCheckInFlight
	}
	defer e.inFlight.Store(false)

	if s.cfg.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CheckTimeout)
		defer cancel()
	}

	logger := s.logger.With().Str("product_id", id).Logger()
	snap, err := s.collect(ctx, logger, product.SourceURL)
	at := s.now().UTC()
	if err != nil {
		s.mu.Lock()
		if e.registered {
			e.product.LastCheckedAt = &at
			e.product.ConsecutiveFailures++
			e.product.LastError = err.Error()
		}
		s.mu.Unlock()
		return domain.CheckOutcome{}, err
	}

	outcome := history.Diff(product, snap)

	s.mu.Lock()
	if !e.registered {
		s.mu.Unlock()
		return outcome, nil
	}
	history.Apply(&e.product, outcome, at, s.cfg.HistoryLimit)
	e.product.LastCheckedAt = &at
	e.product.ConsecutiveFailures = 0
	e.product.LastError = ""
	updated := e.product.Clone()
	s.mu.Unlock()

	logger.Debug().
		Bool("price_changed", outcome.PriceChanged).
		Bool("stock_changed", outcome.StockChanged).
		Str("price", snap.Price.String()).
		Msg("check completed")

	if !outcome.Changed() {
		return outcome, nil
	}

	if title, message := ComposeAlert(updated, outcome); message != "" && s.sink != nil {
		s.sink.Notify(id, title, message)
	}
	if err := s.persist(context.WithoutCancel(ctx), e); err != nil {
		logger.Error().Err(err).Msg("failed to persist check result")
	}
	return outcome, nil
}

func (s *Scheduler) collect(ctx context.Context, logger zerolog.Logger, address string) (domain.ProductSnapshot, error) {
	page, err := s.gw.Open(ctx, address)
	if err != nil {
		return domain.ProductSnapshot{}, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := s.gw.Close(context.WithoutCancel(ctx), page); err != nil {
			logger.Debug().Err(err).Msg("failed to close page")
		}
	}()

	if err := s.gw.WaitForLoad(ctx, page, s.cfg.LoadTimeout); err != nil && !errors.Is(err, gateway.ErrLoadTimeout) {
		logger.Debug().Err(err).Msg("page load wait failed, continuing")
	}
	if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
		return domain.ProductSnapshot{}, err
	}

	policy := attempt.Policy{
		MaxAttempts: 1,
		Remediable:  func(err error) bool { return errors.Is(err, gateway.ErrConnection) },
		Remediate: func(ctx context.Context) error {
			return s.gw.Inject(ctx, page, s.collector)
		},
		Sleep: s.sleep,
	}
	snap, _, err := attempt.Do(ctx, policy, func(ctx context.Context) (domain.ProductSnapshot, error) {
		return s.extractor.Collect(ctx, page)
	})
	return snap, err
}

// persist writes the entry back unless it was stopped meanwhile.
func (s *Scheduler) persist(ctx context.Context, e *entry) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	s.mu.Lock()
	if !e.registered {
		s.mu.Unlock()
		return nil
	}
	p := e.product.Clone()
	s.mu.Unlock()

	return s.repo.SaveMonitored(ctx, p)
}
