package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"shopwatch/internal/alerting"
	"shopwatch/internal/batch"
	"shopwatch/internal/collector"
	"shopwatch/internal/config"
	"shopwatch/internal/domain"
	"shopwatch/internal/extraction"
	"shopwatch/internal/gateway"
	"shopwatch/internal/monitor"
	"shopwatch/internal/scheduler/schedulertest"
	"shopwatch/internal/storage"
	"shopwatch/internal/urlutil"
)

// shop serves product pages whose price can be changed between checks.
type shop struct {
	mu     sync.Mutex
	prices map[string]string
}

func (s *shop) setPrice(path, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[path] = price
}

func (s *shop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	price, ok := s.prices[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintf(w, `<html><head><script type="application/ld+json">
{"@type":"Product","name":"Item %s","offers":{"price":"%s","priceCurrency":"USD","availability":"https://schema.org/InStock"}}
</script></head></html>`, r.URL.Path, price)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

type lockedStore struct {
	*storage.Memory
}

func (lockedStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	return nil, false, nil
}

type fixture struct {
	engine   *Engine
	clock    *schedulertest.Manual
	shop     *shop
	server   *httptest.Server
	notifier *recordingNotifier
}

func newFixture(t *testing.T, store storage.Store) *fixture {
	t.Helper()
	f := &fixture{
		clock:    schedulertest.NewManual(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		shop:     &shop{prices: map[string]string{"/item/1": "100.00", "/item/2": "55.50"}},
		notifier: &recordingNotifier{},
	}
	f.server = httptest.NewServer(f.shop)
	t.Cleanup(f.server.Close)

	cfg := &config.Config{
		Storage: config.StorageConfig{AdvisoryLockKey: 42},
		Batch:   config.BatchConfig{MaxRetries: 2, LoadTimeout: time.Second},
	}
	logger := zerolog.Nop()
	gw := gateway.NewHTTP(gateway.HTTPOptions{Timeout: 2 * time.Second}, logger)
	extractor := extraction.NewCollectorService(gw, logger)
	repo := storage.NewRepository(store)
	matcher, err := urlutil.NewMatcher(nil)
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	dispatcher := alerting.NewDispatcher([]alerting.Notifier{f.notifier}, time.Second, logger)

	orch := batch.New(gw, extractor, repo, collector.Default(), matcher, logger)
	mon := monitor.New(gw, extractor, repo, dispatcher, f.clock, collector.Default(), monitor.Config{HistoryLimit: 10}, logger)
	f.engine = New(cfg, orch, mon, repo, dispatcher, logger)
	return f
}

func (f *fixture) url(path string) string { return f.server.URL + path }

func TestRunBatchPersistsRunLog(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	ctx := context.Background()

	run, err := f.engine.RunBatch(ctx, []string{f.url("/item/1"), f.url("/item/404"), f.url("/item/2")}, f.engine.DefaultBatchOptions(), nil)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if run.Total != 3 || run.Succeeded != 2 || run.Failed != 1 || run.Results[1].Success {
		t.Fatalf("unexpected run %+v", run)
	}

	stored, ok, err := f.engine.Repository().LastBatch(ctx)
	if err != nil || !ok || stored.ID != run.ID {
		t.Fatalf("run log not persisted: ok=%v err=%v", ok, err)
	}
	products, err := f.engine.Repository().Products(ctx)
	if err != nil || len(products) != 2 {
		t.Fatalf("expected 2 saved products, got %d (%v)", len(products), err)
	}
	if !products[1].Price.Equal(decimal.RequireFromString("55.5")) || products[1].Currency != "USD" {
		t.Fatalf("unexpected product %+v", products[1])
	}

	last, ok, err := f.engine.LastBatch(ctx)
	if err != nil || !ok || last.Status != domain.RunCompleted {
		t.Fatalf("LastBatch: %+v ok=%v err=%v", last, ok, err)
	}
}

func TestRunBatchHonoursAdvisoryLock(t *testing.T) {
	f := newFixture(t, lockedStore{storage.NewMemory()})

	_, err := f.engine.RunBatch(context.Background(), []string{f.url("/item/1")}, f.engine.DefaultBatchOptions(), nil)
	if !errors.Is(err, batch.ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
}

func TestStartBatchReservesAndPersists(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	ctx := context.Background()

	started, err := f.engine.StartBatch(ctx, []string{f.url("/item/1")}, f.engine.DefaultBatchOptions(), nil)
	if err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	if started.Status != domain.RunRunning || started.Total != 1 {
		t.Fatalf("unexpected snapshot %+v", started)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		stored, ok, err := f.engine.Repository().LastBatch(ctx)
		if err != nil {
			t.Fatalf("LastBatch: %v", err)
		}
		if ok {
			if stored.ID != started.ID || stored.Status != domain.RunCompleted || stored.Succeeded != 1 {
				t.Fatalf("unexpected stored run %+v", stored)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run log was not persisted")
}

func TestStartBatchHonoursAdvisoryLock(t *testing.T) {
	f := newFixture(t, lockedStore{storage.NewMemory()})

	_, err := f.engine.StartBatch(context.Background(), []string{f.url("/item/1")}, f.engine.DefaultBatchOptions(), nil)
	if !errors.Is(err, batch.ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	if f.engine.Batch().Running() {
		t.Fatal("no run may start without the lock")
	}
}

func TestMonitoringSavedProductEndToEnd(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	ctx := context.Background()

	if _, err := f.engine.RunBatch(ctx, []string{f.url("/item/1")}, f.engine.DefaultBatchOptions(), nil); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	id := extraction.ProductID(f.url("/item/1"))

	p, err := f.engine.StartMonitoringProduct(ctx, id, monitor.Options{
		CheckIntervalMinutes: 30,
		PriceAlertEnabled:    true,
		PriceDeltaThreshold:  decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("StartMonitoringProduct: %v", err)
	}
	if !p.LastKnownPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected seed price %s", p.LastKnownPrice)
	}

	f.shop.setPrice("/item/1", "90.00")
	f.clock.Advance(30 * time.Minute)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.engine.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	f.notifier.mu.Lock()
	notes := append([]alerting.Notification(nil), f.notifier.notes...)
	f.notifier.mu.Unlock()
	if len(notes) != 1 || !strings.Contains(notes[0].Message, "Price: 100 → 90 (-10, -10.00%)") {
		t.Fatalf("unexpected notifications %+v", notes)
	}

	stored, err := f.engine.Repository().Monitored(ctx)
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected one persisted product, got %d (%v)", len(stored), err)
	}
	if !stored[0].LastKnownPrice.Equal(decimal.NewFromInt(90)) || len(stored[0].PriceHistory) != 2 {
		t.Fatalf("check result not persisted: %+v", stored[0])
	}
}

func TestStartMonitoringUnknownProduct(t *testing.T) {
	f := newFixture(t, storage.NewMemory())
	_, err := f.engine.StartMonitoringProduct(context.Background(), "nope", monitor.Options{CheckIntervalMinutes: 5})
	if !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
}
