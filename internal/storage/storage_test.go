package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopwatch/internal/config"
	"shopwatch/internal/domain"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := store.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := store.Set(ctx, "k", []byte(`{"a":2}`)); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, err := store.Get(ctx, "k")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(got) != `{"a":2}` {
				t.Fatalf("unexpected value %s", got)
			}
			if err := store.Delete(ctx, "k"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestGetJSONDecodeError(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_ = store.Set(ctx, "bad", []byte("not json"))

	var v map[string]any
	_, err := GetJSON(ctx, store, "bad", &v)
	var storeErr *Error
	if !errors.As(err, &storeErr) || storeErr.Op != "decode" {
		t.Fatalf("expected decode *Error, got %v", err)
	}
}

func TestRepositoryProducts(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemory())

	first := domain.ProductSnapshot{ID: "a", Name: "Lamp", Price: decimal.NewFromInt(100), Stock: domain.StockInStock}
	second := domain.ProductSnapshot{ID: "b", Name: "Desk", Price: decimal.NewFromInt(250)}
	for _, s := range []domain.ProductSnapshot{first, second, first} {
		if err := repo.SaveProduct(ctx, s); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	list, err := repo.Products(ctx)
	if err != nil {
		t.Fatalf("products: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("unexpected product list %+v", list)
	}
	if !list[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("price not preserved: %s", list[0].Price)
	}

	if _, err := repo.Product(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.SaveProduct(ctx, domain.ProductSnapshot{}); err == nil {
		t.Fatal("expected error for snapshot without id")
	}
}

func TestRepositoryMonitored(t *testing.T) {
	ctx := context.Background()
	sqlite, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer sqlite.Close()
	repo := NewRepository(sqlite)

	checked := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := domain.MonitoredProduct{
		ID:                   "p1",
		Name:                 "Lamp",
		CheckIntervalMinutes: 60,
		LastKnownPrice:       decimal.NewFromInt(10000),
		LastKnownStock:       domain.StockInStock,
		LastCheckedAt:        &checked,
		PriceHistory:         []domain.PricePoint{{Value: decimal.NewFromInt(10000), Timestamp: checked}},
		Enabled:              true,
	}
	if err := repo.AddMonitored(ctx, p); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := repo.AddMonitored(ctx, domain.MonitoredProduct{ID: "p2", CheckIntervalMinutes: 5}); err != nil {
		t.Fatalf("add second: %v", err)
	}

	p.LastKnownPrice = decimal.NewFromInt(9400)
	if err := repo.SaveMonitored(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	all, err := repo.Monitored(ctx)
	if err != nil {
		t.Fatalf("monitored: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 monitored, got %d", len(all))
	}
	if !all[0].LastKnownPrice.Equal(decimal.NewFromInt(9400)) {
		t.Fatalf("expected updated price, got %s", all[0].LastKnownPrice)
	}
	if all[0].LastCheckedAt == nil || !all[0].LastCheckedAt.Equal(checked) {
		t.Fatalf("last checked not preserved: %v", all[0].LastCheckedAt)
	}

	if err := repo.DeleteMonitored(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	all, err = repo.Monitored(ctx)
	if err != nil {
		t.Fatalf("monitored after delete: %v", err)
	}
	if len(all) != 1 || all[0].ID != "p2" {
		t.Fatalf("unexpected monitored after delete %+v", all)
	}
}

func TestRepositoryLastBatch(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemory())

	if _, ok, err := repo.LastBatch(ctx); err != nil || ok {
		t.Fatalf("expected no batch, got ok=%v err=%v", ok, err)
	}
	run := domain.BatchRun{ID: "r1", Total: 3, Succeeded: 2, Failed: 1, Status: domain.RunCompleted}
	if err := repo.SaveLastBatch(ctx, run); err != nil {
		t.Fatalf("save batch: %v", err)
	}
	got, ok, err := repo.LastBatch(ctx)
	if err != nil || !ok {
		t.Fatalf("load batch: ok=%v err=%v", ok, err)
	}
	if got.ID != "r1" || got.Processed() != 3 || got.Status != domain.RunCompleted {
		t.Fatalf("unexpected batch %+v", got)
	}
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, config.StorageConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := store.(*Memory); !ok {
		t.Fatalf("expected *Memory, got %T", store)
	}
	if _, err := Open(ctx, config.StorageConfig{Driver: "redis"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, err := Open(ctx, config.StorageConfig{Driver: "postgres"}); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}
}

func TestPostgresNotConfigured(t *testing.T) {
	var s *Postgres
	if _, err := s.Get(context.Background(), "k"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(context.Background(), 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("SHOPWATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SHOPWATCH_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, config.StorageConfig{Driver: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer store.Close()

	if err := store.Set(ctx, "test/roundtrip", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	var v struct{ OK bool }
	if ok, err := GetJSON(ctx, store, "test/roundtrip", &v); err != nil || !ok || !v.OK {
		t.Fatalf("get: ok=%v err=%v v=%+v", ok, err, v)
	}
	_ = store.Delete(ctx, "test/roundtrip")

	unlock, acquired, err := store.(*Postgres).TryAdvisoryLock(ctx, 0x73686f70)
	if err != nil || !acquired {
		t.Fatalf("advisory lock: acquired=%v err=%v", acquired, err)
	}
	unlock()
}
