package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"shopwatch/internal/domain"
)

const (
	productPrefix   = "products/"
	productIndex    = "products/index"
	monitoredPrefix = "monitored/"
	monitoredIndex  = "monitored/index"
	lastBatchKey    = "batch/last"
)

// ProductKey returns the key of a saved snapshot.
func ProductKey(id string) string { return productPrefix + id }

// MonitoredKey returns the key of a monitored product record.
func MonitoredKey(id string) string { return monitoredPrefix + id }

// Repository maps domain records onto a Store. Index updates are serialised
// here; record writes are not.
type Repository struct {
	store   Store
	indexMu sync.Mutex
}

// NewRepository wraps store.
func NewRepository(store Store) *Repository {
	return &Repository{store: store}
}

// Store exposes the underlying key/value store.
func (r *Repository) Store() Store { return r.store }

// SaveProduct stores a collected snapshot and records its ID in the product index.
func (r *Repository) SaveProduct(ctx context.Context, snap domain.ProductSnapshot) error {
	if snap.ID == "" {
		return &Error{Op: "set", Key: productPrefix, Err: fmt.Errorf("snapshot has no id")}
	}
	if err := SetJSON(ctx, r.store, ProductKey(snap.ID), snap); err != nil {
		return err
	}
	return r.addToIndex(ctx, productIndex, snap.ID)
}

// Product loads a saved snapshot. It returns ErrNotFound when absent.
func (r *Repository) Product(ctx context.Context, id string) (domain.ProductSnapshot, error) {
	var snap domain.ProductSnapshot
	ok, err := GetJSON(ctx, r.store, ProductKey(id), &snap)
	if err != nil {
		return domain.ProductSnapshot{}, err
	}
	if !ok {
		return domain.ProductSnapshot{}, ErrNotFound
	}
	return snap, nil
}

// Products lists saved snapshots in index order. Index entries whose record is missing are skipped.
func (r *Repository) Products(ctx context.Context) ([]domain.ProductSnapshot, error) {
	ids, err := r.index(ctx, productIndex)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductSnapshot, 0, len(ids))
	for _, id := range ids {
		var snap domain.ProductSnapshot
		ok, err := GetJSON(ctx, r.store, ProductKey(id), &snap)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, snap)
		}
	}
	return out, nil
}

// AddMonitored writes a new monitored product and registers it in the index.
func (r *Repository) AddMonitored(ctx context.Context, p domain.MonitoredProduct) error {
	if err := r.SaveMonitored(ctx, p); err != nil {
		return err
	}
	return r.addToIndex(ctx, monitoredIndex, p.ID)
}

// SaveMonitored overwrites a monitored product record.
func (r *Repository) SaveMonitored(ctx context.Context, p domain.MonitoredProduct) error {
	return SetJSON(ctx, r.store, MonitoredKey(p.ID), p)
}

// DeleteMonitored removes a monitored product record and its index entry.
func (r *Repository) DeleteMonitored(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, MonitoredKey(id)); err != nil {
		return err
	}
	return r.removeFromIndex(ctx, monitoredIndex, id)
}

// Monitored loads every persisted monitored product.
func (r *Repository) Monitored(ctx context.Context) ([]domain.MonitoredProduct, error) {
	ids, err := r.index(ctx, monitoredIndex)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MonitoredProduct, 0, len(ids))
	for _, id := range ids {
		var p domain.MonitoredProduct
		ok, err := GetJSON(ctx, r.store, MonitoredKey(id), &p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// SaveLastBatch records the most recent batch run log.
func (r *Repository) SaveLastBatch(ctx context.Context, run domain.BatchRun) error {
	return SetJSON(ctx, r.store, lastBatchKey, run)
}

// LastBatch loads the most recent batch run log, reporting false when none was stored.
func (r *Repository) LastBatch(ctx context.Context) (domain.BatchRun, bool, error) {
	var run domain.BatchRun
	ok, err := GetJSON(ctx, r.store, lastBatchKey, &run)
	return run, ok, err
}

func (r *Repository) index(ctx context.Context, key string) ([]string, error) {
	var ids []string
	if _, err := GetJSON(ctx, r.store, key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repository) addToIndex(ctx context.Context, key, id string) error {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	ids, err := r.index(ctx, key)
	if err != nil {
		return err
	}
	if slices.Contains(ids, id) {
		return nil
	}
	return SetJSON(ctx, r.store, key, append(ids, id))
}

func (r *Repository) removeFromIndex(ctx context.Context, key, id string) error {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	ids, err := r.index(ctx, key)
	if err != nil {
		return err
	}
	i := slices.Index(ids, id)
	if i < 0 {
		return nil
	}
	return SetJSON(ctx, r.store, key, slices.Delete(ids, i, i+1))
}
