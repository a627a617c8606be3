package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"shopwatch/internal/alerting"
	"shopwatch/internal/domain"
	"shopwatch/internal/history"
	"shopwatch/internal/monitor"
)

// SimulateAlert 用给定的前后价格与库存模拟一次监控检查，并走完整的告警流程。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	notifiers, err := a.newNotifiers()
	if err != nil {
		return err
	}

	product, snap, err := simulatedCheck(opts, time.Now().UTC())
	if err != nil {
		return err
	}

	outcome := history.Diff(product, snap)
	title, message := monitor.ComposeAlert(product, outcome)
	if message == "" {
		a.Logger.Info().
			Bool("price_changed", outcome.PriceChanged).
			Bool("stock_changed", outcome.StockChanged).
			Msg("simulated check produced no alert")
		return nil
	}

	dispatcher := alerting.NewDispatcher(notifiers, a.Config.Alerting.DispatchTimeout, a.Logger)
	dispatcher.Notify(product.ID, title, message)

	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func simulatedCheck(opts SimulateOptions, now time.Time) (domain.MonitoredProduct, domain.ProductSnapshot, error) {
	oldPrice, err := decimal.NewFromString(opts.OldPrice)
	if err != nil {
		return domain.MonitoredProduct{}, domain.ProductSnapshot{}, fmt.Errorf("old price: %w", err)
	}
	newPrice, err := decimal.NewFromString(opts.NewPrice)
	if err != nil {
		return domain.MonitoredProduct{}, domain.ProductSnapshot{}, fmt.Errorf("new price: %w", err)
	}
	threshold := decimal.Zero
	if opts.Threshold != "" {
		if threshold, err = decimal.NewFromString(opts.Threshold); err != nil {
			return domain.MonitoredProduct{}, domain.ProductSnapshot{}, fmt.Errorf("threshold: %w", err)
		}
	}
	oldStock, err := domain.ParseStock(opts.OldStock)
	if err != nil {
		return domain.MonitoredProduct{}, domain.ProductSnapshot{}, fmt.Errorf("old stock: %w", err)
	}
	newStock, err := domain.ParseStock(opts.NewStock)
	if err != nil {
		return domain.MonitoredProduct{}, domain.ProductSnapshot{}, fmt.Errorf("new stock: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = "Simulated product"
	}
	product := domain.MonitoredProduct{
		ID:                  "simulated",
		Name:                name,
		PriceAlertEnabled:   true,
		StockAlertEnabled:   true,
		PriceDeltaThreshold: threshold,
		LastKnownPrice:      oldPrice,
		LastKnownStock:      oldStock,
		Enabled:             true,
		CreatedAt:           now,
	}
	snap := domain.ProductSnapshot{
		ID:          product.ID,
		Name:        name,
		Price:       newPrice,
		Stock:       newStock,
		ExtractedAt: now,
	}
	return product, snap, nil
}
