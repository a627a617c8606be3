// Package history holds the bounded history and diff helpers shared by the
// monitoring checks.
package history

import (
	"time"

	"github.com/shopspring/decimal"

	"shopwatch/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// AppendPrice appends a point and evicts the oldest entries so that at most
// limit points remain. A non-positive limit disables the cap.
func AppendPrice(h []domain.PricePoint, value decimal.Decimal, at time.Time, limit int) []domain.PricePoint {
	h = append(h, domain.PricePoint{Value: value, Timestamp: at})
	return trim(h, limit)
}

// AppendStock is AppendPrice for stock states.
func AppendStock(h []domain.StockPoint, value domain.StockStatus, at time.Time, limit int) []domain.StockPoint {
	h = append(h, domain.StockPoint{Value: value, Timestamp: at})
	return trim(h, limit)
}

func trim[T any](h []T, limit int) []T {
	if limit <= 0 || len(h) <= limit {
		return h
	}
	// copy so the evicted prefix does not pin the backing array
	out := make([]T, limit)
	copy(out, h[len(h)-limit:])
	return out
}

// Diff compares a fresh snapshot against the last known values of p.
// An unknown stock state in the snapshot is not treated as a transition.
func Diff(p domain.MonitoredProduct, snap domain.ProductSnapshot) domain.CheckOutcome {
	out := domain.CheckOutcome{
		PreviousPrice: p.LastKnownPrice,
		NewPrice:      snap.Price,
		StockFrom:     p.LastKnownStock,
		StockTo:       p.LastKnownStock,
	}

	if !snap.Price.Equal(p.LastKnownPrice) {
		out.PriceChanged = true
		out.PriceDelta = snap.Price.Sub(p.LastKnownPrice)
		out.PricePercent = Percent(p.LastKnownPrice, snap.Price)
	}

	if snap.Stock.Known() && snap.Stock != p.LastKnownStock {
		out.StockChanged = true
		out.StockTo = snap.Stock
	}

	return out
}

// Percent returns the signed percentage change from prev to next, rounded to
// two places. A zero prev yields zero.
func Percent(prev, next decimal.Decimal) decimal.Decimal {
	if prev.IsZero() {
		return decimal.Zero
	}
	return next.Sub(prev).Div(prev).Mul(hundred).Round(2)
}

// Apply records the outcome on p: histories get the new values appended and
// the last known values move forward.
func Apply(p *domain.MonitoredProduct, o domain.CheckOutcome, at time.Time, limit int) {
	if o.PriceChanged {
		p.PriceHistory = AppendPrice(p.PriceHistory, o.NewPrice, at, limit)
		p.LastKnownPrice = o.NewPrice
	}
	if o.StockChanged {
		p.StockHistory = AppendStock(p.StockHistory, o.StockTo, at, limit)
		p.LastKnownStock = o.StockTo
	}
}
